package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/research-loop/pkg/vectorstore"
)

// KnowledgeStore looks up indexed snippet chunks by metadata.
type KnowledgeStore interface {
	GetContentByMetadata(ctx context.Context, filter map[string]interface{}) ([]vectorstore.Document, error)
}

type DeepResearchArgs struct {
	Topic           string `json:"topic" jsonschema:"the question or topic to research"`
	QueriesPerRound int    `json:"queries_per_round,omitempty" jsonschema:"search queries generated in the first round, defaults to the server setting"`
	MaxLoops        int    `json:"max_loops,omitempty" jsonschema:"maximum reflection rounds, defaults to the server setting"`
}

type GetRunArgs struct {
	ID string `json:"id" jsonschema:"the research run id"`
}

type FindKnowledgeArgs struct {
	Filter map[string]interface{} `json:"filter" jsonschema:"metadata filter; plain keys match exactly and can be combined with $and, $or and $not"`
}

type mcpTools struct {
	service   *Service
	knowledge KnowledgeStore
}

// NewMCPServer exposes research runs as MCP tools. knowledge may be nil.
func NewMCPServer(service *Service, knowledge KnowledgeStore) *mcp.Server {
	tools := &mcpTools{service: service, knowledge: knowledge}
	server := mcp.NewServer(&mcp.Implementation{Name: "research-loop", Version: "1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "deep_research",
		Description: "Research a topic with iterative web searches and return a Markdown answer. Blocks until the run finishes.",
	}, tools.deepResearch)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_research_run",
		Description: "Get the status, state and answer of a research run.",
	}, tools.getRun)
	if knowledge != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "find_knowledge",
			Description: "Find snippets indexed by earlier research runs using metadata filters such as {\"source\": \"tavily\"}.",
		}, tools.findKnowledge)
	}
	return server
}

// NewMCPHandler serves the MCP server over streamable HTTP.
func NewMCPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func (t *mcpTools) deepResearch(ctx context.Context, req *mcp.CallToolRequest, args DeepResearchArgs) (*mcp.CallToolResult, any, error) {
	run, answer, err := t.service.Research(ctx, CreateRunRequest{
		Topic:           args.Topic,
		QueriesPerRound: args.QueriesPerRound,
		MaxLoops:        args.MaxLoops,
	})
	if err != nil {
		if run != nil {
			return nil, nil, fmt.Errorf("research run %s failed: %w", run.ID, err)
		}
		return nil, nil, err
	}
	return textResult(answer + "\n\n---\nrun id: " + run.ID.String()), nil, nil
}

func (t *mcpTools) getRun(ctx context.Context, req *mcp.CallToolRequest, args GetRunArgs) (*mcp.CallToolResult, any, error) {
	id, err := uuid.Parse(strings.TrimSpace(args.ID))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid run id %q", args.ID)
	}
	run, err := t.service.GetRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode run: %w", err)
	}
	return textResult(string(data)), nil, nil
}

func (t *mcpTools) findKnowledge(ctx context.Context, req *mcp.CallToolRequest, args FindKnowledgeArgs) (*mcp.CallToolResult, any, error) {
	if len(args.Filter) == 0 {
		return nil, nil, errors.New("filter must not be empty")
	}
	docs, err := t.knowledge.GetContentByMetadata(ctx, args.Filter)
	if err != nil {
		return nil, nil, err
	}
	if len(docs) == 0 {
		return textResult("No matching snippets found."), nil, nil
	}

	var sb strings.Builder
	for i, doc := range docs {
		if i > 0 {
			sb.WriteString("\n\n--\n\n")
		}
		fmt.Fprintf(&sb, "[Source]: %v\n[Query]: %v\n[Content]: %s", doc.Metadata["source"], doc.Metadata["query"], doc.Content)
	}
	return textResult(sb.String()), nil, nil
}
