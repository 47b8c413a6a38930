package agents

import (
	"context"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-loop/pkg/research"
)

// Reflector judges whether the gathered snippets are enough to answer the topic.
type Reflector struct {
	base
}

func NewReflector(llm llms.Model, opts ...Option) *Reflector {
	return &Reflector{base: newBase(llm, opts)}
}

type reflectionResponse struct {
	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

func (r *Reflector) Reflect(ctx context.Context, topic string, snippets []string) (research.Reflection, error) {
	var resp reflectionResponse

	if err := r.generateJSON(ctx, reflectionPrompt(topic, snippets, r.now()), &resp, nil); err != nil {
		return research.Reflection{}, err
	}

	followUps := cleanQueries(resp.FollowUpQueries)
	reflection := research.Reflection{
		IsSufficient:    resp.IsSufficient,
		KnowledgeNeeded: resp.KnowledgeGap,
		FollowUpQueries: make([]research.Query, len(followUps)),
	}
	for i, q := range followUps {
		reflection.FollowUpQueries[i] = research.Query{Text: q, Explanation: resp.KnowledgeGap}
	}

	r.logger.Info("Reflection", "sufficient", resp.IsSufficient, "gap", resp.KnowledgeGap, "follow_ups", followUps)
	return reflection, nil
}
