package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikeboe/research-loop/pkg/config"
	"github.com/mikeboe/research-loop/pkg/database"
	"github.com/mikeboe/research-loop/pkg/setup"
)

var (
	topic      string
	queries    int
	maxLoops   int
	provider   string
	collection string
	output     string
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	rootCmd := &cobra.Command{
		Use:   "research",
		Short: "Research a topic with iterative web searches",
		Long: `research generates search queries for a topic, runs them concurrently, reflects on
what was found and searches again for the gaps until the material is sufficient or
the loop budget is spent. The final answer is printed as Markdown.`,
		SilenceUsage: true,
		RunE:         run,
	}

	rootCmd.Flags().StringVarP(&topic, "topic", "t", "", "The research topic (prompted for when omitted)")
	rootCmd.Flags().IntVarP(&queries, "queries", "q", 0, "Search queries in the first round (default QUERIES_PER_ROUND)")
	rootCmd.Flags().IntVarP(&maxLoops, "max-loops", "l", 0, "Maximum reflection rounds (default MAX_LOOPS)")
	rootCmd.Flags().StringVar(&provider, "provider", "", "Search provider: tavily or arxiv (default SEARCH_PROVIDER)")
	rootCmd.Flags().StringVarP(&collection, "collection", "c", "", "Vector collection for indexing and knowledge search (default COLLECTION_NAME)")
	rootCmd.Flags().StringVarP(&output, "output", "o", "", "Also write the answer to this file")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	if !cmd.Flags().Changed("topic") {
		topic, err = promptTopic(cmd)
		if err != nil {
			return err
		}
	}
	if strings.TrimSpace(topic) == "" {
		return errors.New("topic cannot be empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *database.PostgresDB
	if cfg.IndexSnippets || cfg.UseKnowledge {
		db, err = setup.OpenDatabase(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
	}

	components, err := setup.Build(ctx, cfg, db)
	if err != nil {
		return err
	}

	slog.Info("Starting research",
		"topic", topic,
		"search_provider", cfg.SearchProvider,
		"queries", cfg.QueriesPerRound,
		"max_loops", cfg.MaxLoops)

	answer, err := components.NewEngine().Run(ctx, topic, cfg.QueriesPerRound, cfg.MaxLoops)
	if err != nil {
		return fmt.Errorf("research failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), answer)
	if output != "" {
		if err := os.WriteFile(output, []byte(answer+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write answer: %w", err)
		}
		slog.Info("Answer written", "path", output)
	}
	return nil
}

// applyFlags overrides the environment with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("queries") {
		cfg.QueriesPerRound = queries
	}
	if flags.Changed("max-loops") {
		cfg.MaxLoops = maxLoops
	}
	if flags.Changed("provider") {
		cfg.SearchProvider = provider
	}
	if flags.Changed("collection") {
		cfg.CollectionName = collection
	}
	return cfg.Validate()
}

func promptTopic(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Enter research topic: ")
	input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && input == "" {
		return "", fmt.Errorf("failed to read topic: %w", err)
	}
	return strings.TrimSpace(input), nil
}
