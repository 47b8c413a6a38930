package research

import (
	"context"
	"log/slog"
	"slices"
)

// Run is a single research run. The driver goroutine owns the state; search
// goroutines only write to their own outcome slots, which are merged after
// the barrier.
type Run struct {
	engine *Engine
	state  *State
	logger *slog.Logger

	stage Stage
	next  Stage
	err   error
}

// Stage returns the most recently completed stage.
func (r *Run) Stage() Stage {
	return r.stage
}

// State returns a snapshot of the run state.
func (r *Run) State() State {
	return r.state.Snapshot()
}

// Execute steps the run until it finishes and returns the final answer.
func (r *Run) Execute(ctx context.Context) (string, error) {
	r.logger.Info("Starting research run",
		"queries_per_round", r.state.QueriesPerRound,
		"max_loops", r.state.MaxLoops)

	for !r.stage.Terminal() {
		if err := r.Step(ctx); err != nil {
			return "", err
		}
	}
	return *r.state.FinalAnswer, nil
}

// Step executes exactly one stage. It returns ErrRunFinished once the answer
// is set, and the original failure for a run that already aborted.
func (r *Run) Step(ctx context.Context) error {
	switch r.stage {
	case StageDone:
		return ErrRunFinished
	case StageFailed:
		return r.err
	}

	stage := r.next
	if r.stage == StageInit {
		stage = StageGenerate
	}
	r.engine.observer.StageEntered(stage)

	var err error
	switch stage {
	case StageGenerate:
		err = r.generate(ctx)
	case StageSearch:
		err = r.search(ctx)
	case StageReflect:
		err = r.reflect(ctx)
	case StageAnswer:
		err = r.answer(ctx)
	}

	if err != nil {
		r.stage = StageFailed
		r.err = &StageError{Stage: stage, Err: err}
		r.logger.Error("Research run failed", "stage", stage.String(), "error", err)
		r.publish()
		r.engine.observer.RunFinished(r.state.Snapshot(), r.err)
		return r.err
	}

	r.stage = stage
	if stage == StageAnswer {
		r.stage = StageDone
	}
	r.publish()
	if r.stage == StageDone {
		r.engine.observer.RunFinished(r.state.Snapshot(), nil)
	}
	return nil
}

func (r *Run) publish() {
	if r.engine.onStateUpdate != nil {
		r.engine.onStateUpdate(r.state.Snapshot())
	}
}

func (r *Run) generate(ctx context.Context) error {
	want := r.state.QueriesPerRound
	queries, err := r.engine.generator.GenerateQueries(ctx, r.state.Topic, want)
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		return ErrEmptyGeneration
	}
	if len(queries) > want {
		r.logger.Warn("Query generator exceeded budget, truncating", "returned", len(queries), "budget", want)
		queries = queries[:want]
	}

	r.logger.Info("Generated queries", "count", len(queries))
	r.state.PendingQueries = slices.Clone(queries)
	r.next = StageSearch
	return nil
}

func (r *Run) search(ctx context.Context) error {
	pending := r.state.PendingQueries
	r.logger.Info("Dispatching search round", "round", r.state.Rounds+1, "queries", len(pending))

	outcomes := Dispatch(ctx, pending, r.engine.maxParallel, r.engine.searchTimeout, r.engine.searcher.Search)

	// Cancellation during the round aborts the run at the barrier.
	if err := ctx.Err(); err != nil {
		return err
	}

	var merged []string
	failed := 0
	for i, out := range outcomes {
		r.engine.observer.SearchFinished(pending[i], len(out.Value), out.Elapsed, out.Err)
		if out.Err != nil {
			failed++
			r.logger.Warn("Search failed, continuing with partial results",
				"query", pending[i].Text, "error", out.Err, "elapsed", out.Elapsed)
			continue
		}
		merged = append(merged, out.Value...)
	}

	r.state.CollectedSnippets = append(r.state.CollectedSnippets, merged...)
	r.state.ExecutedQueries = append(r.state.ExecutedQueries, pending...)
	r.state.PendingQueries = []Query{}
	r.state.Rounds++

	r.logger.Info("Search round complete",
		"round", r.state.Rounds,
		"new_snippets", len(merged),
		"total_snippets", len(r.state.CollectedSnippets),
		"failed", failed)
	r.next = StageReflect
	return nil
}

func (r *Run) reflect(ctx context.Context) error {
	r.state.LoopCount++

	reflection, err := r.engine.reflector.Reflect(ctx, r.state.Topic, slices.Clone(r.state.CollectedSnippets))
	if err != nil {
		return err
	}
	r.state.IsSufficient = reflection.IsSufficient
	r.state.KnowledgeNeeded = reflection.KnowledgeNeeded

	decision := decide(reflection, r.state.LoopCount, r.state.MaxLoops)
	r.engine.observer.Decided(decision)
	r.logger.Info("Reflection complete",
		"loop", r.state.LoopCount,
		"max_loops", r.state.MaxLoops,
		"sufficient", reflection.IsSufficient,
		"follow_ups", decision.FollowUps,
		"decision", string(decision.Reason))

	if decision.Finish() {
		r.next = StageAnswer
		return nil
	}

	r.state.PendingQueries = slices.Clone(reflection.FollowUpQueries)
	r.next = StageSearch
	return nil
}

func (r *Run) answer(ctx context.Context) error {
	if r.state.FinalAnswer != nil {
		return ErrRunFinished
	}

	answer, err := r.engine.answerer.Answer(ctx, r.state.Topic, slices.Clone(r.state.CollectedSnippets))
	if err != nil {
		return err
	}
	r.state.FinalAnswer = &answer
	r.logger.Info("Final answer composed", "length", len(answer), "snippets", len(r.state.CollectedSnippets))
	return nil
}
