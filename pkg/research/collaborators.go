package research

import (
	"context"
	"time"
)

// QueryGenerator produces the initial search queries for a topic.
type QueryGenerator interface {
	GenerateQueries(ctx context.Context, topic string, count int) ([]Query, error)
}

// Searcher executes one query and returns text snippets. An empty result is
// valid and means nothing was found.
type Searcher interface {
	Search(ctx context.Context, query Query) ([]string, error)
}

// Reflector judges whether the gathered snippets answer the topic and proposes
// follow-up queries when they do not.
type Reflector interface {
	Reflect(ctx context.Context, topic string, snippets []string) (Reflection, error)
}

// Answerer composes the final answer from the topic and gathered snippets.
type Answerer interface {
	Answer(ctx context.Context, topic string, snippets []string) (string, error)
}

// QueryGeneratorFunc adapts a function to QueryGenerator.
type QueryGeneratorFunc func(ctx context.Context, topic string, count int) ([]Query, error)

func (f QueryGeneratorFunc) GenerateQueries(ctx context.Context, topic string, count int) ([]Query, error) {
	return f(ctx, topic, count)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query Query) ([]string, error)

func (f SearcherFunc) Search(ctx context.Context, query Query) ([]string, error) {
	return f(ctx, query)
}

// ReflectorFunc adapts a function to Reflector.
type ReflectorFunc func(ctx context.Context, topic string, snippets []string) (Reflection, error)

func (f ReflectorFunc) Reflect(ctx context.Context, topic string, snippets []string) (Reflection, error) {
	return f(ctx, topic, snippets)
}

// AnswererFunc adapts a function to Answerer.
type AnswererFunc func(ctx context.Context, topic string, snippets []string) (string, error)

func (f AnswererFunc) Answer(ctx context.Context, topic string, snippets []string) (string, error) {
	return f(ctx, topic, snippets)
}

// Observer receives run events. All calls come from the run's driver
// goroutine, SearchFinished included (after the round's barrier).
type Observer interface {
	StageEntered(stage Stage)
	SearchFinished(query Query, snippets int, elapsed time.Duration, err error)
	Decided(decision Decision)
	RunFinished(state State, err error)
}

type nopObserver struct{}

func (nopObserver) StageEntered(Stage) {}
func (nopObserver) SearchFinished(Query, int, time.Duration, error) {}
func (nopObserver) Decided(Decision) {}
func (nopObserver) RunFinished(State, error) {}
