package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	DefaultSearchTimeout = 30 * time.Second
	DefaultMaxLoops      = 2
)

// Engine drives the research loop. It holds the injected collaborators and
// is safe to reuse for many runs; per-run state lives in Run.
type Engine struct {
	generator QueryGenerator
	searcher  Searcher
	reflector Reflector
	answerer  Answerer

	searchTimeout time.Duration
	maxParallel   int
	logger        *slog.Logger
	observer      Observer
	onStateUpdate func(state State)
}

// Option configures an Engine.
type Option func(*Engine)

// WithSearchTimeout bounds every Searcher call. Zero disables the bound.
func WithSearchTimeout(d time.Duration) Option {
	return func(e *Engine) { e.searchTimeout = d }
}

// WithMaxParallelSearches caps concurrent searches within a round. Zero means
// one goroutine per pending query.
func WithMaxParallelSearches(n int) Option {
	return func(e *Engine) { e.maxParallel = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithStateHook registers a callback invoked with a snapshot after every
// stage transition.
func WithStateHook(fn func(state State)) Option {
	return func(e *Engine) { e.onStateUpdate = fn }
}

func NewEngine(generator QueryGenerator, searcher Searcher, reflector Reflector, answerer Answerer, opts ...Option) *Engine {
	e := &Engine{
		generator:     generator,
		searcher:      searcher,
		reflector:     reflector,
		answerer:      answerer,
		searchTimeout: DefaultSearchTimeout,
		logger:        slog.Default(),
		observer:      nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes a complete research run and returns the final answer.
func (e *Engine) Run(ctx context.Context, topic string, queriesPerRound, maxLoops int) (string, error) {
	run, err := e.NewRun(topic, queriesPerRound, maxLoops)
	if err != nil {
		return "", err
	}
	return run.Execute(ctx)
}

// NewRun validates the run parameters and returns a run in the Init stage.
func (e *Engine) NewRun(topic string, queriesPerRound, maxLoops int) (*Run, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("%w: topic is empty", ErrInvalidArgument)
	}
	if queriesPerRound < 1 {
		return nil, fmt.Errorf("%w: queries per round must be at least 1, got %d", ErrInvalidArgument, queriesPerRound)
	}
	if maxLoops < 1 {
		return nil, fmt.Errorf("%w: max loops must be at least 1, got %d", ErrInvalidArgument, maxLoops)
	}

	return &Run{
		engine: e,
		stage:  StageInit,
		state: &State{
			Topic:             topic,
			PendingQueries:    []Query{},
			ExecutedQueries:   []Query{},
			CollectedSnippets: []string{},
			QueriesPerRound:   queriesPerRound,
			MaxLoops:          maxLoops,
		},
		logger: e.logger.With("topic", topic),
	}, nil
}
