package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/research-loop/pkg/database"
	"github.com/mikeboe/research-loop/pkg/research"
)

var (
	// ErrInvalidRequest marks requests rejected before a run is created.
	ErrInvalidRequest = errors.New("invalid research request")

	// ErrShuttingDown is returned for background runs requested after Shutdown.
	ErrShuttingDown = errors.New("research service is shutting down")
)

// Store persists runs and their logs. database.RunRepository implements it.
type Store interface {
	LogSink
	CreateRun(ctx context.Context, topic string, params any) (*database.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*database.Run, error)
	ListRuns(ctx context.Context, limit int) ([]database.Run, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	SaveState(ctx context.Context, id uuid.UUID, state any) error
	CompleteRun(ctx context.Context, id uuid.UUID, report string) error
	FailRun(ctx context.Context, id uuid.UUID, reason string) error
	ListLogs(ctx context.Context, runID uuid.UUID) ([]database.LogEntry, error)
}

// EngineFactory builds an engine for one run. The service passes the run's
// logger and state hook as options.
type EngineFactory func(opts ...research.Option) *research.Engine

// CreateRunRequest starts a research run. Zero counts select the defaults.
type CreateRunRequest struct {
	Topic           string `json:"topic" binding:"required"`
	QueriesPerRound int    `json:"queries_per_round"`
	MaxLoops        int    `json:"max_loops"`
}

// RunParams are stored with the run.
type RunParams struct {
	QueriesPerRound int `json:"queries_per_round"`
	MaxLoops        int `json:"max_loops"`
}

type Service struct {
	store     Store
	newEngine EngineFactory
	defaults  RunParams
	logLevel  slog.Leveler

	ctx    context.Context
	cancel context.CancelFunc
	// mu orders wg.Add against Shutdown's Wait.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewService(store Store, newEngine EngineFactory, defaults RunParams) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     store,
		newEngine: newEngine,
		defaults:  defaults,
		logLevel:  slog.LevelInfo,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) params(req CreateRunRequest) (RunParams, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return RunParams{}, fmt.Errorf("%w: topic is empty", ErrInvalidRequest)
	}
	if req.QueriesPerRound < 0 || req.MaxLoops < 0 {
		return RunParams{}, fmt.Errorf("%w: counts must not be negative", ErrInvalidRequest)
	}
	p := RunParams{QueriesPerRound: req.QueriesPerRound, MaxLoops: req.MaxLoops}
	if p.QueriesPerRound == 0 {
		p.QueriesPerRound = s.defaults.QueriesPerRound
	}
	if p.MaxLoops == 0 {
		p.MaxLoops = s.defaults.MaxLoops
	}
	return p, nil
}

// CreateRun stores a pending run and executes it in the background.
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (*database.Run, error) {
	p, err := s.params(req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	run, err := s.store.CreateRun(ctx, req.Topic, p)
	if err != nil {
		s.wg.Done()
		return nil, err
	}

	go func() {
		defer s.wg.Done()
		_, _ = s.execute(s.ctx, run.ID, run.Topic, p)
	}()
	return run, nil
}

// Research stores a run and executes it on the caller's goroutine.
func (s *Service) Research(ctx context.Context, req CreateRunRequest) (*database.Run, string, error) {
	p, err := s.params(req)
	if err != nil {
		return nil, "", err
	}
	run, err := s.store.CreateRun(ctx, req.Topic, p)
	if err != nil {
		return nil, "", err
	}
	answer, err := s.execute(ctx, run.ID, run.Topic, p)
	return run, answer, err
}

func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*database.Run, error) {
	return s.store.GetRun(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context) ([]database.Run, error) {
	return s.store.ListRuns(ctx, 50)
}

func (s *Service) GetRunLogs(ctx context.Context, id uuid.UUID) ([]database.LogEntry, error) {
	return s.store.ListLogs(ctx, id)
}

// Shutdown cancels background runs and waits for them to record their outcome.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) execute(ctx context.Context, id uuid.UUID, topic string, p RunParams) (string, error) {
	logger := slog.New(NewDBLogHandler(s.store, id, s.logLevel)).With("run_id", id.String())
	// Bookkeeping writes must land even when the run itself was cancelled.
	persistCtx := context.WithoutCancel(ctx)

	if err := s.store.MarkRunning(persistCtx, id); err != nil {
		slog.Error("Failed to mark run running", "run_id", id, "error", err)
	}

	engine := s.newEngine(
		research.WithLogger(logger),
		research.WithStateHook(func(state research.State) {
			if err := s.store.SaveState(persistCtx, id, state); err != nil {
				logger.Error("Failed to save state", "error", err)
			}
		}),
	)

	start := time.Now()
	answer, err := engine.Run(ctx, topic, p.QueriesPerRound, p.MaxLoops)
	if err != nil {
		s.failRun(persistCtx, id, logger, err)
		return "", err
	}

	if err := s.store.CompleteRun(persistCtx, id, answer); err != nil {
		logger.Error("Failed to save final answer", "error", err)
		return answer, err
	}
	slog.Info("Research run completed", "run_id", id, "elapsed", time.Since(start).String())
	return answer, nil
}

func (s *Service) failRun(ctx context.Context, id uuid.UUID, logger *slog.Logger, cause error) {
	reason := fmt.Sprintf("Research failed: %v", cause)
	logger.Error(reason)
	slog.Warn("Research run failed", "run_id", id, "error", cause)
	if err := s.store.FailRun(ctx, id, cause.Error()); err != nil {
		slog.Error("Failed to mark run failed", "run_id", id, "error", err)
	}
}
