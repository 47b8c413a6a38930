package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakes records every collaborator call so tests can assert on the exact
// sequence of stages the engine drove.
type fakes struct {
	mu          sync.Mutex
	queries     []Query
	genErr      error
	reflections []Reflection
	reflectErr  error
	answerErr   error
	search      func(ctx context.Context, q Query) ([]string, error)

	searched       []string
	reflectInputs  [][]string
	answerInputs   [][]string
	reflectCalls   int
	answerCalls    int
	generatorCalls int
}

func (f *fakes) engine(opts ...Option) *Engine {
	gen := QueryGeneratorFunc(func(ctx context.Context, topic string, count int) ([]Query, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.generatorCalls++
		return f.queries, f.genErr
	})
	searcher := SearcherFunc(func(ctx context.Context, q Query) ([]string, error) {
		f.mu.Lock()
		f.searched = append(f.searched, q.Text)
		fn := f.search
		f.mu.Unlock()
		if fn != nil {
			return fn(ctx, q)
		}
		return []string{"snippet for " + q.Text}, nil
	})
	reflector := ReflectorFunc(func(ctx context.Context, topic string, snippets []string) (Reflection, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.reflectCalls++
		f.reflectInputs = append(f.reflectInputs, snippets)
		if f.reflectErr != nil {
			return Reflection{}, f.reflectErr
		}
		if len(f.reflections) == 0 {
			return Reflection{IsSufficient: true}, nil
		}
		r := f.reflections[0]
		if len(f.reflections) > 1 {
			f.reflections = f.reflections[1:]
		}
		return r, nil
	})
	answerer := AnswererFunc(func(ctx context.Context, topic string, snippets []string) (string, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.answerCalls++
		f.answerInputs = append(f.answerInputs, snippets)
		if f.answerErr != nil {
			return "", f.answerErr
		}
		return fmt.Sprintf("answer about %s from %d snippets", topic, len(snippets)), nil
	})
	return NewEngine(gen, searcher, reflector, answerer, opts...)
}

func queries(texts ...string) []Query {
	out := make([]Query, len(texts))
	for i, t := range texts {
		out[i] = Query{Text: t, Explanation: "why " + t}
	}
	return out
}

type stageLog struct {
	mu        sync.Mutex
	stages    []Stage
	decisions []Decision
	searches  int
	failures  int
	finished  []error
}

func (l *stageLog) StageEntered(s Stage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, s)
}

func (l *stageLog) SearchFinished(_ Query, _ int, _ time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.searches++
	if err != nil {
		l.failures++
	}
}

func (l *stageLog) Decided(d Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, d)
}

func (l *stageLog) RunFinished(_ State, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, err)
}

func TestRunStopsWhenLoopBudgetIsExhausted(t *testing.T) {
	f := &fakes{
		queries:     queries("Q1", "Q2"),
		reflections: []Reflection{{IsSufficient: false, FollowUpQueries: queries("Q3")}},
	}
	log := &stageLog{}

	answer, err := f.engine(WithObserver(log)).Run(context.Background(), "go generics", 2, 1)
	require.NoError(t, err)

	assert.Equal(t, "answer about go generics from 2 snippets", answer)
	assert.ElementsMatch(t, []string{"Q1", "Q2"}, f.searched, "no third query may be issued")
	assert.Equal(t, 1, f.reflectCalls)
	require.Len(t, f.answerInputs, 1)
	assert.Equal(t, []string{"snippet for Q1", "snippet for Q2"}, f.answerInputs[0])
	require.Len(t, log.decisions, 1)
	assert.Equal(t, ReasonBudgetExhausted, log.decisions[0].Reason)
	assert.Equal(t, 1, log.decisions[0].LoopCount)
	assert.Equal(t, []Stage{StageGenerate, StageSearch, StageReflect, StageAnswer}, log.stages)
}

func TestRunAnswersImmediatelyWhenSufficient(t *testing.T) {
	f := &fakes{
		queries:     queries("Q1", "Q2", "Q3"),
		reflections: []Reflection{{IsSufficient: true, FollowUpQueries: queries("ignored")}},
	}
	log := &stageLog{}

	_, err := f.engine(WithObserver(log)).Run(context.Background(), "topic", 3, 3)
	require.NoError(t, err)

	assert.Len(t, f.searched, 3)
	assert.Equal(t, 1, f.reflectCalls)
	assert.Equal(t, 1, f.answerCalls)
	assert.Equal(t, []Stage{StageGenerate, StageSearch, StageReflect, StageAnswer}, log.stages)
	assert.Equal(t, ReasonSufficient, log.decisions[0].Reason)
}

func TestRunLoopsOnFollowUpQueries(t *testing.T) {
	f := &fakes{
		queries: queries("Q1"),
		reflections: []Reflection{
			{FollowUpQueries: queries("F1", "F2")},
			{FollowUpQueries: queries("F3")},
			{FollowUpQueries: queries("never")},
		},
	}
	log := &stageLog{}

	_, err := f.engine(WithObserver(log)).Run(context.Background(), "topic", 1, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, f.reflectCalls)
	assert.NotContains(t, f.searched, "never")
	assert.Equal(t, []Stage{
		StageGenerate,
		StageSearch, StageReflect,
		StageSearch, StageReflect,
		StageSearch, StageReflect,
		StageAnswer,
	}, log.stages)

	// Each reflection sees everything gathered so far.
	require.Len(t, f.reflectInputs, 3)
	assert.Len(t, f.reflectInputs[0], 1)
	assert.Len(t, f.reflectInputs[1], 3)
	assert.Len(t, f.reflectInputs[2], 4)
	assert.Equal(t, ReasonBudgetExhausted, log.decisions[2].Reason)
}

func TestRunTerminatesOnEmptyFollowUps(t *testing.T) {
	f := &fakes{
		queries:     queries("Q1"),
		reflections: []Reflection{{IsSufficient: false, KnowledgeNeeded: "more", FollowUpQueries: nil}},
	}
	log := &stageLog{}

	_, err := f.engine(WithObserver(log)).Run(context.Background(), "topic", 1, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, f.reflectCalls)
	assert.Equal(t, 1, f.answerCalls)
	assert.Equal(t, ReasonNoFollowUps, log.decisions[0].Reason)
}

func TestSearchFailureIsIsolated(t *testing.T) {
	f := &fakes{queries: queries("Q1", "Q2", "Q3")}
	f.search = func(ctx context.Context, q Query) ([]string, error) {
		if q.Text == "Q2" {
			return nil, errors.New("provider exploded")
		}
		return []string{q.Text + "-a", q.Text + "-b"}, nil
	}
	log := &stageLog{}

	_, err := f.engine(WithObserver(log)).Run(context.Background(), "topic", 3, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"Q1-a", "Q1-b", "Q3-a", "Q3-b"}, f.answerInputs[0])
	assert.Equal(t, 3, log.searches)
	assert.Equal(t, 1, log.failures)
}

func TestPanickingSearchIsIsolated(t *testing.T) {
	f := &fakes{queries: queries("Q1", "Q2")}
	f.search = func(ctx context.Context, q Query) ([]string, error) {
		if q.Text == "Q1" {
			var none []string
			return none[:1], nil
		}
		return []string{"ok"}, nil
	}
	log := &stageLog{}

	answer, err := f.engine(WithObserver(log), WithSearchTimeout(time.Second)).Run(context.Background(), "topic", 2, 1)
	require.NoError(t, err)

	assert.Equal(t, "answer about topic from 1 snippets", answer)
	assert.Equal(t, []string{"ok"}, f.answerInputs[0])
	assert.Equal(t, 1, log.failures)
}

func TestMergeOrderFollowsDispatchOrder(t *testing.T) {
	q2Done := make(chan struct{})
	q3Done := make(chan struct{})

	// Completion order is forced to Q2, Q3, Q1.
	f := &fakes{queries: queries("Q1", "Q2", "Q3")}
	f.search = func(ctx context.Context, q Query) ([]string, error) {
		switch q.Text {
		case "Q1":
			<-q3Done
		case "Q2":
			defer close(q2Done)
		case "Q3":
			<-q2Done
			defer close(q3Done)
		}
		return []string{q.Text + "-result"}, nil
	}

	run, err := f.engine().NewRun("topic", 3, 1)
	require.NoError(t, err)
	require.NoError(t, run.Step(context.Background()))
	require.NoError(t, run.Step(context.Background()))

	assert.Equal(t, StageSearch, run.Stage())
	state := run.State()
	assert.Equal(t, []string{"Q1-result", "Q2-result", "Q3-result"}, state.CollectedSnippets)
	assert.Empty(t, state.PendingQueries)
	assert.Equal(t, queries("Q1", "Q2", "Q3"), state.ExecutedQueries)
}

func TestEmptySearchResultIsValid(t *testing.T) {
	f := &fakes{queries: queries("Q1", "Q2")}
	f.search = func(ctx context.Context, q Query) ([]string, error) {
		if q.Text == "Q1" {
			return nil, nil
		}
		return []string{"only"}, nil
	}

	_, err := f.engine().Run(context.Background(), "topic", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, f.answerInputs[0])
}

func TestEmptyGenerationIsFatal(t *testing.T) {
	f := &fakes{queries: []Query{}}

	answer, err := f.engine().Run(context.Background(), "topic", 2, 2)
	require.Error(t, err)

	assert.Empty(t, answer)
	assert.ErrorIs(t, err, ErrEmptyGeneration)
	stage, ok := FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, StageGenerate, stage)
	assert.Empty(t, f.searched)
	assert.Zero(t, f.answerCalls)
}

func TestCollaboratorFailuresAreFatal(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(f *fakes)
		stage Stage
	}{
		{"generator", func(f *fakes) { f.genErr = boom }, StageGenerate},
		{"reflector", func(f *fakes) { f.reflectErr = boom }, StageReflect},
		{"answerer", func(f *fakes) { f.answerErr = boom }, StageAnswer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakes{queries: queries("Q1")}
			tt.setup(f)
			log := &stageLog{}

			answer, err := f.engine(WithObserver(log)).Run(context.Background(), "topic", 1, 2)
			require.Error(t, err)
			assert.Empty(t, answer)
			assert.ErrorIs(t, err, boom)

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.stage, se.Stage)
			assert.Contains(t, err.Error(), tt.stage.String())
			require.Len(t, log.finished, 1)
			assert.Equal(t, err, log.finished[0])
		})
	}
}

func TestFailedRunKeepsReturningItsError(t *testing.T) {
	f := &fakes{queries: queries("Q1"), reflectErr: errors.New("model down")}
	run, err := f.engine().NewRun("topic", 1, 1)
	require.NoError(t, err)

	_, err = run.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, StageFailed, run.Stage())

	again := run.Step(context.Background())
	assert.Equal(t, err, again)
	assert.Equal(t, 1, f.reflectCalls)
}

func TestStepAfterAnswerIsRejected(t *testing.T) {
	f := &fakes{queries: queries("Q1")}
	run, err := f.engine().NewRun("topic", 1, 1)
	require.NoError(t, err)

	answer, err := run.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageDone, run.Stage())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, run.Step(context.Background()), ErrRunFinished)
	}
	assert.Equal(t, 1, f.answerCalls)
	assert.Equal(t, 1, f.generatorCalls)

	state := run.State()
	require.NotNil(t, state.FinalAnswer)
	assert.Equal(t, answer, *state.FinalAnswer)
}

func TestNewRunValidatesArguments(t *testing.T) {
	e := (&fakes{}).engine()
	tests := []struct {
		name            string
		topic           string
		queriesPerRound int
		maxLoops        int
	}{
		{"empty topic", "  ", 1, 1},
		{"zero queries", "topic", 0, 1},
		{"negative loops", "topic", 1, -1},
		{"zero loops", "topic", 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.NewRun(tt.topic, tt.queriesPerRound, tt.maxLoops)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestGeneratorOutputIsTruncatedToBudget(t *testing.T) {
	f := &fakes{queries: queries("Q1", "Q2", "Q3", "Q4")}

	_, err := f.engine().Run(context.Background(), "topic", 2, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Q1", "Q2"}, f.searched)
}

func TestSearchTimeoutReleasesBarrier(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	f := &fakes{queries: queries("slow", "fast")}
	f.search = func(ctx context.Context, q Query) ([]string, error) {
		if q.Text == "slow" {
			// Ignores its context on purpose.
			<-release
			return []string{"too late"}, nil
		}
		return []string{"fast result"}, nil
	}
	log := &stageLog{}

	start := time.Now()
	_, err := f.engine(WithSearchTimeout(20*time.Millisecond), WithObserver(log)).Run(context.Background(), "topic", 2, 1)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"fast result"}, f.answerInputs[0])
	assert.Equal(t, 1, log.failures)
}

func TestCancelledRunAbortsAtSearch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakes{queries: queries("Q1")}
	f.search = func(ctx context.Context, q Query) ([]string, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := f.engine().Run(ctx, "topic", 1, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	stage, _ := FailedStage(err)
	assert.Equal(t, StageSearch, stage)
	assert.Zero(t, f.reflectCalls)
}

func TestStateHookSeesMonotonicSnippets(t *testing.T) {
	f := &fakes{
		queries: queries("Q1", "Q2"),
		reflections: []Reflection{
			{FollowUpQueries: queries("F1")},
			{IsSufficient: true},
		},
	}

	var snapshots []State
	_, err := f.engine(WithStateHook(func(s State) { snapshots = append(snapshots, s) })).Run(context.Background(), "topic", 2, 4)
	require.NoError(t, err)

	require.NotEmpty(t, snapshots)
	prev := 0
	for _, s := range snapshots {
		assert.GreaterOrEqual(t, len(s.CollectedSnippets), prev)
		assert.LessOrEqual(t, s.LoopCount, s.MaxLoops)
		prev = len(s.CollectedSnippets)
	}

	answered := 0
	for _, s := range snapshots {
		if s.FinalAnswer != nil {
			answered++
		}
	}
	assert.Equal(t, 1, answered, "final answer is set on the terminal transition only")

	last := snapshots[len(snapshots)-1]
	assert.Equal(t, 2, last.LoopCount)
	assert.Equal(t, 2, last.Rounds)
	assert.Len(t, last.ExecutedQueries, 3)
}

func TestReflectCountStaysWithinBudget(t *testing.T) {
	for maxLoops := 1; maxLoops <= 5; maxLoops++ {
		t.Run(fmt.Sprintf("max_loops_%d", maxLoops), func(t *testing.T) {
			f := &fakes{
				queries:     queries("Q1"),
				reflections: []Reflection{{FollowUpQueries: queries("again")}},
			}

			_, err := f.engine().Run(context.Background(), "topic", 1, maxLoops)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, f.reflectCalls, 1)
			assert.LessOrEqual(t, f.reflectCalls, maxLoops)
			assert.Equal(t, maxLoops, f.reflectCalls)
		})
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	answer := "done"
	s := &State{CollectedSnippets: []string{"a"}, FinalAnswer: &answer}
	cp := s.Snapshot()

	cp.CollectedSnippets[0] = "changed"
	*cp.FinalAnswer = "changed"

	assert.Equal(t, "a", s.CollectedSnippets[0])
	assert.Equal(t, "done", *s.FinalAnswer)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		reflection Reflection
		loopCount  int
		maxLoops   int
		want       DecisionReason
	}{
		{"sufficient under budget", Reflection{IsSufficient: true, FollowUpQueries: queries("x")}, 1, 3, ReasonSufficient},
		{"sufficient at budget", Reflection{IsSufficient: true}, 3, 3, ReasonSufficient},
		{"budget reached", Reflection{FollowUpQueries: queries("x")}, 2, 2, ReasonBudgetExhausted},
		{"no follow ups", Reflection{}, 1, 3, ReasonNoFollowUps},
		{"continue", Reflection{FollowUpQueries: queries("x", "y")}, 1, 3, ReasonContinue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decide(tt.reflection, tt.loopCount, tt.maxLoops)
			assert.Equal(t, tt.want, d.Reason)
			assert.Equal(t, tt.want != ReasonContinue, d.Finish())
			assert.Equal(t, len(tt.reflection.FollowUpQueries), d.FollowUps)
		})
	}
}
