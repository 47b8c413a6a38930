package research

import "slices"

// Query is a single search request produced by a QueryGenerator or Reflector.
// Explanation is advisory and never drives control flow.
type Query struct {
	Text        string `json:"query"`
	Explanation string `json:"explanation,omitempty"`
}

// Reflection is the verdict of a Reflector over the snippets gathered so far.
type Reflection struct {
	IsSufficient    bool    `json:"is_sufficient"`
	KnowledgeNeeded string  `json:"knowledge_needed"`
	FollowUpQueries []Query `json:"follow_up_queries"`
}

// State tracks the progress of a single research run.
type State struct {
	Topic             string   `json:"topic"`
	PendingQueries    []Query  `json:"pending_queries"`
	ExecutedQueries   []Query  `json:"executed_queries"`
	CollectedSnippets []string `json:"collected_snippets"`
	QueriesPerRound   int      `json:"queries_per_round"`
	LoopCount         int      `json:"loop_count"`
	MaxLoops          int      `json:"max_loops"`
	Rounds            int      `json:"rounds"`
	IsSufficient      bool     `json:"is_sufficient"`
	KnowledgeNeeded   string   `json:"knowledge_needed,omitempty"`
	FinalAnswer       *string  `json:"final_answer,omitempty"`
}

// Snapshot returns a deep copy that callers may keep or serialize while the
// run continues to mutate the original.
func (s *State) Snapshot() State {
	cp := *s
	cp.PendingQueries = slices.Clone(s.PendingQueries)
	cp.ExecutedQueries = slices.Clone(s.ExecutedQueries)
	cp.CollectedSnippets = slices.Clone(s.CollectedSnippets)
	if s.FinalAnswer != nil {
		answer := *s.FinalAnswer
		cp.FinalAnswer = &answer
	}
	return cp
}

// Stage identifies where a run is in the Generate, Search, Reflect, Answer cycle.
type Stage int

const (
	StageInit Stage = iota
	StageGenerate
	StageSearch
	StageReflect
	StageAnswer
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageGenerate:
		return "generate"
	case StageSearch:
		return "search"
	case StageReflect:
		return "reflect"
	case StageAnswer:
		return "answer"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further stage can execute.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// DecisionReason explains why the decide step picked its branch.
type DecisionReason string

const (
	ReasonContinue        DecisionReason = "continue"
	ReasonSufficient      DecisionReason = "sufficient"
	ReasonBudgetExhausted DecisionReason = "budget_exhausted"
	ReasonNoFollowUps     DecisionReason = "no_follow_ups"
)

// Decision is the outcome of evaluating the termination predicate after a
// Reflect call.
type Decision struct {
	Reason    DecisionReason
	LoopCount int
	FollowUps int
}

// Finish reports whether the decision routes the run to the Answer stage.
func (d Decision) Finish() bool {
	return d.Reason != ReasonContinue
}

// decide applies the termination predicate to a post-increment loop count.
// An empty follow-up list is treated as an implicit sufficiency signal so the
// loop never dispatches a round with nothing in it.
func decide(r Reflection, loopCount, maxLoops int) Decision {
	d := Decision{LoopCount: loopCount, FollowUps: len(r.FollowUpQueries)}
	switch {
	case r.IsSufficient:
		d.Reason = ReasonSufficient
	case loopCount >= maxLoops:
		d.Reason = ReasonBudgetExhausted
	case len(r.FollowUpQueries) == 0:
		d.Reason = ReasonNoFollowUps
	default:
		d.Reason = ReasonContinue
	}
	return d
}
