package hedge

import "time"

// State labels the per-underlying outcome of a reconcile pass.
type State string

const (
	StateNoAction   State = "no_action"
	StateRebalance  State = "rebalance_needed"
	StateDispatched State = "dispatched"
	StatePaused     State = "paused"
	StateInFlight   State = "in_flight"
	StateSkipped    State = "skipped"
	StateFailed     State = "failed"
	StateAuthHalted State = "auth_halted"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Intent is a fully sized hedge order ready for dispatch.
type Intent struct {
	Underlying  string
	Side        Side
	Size        float64
	WorstPrice  float64
	TargetDelta float64
	TargetHedge float64
	Held        float64
	Gap         float64
	ClientID    string
	CreatedAt   time.Time
}

type OutcomeStatus string

const (
	OutcomeFilled   OutcomeStatus = "filled"
	OutcomePartial  OutcomeStatus = "partial"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeRejected OutcomeStatus = "rejected"
)

// Outcome reports what happened to a dispatched intent. Filled is the
// signed quantity that actually landed on the hedge account.
type Outcome struct {
	Intent Intent
	Status OutcomeStatus
	Filled float64
	TxHash string
	Reason string
}

// GapCheck is one underlying's line in a cycle report.
type GapCheck struct {
	Underlying  string
	TargetDelta float64
	TargetHedge float64
	Held        float64
	Gap         float64
	Partial     bool
	State       State
	Reason      string
	Intent      *Intent
}

// CycleReport summarises one reconcile pass over every underlying.
type CycleReport struct {
	Cycle     uint64
	Paused    bool
	Degraded  bool
	Checks    []GapCheck
	StartedAt time.Time
}
