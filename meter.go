package rewritegate

import "time"

// Meter observes dispatch events for monitoring/logging.
type Meter interface {
	// OnDispatch is called once the account passed the quota check and the
	// model call is about to start.
	OnDispatch(event DispatchEvent)

	// OnResult is called when a message reaches a terminal state.
	OnResult(event ResultEvent)
}

// DispatchEvent describes a permitted message.
type DispatchEvent struct {
	DispatchID  string
	ExternalID  int64
	AccountID   int64
	Provider    ProviderName
	Model       ModelName
	Exempt      bool
	Balance     int64
	EstimatedIn int64
	StartedAt   time.Time
}

// ResultEvent describes the terminal state of a message.
type ResultEvent struct {
	DispatchID string
	ExternalID int64
	AccountID  int64
	Provider   ProviderName
	Model      ModelName
	Outcome    Outcome
	State      State
	Tokens     int64
	Balance    int64
	StartedAt  time.Time
	Duration   time.Duration
	Error      error
}
