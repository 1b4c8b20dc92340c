package rewritegate

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage represents token usage information reported by a provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Total returns the billable token count. Providers that report only the
// prompt and completion counts get them summed.
func (u Usage) Total() int64 {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// Outcome is the terminal state of a dispatched message.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDenied    Outcome = "denied"
	OutcomeFailed    Outcome = "failed"
)

// State is a step in the per-message dispatch state machine.
type State string

const (
	StateReceived  State = "received"
	StateResolved  State = "resolved"
	StatePermitted State = "permitted"
	StateRewritten State = "rewritten"
	StateCompleted State = "completed"
	StateDenied    State = "denied"
	StateFailed    State = "failed"
)

// InboundMessage is one user message handed over by the chat transport.
type InboundMessage struct {
	ExternalID  int64
	DisplayName string
	Text        string
}

// Reply is what the transport sends back to the user.
type Reply struct {
	Text       string
	Outcome    Outcome
	DispatchID string
	Provider   ProviderName
	Model      ModelName
	TokensUsed int64
	Balance    int64
	Exempt     bool
}

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
