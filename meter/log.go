package meter

import (
	"log/slog"

	"github.com/ineyio/rewritegate"
)

// LogMeter logs dispatch events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ rewritegate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnDispatch(e rewritegate.DispatchEvent) {
	m.Logger.Info("dispatch",
		"dispatch_id", e.DispatchID,
		"external_id", e.ExternalID,
		"account", e.AccountID,
		"provider", e.Provider,
		"model", e.Model,
		"exempt", e.Exempt,
		"balance", e.Balance,
		"estimated_tokens", e.EstimatedIn,
	)
}

func (m *LogMeter) OnResult(e rewritegate.ResultEvent) {
	switch e.Outcome {
	case rewritegate.OutcomeCompleted:
		m.Logger.Info("result",
			"dispatch_id", e.DispatchID,
			"account", e.AccountID,
			"provider", e.Provider,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"tokens", e.Tokens,
			"balance", e.Balance,
		)
	case rewritegate.OutcomeDenied:
		m.Logger.Info("result_denied",
			"dispatch_id", e.DispatchID,
			"account", e.AccountID,
			"balance", e.Balance,
		)
	default:
		m.Logger.Warn("result_error",
			"dispatch_id", e.DispatchID,
			"account", e.AccountID,
			"provider", e.Provider,
			"model", e.Model,
			"state", e.State,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
