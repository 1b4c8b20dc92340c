package rewritegate

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrConfiguration       = errors.New("rewritegate: configuration error")
	ErrUpstream            = errors.New("rewritegate: upstream model failure")
	ErrPersistence         = errors.New("rewritegate: persistence failure")
	ErrQuotaExceeded       = errors.New("rewritegate: token balance exhausted")
	ErrRateLimited         = errors.New("rewritegate: rate limited by provider")
	ErrAuthFailed          = errors.New("rewritegate: authentication failed")
	ErrInvalidRequest      = errors.New("rewritegate: invalid request")
	ErrProviderUnavailable = errors.New("rewritegate: provider unavailable")
	ErrAccountNotFound     = errors.New("rewritegate: account not found")
	ErrDuplicateAccount    = errors.New("rewritegate: account already exists")
	ErrIdentityBusy        = errors.New("rewritegate: previous message for identity still in progress")
)

// ConfigurationError reports a provider/model selection that cannot be
// turned into a working gateway: the pair is not in the registry, the
// credential is missing, or no adapter is registered for the provider.
type ConfigurationError struct {
	Provider ProviderName
	Model    ModelName
	Reason   string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rewritegate: configuration: provider=%s model=%s: %s: %v", e.Provider, e.Model, e.Reason, e.Err)
	}
	return fmt.Sprintf("rewritegate: configuration: provider=%s model=%s: %s", e.Provider, e.Model, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func (e *ConfigurationError) Unwrap() error { return e.Err }

// UpstreamError wraps a failed remote model call. Tokens is the usage the
// provider reported for a call that answered but produced nothing usable.
type UpstreamError struct {
	Provider ProviderName
	Model    ModelName
	Tokens   int64
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("rewritegate: upstream: provider=%s model=%s: %v", e.Provider, e.Model, e.Err)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed account store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("rewritegate: persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error { return e.Err }

// DispatchError wraps an error with dispatch context.
type DispatchError struct {
	Err        error
	DispatchID string
	ExternalID int64
	State      State
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("rewritegate: dispatch=%s external_id=%d state=%s: %v",
		e.DispatchID, e.ExternalID, e.State, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsConfiguration reports whether err is an operator-side misconfiguration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsUpstream reports whether err came from the remote model.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstream)
}

// IsRetryable returns true if the user may resubmit the same message later.
// Nothing is retried automatically.
func IsRetryable(err error) bool {
	if IsConfiguration(err) || errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest) {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrUpstream) ||
		errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrIdentityBusy)
}

func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
