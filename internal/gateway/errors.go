package gateway

import "fmt"

// SafetyBlockedError indicates the backend withheld its response under the
// configured safety policy. A business outcome, never retried.
type SafetyBlockedError struct {
	Model  string
	Detail string
}

func (e *SafetyBlockedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("response from %q blocked by safety policy", e.Model)
	}
	return fmt.Sprintf("response from %q blocked by safety policy: %s", e.Model, e.Detail)
}

// SchemaViolationError indicates the backend's output could not be coerced
// into the structured response shape even after one reinforced retry.
type SchemaViolationError struct {
	Model    string
	Attempts int
	Cause    error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("response from %q violated the audit schema after %d attempts: %v",
		e.Model, e.Attempts, e.Cause)
}

func (e *SchemaViolationError) Unwrap() error { return e.Cause }

// BackendUnavailableError indicates a transport, auth, or quota failure
// reaching the backend. The orchestration layer may retry with backoff; the
// gateway itself does not.
type BackendUnavailableError struct {
	Model string
	Cause error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable for model %q: %v", e.Model, e.Cause)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Cause }
