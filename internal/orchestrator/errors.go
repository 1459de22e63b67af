package orchestrator

import "fmt"

// InvalidIntentError is returned when a request cannot be mapped to symbols
// and a horizon. Callers should report it as a client error.
type InvalidIntentError struct {
	Reason string
}

func (e *InvalidIntentError) Error() string {
	return "invalid intent: " + e.Reason
}

// SchemaViolationError means a worker or the merged response broke its
// contract. It is never retried.
type SchemaViolationError struct {
	Schema string
	Symbol string
	Err    error
}

func (e *SchemaViolationError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("schema violation (%s, %s): %v", e.Schema, e.Symbol, e.Err)
	}
	return fmt.Sprintf("schema violation (%s): %v", e.Schema, e.Err)
}

func (e *SchemaViolationError) Unwrap() error {
	return e.Err
}
