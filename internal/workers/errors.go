package workers

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParams = errors.New("invalid worker params")
	ErrStaleHistory  = errors.New("stored history older than this request's price write")
)

type ProviderError struct {
	Provider string
	Symbol   string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed for %s: %v", e.Provider, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

type InsufficientHistoryError struct {
	Symbol string
	Have   int
	Need   int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %s: have %d points, need %d", e.Symbol, e.Have, e.Need)
}

type NoRelevantPassagesError struct {
	Symbol    string
	Threshold float64
}

func (e *NoRelevantPassagesError) Error() string {
	return fmt.Sprintf("no passages for %s scored at or above %.2f", e.Symbol, e.Threshold)
}
