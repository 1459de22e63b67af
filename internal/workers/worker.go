package workers

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindMarketData Kind = "market_data"
	KindForecast   Kind = "forecast"
	KindInsight    Kind = "insight"
)

// Kinds lists the closed set of worker kinds in dispatch order.
func Kinds() []Kind {
	return []Kind{KindMarketData, KindForecast, KindInsight}
}

type Status string

const (
	StatusSuccess     Status = "success"
	StatusFailure     Status = "failure"
	StatusUnavailable Status = "unavailable"
)

// Result is what a worker hands back. Exactly one of the three shapes holds:
// Success carries Payload and Sources, Failure carries FailureKind and
// Detail, Unavailable carries Detail as the reason.
type Result struct {
	Kind        Kind
	Status      Status
	Payload     any
	Sources     []string
	FailureKind string
	Detail      string
	Err         error
}

func Success(kind Kind, payload any, sources ...string) Result {
	return Result{Kind: kind, Status: StatusSuccess, Payload: payload, Sources: sources}
}

func Failure(kind Kind, err error) Result {
	return Result{Kind: kind, Status: StatusFailure, FailureKind: failureKind(err), Detail: err.Error(), Err: err}
}

func Unavailable(kind Kind, reason string, err error) Result {
	return Result{Kind: kind, Status: StatusUnavailable, Detail: reason, Err: err}
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Reason is the short text used in response warnings.
func (r Result) Reason() string {
	switch r.Status {
	case StatusSuccess:
		return ""
	case StatusFailure:
		if r.FailureKind != "" {
			return fmt.Sprintf("%s: %s", r.FailureKind, r.Detail)
		}
	}
	return r.Detail
}

// Params is implemented by the per-kind parameter structs only.
type Params interface {
	workerKind() Kind
}

type Worker interface {
	Kind() Kind
	Execute(ctx context.Context, p Params) Result
}

func failureKind(err error) string {
	var (
		provider     *ProviderError
		insufficient *InsufficientHistoryError
		noPassages   *NoRelevantPassagesError
	)
	switch {
	case errors.As(err, &provider):
		return "provider_error"
	case errors.As(err, &insufficient):
		return "insufficient_history"
	case errors.As(err, &noPassages):
		return "no_relevant_passages"
	case errors.Is(err, ErrStaleHistory):
		return "stale_history"
	case errors.Is(err, ErrInvalidParams):
		return "invalid_params"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "internal"
}

func paramsMismatch(want Kind, p Params) Result {
	got := "nil"
	if p != nil {
		got = string(p.workerKind())
	}
	return Failure(want, fmt.Errorf("%w: %s worker got %s params", ErrInvalidParams, want, got))
}
