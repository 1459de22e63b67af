package obs

import (
	"context"

	"github.com/rs/zerolog"
)

// EventLog writes one structured line per event.
type EventLog struct {
	logger zerolog.Logger
}

func NewEventLog(logger zerolog.Logger) *EventLog {
	return &EventLog{logger: logger.With().Str("component", "orchestrator").Logger()}
}

func (l *EventLog) RequestStarted(_ context.Context, ev RequestEvent) {
	l.logger.Info().
		Str("event", "request_started").
		Str("request_id", ev.RequestID).
		Strs("symbols", ev.Symbols).
		Str("horizon", ev.Horizon).
		Msg("request started")
}

func (l *EventLog) WorkerFinished(_ context.Context, ev WorkerEvent) {
	e := l.logger.Debug()
	if ev.Status != "success" {
		e = l.logger.Warn()
	}
	e.Str("event", "worker_finished").
		Str("request_id", ev.RequestID).
		Str("kind", ev.Kind).
		Str("symbol", ev.Symbol).
		Str("status", ev.Status).
		Str("detail", ev.Detail).
		Dur("duration", ev.Duration).
		Msg("worker finished")
}

func (l *EventLog) RequestFinished(_ context.Context, ev RequestEvent) {
	var e *zerolog.Event
	switch ev.Status {
	case StatusOK:
		e = l.logger.Info()
	case StatusDegraded, StatusInvalid:
		e = l.logger.Warn()
	default:
		e = l.logger.Error()
	}
	if ev.Err != nil {
		e = e.Err(ev.Err)
	}
	e.Str("event", "request_finished").
		Str("request_id", ev.RequestID).
		Strs("symbols", ev.Symbols).
		Str("status", ev.Status).
		Dur("duration", ev.Duration).
		Strs("warnings", ev.Warnings).
		Msg("request finished")
}
