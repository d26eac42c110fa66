package audit

import (
	"context"
	"log/slog"
)

// ConsoleSink writes events to a slog.Logger, one structured log line per
// event. It is ephemeral: a write never fails, so back-pressure never
// triggers redelivery.
type ConsoleSink struct {
	logger *slog.Logger
}

// NewConsoleSink wraps logger, defaulting to slog.Default().
func NewConsoleSink(logger *slog.Logger) *ConsoleSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleSink{logger: logger}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Write(ctx context.Context, event Event) error {
	level := severityToSlogLevel(event.Severity)
	s.logger.LogAttrs(ctx, level, event.Message,
		slog.String("category", string(event.Category)),
		slog.String("agent_id", event.AgentID),
		slog.String("trace_id", event.TraceID),
		slog.String("outcome", string(event.Outcome)),
	)
	return nil
}

func (s *ConsoleSink) Flush(ctx context.Context) error { return nil }
func (s *ConsoleSink) Close(ctx context.Context) error { return nil }

func severityToSlogLevel(s Severity) slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarn:
		return slog.LevelWarn
	case SeverityError, SeverityCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
