// Package notify delivers owner alerts. Every notifier here is best effort:
// callers log the error and move on.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"tycoon/internal/domain"
)

// Log writes each message to a structured logger.
type Log struct {
	log *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{log: logger}
}

func (l *Log) Notify(ctx context.Context, ownerID string, msg domain.Message) error {
	attrs := []any{
		"owner_id", ownerID,
		"kind", string(msg.Kind),
		"type_id", msg.TypeID,
		"title", msg.Title,
	}
	for _, f := range msg.Fields {
		attrs = append(attrs, f.Name, f.Value)
	}
	l.log.InfoContext(ctx, "owner notification", attrs...)
	return nil
}

// Fanout sends every message to each notifier and joins their errors.
type Fanout []domain.Notifier

func (f Fanout) Notify(ctx context.Context, ownerID string, msg domain.Message) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, ownerID, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
