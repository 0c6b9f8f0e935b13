// Package audit provides the fire-and-forget sink for session lifecycle
// events. Sink failures must never fail or block the primary operation, so
// Record has no error return: implementations absorb their own failures and
// at most log them.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Lifecycle event names.
const (
	SessionIssued  = "session.issued"
	SessionRotated = "session.rotated"
	SessionRevoked = "session.revoked"
)

// Event is one session lifecycle occurrence. SubjectID and CredentialID are
// nil when the operation could not or must not attribute them (a revoke by
// token hash does not resolve its subject).
type Event struct {
	Action       string
	At           time.Time
	SubjectID    *string
	CredentialID *string
	Meta         map[string]any
}

// Sink records lifecycle events.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// NopSink discards events.
type NopSink struct{}

// Record discards the event.
func (NopSink) Record(context.Context, Event) {}

// LogSink writes events to the structured log.
type LogSink struct {
	Log *slog.Logger
}

// Record logs the event at info level.
func (s LogSink) Record(_ context.Context, ev Event) {
	if s.Log == nil {
		return
	}

	attrs := make([]any, 0, 6)
	if ev.SubjectID != nil {
		attrs = append(attrs, "subject_id", *ev.SubjectID)
	}
	if ev.CredentialID != nil {
		attrs = append(attrs, "credential_id", *ev.CredentialID)
	}
	if len(ev.Meta) > 0 {
		attrs = append(attrs, "meta", ev.Meta)
	}

	s.Log.Info("audit."+ev.Action, attrs...)
}
