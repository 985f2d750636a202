// Package audit writes session-lifecycle events to the durable audit log and
// the outbound notification sink.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"session-vault/backend/internal/audit/domain"
	"session-vault/backend/internal/audit/producer"
	auditrepo "session-vault/backend/internal/audit/repository"
)

// Recorder records a single audit event. Best-effort from the caller's view:
// recording never fails the session operation that produced the event.
type Recorder interface {
	Record(ctx context.Context, e domain.Event)
}

// Logger implements Recorder: it persists the event and emits it
// asynchronously to the notification sink.
type Logger struct {
	repo    auditrepo.Repository
	emitter producer.Producer
}

// NewLogger returns a Recorder over the given repository and producer.
// Either may be nil; the other path still runs.
func NewLogger(repo auditrepo.Repository, emitter producer.Producer) *Logger {
	return &Logger{repo: repo, emitter: emitter}
}

// Record fills in ID and CreatedAt if unset, persists, and emits. Failures are
// logged and not returned; security decisions never hinge on the sink.
func (l *Logger) Record(ctx context.Context, e domain.Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if l.repo != nil {
		if err := l.repo.Create(ctx, &e); err != nil {
			log.Printf("audit: failed to persist %s for %s: %v", e.Action, e.SessionID, err)
		}
	}
	EmitAsync(l.emitter, &e)
}
