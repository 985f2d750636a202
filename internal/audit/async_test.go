package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"session-vault/backend/internal/audit/domain"
)

type fakeProducer struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (p *fakeProducer) Emit(ctx context.Context, e *domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestEmitAsync_DeliversEvent(t *testing.T) {
	p := &fakeProducer{}
	EmitAsync(p, &domain.Event{Action: domain.ActionSessionCreated})

	deadline := time.Now().Add(2 * time.Second)
	for p.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event was not emitted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEmitAsync_NilSafe(t *testing.T) {
	EmitAsync(nil, &domain.Event{})
	EmitAsync(&fakeProducer{}, nil)
}

type fakeRepo struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (r *fakeRepo) Create(ctx context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *fakeRepo) ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.Event, error) {
	return nil, nil
}

func TestLogger_RecordFillsDefaults(t *testing.T) {
	repo := &fakeRepo{}
	l := NewLogger(repo, nil)
	l.Record(context.Background(), domain.Event{Action: domain.ActionReuseDetected, SessionID: "s1"})

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.events) != 1 {
		t.Fatalf("persisted %d events, want 1", len(repo.events))
	}
	e := repo.events[0]
	if e.ID == "" {
		t.Error("Record should assign an ID")
	}
	if e.CreatedAt.IsZero() {
		t.Error("Record should assign CreatedAt")
	}
	if e.Action != domain.ActionReuseDetected {
		t.Errorf("Action = %q", e.Action)
	}
}
