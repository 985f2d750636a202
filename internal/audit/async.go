package audit

import (
	"context"
	"log"
	"time"

	"session-vault/backend/internal/audit/domain"
	"session-vault/backend/internal/audit/producer"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync
// and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server stops before
// closing the producer, so in-flight async emits have time to complete.
// Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not
// blocked. Fire-and-forget: errors are logged.
//
// emitter and event may be nil; EmitAsync returns immediately without starting
// a goroutine. The goroutine uses context.Background() so request cancellation
// does not abort an in-flight emit.
func EmitAsync(emitter producer.Producer, e *domain.Event) {
	if emitter == nil || e == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, e); err != nil {
			log.Printf("audit: async emit failed: %v", err)
		}
	}()
}
