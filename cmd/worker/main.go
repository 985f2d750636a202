// Worker consumes the audit event stream from Kafka, surfaces security alerts,
// and garbage-collects expired revocation ledger entries.
// Set KAFKA_BROKERS, AUDIT_KAFKA_TOPIC, KAFKA_GROUP_ID, and DATABASE_URL.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	auditdomain "session-vault/backend/internal/audit/domain"
	"session-vault/backend/internal/config"
	"session-vault/backend/internal/db"
	"session-vault/backend/internal/revocation"
)

// purgeInterval is how often expired ledger entries are swept.
const purgeInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	topic := cfg.AuditKafkaTopic
	if topic == "" {
		topic = "sv-audit"
	}
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "sv-audit-worker"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	ledger := revocation.NewPostgresLedger(pool)

	go purgeLoop(ctx, ledger)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	log.Printf("worker: consuming from %s (group %s)", topic, groupID)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("worker: stopped")
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}
		handleEvent(msg.Value)
	}
}

// handleEvent surfaces the events an operator should see immediately. The
// durable audit trail was already written by the producer side; this is the
// alerting hook.
func handleEvent(raw []byte) {
	var e auditdomain.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		log.Printf("worker: malformed event: %v", err)
		return
	}
	switch e.Action {
	case auditdomain.ActionReuseDetected:
		log.Printf("ALERT: refresh credential reuse for identity %s (session %s): %s", e.IdentityID, e.SessionID, e.Metadata)
	case auditdomain.ActionLockoutTriggered:
		log.Printf("ALERT: account lockout for %s from %s", e.IdentityID, e.IP)
	default:
		log.Printf("audit: %s identity=%s session=%s", e.Action, e.IdentityID, e.SessionID)
	}
}

func purgeLoop(ctx context.Context, ledger revocation.Ledger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ledger.PurgeExpired(ctx, time.Now())
			if err != nil {
				log.Printf("worker: purge ledger: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("worker: purged %d expired ledger entries", n)
			}
		}
	}
}
