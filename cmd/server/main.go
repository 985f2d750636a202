package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"session-vault/backend/internal/audit"
	"session-vault/backend/internal/audit/producer"
	auditrepo "session-vault/backend/internal/audit/repository"
	"session-vault/backend/internal/config"
	"session-vault/backend/internal/db"
	"session-vault/backend/internal/gate"
	"session-vault/backend/internal/revocation"
	"session-vault/backend/internal/security"
	"session-vault/backend/internal/server"
	"session-vault/backend/internal/session/cache"
	"session-vault/backend/internal/session/repository"
	"session-vault/backend/internal/session/service"
	"session-vault/backend/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.NewProviders(ctx, cfg.OTLPEndpoint, "session-vault", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider)
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("private key: %v", err)
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("public key: %v", err)
	}
	codec := security.NewCodec(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())

	var emitter producer.Producer
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuditKafkaTopic); kp != nil {
		emitter = kp
		defer kp.Close()
	}
	recorder := audit.NewLogger(auditrepo.NewPostgresRepository(pool), emitter)

	ledger := revocation.NewCachedLedger(revocation.NewPostgresLedger(pool), rdb)
	sessionCache := cache.New(rdb, cfg.InactivityTimeout())

	sessions := service.New(
		repository.NewPostgresRepository(pool),
		sessionCache,
		ledger,
		codec,
		recorder,
		metrics,
		service.Params{
			RefreshTTL:  cfg.RefreshTTL(),
			Inactivity:  cfg.InactivityTimeout(),
			WarnBefore:  cfg.WarnBeforeTimeout(),
			MaxSessions: cfg.MaxSessionsPerIdentity,
			Grace:       cfg.GraceWindow(),
		},
	)

	hasher := security.NewHasher(cfg.BcryptCost)
	loginGate := gate.New(
		gate.NewRedisCounters(rdb),
		gate.NewPostgresVerifier(pool, hasher),
		recorder,
		metrics,
		gate.Limits{
			EmailWindow:   cfg.EmailWindow(),
			EmailMax:      cfg.LoginEmailMax,
			IPWindow:      cfg.IPWindow(),
			IPMax:         cfg.LoginIPMax,
			LockWindow:    cfg.LockWindow(),
			LockThreshold: cfg.LockoutThreshold,
			LockDuration:  cfg.LockDuration(),
		},
	)

	srv := server.New(server.Options{
		Addr:          cfg.HTTPAddr,
		SecureCookies: cfg.Env != "development",
		ServiceName:   "session-vault",
	}, sessions, loginGate, nil, pool, sessionCache)

	go func() {
		log.Printf("http server listening on %s", cfg.HTTPAddr)
		if err := srv.Run(); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	// Give in-flight audit emits a moment to land.
	time.Sleep(audit.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("stopped")
}
