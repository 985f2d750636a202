// seed inserts development sample identities for local testing.
// Idempotent: skips inserts if the dev identity (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"session-vault/backend/internal/config"
	"session-vault/backend/internal/db"
	"session-vault/backend/internal/security"
)

const (
	devEmail    = "dev@example.com"
	memberEmail = "member@example.com"
	devPassword = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM identities WHERE email = $1)`, devEmail).Scan(&exists)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if exists {
		log.Println("Seed already applied (dev@example.com exists). Skipping.")
		os.Exit(0)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	identities := []struct {
		id    string
		email string
		roles string
	}{
		{"dev-identity-001", devEmail, "admin,member"},
		{"dev-identity-002", memberEmail, "member"},
	}
	for _, ident := range identities {
		if _, err := pool.Exec(ctx, `
			INSERT INTO identities (id, email, password_hash, roles, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			ident.id, ident.email, passwordHash, ident.roles, now); err != nil {
			log.Fatalf("create identity %s: %v", ident.email, err)
		}
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s\n", devEmail, devPassword)
	fmt.Printf("Member login: %s / %s\n", memberEmail, devPassword)
}
