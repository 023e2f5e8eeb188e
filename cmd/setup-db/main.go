package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"market-research-tracker/internal/config"
	"market-research-tracker/internal/store"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("=== Database Setup ===")
	fmt.Println("Connecting to PostgreSQL...")

	st, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	// NewPostgresStore already ran the schema migration; run it once more
	// explicitly so a clean exit proves the statements are re-runnable.
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	fmt.Println("Tables and indexes are in place.")
	fmt.Println("Done.")
}
