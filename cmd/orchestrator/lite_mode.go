package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ledgerflow/orchestrator/pkg/eventstream"
)

// setupLiteMode opens the single-binary SQLite dedup store used when
// cfg.DatabaseURL is unset, matching the teacher's lite-mode split
// between a Postgres deployment and a zero-dependency local one.
func setupLiteMode(ctx context.Context, dataDir string) (*sql.DB, *eventstream.SQLiteDedupStore, error) {
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("lite mode: create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "orchestrator.db")
	log.Printf("[orchestrator] lite mode: using sqlite at %s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("lite mode: open sqlite: %w", err)
	}

	dedup := eventstream.NewSQLiteDedupStore(db)
	if err := dedup.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("lite mode: init dedup schema: %w", err)
	}

	return db, dedup, nil
}
