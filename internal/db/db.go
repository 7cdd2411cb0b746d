// Package db opens the per-workspace SQLite store. All state lives under a
// hidden .deskline directory next to the data it describes.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir = ".deskline"
	dbFileName   = "deskline.db"
)

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the hidden state directory if missing and returns
// its path.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	dir := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the workspace database. Foreign keys are enforced; the schema
// relies on cascades for client and task cleanup.
func Open(cfg Config) (*sql.DB, error) {
	dir, err := EnsureWorkspace(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		filepath.Join(dir, dbFileName))
	return sql.Open("sqlite", dsn)
}
