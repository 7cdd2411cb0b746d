// Package app wires the workspace pieces together for the CLI: database,
// migrations, config file, engine, and the local actor's claim.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deskline/internal/config"
	"deskline/internal/db"
	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/migrate"
	"deskline/internal/repo"
)

// Open opens the workspace database, runs migrations, loads deskline.yml and
// returns a ready engine. The caller owns Close on the returned engine's DB.
func Open(workspace string) (*engine.Engine, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return engine.New(conn, cfg), nil
}

// ResolveClaim maps a local actor id to its claim. The reserved id "system"
// yields the scanner's claim; everything else must be a known user.
func ResolveClaim(ctx context.Context, r repo.Repo, actorID string) (domain.Claim, error) {
	if actorID == "" {
		return domain.Claim{}, fmt.Errorf("actor not specified; use --actor-id")
	}
	if actorID == "system" {
		return domain.SystemClaim(), nil
	}
	user, err := r.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Claim{}, fmt.Errorf("unknown actor %q; bootstrap one with 'dsk user bootstrap'", actorID)
		}
		return domain.Claim{}, err
	}
	return user.Claim(), nil
}

// Bootstrap inserts a user directly, bypassing the policy gate. Meant for
// seeding the first admin of a fresh workspace.
func Bootstrap(ctx context.Context, r repo.Repo, id, name string, role domain.Role) (domain.User, error) {
	if id == "" || name == "" {
		return domain.User{}, fmt.Errorf("id and name are required")
	}
	if !role.Known() || role == domain.RoleSystem {
		return domain.User{}, fmt.Errorf("unknown role %q", role)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	user := domain.User{
		ID:                id,
		Name:              name,
		Role:              role,
		IsActive:          true,
		CanApproveBilling: role == domain.RoleAdmin,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := r.InsertUser(ctx, tx, user); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return user, nil
}
