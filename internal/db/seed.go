package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Demo fixtures shared by the seeder and the in-memory store.
const (
	DemoWorkspaceID    = "demo-workspace"
	DemoContactID      = "demo-contact"
	DemoConversationID = "demo-conversation"
	DemoContactName    = "Demo Contact"
	DemoContactPhone   = "+6281234567890"
)

// Seed inserts the demo workspace, contact and conversation. Re-running it is safe.
func Seed(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO workspaces (id, name) VALUES ($1, 'Demo Workspace') ON CONFLICT (id) DO NOTHING`,
			[]any{DemoWorkspaceID}},
		{`INSERT INTO contacts (id, workspace_id, name, phone) VALUES ($1, $2, $3, $4)
		  ON CONFLICT (id) DO UPDATE SET phone = EXCLUDED.phone`,
			[]any{DemoContactID, DemoWorkspaceID, DemoContactName, DemoContactPhone}},
		{`INSERT INTO conversations (id, workspace_id, contact_id) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			[]any{DemoConversationID, DemoWorkspaceID, DemoContactID}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return tx.Commit()
}
