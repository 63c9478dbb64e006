package backendstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// EnsureUser upserts a User row (get-or-create semantics throughout §4.6).
func EnsureUser(ctx context.Context, tx pgx.Tx, roll string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (roll) VALUES ($1)
		ON CONFLICT (roll) DO NOTHING`, roll)
	if err != nil {
		return fmt.Errorf("backendstore: ensure user %q: %w", roll, err)
	}
	return nil
}
