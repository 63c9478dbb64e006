package gatestore

import (
	"context"
	"fmt"
)

// EnsureUser upserts a User row, auto-creating it on first reference (§3).
func EnsureUser(ctx context.Context, q Querier, roll string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO users (roll) VALUES ($1)
		ON CONFLICT (roll) DO NOTHING`, roll)
	if err != nil {
		return fmt.Errorf("gatestore: ensure user %q: %w", roll, err)
	}
	return nil
}
