package repository

import (
	"context"
	"fmt"
)

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

// EnsureIndexes creates indexes for every store that declares them.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, v := range []any{s.Users, s.Friendships, s.Messages, s.Notifications} {
		ix, ok := v.(indexer)
		if !ok {
			continue
		}
		if err := ix.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure indexes: %w", err)
		}
	}
	return nil
}
