package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// lockUsersForUpdate row-locks every distinct user in ascending id order so
// concurrent transactions touching overlapping accounts cannot deadlock.
func lockUsersForUpdate(ctx context.Context, q DBConn, ids []uuid.UUID) error {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	sorted = slices.Compact(sorted)

	for _, id := range sorted {
		if err := lockUserForUpdate(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

func lockUserForUpdate(ctx context.Context, q DBConn, userID uuid.UUID) error {
	var lockedID uuid.UUID
	err := q.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	return nil
}
