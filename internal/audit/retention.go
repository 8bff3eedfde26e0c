package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// RetentionChecker answers archival questions from the legal_holds table.
// The workflow engine asks before archiving a terminal prescription; a
// standing hold blocks archival until released by the records team.
type RetentionChecker struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRetentionChecker creates a checker over an existing pool.
func NewRetentionChecker(pool *pgxpool.Pool, logger *zap.Logger) *RetentionChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionChecker{pool: pool, logger: logger}
}

// CanArchive reports whether the resource is free of legal holds.
func (r *RetentionChecker) CanArchive(ctx context.Context, resourceType, resourceID string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM legal_holds
		WHERE resource_type = $1
		  AND resource_id = $2
		  AND released_at IS NULL
	`
	var holds int
	if err := r.pool.QueryRow(ctx, query, resourceType, resourceID).Scan(&holds); err != nil {
		return false, fmt.Errorf("failed to check legal holds: %w", err)
	}
	if holds > 0 {
		r.logger.Info("archival blocked by legal hold",
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.Int("holds", holds),
		)
	}
	return holds == 0, nil
}

// PlaceHold records a legal hold against a resource.
func (r *RetentionChecker) PlaceHold(ctx context.Context, resourceType, resourceID, reason, actor string) error {
	query := `
		INSERT INTO legal_holds (resource_type, resource_id, reason, placed_by)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.pool.Exec(ctx, query, resourceType, resourceID, reason, actor); err != nil {
		return fmt.Errorf("failed to place legal hold: %w", err)
	}
	return nil
}

// ReleaseHold releases all open holds on a resource.
func (r *RetentionChecker) ReleaseHold(ctx context.Context, resourceType, resourceID, actor string) error {
	query := `
		UPDATE legal_holds
		SET released_at = NOW(), released_by = $3
		WHERE resource_type = $1
		  AND resource_id = $2
		  AND released_at IS NULL
	`
	if _, err := r.pool.Exec(ctx, query, resourceType, resourceID, actor); err != nil {
		return fmt.Errorf("failed to release legal hold: %w", err)
	}
	return nil
}
