package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionManager deletes remote backups older than the retention window.
type RetentionManager struct {
	logger *slog.Logger
}

func NewRetentionManager(logger *slog.Logger) *RetentionManager {
	return &RetentionManager{logger: logger}
}

// Cutoff returns the instant before which objects are pruned.
func Cutoff(now time.Time, retentionDays int) time.Time {
	return now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
}

// Prune deletes objects in folderID created strictly before now minus
// retentionDays and returns how many were deleted. It is a no-op when
// retentionDays is not positive. A failed delete is logged and skipped; only
// a failed listing is returned.
func (r *RetentionManager) Prune(ctx context.Context, remote RemoteStore, folderID string, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := Cutoff(now, retentionDays)

	objects, err := remote.ListOlderThan(ctx, folderID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired backups: %w", err)
	}

	deleted := 0
	for _, obj := range objects {
		// The store filters too, but the boundary must stay strict even if
		// a provider rounds its comparison.
		if !obj.CreatedAt.Before(cutoff) {
			continue
		}
		if err := remote.Delete(ctx, obj.ID); err != nil {
			r.logger.Warn("delete expired backup", "object", obj.Name, "id", obj.ID, "error", err)
			continue
		}
		r.logger.Info("deleted expired backup", "object", obj.Name, "created_at", obj.CreatedAt)
		deleted++
	}
	return deleted, nil
}
