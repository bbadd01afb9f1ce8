package history

import (
	"context"
	"time"

	"github.com/nerrad567/moodo-bridge/internal/moodo"
)

// Entry represents a single recorded box state snapshot.
//
// Each entry stores the full box snapshot at the time the change was
// observed. This provides a local audit trail even when the time-series
// database is disabled.
type Entry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// DeviceKey identifies the box the snapshot belongs to.
	DeviceKey int `json:"device_key"`

	// Box is the full state snapshot.
	Box moodo.Box `json:"box"`

	// Source identifies how the change was observed (poll, stream).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the state change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves box state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// RecordStateChange records a box state snapshot.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - box: State snapshot to persist
	//   - source: Origin of the change (poll, stream)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordStateChange(ctx context.Context, box moodo.Box, source string) error

	// GetHistory returns recent state change history for a box.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceKey: Box device key
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []Entry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, deviceKey, limit int) ([]Entry, error)

	// PruneHistory deletes entries older than the given duration.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - olderThan: Retention window (entries older than now-olderThan are deleted)
	//
	// Returns:
	//   - int64: Number of rows deleted
	//   - error: nil on success, otherwise the underlying database error
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
