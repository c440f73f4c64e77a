package storage

import (
	"context"
	"errors"
	"time"

	"bias-aggregator/internal/aggregator"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrUnknownVersion indicates a latest pointer advance to a version that was never saved.
	ErrUnknownVersion = errors.New("storage: unknown snapshot version")
	// ErrDuplicateVersion indicates an attempt to overwrite a saved version.
	ErrDuplicateVersion = errors.New("storage: snapshot version already saved")
)

// SnapshotSummary is the root of a saved snapshot without its tree.
type SnapshotSummary struct {
	Version     string
	Symbol      string
	LastEventID int64
	CreatedAt   time.Time
	aggregator.Tally
}

// LatestPointer names the newest snapshot version of a symbol.
type LatestPointer struct {
	Symbol      string
	Version     string
	LastUpdated time.Time
}

// StatusCount is the number of queued events in one processing status.
type StatusCount struct {
	Status aggregator.ProcessingStatus
	Count  int64
}

// EventStore is the queue of scored events awaiting aggregation.
type EventStore interface {
	InsertEvent(ctx context.Context, event aggregator.ScoredEvent) (aggregator.ScoredEvent, error)
	ListPendingEvents(ctx context.Context, since time.Time, limit int) ([]aggregator.ScoredEvent, error)
	MarkEventProcessed(ctx context.Context, id int64) error
	MarkEventFailed(ctx context.Context, id int64, reason string) error
	CountEventsByStatus(ctx context.Context) ([]StatusCount, error)
}

// SnapshotStore keeps append-only snapshot versions and the per-symbol latest pointer.
type SnapshotStore interface {
	GetLatest(ctx context.Context, symbol string) (*aggregator.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *aggregator.Snapshot) (string, error)
	AdvanceLatest(ctx context.Context, symbol, version string) error
	ListLatest(ctx context.Context) ([]LatestPointer, error)
	ListSnapshotHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]SnapshotSummary, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

func summarise(snap *aggregator.Snapshot, createdAt time.Time) SnapshotSummary {
	return SnapshotSummary{
		Version:     snap.Version,
		Symbol:      snap.Symbol,
		LastEventID: snap.LastEventID,
		CreatedAt:   createdAt,
		Tally:       snap.Tally,
	}
}
