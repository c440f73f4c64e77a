package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bias-aggregator/internal/aggregator"
)

// MemoryStore is an in-process EventStore and SnapshotStore. Snapshots are
// cloned on the way in and out so saved versions cannot be altered.
type MemoryStore struct {
	mu sync.Mutex

	nextID    int64
	events    []aggregator.ScoredEvent
	snapshots map[string]memorySnapshot
	history   map[string][]string
	latest    map[string]LatestPointer

	now func() time.Time
}

type memorySnapshot struct {
	snap      *aggregator.Snapshot
	createdAt time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]memorySnapshot),
		history:   make(map[string][]string),
		latest:    make(map[string]LatestPointer),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InsertEvent enqueues a scored event. The status defaults to PENDING.
func (m *MemoryStore) InsertEvent(ctx context.Context, event aggregator.ScoredEvent) (aggregator.ScoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	event.ID = m.nextID
	if event.Status == "" {
		event.Status = aggregator.StatusPending
	}
	event.CreatedAt = m.now()
	m.events = append(m.events, event)
	return event, nil
}

// ListPendingEvents lists PENDING events newer than since in processing order.
func (m *MemoryStore) ListPendingEvents(ctx context.Context, since time.Time, limit int) ([]aggregator.ScoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]aggregator.ScoredEvent, 0)
	for _, ev := range m.events {
		if ev.Status != aggregator.StatusPending || ev.EventTime.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EventTime.Equal(out[j].EventTime) {
			return out[i].EventTime.Before(out[j].EventTime)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkEventProcessed flags an event as folded.
func (m *MemoryStore) MarkEventProcessed(ctx context.Context, id int64) error {
	return m.setStatus(id, aggregator.StatusProcessed, "")
}

// MarkEventFailed flags an event as failed with the reason.
func (m *MemoryStore) MarkEventFailed(ctx context.Context, id int64, reason string) error {
	return m.setStatus(id, aggregator.StatusFailed, reason)
}

func (m *MemoryStore) setStatus(id int64, status aggregator.ProcessingStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Status = status
			m.events[i].Error = reason
			return nil
		}
	}
	return fmt.Errorf("event %d not found", id)
}

// Event returns a queued event by id.
func (m *MemoryStore) Event(id int64) (aggregator.ScoredEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range m.events {
		if ev.ID == id {
			return ev, true
		}
	}
	return aggregator.ScoredEvent{}, false
}

// CountEventsByStatus counts queued events per processing status.
func (m *MemoryStore) CountEventsByStatus(ctx context.Context) ([]StatusCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[aggregator.ProcessingStatus]int64)
	for _, ev := range m.events {
		counts[ev.Status]++
	}
	out := make([]StatusCount, 0, len(counts))
	for status, n := range counts {
		out = append(out, StatusCount{Status: status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

// GetLatest returns a copy of the snapshot named by the latest pointer.
func (m *MemoryStore) GetLatest(ctx context.Context, symbol string) (*aggregator.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ptr, ok := m.latest[symbol]
	if !ok {
		return nil, nil
	}
	return m.snapshots[ptr.Version].snap.Clone(), nil
}

// SaveSnapshot inserts a new immutable snapshot version.
func (m *MemoryStore) SaveSnapshot(ctx context.Context, snap *aggregator.Snapshot) (string, error) {
	if snap == nil || snap.Version == "" {
		return "", fmt.Errorf("save snapshot: version is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.snapshots[snap.Version]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateVersion, snap.Version)
	}
	m.snapshots[snap.Version] = memorySnapshot{snap: snap.Clone(), createdAt: m.now()}
	m.history[snap.Symbol] = append(m.history[snap.Symbol], snap.Version)
	return snap.Version, nil
}

// AdvanceLatest points symbol at a saved version.
func (m *MemoryStore) AdvanceLatest(ctx context.Context, symbol, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved, ok := m.snapshots[version]
	if !ok || saved.snap.Symbol != symbol {
		return fmt.Errorf("%w: %s/%s", ErrUnknownVersion, symbol, version)
	}
	m.latest[symbol] = LatestPointer{Symbol: symbol, Version: version, LastUpdated: m.now()}
	return nil
}

// ListLatest lists every latest pointer ordered by symbol.
func (m *MemoryStore) ListLatest(ctx context.Context) ([]LatestPointer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LatestPointer, 0, len(m.latest))
	for _, p := range m.latest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// ListSnapshotHistory lists snapshot roots of symbol saved within [from, to).
func (m *MemoryStore) ListSnapshotHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]SnapshotSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SnapshotSummary, 0)
	for _, version := range m.history[symbol] {
		saved := m.snapshots[version]
		if saved.createdAt.Before(from) || !saved.createdAt.Before(to) {
			continue
		}
		out = append(out, summarise(saved.snap, saved.createdAt))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var (
	_ EventStore     = (*MemoryStore)(nil)
	_ SnapshotStore  = (*MemoryStore)(nil)
	_ EventStore     = (*Store)(nil)
	_ SnapshotStore  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
