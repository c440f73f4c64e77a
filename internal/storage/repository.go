package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bias-aggregator/internal/aggregator"
	"bias-aggregator/internal/score"
)

const uniqueViolation = "23505"

const (
	insertEventSQL = `INSERT INTO scored_events (
        symbol,
        candle_type,
        interval,
        indicator_name,
        indicator_display_name,
        sub_category,
        sub_category_display_name,
        raw_message,
        score,
        score_min,
        score_max,
        is_strategy,
        strategy_name,
        event_time,
        processing_status
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    RETURNING id, created_at;`

	eventColumns = `id,
        symbol,
        candle_type,
        interval,
        indicator_name,
        indicator_display_name,
        sub_category,
        sub_category_display_name,
        raw_message,
        score,
        score_min,
        score_max,
        is_strategy,
        strategy_name,
        event_time,
        processing_status,
        error,
        created_at`

	listPendingEventsSQL = `SELECT ` + eventColumns + `
    FROM scored_events
    WHERE processing_status = 'PENDING'
      AND event_time >= $1
    ORDER BY event_time, id
    LIMIT $2;`

	markEventProcessedSQL = `UPDATE scored_events
    SET processing_status = 'PROCESSED', processed_at = now(), error = NULL
    WHERE id = $1;`

	markEventFailedSQL = `UPDATE scored_events
    SET processing_status = 'FAILED', processed_at = now(), error = $2
    WHERE id = $1;`

	countEventsByStatusSQL = `SELECT processing_status, COUNT(*)
    FROM scored_events
    GROUP BY processing_status
    ORDER BY processing_status;`

	insertSnapshotSQL = `INSERT INTO snapshots (
        version,
        symbol,
        score,
        score_min,
        score_max,
        percentage,
        direction,
        last_event_id,
        document
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	getLatestSnapshotSQL = `SELECT s.document
    FROM latest_snapshots l
    JOIN snapshots s ON s.version = l.version
    WHERE l.symbol = $1;`

	advanceLatestSQL = `INSERT INTO latest_snapshots (symbol, version, last_updated)
    SELECT symbol, version, now()
    FROM snapshots
    WHERE version = $2 AND symbol = $1
    ON CONFLICT (symbol) DO UPDATE
    SET version      = EXCLUDED.version,
        last_updated = EXCLUDED.last_updated;`

	listLatestSQL = `SELECT symbol, version::text, last_updated
    FROM latest_snapshots
    ORDER BY symbol;`

	listSnapshotHistorySQL = `SELECT
        version::text,
        symbol,
        score,
        score_min,
        score_max,
        percentage,
        direction,
        last_event_id,
        created_at
    FROM snapshots
    WHERE symbol = $1
      AND created_at >= $2
      AND created_at < $3
    ORDER BY created_at
    LIMIT NULLIF($4::bigint, 0);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store aggregates access to scored events and snapshots in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the session lock also dies with the connection if this fails
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertEvent enqueues a scored event. The status defaults to PENDING.
func (s *Store) InsertEvent(ctx context.Context, event aggregator.ScoredEvent) (aggregator.ScoredEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return aggregator.ScoredEvent{}, err
	}

	if event.Status == "" {
		event.Status = aggregator.StatusPending
	}

	row := pool.QueryRow(ctx, insertEventSQL,
		event.Symbol,
		event.CandleType,
		event.Interval,
		event.IndicatorName,
		event.IndicatorDisplayName,
		event.SubCategory,
		event.SubCategoryDisplayName,
		event.RawMessage,
		event.Score.String(),
		event.ScoreMin.String(),
		event.ScoreMax.String(),
		event.IsStrategy,
		event.StrategyName,
		event.EventTime,
		string(event.Status),
	)
	if scanErr := row.Scan(&event.ID, &event.CreatedAt); scanErr != nil {
		return aggregator.ScoredEvent{}, fmt.Errorf("insert event: %w", scanErr)
	}
	return event, nil
}

// ListPendingEvents lists PENDING events newer than since in processing order.
func (s *Store) ListPendingEvents(ctx context.Context, since time.Time, limit int) ([]aggregator.ScoredEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPendingEventsSQL, since, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list pending events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]aggregator.ScoredEvent, 0)
	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// MarkEventProcessed flags an event as folded.
func (s *Store) MarkEventProcessed(ctx context.Context, id int64) error {
	return s.markEvent(ctx, markEventProcessedSQL, id)
}

// MarkEventFailed flags an event as failed with the reason.
func (s *Store) MarkEventFailed(ctx context.Context, id int64, reason string) error {
	return s.markEvent(ctx, markEventFailedSQL, id, reason)
}

func (s *Store) markEvent(ctx context.Context, query string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, query, args...)
	if execErr != nil {
		return fmt.Errorf("mark event: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountEventsByStatus counts queued events per processing status.
func (s *Store) CountEventsByStatus(ctx context.Context) ([]StatusCount, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, countEventsByStatusSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("count events: %w", queryErr)
	}
	defer rows.Close()

	counts := make([]StatusCount, 0, 3)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts = append(counts, StatusCount{Status: aggregator.ProcessingStatus(status), Count: count})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}

// GetLatest loads the snapshot named by the latest pointer, or nil when the
// symbol has never been aggregated.
func (s *Store) GetLatest(ctx context.Context, symbol string) (*aggregator.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var document []byte
	if scanErr := pool.QueryRow(ctx, getLatestSnapshotSQL, symbol).Scan(&document); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest snapshot: %w", scanErr)
	}

	var snap aggregator.Snapshot
	if err := json.Unmarshal(document, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", symbol, err)
	}
	return &snap, nil
}

// SaveSnapshot inserts a new immutable snapshot version.
func (s *Store) SaveSnapshot(ctx context.Context, snap *aggregator.Snapshot) (string, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", err
	}

	document, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	var lastEvent interface{}
	if snap.LastEventID != 0 {
		lastEvent = snap.LastEventID
	}

	_, execErr := pool.Exec(ctx, insertSnapshotSQL,
		snap.Version,
		snap.Symbol,
		snap.Score.String(),
		snap.Min.String(),
		snap.Max.String(),
		snap.Percentage.String(),
		string(snap.Direction),
		lastEvent,
		document,
	)
	if execErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(execErr, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("%w: %s", ErrDuplicateVersion, snap.Version)
		}
		return "", fmt.Errorf("insert snapshot: %w", execErr)
	}
	return snap.Version, nil
}

// AdvanceLatest points symbol at a saved version.
func (s *Store) AdvanceLatest(ctx context.Context, symbol, version string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, advanceLatestSQL, symbol, version)
	if execErr != nil {
		return fmt.Errorf("advance latest: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrUnknownVersion, symbol, version)
	}
	return nil
}

// ListLatest lists every latest pointer ordered by symbol.
func (s *Store) ListLatest(ctx context.Context) ([]LatestPointer, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listLatestSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list latest: %w", queryErr)
	}
	defer rows.Close()

	pointers := make([]LatestPointer, 0)
	for rows.Next() {
		var p LatestPointer
		if err := rows.Scan(&p.Symbol, &p.Version, &p.LastUpdated); err != nil {
			return nil, err
		}
		pointers = append(pointers, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return pointers, nil
}

// ListSnapshotHistory lists snapshot roots of symbol saved within [from, to).
func (s *Store) ListSnapshotHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]SnapshotSummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotHistorySQL, symbol, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshot history: %w", queryErr)
	}
	defer rows.Close()

	summaries := make([]SnapshotSummary, 0)
	for rows.Next() {
		summary, scanErr := scanSummary(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		summaries = append(summaries, summary)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return summaries, nil
}

func scanEvent(rows pgx.Rows) (aggregator.ScoredEvent, error) {
	var (
		event                    aggregator.ScoredEvent
		scoreStr, minStr, maxStr string
		status                   string
		errMsg                   sql.NullString
	)

	if err := rows.Scan(
		&event.ID,
		&event.Symbol,
		&event.CandleType,
		&event.Interval,
		&event.IndicatorName,
		&event.IndicatorDisplayName,
		&event.SubCategory,
		&event.SubCategoryDisplayName,
		&event.RawMessage,
		&scoreStr,
		&minStr,
		&maxStr,
		&event.IsStrategy,
		&event.StrategyName,
		&event.EventTime,
		&status,
		&errMsg,
		&event.CreatedAt,
	); err != nil {
		return aggregator.ScoredEvent{}, err
	}

	values, err := parseDecimals(scoreStr, minStr, maxStr)
	if err != nil {
		return aggregator.ScoredEvent{}, fmt.Errorf("event %d: %w", event.ID, err)
	}
	event.Score, event.ScoreMin, event.ScoreMax = values[0], values[1], values[2]
	event.Status = aggregator.ProcessingStatus(status)
	if errMsg.Valid {
		event.Error = errMsg.String
	}
	return event, nil
}

func scanSummary(rows pgx.Rows) (SnapshotSummary, error) {
	var (
		summary                          SnapshotSummary
		scoreStr, minStr, maxStr, pctStr string
		direction                        string
		lastEvent                        sql.NullInt64
	)

	if err := rows.Scan(
		&summary.Version,
		&summary.Symbol,
		&scoreStr,
		&minStr,
		&maxStr,
		&pctStr,
		&direction,
		&lastEvent,
		&summary.CreatedAt,
	); err != nil {
		return SnapshotSummary{}, err
	}

	values, err := parseDecimals(scoreStr, minStr, maxStr, pctStr)
	if err != nil {
		return SnapshotSummary{}, fmt.Errorf("snapshot %s: %w", summary.Version, err)
	}
	summary.Score, summary.Min, summary.Max, summary.Percentage = values[0], values[1], values[2], values[3]
	summary.Direction = score.Direction(direction)
	if lastEvent.Valid {
		summary.LastEventID = lastEvent.Int64
	}
	return summary, nil
}

func parseDecimals(raw ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(raw))
	for i, v := range raw {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", v, err)
		}
		out[i] = parsed
	}
	return out, nil
}
