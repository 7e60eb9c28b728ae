// Package postgres provides the PostgreSQL job change feed and job reader.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/jobfeed"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Channel is the NOTIFY channel the feed trigger signals on.
const Channel = "job_changes"

// TriggerName is the trigger that writes job_changes rows.
const TriggerName = "jobs_change_feed"

// Feed implements jobfeed.Feed on the job_changes table.
type Feed struct {
	db *pgxpool.Pool
}

// NewFeed creates a new PostgreSQL feed.
func NewFeed(db *pgxpool.Pool) *Feed {
	return &Feed{db: db}
}

// Check verifies the change table and its trigger exist.
func (f *Feed) Check(ctx context.Context) error {
	var tableExists, triggerExists bool
	err := f.db.QueryRow(ctx, `
		SELECT
			to_regclass('public.job_changes') IS NOT NULL,
			EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = $1 AND NOT tgisinternal)
	`, TriggerName).Scan(&tableExists, &triggerExists)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if !tableExists {
		return fmt.Errorf("%w: table job_changes missing", jobfeed.ErrFeedUnsupported)
	}
	if !triggerExists {
		return fmt.Errorf("%w: trigger %s missing", jobfeed.ErrFeedUnsupported, TriggerName)
	}
	return nil
}

// Subscribe acquires a dedicated connection and starts listening.
func (f *Feed) Subscribe(ctx context.Context) (jobfeed.Session, error) {
	conn, err := f.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &session{conn: conn}, nil
}

// snapshotXmin is the oldest transaction still running. Rows of older
// transactions are final: committed and visible, or rolled back.
const snapshotXmin = `pg_snapshot_xmin(pg_current_snapshot())::text::bigint`

// LoadCursor returns the stored position of consumer.
func (f *Feed) LoadCursor(ctx context.Context, consumer string) (jobfeed.Position, bool, error) {
	var pos jobfeed.Position
	err := f.db.QueryRow(ctx,
		`SELECT last_xact_id, last_event_id FROM feed_cursors WHERE consumer = $1`, consumer).
		Scan(&pos.Xact, &pos.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobfeed.Position{}, false, nil
	}
	if err != nil {
		return jobfeed.Position{}, false, fmt.Errorf("load cursor: %w", err)
	}
	return pos, true, nil
}

// SaveCursor stores the position of consumer.
func (f *Feed) SaveCursor(ctx context.Context, consumer string, pos jobfeed.Position) error {
	_, err := f.db.Exec(ctx, `
		INSERT INTO feed_cursors (consumer, last_xact_id, last_event_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (consumer) DO UPDATE
		SET last_xact_id = EXCLUDED.last_xact_id,
			last_event_id = EXCLUDED.last_event_id,
			updated_at = NOW()
	`, consumer, pos.Xact, pos.ID)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// Head returns the position just before the oldest running transaction.
// Every event of a finished transaction sorts at or before it.
func (f *Feed) Head(ctx context.Context) (jobfeed.Position, error) {
	var pos jobfeed.Position
	err := f.db.QueryRow(ctx,
		`SELECT `+snapshotXmin+` - 1, COALESCE((SELECT MAX(id) FROM job_changes), 0)`).
		Scan(&pos.Xact, &pos.ID)
	if err != nil {
		return jobfeed.Position{}, fmt.Errorf("load feed head: %w", err)
	}
	return pos, nil
}

// LatestEventID returns the newest event ID, or 0 for an empty feed.
func (f *Feed) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := f.db.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM job_changes`).Scan(&id); err != nil {
		return 0, fmt.Errorf("load latest event: %w", err)
	}
	return id, nil
}

// Pending counts committed events after pos.
func (f *Feed) Pending(ctx context.Context, after jobfeed.Position) (int64, error) {
	var n int64
	err := f.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM job_changes WHERE (xact_id, id) > ($1, $2)`, after.Xact, after.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return n, nil
}

// Trim deletes events older than before that every consumer has passed.
// Nothing is deleted while no consumer has a cursor.
func (f *Feed) Trim(ctx context.Context, before time.Time) (int64, error) {
	tag, err := f.db.Exec(ctx, `
		DELETE FROM job_changes e
		WHERE e.created_at < $1
		  AND EXISTS (SELECT 1 FROM feed_cursors)
		  AND NOT EXISTS (
			SELECT 1 FROM feed_cursors c
			WHERE (e.xact_id, e.id) > (c.last_xact_id, c.last_event_id)
		  )
	`, before)
	if err != nil {
		return 0, fmt.Errorf("trim job changes: %w", err)
	}
	return tag.RowsAffected(), nil
}

type session struct {
	conn *pgxpool.Conn
}

func (s *session) Fetch(ctx context.Context, after jobfeed.Position, limit int) ([]jobfeed.Event, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, xact_id, job_id::text, operation, moderation_status, status, changed_fields, created_at
		FROM job_changes
		WHERE (xact_id, id) > ($1, $2)
		  AND xact_id < `+snapshotXmin+`
		ORDER BY xact_id, id
		LIMIT $3
	`, after.Xact, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("query job changes: %w", err)
	}
	defer rows.Close()

	var events []jobfeed.Event
	for rows.Next() {
		var (
			ev                     jobfeed.Event
			op, moderation, status string
		)
		if err := rows.Scan(&ev.ID, &ev.Xact, &ev.JobID, &op, &moderation, &status, &ev.ChangedFields, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job change: %w", err)
		}
		ev.Operation = jobfeed.Operation(op)
		ev.ModerationStatus = domain.ModerationStatus(moderation)
		ev.Status = domain.JobStatus(status)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job changes: %w", err)
	}
	return events, nil
}

func (s *session) Wait(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := s.conn.Conn().WaitForNotification(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *session) Close(ctx context.Context) {
	defer s.conn.Release()

	if s.conn.Conn().IsClosed() {
		return
	}
	if _, err := s.conn.Exec(ctx, "UNLISTEN *"); err != nil {
		slog.Warn("failed to unlisten, closing connection", "error", err)
		_ = s.conn.Conn().Close(ctx)
	}
}
