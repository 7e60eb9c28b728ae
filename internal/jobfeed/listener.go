// Package jobfeed consumes the job change feed and hands newly publishable
// jobs to the matcher.
package jobfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/matches"
	"github.com/bissquit/job-alerts/internal/pkg/ctxlog"
	"github.com/bissquit/job-alerts/internal/pkg/retry"
)

// Matcher processes one publishable job.
type Matcher interface {
	ProcessJob(ctx context.Context, job *domain.Job) (*matches.Result, error)
}

// Config contains listener configuration.
type Config struct {
	Consumer         string
	BatchSize        int
	PollInterval     time.Duration
	ReconnectBackoff time.Duration
}

// DefaultConfig returns default listener configuration.
func DefaultConfig() Config {
	return Config{
		Consumer:         "job-alerts",
		BatchSize:        100,
		PollInterval:     30 * time.Second,
		ReconnectBackoff: 5 * time.Second,
	}
}

// Status describes the consumer position. Cursor and CursorXact are the
// event and transaction IDs of the last processed event; Lag counts events
// not processed yet.
type Status struct {
	Consumer   string
	Cursor     int64
	CursorXact int64
	Latest     int64
	Lag        int64
}

// Listener reads the feed sequentially and runs the matcher for every
// qualifying event.
type Listener struct {
	config  Config
	feed    Feed
	jobs    JobReader
	matcher Matcher

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewListener creates a new job change listener.
func NewListener(config Config, feed Feed, jobs JobReader, matcher Matcher) *Listener {
	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.ReconnectBackoff <= 0 {
		config.ReconnectBackoff = def.ReconnectBackoff
	}
	return &Listener{
		config:  config,
		feed:    feed,
		jobs:    jobs,
		matcher: matcher,
		stopCh:  make(chan struct{}),
	}
}

// Check verifies the change feed is installed.
func (l *Listener) Check(ctx context.Context) error {
	if err := l.feed.Check(ctx); err != nil {
		return fmt.Errorf("check job change feed: %w", err)
	}
	return nil
}

// Start launches the listener goroutine.
func (l *Listener) Start(ctx context.Context) {
	slog.Info("starting job change listener",
		"consumer", l.config.Consumer,
		"batch_size", l.config.BatchSize,
		"poll_interval", l.config.PollInterval,
	)

	l.wg.Add(1)
	go l.run(ctx)
}

// Stop stops accepting events, waits for the in-flight event and releases
// the feed connection.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
	slog.Info("job change listener stopped")
}

// Status reports the consumer cursor and the feed head.
func (l *Listener) Status(ctx context.Context) (*Status, error) {
	cursor, _, err := l.feed.LoadCursor(ctx, l.config.Consumer)
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	latest, err := l.feed.LatestEventID(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest event: %w", err)
	}
	lag, err := l.feed.Pending(ctx, cursor)
	if err != nil {
		return nil, fmt.Errorf("count pending events: %w", err)
	}
	return &Status{
		Consumer:   l.config.Consumer,
		Cursor:     cursor.ID,
		CursorXact: cursor.Xact,
		Latest:     latest,
		Lag:        lag,
	}, nil
}

func (l *Listener) stopped() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for runCtx.Err() == nil {
		err := l.session(ctx, runCtx)
		if runCtx.Err() != nil {
			return
		}

		reconnects.Inc()
		slog.Warn("job change feed session ended, reconnecting",
			"backoff", l.config.ReconnectBackoff,
			"error", err,
		)

		if !retry.Sleep(runCtx, l.config.ReconnectBackoff) {
			return
		}
	}
}

// session runs one subscription until it fails or runCtx is cancelled.
// Event handling uses a context detached from runCtx so the in-flight event
// finishes after Stop.
func (l *Listener) session(ctx, runCtx context.Context) error {
	sess, err := l.feed.Subscribe(runCtx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer closeCancel()
		sess.Close(closeCtx)
	}()

	cursor, err := l.initCursor(runCtx)
	if err != nil {
		return err
	}

	for {
		events, err := sess.Fetch(runCtx, cursor, l.config.BatchSize)
		if err != nil {
			return fmt.Errorf("fetch events: %w", err)
		}

		for _, ev := range events {
			if l.stopped() {
				return nil
			}

			evCtx := context.WithoutCancel(ctx)
			l.handle(evCtx, ev)

			if err := l.feed.SaveCursor(evCtx, l.config.Consumer, ev.Position()); err != nil {
				return fmt.Errorf("save cursor: %w", err)
			}
			cursor = ev.Position()
			cursorPosition.Set(float64(cursor.ID))
		}

		if len(events) >= l.config.BatchSize {
			continue
		}

		if err := sess.Wait(runCtx, l.config.PollInterval); err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
	}
}

// initCursor loads the consumer cursor. A consumer without a cursor starts
// at the current head of the feed rather than replaying history.
func (l *Listener) initCursor(ctx context.Context) (Position, error) {
	cursor, ok, err := l.feed.LoadCursor(ctx, l.config.Consumer)
	if err != nil {
		return Position{}, fmt.Errorf("load cursor: %w", err)
	}
	if ok {
		return cursor, nil
	}

	head, err := l.feed.Head(ctx)
	if err != nil {
		return Position{}, fmt.Errorf("load feed head: %w", err)
	}
	if err := l.feed.SaveCursor(ctx, l.config.Consumer, head); err != nil {
		return Position{}, fmt.Errorf("init cursor: %w", err)
	}
	slog.Info("job change feed cursor initialized",
		"consumer", l.config.Consumer,
		"xact", head.Xact,
		"cursor", head.ID,
	)
	return head, nil
}

// handle processes one event. Errors and panics are logged and the event is
// dropped so the stream keeps moving.
func (l *Listener) handle(ctx context.Context, ev Event) {
	ctx = ctxlog.With(ctx, "job_id", ev.JobID, "event_id", ev.ID)
	logger := ctxlog.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			eventsHandled.WithLabelValues("panic").Inc()
			logger.Error("panic while processing job change", "panic", r)
		}
	}()

	if !Qualifies(ev) {
		eventsHandled.WithLabelValues("ignored").Inc()
		return
	}

	job, err := l.jobs.GetJob(ctx, ev.JobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			eventsHandled.WithLabelValues("skipped").Inc()
			logger.Debug("job no longer exists")
			return
		}
		eventsHandled.WithLabelValues("failed").Inc()
		logger.Error("failed to load job", "error", err)
		return
	}

	if !job.IsPublishable() {
		eventsHandled.WithLabelValues("skipped").Inc()
		logger.Debug("job no longer publishable",
			"moderation_status", job.ModerationStatus,
			"status", job.Status,
		)
		return
	}

	if _, err := l.matcher.ProcessJob(ctx, job); err != nil {
		eventsHandled.WithLabelValues("failed").Inc()
		logger.Error("failed to match job", "error", err)
		return
	}

	eventsHandled.WithLabelValues("processed").Inc()
}
