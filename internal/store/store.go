// Package store persists end-of-call summary records to PostgreSQL via a
// single writer task with a bounded queue, §5 ("persistence store is shared;
// writes are serialized via a single writer task with a bounded queue"),
// grounded on glyphoxa's pkg/memory/postgres.Store pgxpool wiring.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSummaries = `
CREATE TABLE IF NOT EXISTS session_summaries (
    session_id                  TEXT        PRIMARY KEY,
    created_at                  TIMESTAMPTZ NOT NULL,
    ended_at                    TIMESTAMPTZ NOT NULL,
    duration_ms                 BIGINT      NOT NULL,
    sentiment                   TEXT        NOT NULL DEFAULT '',
    intent                      TEXT        NOT NULL DEFAULT '',
    resolution_status           TEXT        NOT NULL DEFAULT '',
    key_topics                  JSONB       NOT NULL DEFAULT '[]',
    action_items                JSONB       NOT NULL DEFAULT '[]',
    frustration_avg             DOUBLE PRECISION NOT NULL DEFAULT 0,
    frustration_max             INT         NOT NULL DEFAULT 0,
    frustration_trend           TEXT        NOT NULL DEFAULT '',
    escalation_count            INT         NOT NULL DEFAULT 0,
    escalation_alerts           JSONB       NOT NULL DEFAULT '[]',
    supervisor_interventions    INT         NOT NULL DEFAULT 0,
    supervisor_id               TEXT        NOT NULL DEFAULT '',
    supervisor_takeover_duration_ms BIGINT  NOT NULL DEFAULT 0,
    full_summary                 TEXT        NOT NULL DEFAULT '',
    insights                     TEXT        NOT NULL DEFAULT '',
    transcript                   JSONB       NOT NULL DEFAULT '[]',
    first_message_at             TIMESTAMPTZ,
    last_message_at              TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_session_summaries_created_at ON session_summaries (created_at);
CREATE INDEX IF NOT EXISTS idx_session_summaries_sentiment ON session_summaries (sentiment);
CREATE INDEX IF NOT EXISTS idx_session_summaries_intent ON session_summaries (intent);
`

// Summary is the persisted record of §6 ("Persisted summary record fields").
type Summary struct {
	SessionID                   string
	CreatedAt                   time.Time
	EndedAt                     time.Time
	DurationMs                  int64
	Sentiment                   string
	Intent                      string
	ResolutionStatus            string
	KeyTopics                   []string
	ActionItems                 []string
	FrustrationAvg              float64
	FrustrationMax              int
	FrustrationTrend            string
	EscalationCount             int
	EscalationAlerts            []string
	SupervisorInterventions     int
	SupervisorID                string
	SupervisorTakeoverDurationMs int64
	FullSummary                  string
	Insights                     string
	Transcript                   []TranscriptLine
	FirstMessageAt               *time.Time
	LastMessageAt                *time.Time
}

// TranscriptLine is the JSON-serializable transcript shape stored in the
// summary row.
type TranscriptLine struct {
	Seq       uint64    `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// writeTask is one queued write request, submitted to the single writer
// goroutine.
type writeTask struct {
	summary Summary
	done    chan error
}

// queueSize bounds the single writer's backlog; a burst of simultaneous
// endCall events beyond this blocks the submitting session loops briefly
// rather than growing memory unboundedly.
const queueSize = 64

// maxRetries and retryBaseDelay implement §7's "attempt best-effort retry
// with bounded retries (at most 3 with exponential backoff) then drop".
const maxRetries = 3

const retryBaseDelay = 200 * time.Millisecond

// Writer serializes all summary writes through one goroutine draining a
// bounded queue, §5.
type Writer struct {
	pool  *pgxpool.Pool
	tasks chan writeTask
	done  chan struct{}
}

// Open connects to Postgres, runs the summary table migration, and starts
// the single writer goroutine.
func Open(ctx context.Context, dsn string) (*Writer, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlSummaries); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	w := &Writer{
		pool:  pool,
		tasks: make(chan writeTask, queueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops accepting new writes, drains the queue, and closes the pool.
func (w *Writer) Close() {
	close(w.tasks)
	<-w.done
	w.pool.Close()
}

// PutSummary enqueues a summary write and blocks until it is durably
// written or exhausts its retries, per §7's persistence-failure policy.
func (w *Writer) PutSummary(ctx context.Context, s Summary) error {
	done := make(chan error, 1)
	select {
	case w.tasks <- writeTask{summary: s, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for task := range w.tasks {
		err := w.writeWithRetry(task.summary)
		if task.done != nil {
			task.done <- err
		}
	}
}

func (w *Writer) writeWithRetry(s Summary) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseDelay * time.Duration(1<<uint(attempt-1)))
		}
		if err := w.write(context.Background(), s); err != nil {
			lastErr = err
			log.Printf("[store] session %s: summary write attempt %d failed: %v", s.SessionID, attempt+1, err)
			continue
		}
		return nil
	}
	log.Printf("[store] session %s: summary write dropped after %d attempts: %v", s.SessionID, maxRetries+1, lastErr)
	return lastErr
}

func (w *Writer) write(ctx context.Context, s Summary) error {
	keyTopics, err := json.Marshal(s.KeyTopics)
	if err != nil {
		return fmt.Errorf("store: marshal key topics: %w", err)
	}
	actionItems, err := json.Marshal(s.ActionItems)
	if err != nil {
		return fmt.Errorf("store: marshal action items: %w", err)
	}
	escalationAlerts, err := json.Marshal(s.EscalationAlerts)
	if err != nil {
		return fmt.Errorf("store: marshal escalation alerts: %w", err)
	}
	transcript, err := json.Marshal(s.Transcript)
	if err != nil {
		return fmt.Errorf("store: marshal transcript: %w", err)
	}

	_, err = w.pool.Exec(ctx, `
		INSERT INTO session_summaries (
			session_id, created_at, ended_at, duration_ms, sentiment, intent,
			resolution_status, key_topics, action_items, frustration_avg,
			frustration_max, frustration_trend, escalation_count, escalation_alerts,
			supervisor_interventions, supervisor_id, supervisor_takeover_duration_ms,
			full_summary, insights, transcript, first_message_at, last_message_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22
		)
		ON CONFLICT (session_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			duration_ms = EXCLUDED.duration_ms,
			sentiment = EXCLUDED.sentiment,
			intent = EXCLUDED.intent,
			resolution_status = EXCLUDED.resolution_status,
			key_topics = EXCLUDED.key_topics,
			action_items = EXCLUDED.action_items,
			frustration_avg = EXCLUDED.frustration_avg,
			frustration_max = EXCLUDED.frustration_max,
			frustration_trend = EXCLUDED.frustration_trend,
			escalation_count = EXCLUDED.escalation_count,
			escalation_alerts = EXCLUDED.escalation_alerts,
			supervisor_interventions = EXCLUDED.supervisor_interventions,
			supervisor_id = EXCLUDED.supervisor_id,
			supervisor_takeover_duration_ms = EXCLUDED.supervisor_takeover_duration_ms,
			full_summary = EXCLUDED.full_summary,
			insights = EXCLUDED.insights,
			transcript = EXCLUDED.transcript,
			last_message_at = EXCLUDED.last_message_at
	`,
		s.SessionID, s.CreatedAt, s.EndedAt, s.DurationMs, s.Sentiment, s.Intent,
		s.ResolutionStatus, keyTopics, actionItems, s.FrustrationAvg,
		s.FrustrationMax, s.FrustrationTrend, s.EscalationCount, escalationAlerts,
		s.SupervisorInterventions, s.SupervisorID, s.SupervisorTakeoverDurationMs,
		s.FullSummary, s.Insights, transcript, s.FirstMessageAt, s.LastMessageAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert summary: %w", err)
	}
	return nil
}

// ListFilter narrows a paged summaries query, §6 GET /summaries.
type ListFilter struct {
	Limit, Offset      int
	Sentiment, Intent  string
	Resolution         string
	SortBy, SortOrder  string
}

// resolveListDefaults maps a ListFilter's user-facing sort/limit fields to
// the column name, direction, and row cap List's query actually uses,
// applying the documented defaults (created_at desc, limit 50).
func resolveListDefaults(f ListFilter) (sortBy, order string, limit int) {
	sortBy = "created_at"
	switch f.SortBy {
	case "endedAt":
		sortBy = "ended_at"
	case "frustrationMax":
		sortBy = "frustration_max"
	}
	order = "DESC"
	if f.SortOrder == "asc" {
		order = "ASC"
	}
	limit = f.Limit
	if limit <= 0 {
		limit = 50
	}
	return sortBy, order, limit
}

// List returns a page of summaries matching filter, most recent first by
// default.
func (w *Writer) List(ctx context.Context, f ListFilter) ([]Summary, error) {
	sortBy, order, limit := resolveListDefaults(f)

	query := fmt.Sprintf(`
		SELECT session_id, created_at, ended_at, duration_ms, sentiment, intent,
			resolution_status, key_topics, action_items, frustration_avg,
			frustration_max, frustration_trend, escalation_count, escalation_alerts,
			supervisor_interventions, supervisor_id, supervisor_takeover_duration_ms,
			full_summary, insights, transcript, first_message_at, last_message_at
		FROM session_summaries
		WHERE ($1 = '' OR sentiment = $1)
		  AND ($2 = '' OR intent = $2)
		  AND ($3 = '' OR resolution_status = $3)
		ORDER BY %s %s
		LIMIT $4 OFFSET $5
	`, sortBy, order)

	rows, err := w.pool.Query(ctx, query, f.Sentiment, f.Intent, f.Resolution, limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("store: list summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get returns one summary by session id.
func (w *Writer) Get(ctx context.Context, sessionID string) (*Summary, error) {
	row := w.pool.QueryRow(ctx, `
		SELECT session_id, created_at, ended_at, duration_ms, sentiment, intent,
			resolution_status, key_topics, action_items, frustration_avg,
			frustration_max, frustration_trend, escalation_count, escalation_alerts,
			supervisor_interventions, supervisor_id, supervisor_takeover_duration_ms,
			full_summary, insights, transcript, first_message_at, last_message_at
		FROM session_summaries WHERE session_id = $1
	`, sessionID)
	s, err := scanSummary(row)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (Summary, error) {
	var s Summary
	var keyTopics, actionItems, escalationAlerts, transcript []byte
	err := row.Scan(
		&s.SessionID, &s.CreatedAt, &s.EndedAt, &s.DurationMs, &s.Sentiment, &s.Intent,
		&s.ResolutionStatus, &keyTopics, &actionItems, &s.FrustrationAvg,
		&s.FrustrationMax, &s.FrustrationTrend, &s.EscalationCount, &escalationAlerts,
		&s.SupervisorInterventions, &s.SupervisorID, &s.SupervisorTakeoverDurationMs,
		&s.FullSummary, &s.Insights, &transcript, &s.FirstMessageAt, &s.LastMessageAt,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("store: scan summary: %w", err)
	}
	_ = json.Unmarshal(keyTopics, &s.KeyTopics)
	_ = json.Unmarshal(actionItems, &s.ActionItems)
	_ = json.Unmarshal(escalationAlerts, &s.EscalationAlerts)
	_ = json.Unmarshal(transcript, &s.Transcript)
	return s, nil
}
