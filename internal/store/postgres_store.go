package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/contentops/promoflow/pkg/api"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib"). The caller is responsible for
// importing the driver for its side effects, e.g.:
//
//	_ "github.com/jackc/pgx/v5/stdlib"
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given database
// and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) initSchema() error {
	// One statement per Exec: pgx's extended protocol does not accept
	// multi-statement strings.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflow_sessions (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			event_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step TEXT NOT NULL,
			completed_steps TEXT NOT NULL DEFAULT '[]',
			failed_steps TEXT NOT NULL DEFAULT '[]',
			started_at BIGINT NOT NULL,
			completed_at BIGINT,
			error_message TEXT NOT NULL DEFAULT '',
			llm_model TEXT NOT NULL DEFAULT '',
			preferences TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_sessions_event
			ON workflow_sessions(event_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS content_bundles (
			event_id TEXT PRIMARY KEY,
			content TEXT NOT NULL DEFAULT '{}',
			generation_count BIGINT NOT NULL DEFAULT 0,
			last_regenerated BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, sess *api.Session) error {
	completed, err := encodeJSON(sess.CompletedSteps)
	if err != nil {
		return err
	}
	failed, err := encodeJSON(sess.FailedSteps)
	if err != nil {
		return err
	}
	prefs, err := encodeJSON(sess.Preferences)
	if err != nil {
		return err
	}

	var completedAt any
	if sess.CompletedAt != nil {
		completedAt = sess.CompletedAt.UnixNano()
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflow_sessions
			(id, event_id, user_id, status, current_step, completed_steps, failed_steps,
			 started_at, completed_at, error_message, llm_model, preferences)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sess.ID,
		sess.EventID,
		sess.UserID,
		string(sess.Status),
		sess.CurrentStep,
		string(completed),
		string(failed),
		sess.StartedAt.UnixNano(),
		completedAt,
		sess.ErrorMessage,
		sess.LLMModel,
		string(prefs),
	)
	return err
}

const pgSessionColumns = `
	id, event_id, user_id, status, current_step, completed_steps, failed_steps,
	started_at, completed_at, error_message, llm_model, preferences`

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*api.Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+pgSessionColumns+`
		FROM workflow_sessions
		WHERE id = $1`,
		id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrSessionNotFound
	}
	return sess, err
}

func (p *PostgresStore) LatestSessionForEvent(ctx context.Context, eventID string) (*api.Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+pgSessionColumns+`
		FROM workflow_sessions
		WHERE event_id = $1
		ORDER BY started_at DESC, seq DESC
		LIMIT 1`,
		eventID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrEventNotFound
	}
	return sess, err
}

func (p *PostgresStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	completed, err := encodeJSON(sess.CompletedSteps)
	if err != nil {
		return err
	}
	failed, err := encodeJSON(sess.FailedSteps)
	if err != nil {
		return err
	}
	prefs, err := encodeJSON(sess.Preferences)
	if err != nil {
		return err
	}

	var completedAt any
	if sess.CompletedAt != nil {
		completedAt = sess.CompletedAt.UnixNano()
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE workflow_sessions
		SET event_id = $1, user_id = $2, status = $3, current_step = $4,
		    completed_steps = $5, failed_steps = $6, started_at = $7,
		    completed_at = $8, error_message = $9, llm_model = $10, preferences = $11
		WHERE id = $12`,
		sess.EventID,
		sess.UserID,
		string(sess.Status),
		sess.CurrentStep,
		string(completed),
		string(failed),
		sess.StartedAt.UnixNano(),
		completedAt,
		sess.ErrorMessage,
		sess.LLMModel,
		string(prefs),
		sess.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) CountByStatus(ctx context.Context) (map[api.Status]int64, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM workflow_sessions
		GROUP BY status`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[api.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[api.Status(status)] = n
	}
	return counts, rows.Err()
}

func (p *PostgresStore) UpsertBundle(ctx context.Context, eventID string, content api.GeneratedContent) (*api.ContentBundle, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	bundle := api.ContentBundle{EventID: eventID}
	var existing []byte
	err = tx.QueryRowContext(ctx, `
		SELECT content, generation_count
		FROM content_bundles
		WHERE event_id = $1
		FOR UPDATE`,
		eventID,
	).Scan(&existing, &bundle.GenerationCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err := decodeJSON(existing, &bundle.Content); err != nil {
		return nil, err
	}

	bundle.Content.Merge(content)
	bundle.LastRegenerated = time.Now().UTC()

	merged, err := encodeJSON(bundle.Content)
	if err != nil {
		return nil, err
	}
	// generation_count is incremented SQL-side so concurrent upserts can
	// never lose an increment.
	err = tx.QueryRowContext(ctx, `
		INSERT INTO content_bundles (event_id, content, generation_count, last_regenerated)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (event_id) DO UPDATE SET
			content = excluded.content,
			generation_count = content_bundles.generation_count + 1,
			last_regenerated = excluded.last_regenerated
		RETURNING generation_count`,
		eventID,
		string(merged),
		bundle.LastRegenerated.UnixNano(),
	).Scan(&bundle.GenerationCount)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (p *PostgresStore) GetBundle(ctx context.Context, eventID string) (*api.ContentBundle, error) {
	var content []byte
	var lastRegen int64
	bundle := api.ContentBundle{EventID: eventID}
	err := p.db.QueryRowContext(ctx, `
		SELECT content, generation_count, last_regenerated
		FROM content_bundles
		WHERE event_id = $1`,
		eventID,
	).Scan(&content, &bundle.GenerationCount, &lastRegen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrBundleNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(content, &bundle.Content); err != nil {
		return nil, err
	}
	bundle.LastRegenerated = time.Unix(0, lastRegen).UTC()
	return &bundle, nil
}

func (p *PostgresStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM workflow_sessions
		WHERE status IN ($1, $2, $3) AND started_at < $4`,
		string(api.StatusCompleted),
		string(api.StatusFailed),
		string(api.StatusCancelled),
		cutoff.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
