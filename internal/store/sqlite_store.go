package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/contentops/promoflow/pkg/api"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database
// and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_sessions (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step TEXT NOT NULL,
			completed_steps TEXT NOT NULL DEFAULT '[]',
			failed_steps TEXT NOT NULL DEFAULT '[]',
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			error_message TEXT NOT NULL DEFAULT '',
			llm_model TEXT NOT NULL DEFAULT '',
			preferences TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_sessions_event
			ON workflow_sessions(event_id, started_at);
		CREATE TABLE IF NOT EXISTS content_bundles (
			event_id TEXT PRIMARY KEY,
			content TEXT NOT NULL DEFAULT '{}',
			generation_count INTEGER NOT NULL DEFAULT 0,
			last_regenerated INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *api.Session) error {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_sessions
			(id, event_id, user_id, status, current_step, completed_steps, failed_steps,
			 started_at, completed_at, error_message, llm_model, preferences)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

const sqliteSessionColumns = `
	id, event_id, user_id, status, current_step, completed_steps, failed_steps,
	started_at, completed_at, error_message, llm_model, preferences`

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*api.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteSessionColumns+`
		FROM workflow_sessions
		WHERE id = ?`,
		id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrSessionNotFound
	}
	return sess, err
}

func (s *SQLiteStore) LatestSessionForEvent(ctx context.Context, eventID string) (*api.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteSessionColumns+`
		FROM workflow_sessions
		WHERE event_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1`,
		eventID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrEventNotFound
	}
	return sess, err
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *api.Session) error {
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

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_sessions
		SET event_id = ?, user_id = ?, status = ?, current_step = ?,
		    completed_steps = ?, failed_steps = ?, started_at = ?,
		    completed_at = ?, error_message = ?, llm_model = ?, preferences = ?
		WHERE id = ?`,
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

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[api.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteStore) UpsertBundle(ctx context.Context, eventID string, content api.GeneratedContent) (*api.ContentBundle, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	bundle := api.ContentBundle{EventID: eventID}
	var existing []byte
	err = tx.QueryRowContext(ctx, `
		SELECT content, generation_count
		FROM content_bundles
		WHERE event_id = ?`,
		eventID,
	).Scan(&existing, &bundle.GenerationCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err := decodeJSON(existing, &bundle.Content); err != nil {
		return nil, err
	}

	bundle.Content.Merge(content)
	bundle.GenerationCount++
	bundle.LastRegenerated = time.Now().UTC()

	merged, err := encodeJSON(bundle.Content)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO content_bundles (event_id, content, generation_count, last_regenerated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			content = excluded.content,
			generation_count = excluded.generation_count,
			last_regenerated = excluded.last_regenerated`,
		eventID,
		string(merged),
		bundle.GenerationCount,
		bundle.LastRegenerated.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (s *SQLiteStore) GetBundle(ctx context.Context, eventID string) (*api.ContentBundle, error) {
	var content []byte
	var lastRegen int64
	bundle := api.ContentBundle{EventID: eventID}
	err := s.db.QueryRowContext(ctx, `
		SELECT content, generation_count, last_regenerated
		FROM content_bundles
		WHERE event_id = ?`,
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

func (s *SQLiteStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workflow_sessions
		WHERE status IN (?, ?, ?) AND started_at < ?`,
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

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*api.Session, error) {
	var sess api.Session
	var status string
	var completed, failed, prefs []byte
	var startedAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&sess.ID,
		&sess.EventID,
		&sess.UserID,
		&status,
		&sess.CurrentStep,
		&completed,
		&failed,
		&startedAt,
		&completedAt,
		&sess.ErrorMessage,
		&sess.LLMModel,
		&prefs,
	)
	if err != nil {
		return nil, err
	}

	sess.Status = api.Status(status)
	sess.StartedAt = time.Unix(0, startedAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		sess.CompletedAt = &t
	}
	if err := decodeJSON(completed, &sess.CompletedSteps); err != nil {
		return nil, err
	}
	if err := decodeJSON(failed, &sess.FailedSteps); err != nil {
		return nil, err
	}
	if err := decodeJSON(prefs, &sess.Preferences); err != nil {
		return nil, err
	}
	return &sess, nil
}
