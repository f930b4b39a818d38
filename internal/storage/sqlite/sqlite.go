package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
	"github.com/slok/formbot/internal/storage"
	"github.com/slok/formbot/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
	// TimeNow is used for the updated timestamps.
	TimeNow func() time.Time
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})

	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	return nil
}

// Repository is the durable storage of the operator data: the destination credentials,
// the latest extracted email and the archived runs.
type Repository struct {
	db      *sql.DB
	logger  log.Logger
	timeNow func() time.Time
}

var (
	_ storage.CredentialsRepository = &Repository{}
	_ storage.EmailRepository       = &Repository{}
	_ storage.HistoryRepository     = &Repository{}
)

// NewRepository creates a new SQLite repository applying the pending migrations.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(migrations.MigratorConfig{DB: db, Logger: cfg.Logger})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger, timeNow: cfg.TimeNow}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// SaveCredentials replaces the stored credentials.
func (r *Repository) SaveCredentials(ctx context.Context, c model.Credentials) error {
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.timeNow()
	}

	query := `
		INSERT INTO credentials (id, destination_url, username, password, artifact_path, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			destination_url = excluded.destination_url,
			username = excluded.username,
			password = excluded.password,
			artifact_path = excluded.artifact_path,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, c.DestinationURL, c.Username, c.Password, c.ArtifactPath, updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("could not save credentials: %w", err)
	}

	r.logger.Debugf("Saved credentials for %s", c.DestinationURL)
	return nil
}

// GetCredentials returns the stored credentials.
func (r *Repository) GetCredentials(ctx context.Context) (*model.Credentials, error) {
	query := `SELECT destination_url, username, password, artifact_path, updated_at FROM credentials WHERE id = 1`

	var c model.Credentials
	var updatedAt int64
	err := r.db.QueryRowContext(ctx, query).Scan(&c.DestinationURL, &c.Username, &c.Password, &c.ArtifactPath, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credentials: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query credentials: %w", err)
	}
	c.UpdatedAt = timeFromUnix(updatedAt)

	return &c, nil
}

// SaveEmailContent replaces the stored email content.
func (r *Repository) SaveEmailContent(ctx context.Context, e model.EmailContent) error {
	query := `
		INSERT INTO email_contents (id, subject, body, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject = excluded.subject,
			body = excluded.body,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, e.Subject, e.Body, r.timeNow().Unix()); err != nil {
		return fmt.Errorf("could not save email content: %w", err)
	}

	return nil
}

// GetEmailContent returns the stored email content.
func (r *Repository) GetEmailContent(ctx context.Context) (*model.EmailContent, error) {
	var e model.EmailContent
	err := r.db.QueryRowContext(ctx, `SELECT subject, body FROM email_contents WHERE id = 1`).Scan(&e.Subject, &e.Body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("email content: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query email content: %w", err)
	}

	return &e, nil
}

// SaveRunRecord stores or replaces an archived run with its log.
func (r *Repository) SaveRunRecord(ctx context.Context, rec model.RunRecord) error {
	if rec.Run.ID == "" {
		return fmt.Errorf("run id is required: %w", model.ErrNotValid)
	}

	archivedAt := rec.ArchivedAt
	if archivedAt.IsZero() {
		archivedAt = r.timeNow()
	}

	var endedAt *int64
	if rec.Run.EndedAt != nil {
		u := rec.Run.EndedAt.Unix()
		endedAt = &u
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO run_records (id, status, error, streaming_url, stopped, started_at, ended_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			streaming_url = excluded.streaming_url,
			stopped = excluded.stopped,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			archived_at = excluded.archived_at
	`
	_, err = tx.ExecContext(ctx, query,
		rec.Run.ID,
		rec.Run.Status,
		rec.Run.Error,
		rec.Run.StreamingURL,
		rec.Stopped,
		rec.Run.StartedAt.Unix(),
		endedAt,
		archivedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("could not save run record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_log_entries WHERE run_id = ?`, rec.Run.ID); err != nil {
		return fmt.Errorf("could not clean run log: %w", err)
	}
	for i, e := range rec.Run.Log {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_log_entries (run_id, seq, timestamp, level, message) VALUES (?, ?, ?, ?, ?)`,
			rec.Run.ID, i, e.Timestamp.UnixNano(), e.Level, e.Message,
		)
		if err != nil {
			return fmt.Errorf("could not save run log entry: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_collected_inputs WHERE run_id = ?`, rec.Run.ID); err != nil {
		return fmt.Errorf("could not clean collected inputs: %w", err)
	}
	for field, value := range rec.Run.CollectedInputs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_collected_inputs (run_id, field, value) VALUES (?, ?, ?)`,
			rec.Run.ID, field, value,
		)
		if err != nil {
			return fmt.Errorf("could not save collected input: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit run record: %w", err)
	}

	r.logger.Debugf("Archived run %s with %d log entries", rec.Run.ID, len(rec.Run.Log))
	return nil
}

const runRecordColumns = `id, status, error, streaming_url, stopped, started_at, ended_at, archived_at`

// GetRunRecord returns an archived run.
func (r *Repository) GetRunRecord(ctx context.Context, runID string) (*model.RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runRecordColumns+` FROM run_records WHERE id = ?`, runID)
	rec, err := scanRunRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run record %s: %w", runID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query run record: %w", err)
	}

	if err := r.loadRunDetails(ctx, &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

// ListRunRecords returns the archived runs, newest first.
func (r *Repository) ListRunRecords(ctx context.Context) ([]model.RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+runRecordColumns+` FROM run_records ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("could not query run records: %w", err)
	}
	defer rows.Close()

	var recs []model.RunRecord
	for rows.Next() {
		rec, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	for i := range recs {
		if err := r.loadRunDetails(ctx, &recs[i]); err != nil {
			return nil, err
		}
	}

	return recs, nil
}

func (r *Repository) loadRunDetails(ctx context.Context, rec *model.RunRecord) error {
	rows, err := r.db.QueryContext(ctx, `SELECT timestamp, level, message FROM run_log_entries WHERE run_id = ? ORDER BY seq`, rec.Run.ID)
	if err != nil {
		return fmt.Errorf("could not query run log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e model.LogEntry
		var ts int64
		if err := rows.Scan(&ts, &e.Level, &e.Message); err != nil {
			return fmt.Errorf("could not scan log entry: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		rec.Run.Log = append(rec.Run.Log, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating log rows: %w", err)
	}

	inputs, err := r.db.QueryContext(ctx, `SELECT field, value FROM run_collected_inputs WHERE run_id = ?`, rec.Run.ID)
	if err != nil {
		return fmt.Errorf("could not query collected inputs: %w", err)
	}
	defer inputs.Close()

	for inputs.Next() {
		var field, value string
		if err := inputs.Scan(&field, &value); err != nil {
			return fmt.Errorf("could not scan collected input: %w", err)
		}
		if rec.Run.CollectedInputs == nil {
			rec.Run.CollectedInputs = map[string]string{}
		}
		rec.Run.CollectedInputs[field] = value
	}

	return inputs.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRunRecord(s scanner) (model.RunRecord, error) {
	var rec model.RunRecord
	var startedAt, archivedAt int64
	var endedAt sql.NullInt64

	err := s.Scan(
		&rec.Run.ID,
		&rec.Run.Status,
		&rec.Run.Error,
		&rec.Run.StreamingURL,
		&rec.Stopped,
		&startedAt,
		&endedAt,
		&archivedAt,
	)
	if err != nil {
		return model.RunRecord{}, err
	}

	rec.Run.StartedAt = timeFromUnix(startedAt)
	rec.ArchivedAt = timeFromUnix(archivedAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Int64)
		rec.Run.EndedAt = &t
	}

	return rec, nil
}

func timeFromUnix(unix int64) time.Time { return time.Unix(unix, 0).UTC() }
