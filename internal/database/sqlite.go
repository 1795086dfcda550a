package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dsda-uploader/internal/database/migrations"
	"dsda-uploader/internal/demo"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase is the submission history store. It implements demo.HistoryStore.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

var _ demo.HistoryStore = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the database at path. path can be a file path or
// ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection. The pragmas are
// passed in the DSN so every pooled connection gets them.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = ":memory:?_foreign_keys=on"
	} else {
		// WAL lets history reads proceed while an attempt is being written.
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection to :memory: would be a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate brings the schema to the latest version.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations reports whether the schema matches this binary.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Version returns the applied schema version.
func (s *SQLiteDatabase) Version() (uint, error) {
	return migrations.CurrentVersion(s.db)
}

// Close closes the underlying connection.
func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

// Attempt operations

const attemptColumns = `id, record_id, kind, attempted_at, payload, outcome, remote_record_id, remote_file_id, errors`

// AppendAttempt stores a completed attempt. The first accepted submit of a
// record also stores its identity; later acceptances never replace it.
func (s *SQLiteDatabase) AppendAttempt(ctx context.Context, a *demo.Attempt) error {
	errs, err := json.Marshal(nonNil(a.Errors))
	if err != nil {
		return fmt.Errorf("encoding attempt errors: %w", err)
	}

	var remoteRecord, remoteFile sql.NullInt64
	if a.Identity != nil {
		remoteRecord = sql.NullInt64{Int64: a.Identity.RecordID, Valid: true}
		remoteFile = sql.NullInt64{Int64: a.Identity.FileID, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO submission_attempts (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RecordID, string(a.Kind), a.AttemptedAt.UTC(), string(a.Payload), string(a.Outcome),
		remoteRecord, remoteFile, string(errs))
	if err != nil {
		return fmt.Errorf("inserting attempt: %w", err)
	}

	if a.Kind == demo.AttemptSubmit && a.Outcome == demo.OutcomeAccepted && a.Identity != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO accepted_identities (record_id, remote_record_id, remote_file_id, accepted_at)
			 VALUES (?, ?, ?, ?) ON CONFLICT (record_id) DO NOTHING`,
			a.RecordID, a.Identity.RecordID, a.Identity.FileID, a.AttemptedAt.UTC())
		if err != nil {
			return fmt.Errorf("recording identity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListAttempts returns a record's attempts, oldest first.
func (s *SQLiteDatabase) ListAttempts(ctx context.Context, recordID string) ([]*demo.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM submission_attempts
		 WHERE record_id = ? ORDER BY attempted_at, rowid`, recordID)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	return scanAttempts(rows)
}

// FindAttemptsByIdentity returns every attempt carrying id, oldest first, or
// nil when there are none.
func (s *SQLiteDatabase) FindAttemptsByIdentity(ctx context.Context, id demo.Identity) ([]*demo.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM submission_attempts
		 WHERE remote_record_id = ? AND remote_file_id = ? ORDER BY attempted_at, rowid`,
		id.RecordID, id.FileID)
	if err != nil {
		return nil, fmt.Errorf("finding attempts by identity: %w", err)
	}
	attempts, err := scanAttempts(rows)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, nil
	}
	return attempts, nil
}

// ListRecent returns the newest attempts across all records, newest first.
func (s *SQLiteDatabase) ListRecent(ctx context.Context, limit int) ([]*demo.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM submission_attempts
		 ORDER BY attempted_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent attempts: %w", err)
	}
	return scanAttempts(rows)
}

// Identity operations

// FindIdentity returns the identity issued to a record, or nil when the
// record was never accepted.
func (s *SQLiteDatabase) FindIdentity(ctx context.Context, recordID string) (*demo.Identity, error) {
	var id demo.Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT remote_record_id, remote_file_id FROM accepted_identities WHERE record_id = ?`,
		recordID).Scan(&id.RecordID, &id.FileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding identity: %w", err)
	}
	return &id, nil
}

// FindRecordByIdentity returns the local record id that owns a remote
// identity, or "" when unknown.
func (s *SQLiteDatabase) FindRecordByIdentity(ctx context.Context, id demo.Identity) (string, error) {
	var recordID string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_id FROM accepted_identities WHERE remote_record_id = ? AND remote_file_id = ?`,
		id.RecordID, id.FileID).Scan(&recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("finding record by identity: %w", err)
	}
	return recordID, nil
}

func scanAttempts(rows *sql.Rows) ([]*demo.Attempt, error) {
	defer rows.Close()

	var attempts []*demo.Attempt
	for rows.Next() {
		var (
			a                        demo.Attempt
			kind, outcome            string
			payload, errs            string
			attemptedAt              time.Time
			remoteRecord, remoteFile sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.RecordID, &kind, &attemptedAt, &payload, &outcome,
			&remoteRecord, &remoteFile, &errs); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Kind = demo.AttemptKind(kind)
		a.Outcome = demo.Outcome(outcome)
		a.AttemptedAt = attemptedAt.UTC()
		a.Payload = json.RawMessage(payload)
		if remoteRecord.Valid && remoteFile.Valid {
			a.Identity = &demo.Identity{RecordID: remoteRecord.Int64, FileID: remoteFile.Int64}
		}
		if err := json.Unmarshal([]byte(errs), &a.Errors); err != nil {
			return nil, fmt.Errorf("decoding attempt errors: %w", err)
		}
		if len(a.Errors) == 0 {
			a.Errors = nil
		}
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempts: %w", err)
	}
	return attempts, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
