package summary

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists entries in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at dbPath.
func OpenSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	// WAL allows readers while the summarizer writes.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers well
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS summaries (
		path          TEXT PRIMARY KEY,
		file_id       INTEGER NOT NULL,
		checksum      TEXT NOT NULL,
		summary       TEXT NOT NULL,
		token_count   INTEGER NOT NULL,
		local_deps    TEXT NOT NULL,
		external_deps TEXT NOT NULL,
		updated_unix  INTEGER NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (key, value) VALUES ('version', ?)`, SchemaVersion)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Version(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) Reset(ctx context.Context, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries`); err != nil {
		return fmt.Errorf("clear summaries: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, version); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, path string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, file_id, checksum, summary, token_count, local_deps, external_deps, updated_unix
		FROM summaries WHERE path = ?`, path)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get %s: %w", path, err)
	}
	return e, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	local, err := json.Marshal(nonNil(e.LocalDeps))
	if err != nil {
		return err
	}
	external, err := json.Marshal(nonNil(e.ExternalDeps))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO summaries (path, file_id, checksum, summary, token_count, local_deps, external_deps, updated_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			file_id = excluded.file_id,
			checksum = excluded.checksum,
			summary = excluded.summary,
			token_count = excluded.token_count,
			local_deps = excluded.local_deps,
			external_deps = excluded.external_deps,
			updated_unix = excluded.updated_unix`,
		e.Path, e.FileID, e.Checksum, e.Summary, e.TokenCount, string(local), string(external), e.UpdatedUnix)
	if err != nil {
		return fmt.Errorf("put %s: %w", e.Path, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM summaries WHERE path = ?`, path)
	return err
}

func (s *SQLiteStore) All(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, file_id, checksum, summary, token_count, local_deps, external_deps, updated_unix
		FROM summaries ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e               Entry
		local, external string
	)
	if err := row.Scan(&e.Path, &e.FileID, &e.Checksum, &e.Summary, &e.TokenCount, &local, &external, &e.UpdatedUnix); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(local), &e.LocalDeps); err != nil {
		return Entry{}, fmt.Errorf("decode local deps of %s: %w", e.Path, err)
	}
	if err := json.Unmarshal([]byte(external), &e.ExternalDeps); err != nil {
		return Entry{}, fmt.Errorf("decode external deps of %s: %w", e.Path, err)
	}
	if len(e.LocalDeps) == 0 {
		e.LocalDeps = nil
	}
	if len(e.ExternalDeps) == 0 {
		e.ExternalDeps = nil
	}
	return e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
