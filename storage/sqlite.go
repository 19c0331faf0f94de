package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/symdex/symdex/internal/fileutil"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; old databases are rejected rather than migrated.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the
// expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// SQLiteStore persists the index in a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the index database.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := fileutil.EnsureParentDir(dbPath); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return nil
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to rebuild)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) RegisterFile(ctx context.Context, entry FileEntry) error {
	args, err := json.Marshal(entry.Args)
	if err != nil {
		return fmt.Errorf("encode build args: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO files (path, directory, build_args) VALUES (?, ?, ?)
         ON CONFLICT(path) DO UPDATE SET directory = excluded.directory, build_args = excluded.build_args`,
		entry.Path, entry.Directory, string(args),
	)
	if err != nil {
		return fmt.Errorf("register file %s: %w", entry.Path, err)
	}
	return nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) FileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT content_hash FROM files WHERE path = ?", path,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read file hash: %w", err)
	}
	return hash, nil
}

func (s *SQLiteStore) SetFileHash(ctx context.Context, path, hash string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE files SET content_hash = ? WHERE path = ?", hash, path,
	)
	if err != nil {
		return fmt.Errorf("set file hash: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReplaceFileSymbols(ctx context.Context, path string, symbols []Symbol, refs []Reference) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin symbols tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM symbols WHERE file = ?", path); err != nil {
		return fmt.Errorf("clear symbols for %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM refs WHERE file = ?", path); err != nil {
		return fmt.Errorf("clear refs for %s: %w", path, err)
	}

	for _, sym := range symbols {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO symbols (usr, name, kind, file, line, col, end_line, start_byte, end_byte, signature, language)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sym.USR, sym.Name, sym.Kind, sym.File, sym.Line, sym.Col,
			sym.EndLine, sym.StartByte, sym.EndByte, sym.Signature, sym.Language,
		)
		if err != nil {
			return fmt.Errorf("insert symbol %s: %w", sym.USR, err)
		}
	}

	for _, ref := range refs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO refs (usr, name, file, line, col, start_byte, end_byte)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ref.USR, ref.Name, ref.File, ref.Line, ref.Col, ref.StartByte, ref.EndByte,
		)
		if err != nil {
			return fmt.Errorf("insert ref %s: %w", ref.USR, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit symbols for %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteStore) FindDefinitions(ctx context.Context, usr string) ([]Symbol, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT usr, name, kind, file, line, col, end_line, start_byte, end_byte, signature, language
         FROM symbols WHERE usr = ? ORDER BY file, line`, usr,
	)
	if err != nil {
		return nil, fmt.Errorf("find definitions: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func (s *SQLiteStore) ReferencesAt(ctx context.Context, file string, offset int) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT usr, name, file, line, col, start_byte, end_byte
         FROM refs WHERE file = ? AND start_byte <= ? AND end_byte > ?
         ORDER BY (end_byte - start_byte)`,
		file, offset, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("references at offset: %w", err)
	}
	defer rows.Close()
	return scanRefs(rows)
}

func (s *SQLiteStore) References(ctx context.Context, usr string) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT usr, name, file, line, col, start_byte, end_byte
         FROM refs WHERE usr = ? ORDER BY file, line, col`, usr,
	)
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer rows.Close()
	return scanRefs(rows)
}

func (s *SQLiteStore) SymbolsByPrefix(ctx context.Context, prefix string, limit int) ([]Symbol, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT usr, name, kind, file, line, col, end_line, start_byte, end_byte, signature, language
         FROM symbols WHERE name LIKE ? || '%' ORDER BY name, file LIMIT ?`,
		prefix, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("symbols by prefix: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func (s *SQLiteStore) GetOption(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM options WHERE name = ?", name,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get option %s: %w", name, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetOption(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO options (name, value) VALUES (?, ?)
         ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, value,
	)
	if err != nil {
		return fmt.Errorf("set option %s: %w", name, err)
	}
	return nil
}

func scanSymbols(rows *sql.Rows) ([]Symbol, error) {
	var out []Symbol
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(&sym.USR, &sym.Name, &sym.Kind, &sym.File, &sym.Line, &sym.Col,
			&sym.EndLine, &sym.StartByte, &sym.EndByte, &sym.Signature, &sym.Language); err != nil {
			return nil, fmt.Errorf("scan symbol row: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func scanRefs(rows *sql.Rows) ([]Reference, error) {
	var out []Reference
	for rows.Next() {
		var ref Reference
		if err := rows.Scan(&ref.USR, &ref.Name, &ref.File, &ref.Line, &ref.Col,
			&ref.StartByte, &ref.EndByte); err != nil {
			return nil, fmt.Errorf("scan ref row: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
