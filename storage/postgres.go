package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the index in PostgreSQL. It exists for setups where
// several machines share one index; SQLite remains the default.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS files (
    path         TEXT PRIMARY KEY,
    directory    TEXT NOT NULL DEFAULT '',
    build_args   TEXT NOT NULL DEFAULT '[]',
    content_hash TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS options (
    name  TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS symbols (
    usr        TEXT NOT NULL,
    name       TEXT NOT NULL,
    kind       TEXT NOT NULL,
    file       TEXT NOT NULL,
    line       INTEGER NOT NULL,
    col        INTEGER NOT NULL,
    end_line   INTEGER NOT NULL,
    start_byte INTEGER NOT NULL,
    end_byte   INTEGER NOT NULL,
    signature  TEXT NOT NULL DEFAULT '',
    language   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_symbols_usr  ON symbols (usr);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols (file);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols (name);
CREATE TABLE IF NOT EXISTS refs (
    usr        TEXT NOT NULL,
    name       TEXT NOT NULL,
    file       TEXT NOT NULL,
    line       INTEGER NOT NULL,
    col        INTEGER NOT NULL,
    start_byte INTEGER NOT NULL,
    end_byte   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refs_usr  ON refs (usr);
CREATE INDEX IF NOT EXISTS idx_refs_file ON refs (file);
`

// OpenPostgres connects to the given DSN and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres backend requires storage.postgres.dsn")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) RegisterFile(ctx context.Context, entry FileEntry) error {
	args, err := json.Marshal(entry.Args)
	if err != nil {
		return fmt.Errorf("encode build args: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO files (path, directory, build_args) VALUES ($1, $2, $3)
         ON CONFLICT (path) DO UPDATE SET directory = EXCLUDED.directory, build_args = EXCLUDED.build_args`,
		entry.Path, entry.Directory, string(args),
	)
	if err != nil {
		return fmt.Errorf("register file %s: %w", entry.Path, err)
	}
	return nil
}

func (s *PostgresStore) ListFiles(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT path FROM files ORDER BY path")
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

func (s *PostgresStore) FileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		"SELECT content_hash FROM files WHERE path = $1", path,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read file hash: %w", err)
	}
	return hash, nil
}

func (s *PostgresStore) SetFileHash(ctx context.Context, path, hash string) error {
	if _, err := s.pool.Exec(ctx,
		"UPDATE files SET content_hash = $1 WHERE path = $2", hash, path,
	); err != nil {
		return fmt.Errorf("set file hash: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReplaceFileSymbols(ctx context.Context, path string, symbols []Symbol, refs []Reference) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin symbols tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM symbols WHERE file = $1", path); err != nil {
		return fmt.Errorf("clear symbols for %s: %w", path, err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM refs WHERE file = $1", path); err != nil {
		return fmt.Errorf("clear refs for %s: %w", path, err)
	}

	for _, sym := range symbols {
		_, err := tx.Exec(ctx,
			`INSERT INTO symbols (usr, name, kind, file, line, col, end_line, start_byte, end_byte, signature, language)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			sym.USR, sym.Name, sym.Kind, sym.File, sym.Line, sym.Col,
			sym.EndLine, sym.StartByte, sym.EndByte, sym.Signature, sym.Language,
		)
		if err != nil {
			return fmt.Errorf("insert symbol %s: %w", sym.USR, err)
		}
	}

	for _, ref := range refs {
		_, err := tx.Exec(ctx,
			`INSERT INTO refs (usr, name, file, line, col, start_byte, end_byte)
             VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ref.USR, ref.Name, ref.File, ref.Line, ref.Col, ref.StartByte, ref.EndByte,
		)
		if err != nil {
			return fmt.Errorf("insert ref %s: %w", ref.USR, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit symbols for %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) FindDefinitions(ctx context.Context, usr string) ([]Symbol, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT usr, name, kind, file, line, col, end_line, start_byte, end_byte, signature, language
         FROM symbols WHERE usr = $1 ORDER BY file, line`, usr,
	)
	if err != nil {
		return nil, fmt.Errorf("find definitions: %w", err)
	}
	defer rows.Close()
	return scanPgSymbols(rows)
}

func (s *PostgresStore) ReferencesAt(ctx context.Context, file string, offset int) ([]Reference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT usr, name, file, line, col, start_byte, end_byte
         FROM refs WHERE file = $1 AND start_byte <= $2 AND end_byte > $2
         ORDER BY (end_byte - start_byte)`,
		file, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("references at offset: %w", err)
	}
	defer rows.Close()
	return scanPgRefs(rows)
}

func (s *PostgresStore) References(ctx context.Context, usr string) ([]Reference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT usr, name, file, line, col, start_byte, end_byte
         FROM refs WHERE usr = $1 ORDER BY file, line, col`, usr,
	)
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer rows.Close()
	return scanPgRefs(rows)
}

func (s *PostgresStore) SymbolsByPrefix(ctx context.Context, prefix string, limit int) ([]Symbol, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT usr, name, kind, file, line, col, end_line, start_byte, end_byte, signature, language
         FROM symbols WHERE name LIKE $1 || '%' ORDER BY name, file LIMIT $2`,
		prefix, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("symbols by prefix: %w", err)
	}
	defer rows.Close()
	return scanPgSymbols(rows)
}

func (s *PostgresStore) GetOption(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		"SELECT value FROM options WHERE name = $1", name,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get option %s: %w", name, err)
	}
	return value, true, nil
}

func (s *PostgresStore) SetOption(ctx context.Context, name, value string) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO options (name, value) VALUES ($1, $2)
         ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		name, value,
	); err != nil {
		return fmt.Errorf("set option %s: %w", name, err)
	}
	return nil
}

func scanPgSymbols(rows pgx.Rows) ([]Symbol, error) {
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

func scanPgRefs(rows pgx.Rows) ([]Reference, error) {
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
