package shortcut

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var _ Store = (*SQLStore)(nil)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS shortcuts (
	name        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	prompt      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);`

// SQLStore keeps shortcuts in a SQLite database.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLStore opens or creates the database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("shortcut: create database directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("shortcut: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("shortcut: ping database: %w", err)
	}
	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("shortcut: init schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// List implements [Store.List].
func (s *SQLStore) List(ctx context.Context) ([]Shortcut, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, prompt, created_at FROM shortcuts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("shortcut: list: %w", err)
	}
	defer rows.Close()

	var out []Shortcut
	for rows.Next() {
		var (
			sc      Shortcut
			created int64
		)
		if err := rows.Scan(&sc.Name, &sc.Description, &sc.Prompt, &created); err != nil {
			return nil, fmt.Errorf("shortcut: list: %w", err)
		}
		sc.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Get implements [Store.Get].
func (s *SQLStore) Get(ctx context.Context, name string) (Shortcut, error) {
	sc := Shortcut{Name: name}
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT description, prompt, created_at FROM shortcuts WHERE name = ?`, name,
	).Scan(&sc.Description, &sc.Prompt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Shortcut{}, ErrNotFound
	}
	if err != nil {
		return Shortcut{}, fmt.Errorf("shortcut: get %q: %w", name, err)
	}
	sc.CreatedAt = time.Unix(0, created).UTC()
	return sc, nil
}

// Save implements [Store.Save]. Saving an existing name replaces it.
func (s *SQLStore) Save(ctx context.Context, sc Shortcut) error {
	if err := Validate(sc); err != nil {
		return err
	}
	sc = stamp(sc, s.now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shortcuts (name, description, prompt, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			prompt      = excluded.prompt,
			created_at  = excluded.created_at`,
		sc.Name, sc.Description, sc.Prompt, sc.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("shortcut: save %q: %w", sc.Name, err)
	}
	return nil
}

// Delete implements [Store.Delete].
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM shortcuts WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("shortcut: delete %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
