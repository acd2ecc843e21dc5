package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"herald/internal/announce"
	logx "herald/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps one JSON document per row. seq preserves insertion order.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ReadAll(ctx context.Context) ([]announce.Announcement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM announcements ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []announce.Announcement{}
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		var a announce.Announcement
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			s.log.Warn("skipping corrupt history row", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) WriteAll(ctx context.Context, items []announce.Announcement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM announcements`); err != nil {
		return err
	}
	for _, a := range items {
		if err := insertTx(ctx, tx, a); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Append(ctx context.Context, a announce.Announcement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertTx(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (announce.Announcement, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM announcements WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return announce.Announcement{}, ErrNotFound
	}
	if err != nil {
		return announce.Announcement{}, err
	}
	var a announce.Announcement
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return announce.Announcement{}, fmt.Errorf("decode history row %s: %w", id, err)
	}
	return a, nil
}

func (s *sqliteStore) Update(ctx context.Context, id string, fn func(*announce.Announcement) error) (announce.Announcement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return announce.Announcement{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM announcements WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return announce.Announcement{}, ErrNotFound
	}
	if err != nil {
		return announce.Announcement{}, err
	}
	var a announce.Announcement
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return announce.Announcement{}, fmt.Errorf("decode history row %s: %w", id, err)
	}
	if err := fn(&a); err != nil {
		return a, err
	}
	b, err := json.Marshal(a)
	if err != nil {
		return a, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE announcements SET doc = ? WHERE id = ?`, string(b), id); err != nil {
		return a, err
	}
	return a, tx.Commit()
}

func insertTx(ctx context.Context, tx *sql.Tx, a announce.Announcement) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO announcements(id, created_at, doc) VALUES(?,?,?)`,
		a.ID, a.CreatedAt.UTC().Format(time.RFC3339Nano), string(b),
	)
	return err
}
