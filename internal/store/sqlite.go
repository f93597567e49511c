package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"netpulse/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
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

func (s *sqliteStore) Append(ctx context.Context, r Record) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO speedtests(created_at, ping, download, upload, failed, scheduled)
		 VALUES(?,?,?,?,?,?)`,
		r.CreatedAt.UnixMilli(), r.PingMs, r.Download, r.Upload, boolInt(r.Failed), boolInt(r.Scheduled),
	)
	if err != nil {
		return 0, fmt.Errorf("append speedtest: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append speedtest: %w", err)
	}
	return id, nil
}

const recordColumns = `id, created_at, ping, download, upload, failed, scheduled`

func (s *sqliteStore) List(ctx context.Context, page, perPage int) ([]Record, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 15
	}

	total, err := s.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM speedtests
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		perPage, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list speedtests: %w", err)
	}
	defer rows.Close()

	out, err := scanRecords(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list speedtests: %w", err)
	}
	return out, total, nil
}

func (s *sqliteStore) Window(ctx context.Context, days int, successOnly bool) ([]Record, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()

	q := `SELECT ` + recordColumns + ` FROM speedtests WHERE created_at >= ?`
	if successOnly {
		q += ` AND failed = 0`
	}
	q += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("window query: %w", err)
	}
	defer rows.Close()

	out, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("window query: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) Aggregate(ctx context.Context, kind AggKind) (Aggregate, bool, error) {
	fn := "AVG"
	if kind == AggMax {
		fn = "MAX"
	}
	// AVG/MAX over zero rows yield NULL, which signals the no-data case.
	q := fmt.Sprintf(
		`SELECT %[1]s(ping), %[1]s(download), %[1]s(upload) FROM speedtests WHERE failed = 0`, fn)

	var ping, down, up sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, q).Scan(&ping, &down, &up); err != nil {
		return Aggregate{}, false, fmt.Errorf("aggregate: %w", err)
	}
	if !ping.Valid {
		return Aggregate{}, false, nil
	}
	return Aggregate{PingMs: ping.Float64, Download: down.Float64, Upload: up.Float64}, true, nil
}

func (s *sqliteStore) LatestSuccessful(ctx context.Context) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM speedtests WHERE failed = 0
		 ORDER BY created_at DESC, id DESC LIMIT 1`)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("latest speedtest: %w", err)
	}
	return r, true, nil
}

func (s *sqliteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM speedtests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count speedtests: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM speedtests`)
	if err != nil {
		return 0, fmt.Errorf("delete all speedtests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete all speedtests: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) DeleteByID(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM speedtests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete speedtest %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete speedtest %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var createdMs int64
	var failed, scheduled int
	if err := row.Scan(&r.ID, &createdMs, &r.PingMs, &r.Download, &r.Upload, &failed, &scheduled); err != nil {
		return Record{}, err
	}
	r.CreatedAt = time.UnixMilli(createdMs)
	r.Failed = failed != 0
	r.Scheduled = scheduled != 0
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
