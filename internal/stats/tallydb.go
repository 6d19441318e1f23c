package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// TallyDB persists per-file download counts and checkpointed lifetime
// counters in .fileshare/stats.db so they survive restarts.
type TallyDB struct {
	sql *sql.DB
}

// FileTally is one row of the download leaderboard.
type FileTally struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// OpenTallyDB opens (and if needed creates) the stats database.
func OpenTallyDB(ctx context.Context, path string) (*TallyDB, error) {
	if path == "" {
		return nil, errors.New("stats db path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	s, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s.SetMaxOpenConns(1)
	s.SetMaxIdleConns(1)
	s.SetConnMaxLifetime(0)

	d := &TallyDB{sql: s}
	if err := d.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return d, nil
}

func (d *TallyDB) init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := d.sql.PingContext(ctx); err != nil {
		return err
	}
	// WAL improves read concurrency for status endpoints during transfers.
	if _, err := d.sql.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return err
	}
	_, err := d.sql.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS download_tally (
  path TEXT PRIMARY KEY,
  count INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS counters (
  name TEXT PRIMARY KEY,
  value INTEGER NOT NULL
);
`)
	return err
}

func (d *TallyDB) Close() error { return d.sql.Close() }

// IncrementDownload bumps a file's tally and returns the new count.
func (d *TallyDB) IncrementDownload(ctx context.Context, relPath string) (int64, error) {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO download_tally(path, count, updated_at) VALUES(?, 1, ?)
ON CONFLICT(path) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at
`, relPath, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return d.DownloadCount(ctx, relPath)
}

// DownloadCount returns a file's tally; missing rows count 0.
func (d *TallyDB) DownloadCount(ctx context.Context, relPath string) (int64, error) {
	var n int64
	err := d.sql.QueryRowContext(ctx, `SELECT count FROM download_tally WHERE path = ?`, relPath).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// RenamePath moves a tally row when a file is renamed or moved.
func (d *TallyDB) RenamePath(ctx context.Context, oldPath, newPath string) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE OR REPLACE download_tally SET path = ? WHERE path = ?`, newPath, oldPath)
	return err
}

// DeletePath drops a tally row for a removed file.
func (d *TallyDB) DeletePath(ctx context.Context, relPath string) error {
	_, err := d.sql.ExecContext(ctx, `DELETE FROM download_tally WHERE path = ?`, relPath)
	return err
}

// Top returns the n most-downloaded paths, ties broken by path.
func (d *TallyDB) Top(ctx context.Context, n int) ([]FileTally, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := d.sql.QueryContext(ctx, `
SELECT path, count FROM download_tally ORDER BY count DESC, path ASC LIMIT ?
`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FileTally
	for rows.Next() {
		var t FileTally
		if err := rows.Scan(&t.Path, &t.Count); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetCounter reads a checkpointed counter; missing names read 0.
func (d *TallyDB) GetCounter(ctx context.Context, name string) (int64, error) {
	var v int64
	err := d.sql.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, name).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

// SetCounter upserts a checkpointed counter value.
func (d *TallyDB) SetCounter(ctx context.Context, name string, value int64) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO counters(name, value) VALUES(?, ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value
`, name, value)
	return err
}
