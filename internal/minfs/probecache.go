package minfs

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// probeCache remembers descriptors across runs. A row is valid while the
// file keeps the size and mtime it had when it was probed.
type probeCache struct {
	db    *sql.DB
	inner ContentProber
}

func openProbeCache(dbPath string, inner ContentProber) (*probeCache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create probe cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open probe cache: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS probes (
			path       TEXT PRIMARY KEY,
			size       INTEGER NOT NULL,
			mtime      INTEGER NOT NULL,
			descriptor TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate probe cache: %w", err)
	}
	return &probeCache{db: db, inner: inner}, nil
}

func (c *probeCache) Close() error {
	return c.db.Close()
}

func (c *probeCache) Describe(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return c.inner.Describe(path)
	}
	size, mtime := info.Size(), info.ModTime().UnixNano()

	var desc string
	err = c.db.QueryRow(
		`SELECT descriptor FROM probes WHERE path = ? AND size = ? AND mtime = ?`,
		path, size, mtime,
	).Scan(&desc)
	if err == nil {
		return desc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		debugf("probe cache lookup for %s failed: %v\n", path, err)
	}

	desc, err = c.inner.Describe(path)
	if err != nil {
		return "", err
	}
	if _, err := c.db.Exec(
		`INSERT OR REPLACE INTO probes (path, size, mtime, descriptor) VALUES (?, ?, ?, ?)`,
		path, size, mtime, desc,
	); err != nil {
		debugf("probe cache store for %s failed: %v\n", path, err)
	}
	return desc, nil
}
