package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// Single-file persistence for the Memory backend. The snapshot is a
// sqlite database with one table for hash entries and one for set
// members; it is written to a temp file and renamed into place so
// readers never observe a half-written snapshot.

const snapshotSchema = `
CREATE TABLE kv (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (namespace, key)
);
CREATE TABLE members (
	namespace TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (namespace, member)
);
`

func (m *Memory) WriteSnapshot(ctx context.Context) error {
	if m.snapshotPath == "" {
		return nil
	}

	tmp := m.snapshotPath + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale temp snapshot: %w", err)
	}

	db, err := sql.Open("sqlite3", tmp)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}

	err = m.writeSnapshotDB(ctx, db)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		return fmt.Errorf("renaming snapshot into place: %w", err)
	}
	return nil
}

func (m *Memory) writeSnapshotDB(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, snapshotSchema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	insertKV, err := tx.PrepareContext(ctx, "INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing kv insert: %w", err)
	}
	defer insertKV.Close()

	insertMember, err := tx.PrepareContext(ctx, "INSERT INTO members (namespace, member) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("preparing member insert: %w", err)
	}
	defer insertMember.Close()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for ns, h := range m.hashes {
		for key, value := range h {
			if _, err := insertKV.ExecContext(ctx, ns, key, value); err != nil {
				return fmt.Errorf("writing %s:%s: %w", ns, key, err)
			}
		}
	}
	for ns, s := range m.sets {
		for member := range s {
			if _, err := insertMember.ExecContext(ctx, ns, member); err != nil {
				return fmt.Errorf("writing %s member: %w", ns, err)
			}
		}
	}

	return tx.Commit()
}

func (m *Memory) LoadSnapshot(ctx context.Context) error {
	if m.snapshotPath == "" {
		return fmt.Errorf("no snapshot path configured: %w", fs.ErrNotExist)
	}
	if _, err := os.Stat(m.snapshotPath); err != nil {
		return fmt.Errorf("snapshot %s: %w", m.snapshotPath, err)
	}

	db, err := sql.Open("sqlite3", m.snapshotPath)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer db.Close()

	hashes := map[string]map[string][]byte{}
	sets := map[string]map[string]struct{}{}

	rows, err := db.QueryContext(ctx, "SELECT namespace, key, value FROM kv")
	if err != nil {
		return fmt.Errorf("reading kv: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ns, key string
		var value []byte
		if err := rows.Scan(&ns, &key, &value); err != nil {
			return fmt.Errorf("scanning kv row: %w", err)
		}
		h, ok := hashes[ns]
		if !ok {
			h = map[string][]byte{}
			hashes[ns] = h
		}
		h[key] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading kv: %w", err)
	}

	mrows, err := db.QueryContext(ctx, "SELECT namespace, member FROM members")
	if err != nil {
		return fmt.Errorf("reading members: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var ns, member string
		if err := mrows.Scan(&ns, &member); err != nil {
			return fmt.Errorf("scanning member row: %w", err)
		}
		s, ok := sets[ns]
		if !ok {
			s = map[string]struct{}{}
			sets[ns] = s
		}
		s[member] = struct{}{}
	}
	if err := mrows.Err(); err != nil {
		return fmt.Errorf("reading members: %w", err)
	}

	m.mu.Lock()
	m.hashes = hashes
	m.sets = sets
	m.mu.Unlock()

	return nil
}

func (m *Memory) removeSnapshot() error {
	if m.snapshotPath == "" {
		return nil
	}
	if err := os.Remove(m.snapshotPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing snapshot: %w", err)
	}
	return nil
}
