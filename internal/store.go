package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const IndexFilename = "index.db"

// IndexEntry is the durable record linking a memory to its vector.
type IndexEntry struct {
	ID         ID
	Vector     []float32
	Namespace  Namespace
	InsertedAt time.Time
}

type NamespaceSnapshot struct {
	Namespace Namespace
	Entries   []IndexEntry
	// Corrupt is set, and Entries empty, when the namespace on disk cannot be trusted.
	Corrupt error
}

// IndexStore persists index entries. Writes are atomic per call.
type IndexStore interface {
	Load(ctx context.Context) ([]NamespaceSnapshot, error)
	// Put upserts e; when prev is set and differs from e.Namespace the old row is
	// removed in the same transaction.
	Put(ctx context.Context, e IndexEntry, prev *Namespace) error
	Remove(ctx context.Context, ns Namespace, id ID) error
	Close() error
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS namespaces (
    name          TEXT PRIMARY KEY,
    kind          TEXT NOT NULL,
    model_version TEXT NOT NULL,
    dimension     INTEGER NOT NULL,
    created_at    INTEGER NOT NULL,
    UNIQUE (kind, model_version)
);
`

var _ IndexStore = (*SQLiteStore)(nil)

// SQLiteStore keeps one table per namespace holding (memory_id, vector, inserted_at).
// Vectors are little-endian float32 blobs of exactly the namespace dimension.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func tableName(ns Namespace) string {
	h := fnv.New32a()
	h.Write([]byte(ns.Version))
	return fmt.Sprintf("vec_%s_%08x", ns.Kind, h.Sum32())
}

func (s *SQLiteStore) Load(ctx context.Context) ([]NamespaceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, kind, model_version, dimension FROM namespaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}

	type declared struct {
		table string
		ns    Namespace
		dim   int
	}
	var decls []declared
	for rows.Next() {
		var (
			d    declared
			kind string
		)
		if err := rows.Scan(&d.table, &kind, &d.ns.Version, &d.dim); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		// An unknown kind leaves d.ns.Kind at KindUnknown; the dimension check below catches it.
		d.ns.Kind, _ = ParseKind(kind)
		decls = append(decls, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// A corrupt namespace is reported and skipped so the others stay usable.
	snaps := make([]NamespaceSnapshot, 0, len(decls))
	for _, d := range decls {
		if !d.ns.Kind.Valid() || d.dim != d.ns.Dimension() {
			err := fmt.Errorf("%w: table %s declares %s with dimension %d, %s vectors have %d",
				ErrCorruptNamespace, d.table, d.ns, d.dim, d.ns.Kind, d.ns.Dimension())
			snaps = append(snaps, NamespaceSnapshot{Namespace: d.ns, Corrupt: err})
			continue
		}
		entries, err := s.loadEntries(ctx, d.table, d.ns)
		switch {
		case errors.Is(err, ErrCorruptNamespace):
			snaps = append(snaps, NamespaceSnapshot{Namespace: d.ns, Corrupt: err})
		case err != nil:
			return nil, err
		default:
			snaps = append(snaps, NamespaceSnapshot{Namespace: d.ns, Entries: entries})
		}
	}

	return snaps, nil
}

func (s *SQLiteStore) loadEntries(ctx context.Context, table string, ns Namespace) ([]IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT memory_id, vector, inserted_at FROM %q ORDER BY memory_id`, table))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ns, err)
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var (
			id   string
			blob []byte
			at   int64
		)
		if err := rows.Scan(&id, &blob, &at); err != nil {
			return nil, fmt.Errorf("scan %s: %w", ns, err)
		}
		vec, err := decodeVector(blob, ns.Dimension())
		if err != nil {
			return nil, fmt.Errorf("%s row %s: %w", ns, id, err)
		}
		entries = append(entries, IndexEntry{
			ID:         ID(id),
			Vector:     vec,
			Namespace:  ns,
			InsertedAt: time.Unix(0, at).UTC(),
		})
	}

	return entries, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, e IndexEntry, prev *Namespace) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if prev != nil && *prev != e.Namespace {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE memory_id = ?`, tableName(*prev)), string(e.ID)); err != nil {
			return fmt.Errorf("remove %s from %s: %w", e.ID, prev, err)
		}
	}

	table, err := s.ensureNamespace(ctx, tx, e.Namespace)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %q (memory_id, vector, inserted_at) VALUES (?, ?, ?)
ON CONFLICT (memory_id) DO UPDATE SET vector = excluded.vector, inserted_at = excluded.inserted_at`, table),
		string(e.ID), encodeVector(e.Vector), e.InsertedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("write %s to %s: %w", e.ID, e.Namespace, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ensureNamespace(ctx context.Context, tx *sql.Tx, ns Namespace) (string, error) {
	table := tableName(ns)

	var (
		dim     int
		version string
	)
	err := tx.QueryRowContext(ctx, `SELECT dimension, model_version FROM namespaces WHERE name = ?`, table).Scan(&dim, &version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO namespaces (name, kind, model_version, dimension, created_at) VALUES (?, ?, ?, ?, ?)`,
			table, ns.Kind.String(), ns.Version, ns.Dimension(), time.Now().UnixNano()); err != nil {
			return "", fmt.Errorf("declare %s: %w", ns, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %q (
    memory_id   TEXT PRIMARY KEY,
    vector      BLOB NOT NULL,
    inserted_at INTEGER NOT NULL
)`, table)); err != nil {
			return "", fmt.Errorf("create %s: %w", ns, err)
		}
	case err != nil:
		return "", fmt.Errorf("look up %s: %w", ns, err)
	case version != ns.Version:
		return "", fmt.Errorf("%w: table %s already holds %s@%s", ErrCorruptNamespace, table, ns.Kind, version)
	case dim != ns.Dimension():
		return "", fmt.Errorf("%w: %s declares dimension %d, want %d", ErrCorruptNamespace, ns, dim, ns.Dimension())
	}

	return table, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, ns Namespace, id ID) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE memory_id = ?`, tableName(ns)), string(id))
	if err != nil {
		return fmt.Errorf("remove %s from %s: %w", id, ns, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
