package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// SQLite keeps the latest version of every document in a SQLite database.
// Appends are applied in place, so Compact only reclaims space.
type SQLite struct {
	path string
	db   *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ioError("create sqlite directory", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, ioError("open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	if err := initSQLiteSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{path: path, db: db}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			seq  INTEGER PRIMARY KEY AUTOINCREMENT,
			id   TEXT NOT NULL UNIQUE,
			body TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS indexes (
			field      TEXT PRIMARY KEY,
			is_unique  INTEGER NOT NULL DEFAULT 0,
			is_sparse  INTEGER NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return ioError("init sqlite schema", err)
	}
	return nil
}

// Path returns the database location.
func (s *SQLite) Path() string { return s.path }

// Load reads every document and index definition.
func (s *SQLite) Load() (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := s.db.Query(`SELECT id, body FROM documents ORDER BY seq`)
	if err != nil {
		return nil, ioError("query documents", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, ioError("scan document", err)
		}
		rec, err := DecodeRecord([]byte(body))
		if err != nil || rec.Doc == nil {
			return nil, &engine.Error{Kind: engine.KindCorrupt, Message: fmt.Sprintf("document %s unreadable", id), Err: err}
		}
		snap.Docs = append(snap.Docs, rec.Doc)
	}
	if err := rows.Err(); err != nil {
		return nil, ioError("iterate documents", err)
	}

	idx, err := s.db.Query(`SELECT field, is_unique, is_sparse FROM indexes ORDER BY field`)
	if err != nil {
		return nil, ioError("query indexes", err)
	}
	defer idx.Close()
	for idx.Next() {
		var spec engine.IndexSpec
		if err := idx.Scan(&spec.FieldName, &spec.Unique, &spec.Sparse); err != nil {
			return nil, ioError("scan index", err)
		}
		snap.Indexes = append(snap.Indexes, spec)
	}
	if err := idx.Err(); err != nil {
		return nil, ioError("iterate indexes", err)
	}
	return snap, nil
}

// Append applies records in a single transaction.
func (s *SQLite) Append(records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return ioError("begin transaction", err)
	}
	for _, rec := range records {
		if err := applyRecord(tx, rec); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return ioError("commit transaction", err)
	}
	return nil
}

func applyRecord(tx *sql.Tx, rec Record) error {
	switch {
	case rec.Doc != nil:
		body, err := EncodeRecord(rec)
		if err != nil {
			return ioError("encode document", err)
		}
		_, err = tx.Exec(
			`INSERT INTO documents (id, body) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET body = excluded.body`,
			rec.Doc.ID(), string(body),
		)
		if err != nil {
			return ioError("upsert document", err)
		}
	case rec.DeletedID != "":
		if _, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, rec.DeletedID); err != nil {
			return ioError("delete document", err)
		}
	case rec.IndexCreated != nil:
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO indexes (field, is_unique, is_sparse) VALUES (?, ?, ?)`,
			rec.IndexCreated.FieldName, rec.IndexCreated.Unique, rec.IndexCreated.Sparse,
		)
		if err != nil {
			return ioError("save index", err)
		}
	case rec.IndexRemoved != "":
		if _, err := tx.Exec(`DELETE FROM indexes WHERE field = ?`, rec.IndexRemoved); err != nil {
			return ioError("delete index", err)
		}
	}
	return nil
}

// Compact reclaims free pages. The tables already hold the latest state.
func (s *SQLite) Compact(_ []engine.Document, _ []engine.IndexSpec) error {
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return ioError("vacuum", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
