// Package sqlite provides a SQLite-based conditions.Store implementation.
//
// Every mutation runs in a single transaction that also bumps the
// store_revision row, so a write is either fully visible with its revision
// or not at all.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"conditionsdb/internal/conditions"
)

// Store is a SQLite-based conditions.Store implementation.
type Store struct {
	db   *sql.DB
	path string
}

var _ conditions.Store = (*Store)(nil)

// NewStore opens a SQLite database at path and runs migrations.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout is fixed width for years 0001-9999, which PrepareVersion
// enforces, so text order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// withTx runs fn in a transaction and bumps the store revision on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE store_revision SET revision = revision + 1 WHERE id = 1"); err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func subdetectorExists(ctx context.Context, q querier, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT count(*) FROM subdetectors WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check subdetector %q: %w", name, err)
	}
	return n > 0, nil
}

func (s *Store) CreateSubdetector(ctx context.Context, sd conditions.Subdetector, versions []conditions.Version) error {
	histories, err := conditions.GroupHistories(sd, versions)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(sd.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := subdetectorExists(ctx, tx, sd.Name)
		if err != nil {
			return err
		}
		if exists {
			return conditions.Errorf(conditions.CodeDuplicateName, "subdetector %q already exists", sd.Name)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO subdetectors (name, description, metadata, created_at) VALUES (?, ?, ?, ?)",
			sd.Name, sd.Description, string(metadata), formatTime(sd.CreatedAt)); err != nil {
			return fmt.Errorf("insert subdetector: %w", err)
		}
		for _, name := range sd.Conditions {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO conditions (subdetector, name) VALUES (?, ?)", sd.Name, name); err != nil {
				return fmt.Errorf("insert condition %q: %w", name, err)
			}
			for _, v := range histories[name] {
				if err := insertVersion(ctx, tx, v); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func insertVersion(ctx context.Context, tx *sql.Tx, v conditions.Version) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO condition_versions
		(id, subdetector, condition_name, payload, valid_from, valid_until, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID.String(), v.Subdetector, v.Condition, string(v.Payload),
		formatTime(v.ValidFrom), nullTime(v.ValidUntil), formatTime(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert version %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) GetSubdetector(ctx context.Context, name string) (*conditions.Subdetector, error) {
	var (
		sd        conditions.Subdetector
		metadata  string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT name, description, metadata, created_at FROM subdetectors WHERE name = ?", name,
	).Scan(&sd.Name, &sd.Description, &metadata, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conditions.Errorf(conditions.CodeNotFound, "subdetector %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get subdetector: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &sd.Metadata); err != nil {
		return nil, fmt.Errorf("parse metadata for %q: %w", name, err)
	}
	if sd.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	names, err := s.conditionNames(ctx, name)
	if err != nil {
		return nil, err
	}
	sd.Conditions = names
	return &sd, nil
}

func (s *Store) conditionNames(ctx context.Context, subdetector string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM conditions WHERE subdetector = ? ORDER BY name", subdetector)
	if err != nil {
		return nil, fmt.Errorf("list conditions: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan condition name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) ListSubdetectors(ctx context.Context) ([]conditions.Subdetector, error) {
	names, err := s.ListSubdetectorNames(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]conditions.Subdetector, 0, len(names))
	for _, name := range names {
		sd, err := s.GetSubdetector(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, *sd)
	}
	return out, nil
}

func (s *Store) ListSubdetectorNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM subdetectors ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list subdetectors: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan subdetector name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subdetectors: %w", err)
	}
	return names, nil
}

func (s *Store) GetConditionVersions(ctx context.Context, subdetector, condition string) ([]conditions.Version, error) {
	return loadHistory(ctx, s.db, subdetector, condition)
}

// loadHistory reads one condition history, distinguishing an unknown
// subdetector from an unknown condition.
func loadHistory(ctx context.Context, q querier, subdetector, condition string) ([]conditions.Version, error) {
	exists, err := subdetectorExists(ctx, q, subdetector)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, conditions.Errorf(conditions.CodeNotFound, "subdetector %q not found", subdetector)
	}

	rows, err := q.QueryContext(ctx, `SELECT id, payload, valid_from, valid_until, created_at
		FROM condition_versions
		WHERE subdetector = ? AND condition_name = ?
		ORDER BY valid_from`, subdetector, condition)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var history []conditions.Version
	for rows.Next() {
		var (
			id                   string
			payload              string
			validFrom, createdAt string
			validUntil           sql.NullString
		)
		if err := rows.Scan(&id, &payload, &validFrom, &validUntil, &createdAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		vid, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse version id %q: %w", id, err)
		}
		v := conditions.Version{
			ID:          vid,
			Subdetector: subdetector,
			Condition:   condition,
			Payload:     json.RawMessage(payload),
		}
		if v.ValidFrom, err = parseTime(validFrom); err != nil {
			return nil, err
		}
		if v.ValidUntil, err = parseNullTime(validUntil); err != nil {
			return nil, err
		}
		if v.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		history = append(history, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	if len(history) == 0 {
		return nil, conditions.Errorf(conditions.CodeNotFound, "condition %q not found in subdetector %q", condition, subdetector)
	}
	return history, nil
}

func (s *Store) AppendConditionVersion(ctx context.Context, v conditions.Version) (conditions.Version, error) {
	var added conditions.Version
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		history, err := loadHistory(ctx, tx, v.Subdetector, v.Condition)
		if err != nil {
			return err
		}
		res, err := conditions.PlanAppend(history, v)
		if err != nil {
			return err
		}
		if res.Closed != nil {
			if _, err := tx.ExecContext(ctx,
				"UPDATE condition_versions SET valid_until = ? WHERE id = ? AND valid_until IS NULL",
				nullTime(res.Closed.ValidUntil), res.Closed.ID.String()); err != nil {
				return fmt.Errorf("close version %s: %w", res.Closed.ID, err)
			}
		}
		if err := insertVersion(ctx, tx, res.Added); err != nil {
			return err
		}
		added = res.Added
		return nil
	})
	if err != nil {
		return conditions.Version{}, err
	}
	return added, nil
}

func (s *Store) CreateGlobalTag(ctx context.Context, tag conditions.GlobalTag, revision uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT count(*) FROM global_tags WHERE name = ?", tag.Name).Scan(&n); err != nil {
			return fmt.Errorf("check global tag: %w", err)
		}
		if n > 0 {
			return conditions.Errorf(conditions.CodeDuplicateName, "global tag %q already exists", tag.Name)
		}

		current, err := readRevision(ctx, tx)
		if err != nil {
			return err
		}
		if current != revision {
			return conditions.ErrStaleRevision
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO global_tags (name, reference, created_at) VALUES (?, ?, ?)",
			tag.Name, formatTime(tag.Reference), formatTime(tag.CreatedAt)); err != nil {
			return fmt.Errorf("insert global tag: %w", err)
		}
		for _, e := range tag.Entries {
			if _, err := tx.ExecContext(ctx, `INSERT INTO global_tag_entries
				(tag, subdetector, condition_name, version_id, payload, valid_from, valid_until)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				tag.Name, e.Subdetector, e.Condition, e.VersionID.String(), string(e.Payload),
				formatTime(e.ValidFrom), nullTime(e.ValidUntil)); err != nil {
				return fmt.Errorf("insert tag entry %s/%s: %w", e.Subdetector, e.Condition, err)
			}
		}
		return nil
	})
}

func (s *Store) GetGlobalTag(ctx context.Context, name string) (*conditions.GlobalTag, error) {
	var reference, createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT reference, created_at FROM global_tags WHERE name = ?", name,
	).Scan(&reference, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conditions.Errorf(conditions.CodeNotFound, "global tag %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get global tag: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT subdetector, condition_name, version_id, payload, valid_from, valid_until
		FROM global_tag_entries WHERE tag = ?
		ORDER BY subdetector, condition_name`, name)
	if err != nil {
		return nil, fmt.Errorf("query tag entries: %w", err)
	}
	defer rows.Close()

	tag := &conditions.GlobalTag{Name: name, Entries: []conditions.TagEntry{}}
	if tag.Reference, err = parseTime(reference); err != nil {
		return nil, err
	}
	if tag.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			e          conditions.TagEntry
			versionID  string
			payload    string
			validFrom  string
			validUntil sql.NullString
		)
		if err := rows.Scan(&e.Subdetector, &e.Condition, &versionID, &payload, &validFrom, &validUntil); err != nil {
			return nil, fmt.Errorf("scan tag entry: %w", err)
		}
		if e.VersionID, err = uuid.Parse(versionID); err != nil {
			return nil, fmt.Errorf("parse version id %q: %w", versionID, err)
		}
		e.Payload = json.RawMessage(payload)
		if e.ValidFrom, err = parseTime(validFrom); err != nil {
			return nil, err
		}
		if e.ValidUntil, err = parseNullTime(validUntil); err != nil {
			return nil, err
		}
		tag.Entries = append(tag.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag entries: %w", err)
	}
	return tag, nil
}

func (s *Store) ListGlobalTagNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM global_tags ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list global tags: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan global tag name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate global tags: %w", err)
	}
	return names, nil
}

func (s *Store) Revision(ctx context.Context) (uint64, error) {
	return readRevision(ctx, s.db)
}

func readRevision(ctx context.Context, q querier) (uint64, error) {
	var rev int64
	if err := q.QueryRowContext(ctx, "SELECT revision FROM store_revision WHERE id = 1").Scan(&rev); err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return uint64(rev), nil
}
