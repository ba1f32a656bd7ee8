package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quarrypm/quarry/internal/protocol"
	"github.com/quarrypm/quarry/internal/storage"
)

// BuildEntry is one cached source-build result. Artifacts point at package
// files under the archive cache; InputGlobs and InputHash together decide
// whether the entry is still fresh for a given checkout.
type BuildEntry struct {
	Fingerprint string
	Artifacts   []protocol.BuiltArtifact
	InputGlobs  []string
	InputHash   string
	CreatedAt   time.Time
}

// BuildCache persists finished source builds across invocations, keyed by
// work-directory fingerprint.
type BuildCache struct {
	db *sql.DB
}

// OpenBuildCache opens (and creates if needed) the build cache database at
// path and ensures required tables exist.
func OpenBuildCache(ctx context.Context, path string) (*BuildCache, error) {
	db, err := storage.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open build cache: %w", err)
	}
	if err := bootstrapBuildCache(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BuildCache{db: db}, nil
}

func bootstrapBuildCache(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS source_builds (
  fingerprint TEXT PRIMARY KEY,
  artifacts   JSON NOT NULL,
  input_globs JSON NOT NULL,
  input_hash  TEXT NOT NULL,
  created_at  TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS source_builds_created_at_idx ON source_builds(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap build cache: %w", err)
		}
	}
	return nil
}

// Get returns the cached entry for fingerprint, or nil when none exists.
func (c *BuildCache) Get(ctx context.Context, fingerprint string) (*BuildEntry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT artifacts, input_globs, input_hash, created_at FROM source_builds WHERE fingerprint = ?`,
		fingerprint)

	var artifactsJSON, globsJSON, inputHash, createdAt string
	if err := row.Scan(&artifactsJSON, &globsJSON, &inputHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query build cache: %w", err)
	}

	entry := BuildEntry{Fingerprint: fingerprint, InputHash: inputHash}
	if err := json.Unmarshal([]byte(artifactsJSON), &entry.Artifacts); err != nil {
		return nil, fmt.Errorf("decode cached artifacts: %w", err)
	}
	if err := json.Unmarshal([]byte(globsJSON), &entry.InputGlobs); err != nil {
		return nil, fmt.Errorf("decode cached input globs: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		entry.CreatedAt = ts
	}
	return &entry, nil
}

// Put stores entry, replacing any previous entry with the same fingerprint.
func (c *BuildCache) Put(ctx context.Context, entry BuildEntry) error {
	artifactsJSON, err := json.Marshal(entry.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	globsJSON, err := json.Marshal(entry.InputGlobs)
	if err != nil {
		return fmt.Errorf("encode input globs: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO source_builds (fingerprint, artifacts, input_globs, input_hash, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
  artifacts = excluded.artifacts,
  input_globs = excluded.input_globs,
  input_hash = excluded.input_hash,
  created_at = excluded.created_at`,
		entry.Fingerprint, string(artifactsJSON), string(globsJSON), entry.InputHash,
		createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store build cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for fingerprint, if any.
func (c *BuildCache) Delete(ctx context.Context, fingerprint string) error {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM source_builds WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("delete build cache entry: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *BuildCache) Close() error {
	return c.db.Close()
}
