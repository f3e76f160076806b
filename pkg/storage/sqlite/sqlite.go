// Package sqlite implements the registry's SQL stores on an embedded
// SQLite database, the default backend for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/satchel/pkg/auth"
	"github.com/platinummonkey/satchel/pkg/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS token (
	token      TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	scopes     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS package (
	name       TEXT PRIMARY KEY,
	dist_tags  TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS package_release (
	package    TEXT NOT NULL,
	version    TEXT NOT NULL,
	tag        TEXT NOT NULL,
	manifest   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (package, version)
);
`

// Store implements registry.PackageStore and registry.TokenStore on SQLite
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent publishes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for health probes
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// GetPackage implements registry.PackageStore
func (s *Store) GetPackage(ctx context.Context, name string) (*registry.Package, []*registry.Release, error) {
	var pkg registry.Package
	var rawTags string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, dist_tags, created_at, updated_at FROM package WHERE name = ?`, name,
	).Scan(&pkg.Name, &rawTags, &pkg.CreatedAt, &pkg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get package: %w", err)
	}
	if err := json.Unmarshal([]byte(rawTags), &pkg.DistTags); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal dist-tags: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT package, version, tag, manifest, created_at FROM package_release WHERE package = ?`, name,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	var releases []*registry.Release
	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			return nil, nil, err
		}
		releases = append(releases, release)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate releases: %w", err)
	}

	return &pkg, releases, nil
}

// UpsertPackage implements registry.PackageStore. Existing dist-tags are
// merged with the new ones via json_patch, so publishing under one tag
// leaves the others intact.
func (s *Store) UpsertPackage(ctx context.Context, name string, distTags map[string]string, now int64) error {
	rawTags, err := json.Marshal(distTags)
	if err != nil {
		return fmt.Errorf("failed to marshal dist-tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO package (name, dist_tags, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			dist_tags = json_patch(package.dist_tags, excluded.dist_tags),
			updated_at = excluded.updated_at`,
		name, string(rawTags), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert package: %w", err)
	}
	return nil
}

// GetRelease implements registry.PackageStore
func (s *Store) GetRelease(ctx context.Context, name, version string) (*registry.Release, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT package, version, tag, manifest, created_at FROM package_release WHERE package = ? AND version = ?`,
		name, version,
	)
	release, err := scanRelease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return release, nil
}

// CreateRelease implements registry.PackageStore
func (s *Store) CreateRelease(ctx context.Context, release *registry.Release) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO package_release (package, version, tag, manifest, created_at) VALUES (?, ?, ?, ?, ?)`,
		release.Package, release.Version, release.Tag, string(release.Manifest), release.CreatedAt,
	)
	if isUniqueViolation(err) {
		return registry.ErrVersionExists
	}
	if err != nil {
		return fmt.Errorf("failed to create release: %w", err)
	}
	return nil
}

// GetToken implements registry.TokenStore
func (s *Store) GetToken(ctx context.Context, secret string) (*auth.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, name, scopes, created_at, updated_at FROM token WHERE token = ?`, secret,
	)
	token, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrTokenNotFound
	}
	return token, err
}

// CreateToken implements registry.TokenStore
func (s *Store) CreateToken(ctx context.Context, token *auth.Token) error {
	rawScopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO token (token, name, scopes, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		token.Secret, token.Name, string(rawScopes), token.CreatedAt, token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// ListTokens implements registry.TokenStore
func (s *Store) ListTokens(ctx context.Context) ([]*auth.Token, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, name, scopes, created_at, updated_at FROM token ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*auth.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tokens: %w", err)
	}
	return tokens, nil
}

// DeleteToken implements registry.TokenStore. Deleting an absent secret is
// not an error.
func (s *Store) DeleteToken(ctx context.Context, secret string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM token WHERE token = ?`, secret)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// scanner works for both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRelease(row scanner) (*registry.Release, error) {
	var release registry.Release
	var manifest string
	if err := row.Scan(&release.Package, &release.Version, &release.Tag, &manifest, &release.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan release: %w", err)
	}
	release.Manifest = json.RawMessage(manifest)
	return &release, nil
}

func scanToken(row scanner) (*auth.Token, error) {
	var token auth.Token
	var rawScopes string
	if err := row.Scan(&token.Secret, &token.Name, &rawScopes, &token.CreatedAt, &token.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan token: %w", err)
	}
	if err := json.Unmarshal([]byte(rawScopes), &token.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	return &token, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
