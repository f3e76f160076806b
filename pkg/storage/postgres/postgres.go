// Package postgres implements the registry's SQL stores on PostgreSQL,
// the backend for multi-node deployments.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/satchel/pkg/auth"
	"github.com/platinummonkey/satchel/pkg/registry"
	"github.com/platinummonkey/satchel/pkg/storage"
)

var tracer = otel.Tracer("satchel/storage/postgres")

const schema = `
CREATE TABLE IF NOT EXISTS token (
	token      TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	scopes     JSONB NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS package (
	name       TEXT PRIMARY KEY,
	dist_tags  JSONB NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS package_release (
	package    TEXT NOT NULL,
	version    TEXT NOT NULL,
	tag        TEXT NOT NULL,
	manifest   JSONB NOT NULL,
	created_at BIGINT NOT NULL,
	PRIMARY KEY (package, version)
);
`

// Store implements registry.PackageStore and registry.TokenStore on
// PostgreSQL
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL, configures the pool and applies the schema
func Open(cfg storage.Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.PostgresMinConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing database handle. The caller owns the
// handle's lifecycle and schema.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
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
	ctx, span := tracer.Start(ctx, "Postgres.GetPackage",
		trace.WithAttributes(attribute.String("package.name", name)),
	)
	defer span.End()

	var pkg registry.Package
	var rawTags []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT name, dist_tags, created_at, updated_at FROM package WHERE name = $1`, name,
	).Scan(&pkg.Name, &rawTags, &pkg.CreatedAt, &pkg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Ok, "package not found")
		return nil, nil, registry.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get package")
		return nil, nil, fmt.Errorf("failed to get package: %w", err)
	}
	if err := json.Unmarshal(rawTags, &pkg.DistTags); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal dist-tags: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT package, version, tag, manifest, created_at FROM package_release WHERE package = $1`, name,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list releases")
		return nil, nil, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	var releases []*registry.Release
	for rows.Next() {
		var release registry.Release
		var manifest []byte
		if err := rows.Scan(&release.Package, &release.Version, &release.Tag, &manifest, &release.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan release: %w", err)
		}
		release.Manifest = json.RawMessage(manifest)
		releases = append(releases, &release)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate releases: %w", err)
	}

	span.SetAttributes(attribute.Int("package.releases", len(releases)))
	span.SetStatus(codes.Ok, "package retrieved")
	return &pkg, releases, nil
}

// UpsertPackage implements registry.PackageStore. The jsonb concatenation
// merges new dist-tags over the stored ones.
func (s *Store) UpsertPackage(ctx context.Context, name string, distTags map[string]string, now int64) error {
	rawTags, err := json.Marshal(distTags)
	if err != nil {
		return fmt.Errorf("failed to marshal dist-tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO package (name, dist_tags, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (name) DO UPDATE SET
			dist_tags = package.dist_tags || excluded.dist_tags,
			updated_at = excluded.updated_at`,
		name, rawTags, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert package: %w", err)
	}
	return nil
}

// GetRelease implements registry.PackageStore
func (s *Store) GetRelease(ctx context.Context, name, version string) (*registry.Release, error) {
	var release registry.Release
	var manifest []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT package, version, tag, manifest, created_at FROM package_release WHERE package = $1 AND version = $2`,
		name, version,
	).Scan(&release.Package, &release.Version, &release.Tag, &manifest, &release.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get release: %w", err)
	}
	release.Manifest = json.RawMessage(manifest)
	return &release, nil
}

// CreateRelease implements registry.PackageStore
func (s *Store) CreateRelease(ctx context.Context, release *registry.Release) error {
	ctx, span := tracer.Start(ctx, "Postgres.CreateRelease",
		trace.WithAttributes(
			attribute.String("package.name", release.Package),
			attribute.String("package.version", release.Version),
		),
	)
	defer span.End()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO package_release (package, version, tag, manifest, created_at) VALUES ($1, $2, $3, $4, $5)`,
		release.Package, release.Version, release.Tag, []byte(release.Manifest), release.CreatedAt,
	)
	if isUniqueViolation(err) {
		span.SetStatus(codes.Ok, "version already exists")
		return registry.ErrVersionExists
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create release")
		return fmt.Errorf("failed to create release: %w", err)
	}

	span.SetStatus(codes.Ok, "release created")
	return nil
}

// GetToken implements registry.TokenStore
func (s *Store) GetToken(ctx context.Context, secret string) (*auth.Token, error) {
	var token auth.Token
	var rawScopes []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT token, name, scopes, created_at, updated_at FROM token WHERE token = $1`, secret,
	).Scan(&token.Secret, &token.Name, &rawScopes, &token.CreatedAt, &token.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if err := json.Unmarshal(rawScopes, &token.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	return &token, nil
}

// CreateToken implements registry.TokenStore
func (s *Store) CreateToken(ctx context.Context, token *auth.Token) error {
	rawScopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO token (token, name, scopes, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		token.Secret, token.Name, rawScopes, token.CreatedAt, token.UpdatedAt,
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
		var token auth.Token
		var rawScopes []byte
		if err := rows.Scan(&token.Secret, &token.Name, &rawScopes, &token.CreatedAt, &token.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		if err := json.Unmarshal(rawScopes, &token.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
		}
		tokens = append(tokens, &token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tokens: %w", err)
	}
	return tokens, nil
}

// DeleteToken implements registry.TokenStore
func (s *Store) DeleteToken(ctx context.Context, secret string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM token WHERE token = $1`, secret)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
