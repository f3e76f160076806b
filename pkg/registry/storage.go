package registry

import (
	"context"
	"errors"

	"github.com/platinummonkey/satchel/pkg/auth"
)

// Sentinel errors returned by store implementations. Handlers map these to
// HTTP statuses; anything else is an internal error.
var (
	// ErrNotFound indicates a missing package, release or blob
	ErrNotFound = errors.New("not found")
	// ErrVersionExists indicates a duplicate package+version insert
	ErrVersionExists = errors.New("version already exists")
)

// PackageStore persists package metadata and releases. Implementations must
// enforce uniqueness on package+version pairs; that constraint is the sole
// guard against a duplicate-publish race.
type PackageStore interface {
	// GetPackage returns the package and all its releases, or ErrNotFound
	GetPackage(ctx context.Context, name string) (*Package, []*Release, error)

	// UpsertPackage inserts the package or merges the given dist-tags over
	// the stored ones, bumping updatedAt
	UpsertPackage(ctx context.Context, name string, distTags map[string]string, now int64) error

	// GetRelease returns one release, or ErrNotFound
	GetRelease(ctx context.Context, name, version string) (*Release, error)

	// CreateRelease inserts a release, or returns ErrVersionExists
	CreateRelease(ctx context.Context, release *Release) error
}

// TokenStore persists access tokens. It satisfies auth.Store, so the same
// implementation backs both the credential lookup middleware and the token
// lifecycle endpoints.
type TokenStore interface {
	// GetToken returns the token with the exact secret, or auth.ErrTokenNotFound
	GetToken(ctx context.Context, secret string) (*auth.Token, error)

	// CreateToken persists a newly issued token
	CreateToken(ctx context.Context, token *auth.Token) error

	// ListTokens returns every token record
	ListTokens(ctx context.Context) ([]*auth.Token, error)

	// DeleteToken removes a token; deleting an absent secret is not an error
	DeleteToken(ctx context.Context, secret string) error
}

// BlobStore persists tarball blobs keyed by attachment name, with metadata
// recording the owning package and version for integrity cross-checks.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error

	// Get returns the blob and its metadata, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, map[string]string, error)
}
