package auth

import "fmt"

// Operation is the kind of access being requested
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// Entity is the category of thing being protected
type Entity string

const (
	EntityPackage Entity = "package"
	EntityUser    Entity = "user"
	EntityToken   Entity = "token"
)

// Wildcard matches any target identifier of a grant's entity kind
const Wildcard = "*"

// ScopeType is one of the nine enumerated entity/permission combinations.
// It is decoded once at the storage boundary; values outside the enumeration
// are carried through unmodified and ignored by the decision function.
type ScopeType string

const (
	ScopePackageRead      ScopeType = "package:read"
	ScopePackageWrite     ScopeType = "package:write"
	ScopePackageReadWrite ScopeType = "package:read+write"

	ScopeUserRead      ScopeType = "user:read"
	ScopeUserWrite     ScopeType = "user:write"
	ScopeUserReadWrite ScopeType = "user:read+write"

	ScopeTokenRead      ScopeType = "token:read"
	ScopeTokenWrite     ScopeType = "token:write"
	ScopeTokenReadWrite ScopeType = "token:read+write"
)

// scopeTable maps every valid scope type to its entity kind and the
// operations it permits. Membership in this table defines validity.
var scopeTable = map[ScopeType]struct {
	entity Entity
	read   bool
	write  bool
}{
	ScopePackageRead:      {EntityPackage, true, false},
	ScopePackageWrite:     {EntityPackage, false, true},
	ScopePackageReadWrite: {EntityPackage, true, true},

	ScopeUserRead:      {EntityUser, true, false},
	ScopeUserWrite:     {EntityUser, false, true},
	ScopeUserReadWrite: {EntityUser, true, true},

	ScopeTokenRead:      {EntityToken, true, false},
	ScopeTokenWrite:     {EntityToken, false, true},
	ScopeTokenReadWrite: {EntityToken, true, true},
}

// Valid reports whether s is one of the nine enumerated scope types
func (s ScopeType) Valid() bool {
	_, ok := scopeTable[s]
	return ok
}

// Entity returns the entity kind this scope type protects, or "" for
// scope types outside the enumeration
func (s ScopeType) Entity() Entity {
	return scopeTable[s].entity
}

// Allows reports whether this scope type's permission level includes op.
// Invalid scope types allow nothing.
func (s ScopeType) Allows(op Operation) bool {
	entry, ok := scopeTable[s]
	if !ok {
		return false
	}
	switch op {
	case OpRead:
		return entry.read
	case OpWrite:
		return entry.write
	}
	return false
}

// ParseScopeType validates a raw scope string against the enumeration
func ParseScopeType(raw string) (ScopeType, error) {
	s := ScopeType(raw)
	if !s.Valid() {
		return "", fmt.Errorf("invalid scope type: %q", raw)
	}
	return s, nil
}

// Grant applies one scope type to a set of target identifiers
type Grant struct {
	Type   ScopeType `json:"type"`
	Values []string  `json:"values"`
}

// Validate checks a grant for issuance: the scope type must be one of the
// nine enumerated values and the target set must be non-empty. Grants with
// empty target sets are meaningless and rejected up front rather than
// silently never matching.
func (g Grant) Validate() error {
	if !g.Type.Valid() {
		return fmt.Errorf("invalid scope type: %q", g.Type)
	}
	if len(g.Values) == 0 {
		return fmt.Errorf("scope %q has no target values", g.Type)
	}
	return nil
}

// ValidateScopes checks a full scope list for token issuance
func ValidateScopes(scopes []Grant) error {
	if len(scopes) == 0 {
		return fmt.Errorf("at least one scope is required")
	}
	for _, g := range scopes {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	return nil
}
