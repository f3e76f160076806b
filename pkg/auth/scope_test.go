package auth

import "testing"

func TestScopeType_Valid(t *testing.T) {
	valid := []ScopeType{
		ScopePackageRead, ScopePackageWrite, ScopePackageReadWrite,
		ScopeUserRead, ScopeUserWrite, ScopeUserReadWrite,
		ScopeTokenRead, ScopeTokenWrite, ScopeTokenReadWrite,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}

	invalid := []ScopeType{"", "read", "write", "package", "package:delete", "org:read", "PACKAGE:READ"}
	for _, s := range invalid {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestScopeType_Allows(t *testing.T) {
	tests := []struct {
		scope ScopeType
		op    Operation
		want  bool
	}{
		{ScopePackageRead, OpRead, true},
		{ScopePackageRead, OpWrite, false},
		{ScopePackageWrite, OpRead, false},
		{ScopePackageWrite, OpWrite, true},
		{ScopePackageReadWrite, OpRead, true},
		{ScopePackageReadWrite, OpWrite, true},
		{ScopeTokenRead, OpRead, true},
		{ScopeTokenWrite, OpWrite, true},
		{ScopeType("bogus"), OpRead, false},
		{ScopeType("bogus"), OpWrite, false},
	}

	for _, tt := range tests {
		if got := tt.scope.Allows(tt.op); got != tt.want {
			t.Errorf("%q.Allows(%q) = %v, want %v", tt.scope, tt.op, got, tt.want)
		}
	}
}

func TestParseScopeType(t *testing.T) {
	s, err := ParseScopeType("package:read+write")
	if err != nil {
		t.Fatalf("ParseScopeType() error = %v", err)
	}
	if s != ScopePackageReadWrite {
		t.Errorf("got %q, want %q", s, ScopePackageReadWrite)
	}

	if _, err := ParseScopeType("package:admin"); err == nil {
		t.Error("expected error for unknown scope type")
	}
}

func TestToken_Can(t *testing.T) {
	token := func(scopes ...Grant) *Token {
		return &Token{Secret: "satchel_test", Name: "test", Scopes: scopes}
	}

	tests := []struct {
		name   string
		token  *Token
		op     Operation
		entity Entity
		target string
		want   bool
	}{
		{
			name:   "nil token denies everything",
			token:  nil,
			op:     OpRead,
			entity: EntityPackage,
			target: "mock",
			want:   false,
		},
		{
			name:   "no scopes denies everything",
			token:  token(),
			op:     OpRead,
			entity: EntityPackage,
			target: "mock",
			want:   false,
		},
		{
			name:   "exact target match",
			token:  token(Grant{Type: ScopePackageRead, Values: []string{"mock"}}),
			op:     OpRead,
			entity: EntityPackage,
			target: "mock",
			want:   true,
		},
		{
			name:   "different target denied",
			token:  token(Grant{Type: ScopePackageRead, Values: []string{"other"}}),
			op:     OpRead,
			entity: EntityPackage,
			target: "mock",
			want:   false,
		},
		{
			name:   "wildcard matches any target",
			token:  token(Grant{Type: ScopePackageRead, Values: []string{"*"}}),
			op:     OpRead,
			entity: EntityPackage,
			target: "anything",
			want:   true,
		},
		{
			name:   "wildcard and literal coexist",
			token:  token(Grant{Type: ScopePackageWrite, Values: []string{"mock", "*"}}),
			op:     OpWrite,
			entity: EntityPackage,
			target: "unrelated",
			want:   true,
		},
		{
			name:   "read-only never satisfies write even with wildcard",
			token:  token(Grant{Type: ScopePackageRead, Values: []string{"*"}}),
			op:     OpWrite,
			entity: EntityPackage,
			target: "mock",
			want:   false,
		},
		{
			name:   "write-only does not satisfy read",
			token:  token(Grant{Type: ScopePackageWrite, Values: []string{"mock"}}),
			op:     OpRead,
			entity: EntityPackage,
			target: "mock",
			want:   false,
		},
		{
			name:   "read+write satisfies read",
			token:  token(Grant{Type: ScopePackageReadWrite, Values: []string{"mock"}}),
			op:     OpRead,
			entity: EntityPackage,
			target: "mock",
			want:   true,
		},
		{
			name:   "read+write satisfies write",
			token:  token(Grant{Type: ScopePackageReadWrite, Values: []string{"mock"}}),
			op:     OpWrite,
			entity: EntityPackage,
			target: "mock",
			want:   true,
		},
		{
			name:   "entity mismatch denied",
			token:  token(Grant{Type: ScopePackageReadWrite, Values: []string{"*"}}),
			op:     OpRead,
			entity: EntityToken,
			target: "satchel_other",
			want:   false,
		},
		{
			name:   "token scope matches its own secret",
			token:  token(Grant{Type: ScopeTokenRead, Values: []string{"satchel_self"}}),
			op:     OpRead,
			entity: EntityToken,
			target: "satchel_self",
			want:   true,
		},
		{
			name:   "malformed stored scope type is ignored",
			token:  token(Grant{Type: "package:admin", Values: []string{"*"}}),
			op:     OpRead,
			entity: EntityPackage,
			target: "mock",
			want:   false,
		},
		{
			name: "any matching grant suffices",
			token: token(
				Grant{Type: ScopeUserRead, Values: []string{"alice"}},
				Grant{Type: ScopePackageWrite, Values: []string{"other"}},
				Grant{Type: ScopePackageWrite, Values: []string{"mock"}},
			),
			op:     OpWrite,
			entity: EntityPackage,
			target: "mock",
			want:   true,
		},
		{
			name:   "scoped package names are exact-match only",
			token:  token(Grant{Type: ScopePackageRead, Values: []string{"@org/mock"}}),
			op:     OpRead,
			entity: EntityPackage,
			target: "@org/mock-extras",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.Can(tt.op, tt.entity, tt.target); got != tt.want {
				t.Errorf("Can(%q, %q, %q) = %v, want %v", tt.op, tt.entity, tt.target, got, tt.want)
			}
		})
	}
}

func TestValidateScopes(t *testing.T) {
	if err := ValidateScopes(nil); err == nil {
		t.Error("empty scope list should be rejected")
	}

	if err := ValidateScopes([]Grant{{Type: "invalid_scope", Values: []string{"*"}}}); err == nil {
		t.Error("unknown scope type should be rejected")
	}

	if err := ValidateScopes([]Grant{{Type: ScopePackageRead, Values: nil}}); err == nil {
		t.Error("grant with empty target set should be rejected")
	}

	valid := []Grant{
		{Type: ScopePackageReadWrite, Values: []string{"mock"}},
		{Type: ScopeTokenRead, Values: []string{"*"}},
	}
	if err := ValidateScopes(valid); err != nil {
		t.Errorf("valid scopes rejected: %v", err)
	}
}
