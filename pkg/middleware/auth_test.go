package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/satchel/pkg/auth"
)

// fakeStore resolves a single secret
type fakeStore struct {
	token *auth.Token
	err   error
	calls int
}

func (s *fakeStore) GetToken(ctx context.Context, secret string) (*auth.Token, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.token != nil && s.token.Secret == secret {
		return s.token, nil
	}
	return nil, auth.ErrTokenNotFound
}

func TestLoadToken(t *testing.T) {
	token := &auth.Token{
		Secret: "satchel_abc",
		Name:   "ci",
		Scopes: []auth.Grant{{Type: auth.ScopePackageRead, Values: []string{"*"}}},
	}

	t.Run("resolves bearer secret into context", func(t *testing.T) {
		store := &fakeStore{token: token}
		var got *auth.Token
		handler := LoadToken(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = TokenFromRequest(r)
		}))

		req := httptest.NewRequest("GET", "/widgets", nil)
		req.Header.Set("Authorization", "Bearer satchel_abc")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got == nil || got.Name != "ci" {
			t.Fatalf("expected resolved token, got %+v", got)
		}
	})

	t.Run("missing header is anonymous without lookup", func(t *testing.T) {
		store := &fakeStore{token: token}
		var got *auth.Token
		handler := LoadToken(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = TokenFromRequest(r)
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/widgets", nil))

		if got != nil {
			t.Errorf("expected anonymous request, got %+v", got)
		}
		if store.calls != 0 {
			t.Errorf("expected no storage lookup, got %d", store.calls)
		}
	})

	t.Run("malformed header is anonymous", func(t *testing.T) {
		for _, header := range []string{"satchel_abc", "Basic satchel_abc", "Bearer", "Bearer "} {
			store := &fakeStore{token: token}
			var got *auth.Token
			handler := LoadToken(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = TokenFromRequest(r)
			}))

			req := httptest.NewRequest("GET", "/widgets", nil)
			req.Header.Set("Authorization", header)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != nil {
				t.Errorf("header %q: expected anonymous request", header)
			}
		}
	})

	t.Run("unknown secret is anonymous, not an error", func(t *testing.T) {
		store := &fakeStore{}
		status := 0
		handler := LoadToken(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if TokenFromRequest(r) != nil {
				t.Error("expected anonymous request")
			}
			status = http.StatusOK
		}))

		req := httptest.NewRequest("GET", "/widgets", nil)
		req.Header.Set("Authorization", "Bearer satchel_unknown")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if status != http.StatusOK {
			t.Error("expected next handler to run")
		}
	})

	t.Run("storage failure degrades to anonymous", func(t *testing.T) {
		store := &fakeStore{err: errors.New("connection refused")}
		reached := false
		handler := LoadToken(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reached = true
		}))

		req := httptest.NewRequest("GET", "/widgets", nil)
		req.Header.Set("Authorization", "Bearer satchel_abc")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if !reached {
			t.Error("expected next handler to run")
		}
	})
}

func TestScopeAuthorizer(t *testing.T) {
	authorizer := &ScopeAuthorizer{}

	withToken := func(token *auth.Token) *http.Request {
		req := httptest.NewRequest("GET", "/widgets", nil)
		if token == nil {
			return req
		}
		store := &fakeStore{token: token}
		var out *http.Request
		LoadToken(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out = r
		})).ServeHTTP(httptest.NewRecorder(), func() *http.Request {
			req.Header.Set("Authorization", "Bearer "+token.Secret)
			return req
		}())
		return out
	}

	t.Run("grants matching scope", func(t *testing.T) {
		token := &auth.Token{
			Secret: "satchel_abc",
			Scopes: []auth.Grant{{Type: auth.ScopePackageReadWrite, Values: []string{"widgets"}}},
		}
		if err := authorizer.Authorize(withToken(token), auth.OpWrite, auth.EntityPackage, "widgets"); err != nil {
			t.Errorf("expected grant, got %v", err)
		}
	})

	t.Run("denies anonymous with 403", func(t *testing.T) {
		err := authorizer.Authorize(withToken(nil), auth.OpRead, auth.EntityPackage, "widgets")
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthError, got %v", err)
		}
		if authErr.Status != http.StatusForbidden || authErr.Message != "Forbidden" {
			t.Errorf("unexpected denial: %+v", authErr)
		}
	})

	t.Run("denies on entity mismatch", func(t *testing.T) {
		token := &auth.Token{
			Secret: "satchel_abc",
			Scopes: []auth.Grant{{Type: auth.ScopeUserReadWrite, Values: []string{"*"}}},
		}
		if err := authorizer.Authorize(withToken(token), auth.OpRead, auth.EntityPackage, "widgets"); err == nil {
			t.Error("expected denial")
		}
	})
}

func TestMasterKeyAuthorizer(t *testing.T) {
	op, entity := auth.OpWrite, auth.EntityToken

	request := func(key string) *http.Request {
		req := httptest.NewRequest("POST", "/tokens", nil)
		if key != "" {
			req.Header.Set(MasterKeyHeader, key)
		}
		return req
	}

	assertDenied := func(t *testing.T, err error, message string) {
		t.Helper()
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthError, got %v", err)
		}
		if authErr.Status != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", authErr.Status)
		}
		if authErr.Message != message {
			t.Errorf("message = %q, want %q", authErr.Message, message)
		}
	}

	t.Run("valid key grants", func(t *testing.T) {
		authorizer := &MasterKeyAuthorizer{Key: "hunter2"}
		if err := authorizer.Authorize(request("hunter2"), op, entity, "*"); err != nil {
			t.Errorf("expected grant, got %v", err)
		}
	})

	t.Run("unset key denies everything", func(t *testing.T) {
		authorizer := &MasterKeyAuthorizer{}
		err := authorizer.Authorize(request("anything"), op, entity, "*")
		assertDenied(t, err, "Master key is not set, please set the SATCHEL_MASTER_KEY environment variable")
	})

	t.Run("missing header denied", func(t *testing.T) {
		authorizer := &MasterKeyAuthorizer{Key: "hunter2"}
		err := authorizer.Authorize(request(""), op, entity, "*")
		assertDenied(t, err, "Missing 'X-Master-Key' header")
	})

	t.Run("wrong key denied", func(t *testing.T) {
		authorizer := &MasterKeyAuthorizer{Key: "hunter2"}
		err := authorizer.Authorize(request("hunter3"), op, entity, "*")
		assertDenied(t, err, "Invalid master key")
	})
}

func TestDeny(t *testing.T) {
	t.Run("writes AuthError status and message", func(t *testing.T) {
		w := httptest.NewRecorder()
		Deny(w, &AuthError{Status: http.StatusUnauthorized, Message: "Invalid master key"})

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", w.Code)
		}
		if w.Body.String() != "{\"error\":\"Invalid master key\"}\n" {
			t.Errorf("unexpected body: %s", w.Body.String())
		}
	})

	t.Run("non-AuthError falls back to 403", func(t *testing.T) {
		w := httptest.NewRecorder()
		Deny(w, errors.New("boom"))

		if w.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", w.Code)
		}
	})
}
