package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/satchel/pkg/auth"
	"github.com/platinummonkey/satchel/pkg/contextkeys"
	"github.com/platinummonkey/satchel/pkg/httputil"
	"github.com/platinummonkey/satchel/pkg/observability"
)

// LoadToken resolves the Authorization bearer secret to a token and attaches
// it to the request context. Absent or malformed headers and unknown secrets
// all yield an anonymous request; the 403 for anonymous callers is produced
// by the access guard, never here.
func LoadToken(store auth.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				// Malformed header: anonymous, no storage lookup
				next.ServeHTTP(w, r)
				return
			}

			token, err := store.GetToken(r.Context(), parts[1])
			if err != nil {
				if !errors.Is(err, auth.ErrTokenNotFound) {
					observability.FromContext(r.Context()).WithError(err).Error("token lookup failed")
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := contextkeys.WithToken(r.Context(), token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest returns the token resolved by LoadToken, or nil for
// anonymous requests
func TokenFromRequest(r *http.Request) *auth.Token {
	token, ok := r.Context().Value(contextkeys.TokenKey).(*auth.Token)
	if !ok {
		return nil
	}
	return token
}

// AuthError is a denial produced by an Authorizer, carrying the HTTP status
// the transport layer should map it to
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// Authorizer decides whether a request may perform an operation on a named
// entity. Implementations must not produce side effects; handlers invoke
// them before any validation or storage mutation.
type Authorizer interface {
	Authorize(r *http.Request, op auth.Operation, entity auth.Entity, target string) error
}

// ScopeAuthorizer grants access based on the scope grants of the resolved
// bearer token. Anonymous requests are always denied.
type ScopeAuthorizer struct {
	Metrics *observability.Metrics
}

// Authorize implements Authorizer
func (a *ScopeAuthorizer) Authorize(r *http.Request, op auth.Operation, entity auth.Entity, target string) error {
	if TokenFromRequest(r).Can(op, entity, target) {
		return nil
	}
	if a.Metrics != nil {
		a.Metrics.AuthDenialsTotal.WithLabelValues(string(entity), string(op)).Inc()
	}
	return &AuthError{Status: http.StatusForbidden, Message: "Forbidden"}
}

// MasterKeyHeader conveys the administrative bypass key
const MasterKeyHeader = "X-Master-Key"

// MasterKeyAuthorizer grants access based on a deployment-wide master key.
// It is a parallel, coarser strategy for the token-management endpoints and
// ignores the requested operation entirely: either the caller holds the key
// or it does not. Deployments choose this or scope checks, never both.
type MasterKeyAuthorizer struct {
	Key string
}

// Authorize implements Authorizer
func (a *MasterKeyAuthorizer) Authorize(r *http.Request, op auth.Operation, entity auth.Entity, target string) error {
	if a.Key == "" {
		return &AuthError{
			Status:  http.StatusUnauthorized,
			Message: "Master key is not set, please set the SATCHEL_MASTER_KEY environment variable",
		}
	}

	provided := r.Header.Get(MasterKeyHeader)
	if provided == "" {
		return &AuthError{
			Status:  http.StatusUnauthorized,
			Message: "Missing 'X-Master-Key' header",
		}
	}

	if subtle.ConstantTimeCompare([]byte(provided), []byte(a.Key)) != 1 {
		return &AuthError{Status: http.StatusUnauthorized, Message: "Invalid master key"}
	}

	return nil
}

// Deny writes the HTTP response for an Authorizer denial
func Deny(w http.ResponseWriter, err error) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		httputil.WriteErrorMessage(w, authErr.Status, authErr.Message)
		return
	}
	httputil.WriteForbidden(w, "Forbidden")
}
