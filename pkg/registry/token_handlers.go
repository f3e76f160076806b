package registry

import (
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/satchel/pkg/auth"
	"github.com/platinummonkey/satchel/pkg/httputil"
	"github.com/platinummonkey/satchel/pkg/middleware"
)

// createTokenRequest is the issuance payload
type createTokenRequest struct {
	Name   string       `json:"name"`
	Scopes []auth.Grant `json:"scopes"`
}

// createToken handles POST /tokens. Issuance authorizes itself recursively:
// the caller needs token:write (or the master key, when that strategy is
// deployed).
func (s *Server) createToken(w http.ResponseWriter, r *http.Request) {
	if err := s.tokenAuthz.Authorize(r, auth.OpWrite, auth.EntityToken, auth.Wildcard); err != nil {
		middleware.Deny(w, err)
		return
	}

	var req createTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := auth.ValidateScopes(req.Scopes); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	secret, err := auth.GenerateSecret()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	now := time.Now().UnixMilli()
	token := &auth.Token{
		Secret:    secret,
		Name:      req.Name,
		Scopes:    req.Scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.tokens.CreateToken(r.Context(), token); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.TokensIssuedTotal.Inc()
	}

	// The only time the plaintext secret is revealed in full: the caller is
	// the one who will use it.
	httputil.WriteCreated(w, token)
}

// listTokens handles GET /tokens
func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	if err := s.tokenAuthz.Authorize(r, auth.OpRead, auth.EntityToken, auth.Wildcard); err != nil {
		middleware.Deny(w, err)
		return
	}

	tokens, err := s.tokens.ListTokens(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if tokens == nil {
		tokens = []*auth.Token{}
	}

	httputil.WriteSuccess(w, tokens)
}

// getToken handles GET /tokens/token/{secret}. The target of the access
// check is the requested secret itself, so a token scoped to its own secret
// can read itself without a wildcard grant. Authorization is checked before
// existence: a caller without read scope gets 403 even for missing secrets.
func (s *Server) getToken(w http.ResponseWriter, r *http.Request) {
	secret, err := httputil.DecodedPathVar(r, "secret")
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	if err := s.tokenAuthz.Authorize(r, auth.OpRead, auth.EntityToken, secret); err != nil {
		middleware.Deny(w, err)
		return
	}

	token, err := s.tokens.GetToken(r.Context(), secret)
	if errors.Is(err, auth.ErrTokenNotFound) {
		httputil.WriteNotFoundError(w, "Not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, token)
}

// deleteToken handles DELETE /tokens/token/{secret}. Revocation is
// idempotent: deleting an absent secret still reports success, since the
// goal (the secret is no longer valid) already holds.
func (s *Server) deleteToken(w http.ResponseWriter, r *http.Request) {
	secret, err := httputil.DecodedPathVar(r, "secret")
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	if err := s.tokenAuthz.Authorize(r, auth.OpWrite, auth.EntityToken, secret); err != nil {
		middleware.Deny(w, err)
		return
	}

	if err := s.tokens.DeleteToken(r.Context(), secret); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.TokensRevokedTotal.Inc()
	}

	httputil.WriteOK(w)
}
