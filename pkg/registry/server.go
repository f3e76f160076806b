package registry

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/satchel/pkg/httputil"
	"github.com/platinummonkey/satchel/pkg/middleware"
	"github.com/platinummonkey/satchel/pkg/observability"
)

// DefaultFallbackRegistry is the upstream proxied to for packages with no
// local record
const DefaultFallbackRegistry = "https://registry.npmjs.org"

// Config carries the server's collaborators and deployment choices
type Config struct {
	// FallbackRegistry is the base URL of the upstream public registry.
	// Defaults to DefaultFallbackRegistry.
	FallbackRegistry string

	// TokenAuthorizer guards the token-management endpoints. Defaults to
	// scope-based checks; deployments may inject a MasterKeyAuthorizer
	// instead. The two strategies are never layered.
	TokenAuthorizer middleware.Authorizer

	// HTTPClient performs upstream proxy requests
	HTTPClient *http.Client

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the registry HTTP API
type Server struct {
	packages PackageStore
	tokens   TokenStore
	blobs    BlobStore

	router   *mux.Router
	handler  http.Handler
	upstream *url.URL
	client   *http.Client

	pkgAuthz   middleware.Authorizer
	tokenAuthz middleware.Authorizer

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewServer creates a registry server over the given stores
func NewServer(packages PackageStore, tokens TokenStore, blobs BlobStore, cfg Config) (*Server, error) {
	fallback := cfg.FallbackRegistry
	if fallback == "" {
		fallback = DefaultFallbackRegistry
	}
	upstream, err := url.Parse(fallback)
	if err != nil {
		return nil, fmt.Errorf("invalid fallback registry URL: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	s := &Server{
		packages: packages,
		tokens:   tokens,
		blobs:    blobs,
		router:   mux.NewRouter(),
		upstream: upstream,
		client:   client,
		pkgAuthz: &middleware.ScopeAuthorizer{Metrics: cfg.Metrics},
		logger:   logger,
		metrics:  cfg.Metrics,
	}

	s.tokenAuthz = cfg.TokenAuthorizer
	if s.tokenAuthz == nil {
		s.tokenAuthz = s.pkgAuthz
	}

	// Match on encoded paths so scoped package names (@org%2Fname) stay a
	// single segment.
	s.router.UseEncodedPath()
	s.setupRoutes()

	// Token resolution runs on every request; the access decision itself is
	// made per-handler, so anonymous requests still reach the fallback proxy.
	handler := middleware.LoadToken(tokens)(s.router)
	if s.metrics != nil {
		handler = s.metrics.Middleware(handler)
	}
	handler = httputil.RecoveryMiddleware(logger)(handler)
	handler = httputil.LoggingMiddleware(logger)(handler)
	s.handler = handler

	return s, nil
}

// setupRoutes configures all API routes. Token routes are registered first
// so their fixed prefixes win over the catch-all package routes.
func (s *Server) setupRoutes() {
	s.registerTokenRoutes(s.router.PathPrefix("/-/npm/v1").Subrouter())
	s.registerTokenRoutes(s.router)

	s.router.HandleFunc("/{scope}/{package}/-/{tarballScope}/{tarball}", s.getTarball).Methods("GET")
	s.router.HandleFunc("/{package}/-/{tarball}", s.getTarball).Methods("GET")
	s.router.HandleFunc("/{package}", s.getPackage).Methods("GET")
	s.router.HandleFunc("/{package}", s.putPackage).Methods("PUT")
}

// registerTokenRoutes mounts the token lifecycle endpoints under r. They are
// mounted twice: at the npm CLI path /-/npm/v1/tokens and at the bare
// /tokens alias.
func (s *Server) registerTokenRoutes(r *mux.Router) {
	r.HandleFunc("/tokens", s.createToken).Methods("POST")
	r.HandleFunc("/tokens", s.listTokens).Methods("GET")
	r.HandleFunc("/tokens/token/{secret}", s.getToken).Methods("GET")
	r.HandleFunc("/tokens/token/{secret}", s.deleteToken).Methods("DELETE")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
