// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, request parsing, and request-scoped
// middleware (logging, panic recovery).
package httputil
