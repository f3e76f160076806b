// Package middleware provides the request-side of the authorization model:
// resolving bearer secrets to tokens, and the access guard strategies
// (scope-based and master-key) that route handlers consult before doing any
// work.
package middleware
