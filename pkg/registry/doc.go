// Package registry implements the npm-compatible HTTP surface of the
// Satchel private registry proxy: package publishes, metadata and tarball
// serving with fallback to an upstream public registry, and token lifecycle
// endpoints. Every operation is gated by an access guard before any
// validation or storage effect.
package registry
