// Package storage provides the persistence backends for the registry:
// blob stores for tarballs (filesystem, S3) and shared configuration for
// the SQL stores in the sqlite and postgres subpackages.
package storage
