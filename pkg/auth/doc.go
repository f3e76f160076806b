// Package auth defines the registry's authorization model: bearer tokens
// carrying scope grants, and the decision function that answers whether a
// token permits an operation on a named entity.
//
// A grant pairs one of nine enumerated scope types (entity kind x permission
// level) with a set of target identifiers. The literal value "*" matches any
// target. Grants are additive; there is no deny grant, so a request is
// allowed iff any grant matches.
package auth
