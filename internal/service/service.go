// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes MongoDB or SQLite
//
// Services take repository interfaces, never a concrete store, so the same
// rules run against MongoDB in production, SQLite for single-binary
// deployments, and in-memory fakes in tests.
//
// Services return *apperror.AppError values for every expected failure
// (bad input, conflicts, auth, missing records). Anything else is an
// unexpected failure wrapped with fmt.Errorf and becomes a 500 at the
// handler boundary.
package service

import "github.com/sakif/threadline/internal/repository"

// Pagination bounds for the post list views.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Page clamps client-supplied pagination into repository.ListOptions.
// A non-positive limit means the default.
func Page(limit, offset int) repository.ListOptions {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return repository.ListOptions{Limit: limit, Offset: offset}
}
