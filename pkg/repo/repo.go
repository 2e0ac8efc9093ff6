// Package repo defines a generic keyed repository and a Neo4j-backed
// implementation of it.
package repo

import "context"

// Repository is a generic keyed store of nodes.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Upsert(ctx context.Context, entity T) error
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination and filtering for List operations.
// Filter keys are matched as exact property equality.
type ListOpts struct {
	Offset int
	Limit  int
	Filter map[string]any
}

// DefaultListLimit applies when ListOpts.Limit is not positive.
const DefaultListLimit = 100
