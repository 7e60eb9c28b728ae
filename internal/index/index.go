// Package index maintains the keyword → owner lookup used to find
// subscriptions that could match a job.
package index

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the index backend cannot be reached.
var ErrUnavailable = errors.New("subscription index unavailable")

// Mutation is the full set of index changes caused by one subscription
// write. It is applied atomically.
type Mutation struct {
	OwnerID string
	Remove  []string
	Add     []string
}

// IsEmpty reports whether the mutation changes nothing.
func (m Mutation) IsEmpty() bool {
	return len(m.Remove) == 0 && len(m.Add) == 0
}

// Index is the keyword → owner set store.
type Index interface {
	// Apply removes then adds OwnerID for the given keywords in one atomic step.
	Apply(ctx context.Context, m Mutation) error
	// Owners returns the distinct owners indexed under any of keywords.
	Owners(ctx context.Context, keywords []string) ([]string, error)
	// Members returns the owners indexed under one keyword.
	Members(ctx context.Context, keyword string) ([]string, error)
	// Replace swaps the whole index for entries. Keywords absent from
	// entries are dropped.
	Replace(ctx context.Context, entries map[string][]string) (ReplaceStats, error)
}

// ReplaceStats describes the effect of Replace.
type ReplaceStats struct {
	Keywords int
	Removed  int
}
