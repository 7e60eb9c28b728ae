package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Source streams every (keyword, owner) pair backed by an active subscription.
type Source interface {
	StreamActiveKeywords(ctx context.Context, fn func(keyword, ownerID string) error) error
}

// RebuildResult summarizes a rebuild.
type RebuildResult struct {
	Keywords int
	Entries  int
	Removed  int
	Duration time.Duration
}

// Rebuilder reconciles the index with the subscription store.
type Rebuilder struct {
	source Source
	index  Index
}

// NewRebuilder creates a new rebuilder.
func NewRebuilder(source Source, index Index) *Rebuilder {
	return &Rebuilder{source: source, index: index}
}

// Rebuild recomputes the index from the store and swaps it in.
func (r *Rebuilder) Rebuild(ctx context.Context) (*RebuildResult, error) {
	start := time.Now()

	entries := make(map[string][]string)
	seen := make(map[[2]string]struct{})
	total := 0

	err := r.source.StreamActiveKeywords(ctx, func(keyword, ownerID string) error {
		key := [2]string{keyword, ownerID}
		if _, ok := seen[key]; ok {
			return nil
		}
		seen[key] = struct{}{}
		entries[keyword] = append(entries[keyword], ownerID)
		total++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stream active keywords: %w", err)
	}

	stats, err := r.index.Replace(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("replace index: %w", err)
	}

	result := &RebuildResult{
		Keywords: stats.Keywords,
		Entries:  total,
		Removed:  stats.Removed,
		Duration: time.Since(start),
	}

	slog.Info("subscription index rebuilt",
		"keywords", result.Keywords,
		"entries", result.Entries,
		"removed", result.Removed,
		"duration", result.Duration,
	)

	return result, nil
}
