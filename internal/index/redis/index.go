// Package redis provides a Redis implementation of the subscription index.
// Each keyword is a set of owner IDs stored at <prefix>kw:<keyword>.
package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissquit/job-alerts/internal/index"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	liveSegment = "kw:"
	tempSegment = "kwtmp:"
	scanCount   = 500
	addChunk    = 1000
)

// Index implements index.Index on Redis sets.
type Index struct {
	client *redis.Client
	prefix string
}

// NewIndex creates a new Redis-backed index.
func NewIndex(client *redis.Client, prefix string) *Index {
	return &Index{client: client, prefix: prefix}
}

func (i *Index) key(keyword string) string {
	return i.prefix + liveSegment + keyword
}

// Apply runs all removals and additions of m in one MULTI/EXEC.
func (i *Index) Apply(ctx context.Context, m index.Mutation) error {
	if m.IsEmpty() {
		return nil
	}

	_, err := i.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, kw := range m.Remove {
			pipe.SRem(ctx, i.key(kw), m.OwnerID)
		}
		for _, kw := range m.Add {
			pipe.SAdd(ctx, i.key(kw), m.OwnerID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply index mutation: %w: %w", index.ErrUnavailable, err)
	}
	return nil
}

// Owners returns SUNION of the keyword sets.
func (i *Index) Owners(ctx context.Context, keywords []string) ([]string, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		keys = append(keys, i.key(kw))
	}

	owners, err := i.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("union keyword sets: %w: %w", index.ErrUnavailable, err)
	}
	return owners, nil
}

// Members returns the owners of one keyword.
func (i *Index) Members(ctx context.Context, keyword string) ([]string, error) {
	owners, err := i.client.SMembers(ctx, i.key(keyword)).Result()
	if err != nil {
		return nil, fmt.Errorf("read keyword set: %w: %w", index.ErrUnavailable, err)
	}
	return owners, nil
}

// Replace builds every set under a temporary key, renames them over the live
// keys inside MULTI, and deletes live keys that are not part of entries.
func (i *Index) Replace(ctx context.Context, entries map[string][]string) (index.ReplaceStats, error) {
	for kw, owners := range entries {
		if len(owners) == 0 {
			delete(entries, kw)
		}
	}

	run := uuid.NewString()
	tempKey := func(kw string) string {
		return i.prefix + tempSegment + run + ":" + kw
	}

	if err := i.writeTemp(ctx, entries, tempKey); err != nil {
		i.dropTemp(ctx, entries, tempKey)
		return index.ReplaceStats{}, err
	}

	stale, err := i.staleKeys(ctx, entries)
	if err != nil {
		i.dropTemp(ctx, entries, tempKey)
		return index.ReplaceStats{}, err
	}

	_, err = i.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for kw := range entries {
			pipe.Rename(ctx, tempKey(kw), i.key(kw))
		}
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		return nil
	})
	if err != nil {
		i.dropTemp(ctx, entries, tempKey)
		return index.ReplaceStats{}, fmt.Errorf("swap index keys: %w", err)
	}

	return index.ReplaceStats{Keywords: len(entries), Removed: len(stale)}, nil
}

func (i *Index) writeTemp(ctx context.Context, entries map[string][]string, tempKey func(string) string) error {
	for kw, owners := range entries {
		for start := 0; start < len(owners); start += addChunk {
			end := min(start+addChunk, len(owners))
			members := make([]interface{}, 0, end-start)
			for _, o := range owners[start:end] {
				members = append(members, o)
			}
			if err := i.client.SAdd(ctx, tempKey(kw), members...).Err(); err != nil {
				return fmt.Errorf("write temporary keyword set: %w", err)
			}
		}
	}
	return nil
}

func (i *Index) staleKeys(ctx context.Context, entries map[string][]string) ([]string, error) {
	livePrefix := i.prefix + liveSegment

	var stale []string
	iter := i.client.Scan(ctx, 0, livePrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if _, ok := entries[strings.TrimPrefix(key, livePrefix)]; !ok {
			stale = append(stale, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keyword sets: %w", err)
	}
	return stale, nil
}

func (i *Index) dropTemp(ctx context.Context, entries map[string][]string, tempKey func(string) string) {
	keys := make([]string, 0, len(entries))
	for kw := range entries {
		keys = append(keys, tempKey(kw))
	}
	if len(keys) > 0 {
		_ = i.client.Del(ctx, keys...).Err()
	}
}
