package index

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct{ keyword, owner string }

type mockSource struct {
	pairs []pair
	err   error
}

func (m *mockSource) StreamActiveKeywords(_ context.Context, fn func(keyword, ownerID string) error) error {
	if m.err != nil {
		return m.err
	}
	for _, p := range m.pairs {
		if err := fn(p.keyword, p.owner); err != nil {
			return err
		}
	}
	return nil
}

type mockIndex struct {
	replaced map[string][]string
	err      error
}

func (m *mockIndex) Apply(context.Context, Mutation) error { return nil }
func (m *mockIndex) Owners(context.Context, []string) ([]string, error) {
	return nil, nil
}
func (m *mockIndex) Members(context.Context, string) ([]string, error) { return nil, nil }
func (m *mockIndex) Replace(_ context.Context, entries map[string][]string) (ReplaceStats, error) {
	if m.err != nil {
		return ReplaceStats{}, m.err
	}
	m.replaced = entries
	return ReplaceStats{Keywords: len(entries), Removed: 1}, nil
}

func TestRebuilder_Rebuild(t *testing.T) {
	source := &mockSource{pairs: []pair{
		{"golang", "owner-1"},
		{"golang", "owner-2"},
		{"golang", "owner-1"},
		{"python", "owner-1"},
	}}
	idx := &mockIndex{}

	result, err := NewRebuilder(source, idx).Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Keywords)
	assert.Equal(t, 3, result.Entries, "duplicate pairs collapse")
	assert.Equal(t, 1, result.Removed)

	golang := idx.replaced["golang"]
	sort.Strings(golang)
	assert.Equal(t, []string{"owner-1", "owner-2"}, golang)
	assert.Equal(t, []string{"owner-1"}, idx.replaced["python"])
}

func TestRebuilder_SourceError(t *testing.T) {
	idx := &mockIndex{}
	_, err := NewRebuilder(&mockSource{err: errors.New("db down")}, idx).Rebuild(context.Background())
	require.Error(t, err)
	assert.Nil(t, idx.replaced, "index untouched when the store cannot be read")
}

func TestMutation_IsEmpty(t *testing.T) {
	assert.True(t, Mutation{OwnerID: "o"}.IsEmpty())
	assert.False(t, Mutation{OwnerID: "o", Add: []string{"go"}}.IsEmpty())
}
