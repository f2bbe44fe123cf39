package ids

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store double for testing the allocator
// without a database.
type fakeStore struct {
	taken map[Entity]map[int64]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{taken: map[Entity]map[int64]bool{}}
}

func (f *fakeStore) reserve(entity Entity, n int64) {
	if f.taken[entity] == nil {
		f.taken[entity] = map[int64]bool{}
	}
	f.taken[entity][n] = true
}

func (f *fakeStore) CountEntities(ctx context.Context, entity Entity) (int64, error) {
	return int64(len(f.taken[entity])), nil
}

func (f *fakeStore) ExistingNumbers(ctx context.Context, entity Entity, candidates []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	for _, c := range candidates {
		if f.taken[entity][c] {
			out[c] = true
		}
	}
	return out, nil
}

func (f *fakeStore) MaxNumber(ctx context.Context, entity Entity) (int64, bool, error) {
	var max int64
	found := false
	for n := range f.taken[entity] {
		if !found || n > max {
			max = n
			found = true
		}
	}
	return max, found, nil
}

func TestGenerateBatch_ReturnsUniqueUnallocatedNumbers(t *testing.T) {
	store := newFakeStore()
	alloc := New(store)

	nums, err := alloc.GenerateBatch(context.Background(), Part, 30)
	require.NoError(t, err)
	assert.Len(t, nums, 30)

	seen := map[int64]bool{}
	for _, n := range nums {
		assert.False(t, seen[n], "duplicate number returned: %d", n)
		seen[n] = true
		assert.GreaterOrEqual(t, n, ranges[Part].Min)
		assert.LessOrEqual(t, n, ranges[Part].Max)
	}
}

func TestGenerateBatch_AvoidsPreExistingNumbers(t *testing.T) {
	store := newFakeStore()
	// Reserve every other number of the Partner range, so about half of
	// each candidate draw collides with an existing number.
	for n := ranges[Partner].Min; n <= ranges[Partner].Max; n += 2 {
		store.reserve(Partner, n)
	}

	alloc := New(store)
	nums, err := alloc.GenerateBatch(context.Background(), Partner, 5)
	require.NoError(t, err)
	assert.Len(t, nums, 5)
	for _, n := range nums {
		assert.False(t, store.taken[Partner][n])
	}
}

func TestGenerateBatch_InvalidSize(t *testing.T) {
	alloc := New(newFakeStore())

	_, err := alloc.GenerateBatch(context.Background(), Part, 0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	_, err = alloc.GenerateBatch(context.Background(), Part, 1001)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestGenerateBatch_WorkCenterMustUseSequential(t *testing.T) {
	alloc := New(newFakeStore())
	_, err := alloc.GenerateBatch(context.Background(), WorkCenter, 1)
	assert.Error(t, err)
}

func TestGenerateWorkCenterNumber_EmptyRangeReturnsMin(t *testing.T) {
	alloc := New(newFakeStore())
	n, err := alloc.GenerateWorkCenterNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ranges[WorkCenter].Min, n)
}

func TestGenerateWorkCenterNumber_IncrementsFromMax(t *testing.T) {
	store := newFakeStore()
	store.reserve(WorkCenter, 80000050)
	alloc := New(store)

	n, err := alloc.GenerateWorkCenterNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(80000051), n)
}

func TestGenerateWorkCenterNumber_SaturatedRangeFails(t *testing.T) {
	store := newFakeStore()
	store.reserve(WorkCenter, ranges[WorkCenter].Max)
	alloc := New(store)

	_, err := alloc.GenerateWorkCenterNumber(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNumberExhausted))
}

func TestGenerate_SingleNumber(t *testing.T) {
	alloc := New(newFakeStore())
	n, err := alloc.Generate(context.Background(), Batch)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, ranges[Batch].Min)
}
