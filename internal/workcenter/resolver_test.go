package workcenter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	byNumber map[string]int64
	calls    int
}

func (f *fakeStore) WorkCenterIDByNumber(ctx context.Context, number string) (int64, bool, error) {
	f.calls++
	id, ok := f.byNumber[number]
	return id, ok, nil
}

func (f *fakeStore) WorkCenterIDsByNumbers(ctx context.Context, numbers []string) (map[string]int64, error) {
	f.calls++
	out := map[string]int64{}
	for _, n := range numbers {
		if id, ok := f.byNumber[n]; ok {
			out[n] = id
		}
	}
	return out, nil
}

func TestResolve_ExactMatch(t *testing.T) {
	store := &fakeStore{byNumber: map[string]int64{"80000001": 1}}
	r := New(store, map[string]string{"MILL01": "80000001"})

	id, ok, err := r.Resolve(context.Background(), "MILL01")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestResolve_PrefixFallback(t *testing.T) {
	store := &fakeStore{byNumber: map[string]int64{"80000002": 2}}
	r := New(store, map[string]string{"LATHE": "80000002"})

	id, ok, err := r.Resolve(context.Background(), "LATHE-03")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)
}

func TestResolve_PrefixTooShortIsIgnored(t *testing.T) {
	store := &fakeStore{byNumber: map[string]int64{"80000003": 3}}
	r := New(store, map[string]string{"L": "80000003"})

	_, ok, err := r.Resolve(context.Background(), "LATHE-03")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve_UnknownCodeCachesMiss(t *testing.T) {
	store := &fakeStore{byNumber: map[string]int64{}}
	r := New(store, map[string]string{})

	_, ok, err := r.Resolve(context.Background(), "UNKNOWN")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = r.Resolve(context.Background(), "UNKNOWN")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, store.calls, "second resolve of a miss should not hit the store")
}

func TestResolve_CachesHitAcrossCalls(t *testing.T) {
	store := &fakeStore{byNumber: map[string]int64{"80000001": 1}}
	r := New(store, map[string]string{"MILL01": "80000001"})

	_, _, err := r.Resolve(context.Background(), "MILL01")
	require.NoError(t, err)
	callsAfterFirst := store.calls

	_, _, err = r.Resolve(context.Background(), "MILL01")
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, store.calls, "second resolve should be served from cache")
}

func TestWarmupCache_ResolvesAllMappingEntriesInOneCall(t *testing.T) {
	store := &fakeStore{byNumber: map[string]int64{"80000001": 1, "80000002": 2}}
	r := New(store, map[string]string{"MILL01": "80000001", "LATHE02": "80000002"})

	require.NoError(t, r.WarmupCache(context.Background()))
	assert.Equal(t, 1, store.calls)

	id, ok, err := r.Resolve(context.Background(), "MILL01")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, 1, store.calls, "resolve after warmup should not hit the store again")
}

func TestUpdateMapping_ClearsCache(t *testing.T) {
	store := &fakeStore{byNumber: map[string]int64{"80000001": 1, "80000099": 9}}
	r := New(store, map[string]string{"MILL01": "80000001"})

	_, _, err := r.Resolve(context.Background(), "MILL01")
	require.NoError(t, err)

	r.UpdateMapping(map[string]string{"MILL01": "80000099"})

	id, ok, err := r.Resolve(context.Background(), "MILL01")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(9), id)
}
