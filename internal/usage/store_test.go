package usage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCounters(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	store.RecordRequest("a@x", "claude")
	store.RecordRequest("a@x", "claude")
	store.RecordRequest("a@x", "gemini")
	store.RecordRateLimit("a@x", "claude")
	store.RecordRequest("b@x", "gemini")

	snapshot := store.Snapshot()
	byKey := make(map[string]Counters, len(snapshot))
	for _, entry := range snapshot {
		byKey[entry.Key] = entry
	}

	require.Len(t, byKey, 3)
	assert.Equal(t, uint64(2), byKey["a@x/claude"].Requests)
	assert.Equal(t, uint64(1), byKey["a@x/claude"].RateLimits)
	assert.Equal(t, uint64(1), byKey["a@x/gemini"].Requests)
	assert.Equal(t, uint64(1), byKey["b@x/gemini"].Requests)
	assert.Zero(t, byKey["b@x/gemini"].RateLimits)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	store, err := Open(path)
	require.NoError(t, err)
	store.RecordRequest("a@x", "claude")
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	store.RecordRequest("a@x", "claude")

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, uint64(2), snapshot[0].Requests)
}

func TestNilStoreSafe(t *testing.T) {
	var store *Store
	store.RecordRequest("a@x", "claude")
	store.RecordRateLimit("a@x", "claude")
	assert.Nil(t, store.Snapshot())
	assert.NoError(t, store.Close())
}
