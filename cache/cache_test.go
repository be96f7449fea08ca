package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), ttl, nil)
	require.NoError(t, err)
	return store
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	store := newTestStore(t, time.Hour)
	key := Fingerprint("psyche", KindOutlays, []string{"AWD-1"}, "v1")
	value := json.RawMessage(`[{"fiscal_year":2020}]`)

	require.NoError(t, store.Put("psyche", KindOutlays, key, value))

	got, ok := store.Get("psyche", KindOutlays, key)
	require.True(t, ok)
	assert.JSONEq(t, string(value), string(got))
}

func TestStore_MissOnUnknownKey(t *testing.T) {
	store := newTestStore(t, time.Hour)
	_, ok := store.Get("psyche", KindOutlays, Fingerprint("psyche", KindOutlays, nil, "v1"))
	assert.False(t, ok)
}

func TestStore_ExpiredEntryIsMiss(t *testing.T) {
	store := newTestStore(t, time.Minute)
	key := Fingerprint("psyche", KindOutlays, []string{"AWD-1"}, "v1")
	require.NoError(t, store.Put("psyche", KindOutlays, key, json.RawMessage(`[]`)))

	// Advance the clock past the TTL; expiry is checked at read time.
	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, ok := store.Get("psyche", KindOutlays, key)
	assert.False(t, ok)
}

func TestStore_ZeroTTLNeverExpires(t *testing.T) {
	store := newTestStore(t, 0)
	key := Fingerprint("psyche", KindOutlays, []string{"AWD-1"}, "v1")
	require.NoError(t, store.Put("psyche", KindOutlays, key, json.RawMessage(`[]`)))

	store.now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }
	_, ok := store.Get("psyche", KindOutlays, key)
	assert.True(t, ok)
}

func TestStore_CorruptEntryIsMiss(t *testing.T) {
	store := newTestStore(t, time.Hour)
	key := Fingerprint("psyche", KindOutlays, []string{"AWD-1"}, "v1")
	require.NoError(t, store.Put("psyche", KindOutlays, key, json.RawMessage(`[]`)))

	require.NoError(t, os.WriteFile(store.entryPath("psyche", KindOutlays, key), []byte("{truncated"), 0o644))
	_, ok := store.Get("psyche", KindOutlays, key)
	assert.False(t, ok)
}

func TestStore_NewFingerprintSupersedes(t *testing.T) {
	store := newTestStore(t, time.Hour)
	oldKey := Fingerprint("psyche", KindOutlays, []string{"AWD-1"}, "v1")
	newKey := Fingerprint("psyche", KindOutlays, []string{"AWD-1", "AWD-2"}, "v1")

	require.NoError(t, store.Put("psyche", KindOutlays, oldKey, json.RawMessage(`["old"]`)))
	require.NoError(t, store.Put("psyche", KindOutlays, newKey, json.RawMessage(`["new"]`)))

	// Entries are append-only: the old fingerprint still resolves, the
	// new one resolves independently.
	got, ok := store.Get("psyche", KindOutlays, oldKey)
	require.True(t, ok)
	assert.JSONEq(t, `["old"]`, string(got))

	got, ok = store.Get("psyche", KindOutlays, newKey)
	require.True(t, ok)
	assert.JSONEq(t, `["new"]`, string(got))
}

func TestStore_ConcurrentReaderNeverSeesTornValue(t *testing.T) {
	store := newTestStore(t, time.Hour)
	key := Fingerprint("psyche", KindOutlays, []string{"AWD-1"}, "v1")

	// Large enough that a non-atomic write would be observable mid-copy.
	valueA := json.RawMessage(`{"series":"` + strings.Repeat("a", 8192) + `"}`)
	valueB := json.RawMessage(`{"series":"` + strings.Repeat("b", 8192) + `"}`)
	require.NoError(t, store.Put("psyche", KindOutlays, key, valueA))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			v := valueA
			if i%2 == 1 {
				v = valueB
			}
			if err := store.Put("psyche", KindOutlays, key, v); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	// A torn entry would fail to unmarshal and surface as a miss, and a
	// partial value would match neither complete payload.
	for i := 0; i < 500; i++ {
		got, ok := store.Get("psyche", KindOutlays, key)
		require.True(t, ok, "reader must always see a complete entry")
		require.True(t,
			string(got) == string(valueA) || string(got) == string(valueB),
			"read a torn value")
	}
	<-done
}

func TestStore_CommitLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, time.Hour, nil)
	require.NoError(t, err)

	key := Fingerprint("psyche", KindOutlays, []string{"AWD-1"}, "v1")
	require.NoError(t, store.Put("psyche", KindOutlays, key, json.RawMessage(`[]`)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, strings.HasPrefix(entries[0].Name(), ".tmp-"))
	assert.Equal(t, ".json", filepath.Ext(entries[0].Name()))
}
