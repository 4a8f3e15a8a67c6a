package worldinfo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seralys/lorekeeper/internal/record"
)

// fakeStore is an in-memory lorebook server.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	fetches int
	saves   int
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[string]Entry{}}
}

func (f *fakeStore) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failing {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		switch r.URL.Path {
		case GetPath:
			f.fetches++
			_ = json.NewEncoder(w).Encode(map[string]any{"entries": f.entries})
		case EditPath:
			f.saves++
			body, _ := io.ReadAll(r.Body)
			var payload struct {
				Data struct {
					Entries map[string]Entry `json:"entries"`
				} `json:"data"`
			}
			_ = json.Unmarshal(body, &payload)
			f.entries = payload.Data.Entries
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func testBridge(t *testing.T, store *fakeStore) *Bridge {
	t.Helper()
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)
	b := NewBridge(NewClient(srv.Client(), srv.URL), "archive", filepath.Join(t.TempDir(), "cache.json"))
	b.sleep = func(time.Duration) {}
	return b
}

func profileNamed(name string) record.Profile {
	return record.Profile{Name: name, Age: "17", Background: "transfer student"}
}

func TestLabelRoundTrip(t *testing.T) {
	assert.Equal(t, "【档案】Mia", LabelFor("Mia"))
	name, ok := NameFromLabel("【档案】Mia")
	require.True(t, ok)
	assert.Equal(t, "Mia", name)
	_, ok = NameFromLabel("unrelated comment")
	assert.False(t, ok)
}

func TestPutThenGet(t *testing.T) {
	store := newFakeStore()
	b := testBridge(t, store)

	require.NoError(t, b.Put(context.Background(), "Mia", profileNamed("Mia")))
	assert.Equal(t, 1, store.saves)

	got, ok := b.Get(context.Background(), "Mia")
	require.True(t, ok)
	assert.Equal(t, "Mia", got.Name)
	assert.Equal(t, "17", got.Age)

	// The store now holds one managed entry with the label comment.
	require.Len(t, store.entries, 1)
	for _, e := range store.entries {
		assert.Equal(t, "【档案】Mia", e.Comment)
		assert.Contains(t, e.Content, record.OpenTag)
	}
}

func TestPutReusesUID(t *testing.T) {
	store := newFakeStore()
	b := testBridge(t, store)

	require.NoError(t, b.Put(context.Background(), "Mia", profileNamed("Mia")))
	var firstUID int64
	for _, e := range store.entries {
		firstUID = e.UID
	}

	updated := profileNamed("Mia")
	updated.Age = "18"
	require.NoError(t, b.Put(context.Background(), "Mia", updated))
	require.Len(t, store.entries, 1)
	for _, e := range store.entries {
		assert.Equal(t, firstUID, e.UID)
		assert.Contains(t, e.Content, "18")
	}
}

func TestGetReadsThrough(t *testing.T) {
	store := newFakeStore()
	store.entries["1700000000000"] = Entry{
		UID:     1700000000000,
		Comment: LabelFor("Rin"),
		Content: record.Profile{Name: "Rin", Gender: "female"}.Block(),
	}
	b := testBridge(t, store)

	got, ok := b.Get(context.Background(), "Rin")
	require.True(t, ok)
	assert.Equal(t, "female", got.Gender)
	assert.Equal(t, 1, store.fetches)

	// Second read is served from the cache.
	_, ok = b.Get(context.Background(), "Rin")
	assert.True(t, ok)
	assert.Equal(t, 1, store.fetches)
}

func TestGetUnknownName(t *testing.T) {
	store := newFakeStore()
	b := testBridge(t, store)
	_, ok := b.Get(context.Background(), "Nobody")
	assert.False(t, ok)
}

func TestPutStoreFailureKeepsLocalPending(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	b := testBridge(t, store)

	err := b.Put(context.Background(), "Mia", profileNamed("Mia"))
	require.Error(t, err)
	assert.Equal(t, []string{"Mia"}, b.Pending())

	// The profile is still readable locally.
	got, ok := b.Get(context.Background(), "Mia")
	require.True(t, ok)
	assert.Equal(t, "Mia", got.Name)

	// Once the store recovers, Flush resubmits the pending entry.
	store.mu.Lock()
	store.failing = false
	store.mu.Unlock()
	require.NoError(t, b.Flush(context.Background()))
	assert.Empty(t, b.Pending())
	require.Len(t, store.entries, 1)
}

func TestPendingSurvivesRestart(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)
	cachePath := filepath.Join(t.TempDir(), "cache.json")

	b := NewBridge(NewClient(srv.Client(), srv.URL), "archive", cachePath)
	_ = b.Put(context.Background(), "Mia", profileNamed("Mia"))

	// A new bridge over the same cache file sees the pending entry.
	b2 := NewBridge(NewClient(srv.Client(), srv.URL), "archive", cachePath)
	assert.Equal(t, []string{"Mia"}, b2.Pending())
	got, ok := b2.Get(context.Background(), "Mia")
	require.True(t, ok)
	assert.Equal(t, "Mia", got.Name)
}

func TestRefreshRetries(t *testing.T) {
	store := newFakeStore()
	store.entries["1"] = Entry{UID: 1, Comment: LabelFor("Rin"), Content: record.Profile{Name: "Rin"}.Block()}
	b := testBridge(t, store)

	// Fail the first two fetches, succeed on the third.
	calls := 0
	store.failing = true
	b.sleep = func(time.Duration) {
		calls++
		if calls == 2 {
			store.mu.Lock()
			store.failing = false
			store.mu.Unlock()
		}
	}

	require.NoError(t, b.Refresh(context.Background()))
	assert.Equal(t, 2, calls)
	_, ok := b.Get(context.Background(), "Rin")
	assert.True(t, ok)
}

func TestRefreshGivesUp(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	b := testBridge(t, store)
	err := b.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestMergedRemotePriority(t *testing.T) {
	store := newFakeStore()
	b := testBridge(t, store)

	// Local cache holds a stale copy of Rin and a local-only Zoe.
	b.entries["Rin"] = Entry{UID: 1, Comment: LabelFor("Rin"), Content: record.Profile{Name: "Rin", Age: "16"}.Block()}
	b.entries["Zoe"] = Entry{UID: 2, Comment: LabelFor("Zoe"), Content: record.Profile{Name: "Zoe"}.Block()}
	store.entries["1"] = Entry{UID: 1, Comment: LabelFor("Rin"), Content: record.Profile{Name: "Rin", Age: "17"}.Block()}
	store.entries["3"] = Entry{UID: 3, Comment: LabelFor("Ava"), Content: record.Profile{Name: "Ava"}.Block()}
	store.entries["9"] = Entry{UID: 9, Comment: "not ours", Content: "ignored"}

	merged, err := b.Merged(context.Background())
	require.NoError(t, err)
	require.Len(t, merged, 3)
	assert.Equal(t, "Ava", merged[0].Name)
	assert.Equal(t, "Rin", merged[1].Name)
	assert.Equal(t, "Zoe", merged[2].Name)
	// Remote state wins for Rin.
	assert.Equal(t, "17", merged[1].Profile.Age)
	assert.Equal(t, SourceRemote, merged[0].Source)
	assert.Equal(t, SourceRemote, merged[1].Source)
	assert.Equal(t, SourceCache, merged[2].Source)
}

func TestMergedDuplicateLabelsNewestWins(t *testing.T) {
	store := newFakeStore()
	b := testBridge(t, store)

	// Every save mints a fresh UID, so a real book can carry two entries
	// for the same subject. The newest one must win on every call.
	store.entries["100"] = Entry{UID: 100, Comment: LabelFor("Rin"), Content: record.Profile{Name: "Rin", Age: "16"}.Block()}
	store.entries["200"] = Entry{UID: 200, Comment: LabelFor("Rin"), Content: record.Profile{Name: "Rin", Age: "17"}.Block()}

	for i := 0; i < 20; i++ {
		merged, err := b.Merged(context.Background())
		require.NoError(t, err)
		require.Len(t, merged, 1)
		assert.Equal(t, int64(200), merged[0].UID)
		assert.Equal(t, "17", merged[0].Profile.Age)
	}
}

func TestAbsorbDuplicateLabelsNewestWins(t *testing.T) {
	store := newFakeStore()
	store.entries["100"] = Entry{UID: 100, Comment: LabelFor("Rin"), Content: record.Profile{Name: "Rin", Age: "16"}.Block()}
	store.entries["200"] = Entry{UID: 200, Comment: LabelFor("Rin"), Content: record.Profile{Name: "Rin", Age: "17"}.Block()}
	b := testBridge(t, store)

	for i := 0; i < 20; i++ {
		b.Invalidate("Rin")
		got, ok := b.Get(context.Background(), "Rin")
		require.True(t, ok)
		assert.Equal(t, "17", got.Age)
	}
}

func TestInvalidateForcesReread(t *testing.T) {
	store := newFakeStore()
	store.entries["1"] = Entry{UID: 1, Comment: LabelFor("Rin"), Content: record.Profile{Name: "Rin"}.Block()}
	b := testBridge(t, store)

	_, _ = b.Get(context.Background(), "Rin")
	require.Equal(t, 1, store.fetches)

	b.Invalidate("Rin")
	_, ok := b.Get(context.Background(), "Rin")
	assert.True(t, ok)
	assert.Equal(t, 2, store.fetches)
}

func TestClearAllRemovesCacheFile(t *testing.T) {
	store := newFakeStore()
	b := testBridge(t, store)
	require.NoError(t, b.Put(context.Background(), "Mia", profileNamed("Mia")))

	b.ClearAll()
	assert.Empty(t, b.Pending())
	// The remote copy is untouched and read back through.
	_, ok := b.Get(context.Background(), "Mia")
	assert.True(t, ok)
}
