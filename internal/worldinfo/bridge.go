package worldinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/seralys/lorekeeper/internal/record"
)

const (
	refreshAttempts = 3
	refreshDelay    = time.Second
)

// Bridge maps subject names onto managed lorebook entries. Reads go to the
// local cache first and fall through to the store; writes go through to the
// store with a verification read, and survive store outages as local
// pending entries that the next successful Put resubmits alongside itself.
type Bridge struct {
	mu         sync.Mutex
	client     *Client
	collection string
	cachePath  string

	entries map[string]Entry
	pending map[string]bool
	loaded  bool

	now   func() time.Time
	sleep func(time.Duration)
}

// NewBridge builds a bridge over the given store collection. cachePath may
// be empty to disable disk persistence. A persisted cache from an earlier
// run is loaded immediately.
func NewBridge(client *Client, collection, cachePath string) *Bridge {
	b := &Bridge{
		client:     client,
		collection: collection,
		cachePath:  cachePath,
		entries:    map[string]Entry{},
		pending:    map[string]bool{},
		now:        time.Now,
		sleep:      time.Sleep,
	}
	b.loadDisk()
	return b
}

// diskCache is the persisted cache file layout.
type diskCache struct {
	Collection string           `json:"collection"`
	SavedAt    time.Time        `json:"saved-at"`
	Entries    map[string]Entry `json:"entries"`
	Pending    []string         `json:"pending,omitempty"`
}

func (b *Bridge) loadDisk() {
	if b.cachePath == "" {
		return
	}
	data, err := os.ReadFile(b.cachePath)
	if err != nil {
		return
	}
	var dc diskCache
	if err = json.Unmarshal(data, &dc); err != nil {
		log.Warnf("discarding unreadable lorebook cache %s: %v", b.cachePath, err)
		return
	}
	if dc.Collection != b.collection {
		return
	}
	for name, e := range dc.Entries {
		b.entries[name] = e
	}
	for _, name := range dc.Pending {
		b.pending[name] = true
	}
	log.Debugf("loaded %d cached lorebook entries from disk", len(b.entries))
}

// persistDisk must be called with the lock held.
func (b *Bridge) persistDisk() {
	if b.cachePath == "" {
		return
	}
	dc := diskCache{Collection: b.collection, SavedAt: b.now(), Entries: b.entries}
	for name := range b.pending {
		dc.Pending = append(dc.Pending, name)
	}
	sort.Strings(dc.Pending)
	data, err := json.MarshalIndent(dc, "", "  ")
	if err != nil {
		return
	}
	if err = os.MkdirAll(filepath.Dir(b.cachePath), 0o755); err != nil {
		log.Warnf("cannot create lorebook cache directory: %v", err)
		return
	}
	tmp := b.cachePath + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		log.Warnf("cannot persist lorebook cache: %v", err)
		return
	}
	if err = os.Rename(tmp, b.cachePath); err != nil {
		log.Warnf("cannot persist lorebook cache: %v", err)
	}
}

// ensureLoaded pulls the remote book into the cache once. A store failure is
// tolerated when the disk cache already provided entries.
func (b *Bridge) ensureLoaded(ctx context.Context) error {
	if b.loaded {
		return nil
	}
	book, err := b.client.Fetch(ctx, b.collection)
	if err != nil {
		if len(b.entries) > 0 {
			log.Warnf("lorebook store unavailable, serving %d cached entries: %v", len(b.entries), err)
			b.loaded = true
			return nil
		}
		return err
	}
	b.absorb(book)
	b.loaded = true
	return nil
}

// absorb replaces the cached managed entries with the remote book's, keeping
// pending local entries the store has not accepted yet. Must hold the lock.
func (b *Bridge) absorb(book *Book) {
	kept := map[string]Entry{}
	for name := range b.pending {
		if e, ok := b.entries[name]; ok {
			kept[name] = e
		}
	}
	b.entries = kept
	for name, e := range newestByName(book) {
		if _, isPending := b.pending[name]; !isPending {
			b.entries[name] = e
		}
	}
	b.persistDisk()
}

// newestByName collapses a book to one managed entry per subject. Saves mint
// a fresh UID, so a book can hold several entries with the same label; the
// highest UID is the latest write and wins.
func newestByName(book *Book) map[string]Entry {
	byName := make(map[string]Entry, len(book.Entries))
	for _, e := range book.Entries {
		name, ok := NameFromLabel(e.Comment)
		if !ok {
			continue
		}
		if prev, seen := byName[name]; seen && prev.UID >= e.UID {
			continue
		}
		byName[name] = e
	}
	return byName
}

// Get returns the profile for a subject, reading through to the store when
// the cache has no answer yet. Reads never fail: an unreachable store with
// an empty cache reads as a miss, logged for the operator.
func (b *Bridge) Get(ctx context.Context, name string) (record.Profile, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[name]; ok {
		p, _, parsed := record.Parse(e.Content)
		return p, parsed
	}
	if err := b.ensureLoaded(ctx); err != nil {
		log.Warnf("lorebook read-through failed, treating %q as a miss: %v", name, err)
		return record.Profile{}, false
	}
	e, ok := b.entries[name]
	if !ok {
		return record.Profile{}, false
	}
	p, _, parsed := record.Parse(e.Content)
	return p, parsed
}

// Put writes a profile through to the store: fetch the latest book, upsert
// the managed entry and any pending local entries, save, then verify the
// write with a fresh read. A store failure keeps the entry locally and marks
// it pending so a later Put or Flush resubmits it.
func (b *Bridge) Put(ctx context.Context, name string, p record.Profile) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.localEntry(name, p)
	if err := b.putRemote(ctx, map[string]Entry{name: entry}); err != nil {
		b.entries[name] = entry
		b.pending[name] = true
		b.persistDisk()
		return fmt.Errorf("profile for %q kept locally, store write failed: %w", name, err)
	}

	b.entries[name] = entry
	delete(b.pending, name)
	b.loaded = true
	b.persistDisk()
	return nil
}

// localEntry builds the entry to write, reusing the UID of an existing entry
// so history stays attached. Must hold the lock.
func (b *Bridge) localEntry(name string, p record.Profile) Entry {
	uid := b.now().UnixMilli()
	if existing, ok := b.entries[name]; ok {
		uid = existing.UID
	}
	return Entry{
		UID:     uid,
		Keys:    []string{name},
		Comment: LabelFor(name),
		Content: p.Block(),
	}
}

// putRemote upserts the given entries plus all pending local entries into
// the remote book and verifies the save. Must hold the lock.
func (b *Bridge) putRemote(ctx context.Context, upserts map[string]Entry) error {
	book, err := b.client.Fetch(ctx, b.collection)
	if err != nil {
		return err
	}
	for name := range b.pending {
		if e, ok := b.entries[name]; ok {
			upserts[name] = e
		}
	}
	for _, e := range upserts {
		book.Entries[strconv.FormatInt(e.UID, 10)] = e
	}
	if err = b.client.Save(ctx, book); err != nil {
		return err
	}

	verify, err := b.client.Fetch(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("verification read failed: %w", err)
	}
	for _, e := range upserts {
		got, ok := verify.Entries[strconv.FormatInt(e.UID, 10)]
		if !ok || got.Content != e.Content {
			return fmt.Errorf("verification failed for entry %d", e.UID)
		}
	}

	// The save went through, so pending entries are remote now.
	for name := range upserts {
		delete(b.pending, name)
	}
	return nil
}

// Flush resubmits pending local entries without writing anything new.
func (b *Bridge) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.putRemote(ctx, map[string]Entry{}); err != nil {
		return err
	}
	b.persistDisk()
	return nil
}

// Pending lists subject names held locally because the store rejected them.
func (b *Bridge) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.pending))
	for name := range b.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invalidate drops one subject from the cache so the next Get re-reads the
// store.
func (b *Bridge) Invalidate(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, name)
	delete(b.pending, name)
	b.loaded = false
	b.persistDisk()
}

// ClearAll wipes the cache and its disk file. Remote entries are untouched.
func (b *Bridge) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = map[string]Entry{}
	b.pending = map[string]bool{}
	b.loaded = false
	if b.cachePath != "" {
		_ = os.Remove(b.cachePath)
	}
}

// Refresh discards the cache and reloads the book from the store, retrying
// transient failures a few times before giving up.
func (b *Bridge) Refresh(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= refreshAttempts; attempt++ {
		book, err := b.client.Fetch(ctx, b.collection)
		if err == nil {
			b.absorb(book)
			b.loaded = true
			return nil
		}
		lastErr = err
		if attempt < refreshAttempts {
			log.Warnf("lorebook refresh attempt %d/%d failed, retrying: %v", attempt, refreshAttempts, err)
			b.sleep(refreshDelay)
		}
	}
	return fmt.Errorf("lorebook refresh failed after %d attempts: %w", refreshAttempts, lastErr)
}

// Profile sources for the merged listing.
const (
	SourceRemote = "remote"
	SourceCache  = "cache"
)

// NamedProfile pairs a subject name with its parsed profile and where the
// winning copy came from.
type NamedProfile struct {
	Name    string         `json:"name"`
	UID     int64          `json:"uid"`
	Source  string         `json:"source"`
	Profile record.Profile `json:"profile"`
}

// Merged returns every known profile, remote state winning over local cache,
// sorted by subject name. When the store is unreachable the cached entries
// are served alone.
func (b *Bridge) Merged(ctx context.Context) ([]NamedProfile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make(map[string]Entry, len(b.entries))
	source := make(map[string]string, len(b.entries))
	for name, e := range b.entries {
		merged[name] = e
		source[name] = SourceCache
	}
	book, err := b.client.Fetch(ctx, b.collection)
	if err != nil {
		log.Warnf("lorebook store unavailable, merged view is cache-only: %v", err)
	} else {
		for name, e := range newestByName(book) {
			merged[name] = e
			source[name] = SourceRemote
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]NamedProfile, 0, len(names))
	for _, name := range names {
		e := merged[name]
		p, _, ok := record.Parse(e.Content)
		if !ok {
			continue
		}
		out = append(out, NamedProfile{Name: name, UID: e.UID, Source: source[name], Profile: p})
	}
	return out, nil
}
