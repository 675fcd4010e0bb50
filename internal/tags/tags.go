// Package tags implements C6: reading source tags, merging KV
// overlays over them, and accepting/persisting deltas under a
// per-TrackId logical lock.
//
// grounded on: original_source/tag.rs (TagOverlay::read/apply/remove
// shape — note its TagDelta has a separate set/remove split; this
// package instead follows spec.md §3's simpler model where a
// tombstone is an explicit empty-list sentinel value within the same
// map, not a separate field), internal/meta/extractor.go (dhowden/tag
// usage and canonical-key normalization).
package tags

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dhowden/tag"

	"github.com/musfuse/musfuse/internal/ids"
	"github.com/musfuse/musfuse/internal/kvstore"
	"github.com/musfuse/musfuse/internal/musfuseerr"
)

// TagMap is tag name (canonical uppercase ASCII) -> multi-valued
// strings, per spec.md §3.
type TagMap map[string][]string

// Tombstone returns the delta value that hides a source key: a
// literal empty list, per spec.md §4.6's "explicit tombstone value
// (empty list)". Any empty (possibly nil) value decoded from a delta
// is treated the same way — a client sending a bare `[]` for a key
// must tombstone it without knowing this package's internals.
func Tombstone() []string { return []string{} }

func isTombstone(v []string) bool {
	return len(v) == 0
}

// Clone returns a deep copy of m.
func (m TagMap) Clone() TagMap {
	out := make(TagMap, len(m))
	for k, v := range m {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// TrackCoord identifies the KV-addressable position of a track's
// overlay entry: track:{AlbumId}:{disc}:{index}:overlay.
type TrackCoord struct {
	AlbumId ids.AlbumId
	Disc    int
	Index   int
}

func (c TrackCoord) overlayKey() string {
	return kvstore.TrackOverlayKey(string(c.AlbumId), c.Disc, c.Index)
}

// Engine implements load_effective/apply_delta/evict.
type Engine struct {
	store *kvstore.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs an Engine.
func New(store *kvstore.Store) *Engine {
	return &Engine{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// ReadSourceTags opens the source file and extracts a TagMap
// normalized to canonical ASCII keys. An unsupported container
// returns an empty TagMap, never an error, per spec.md §4.6.
func ReadSourceTags(path string) (TagMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, musfuseerr.Wrapf(musfuseerr.Io, err, "open %s", path)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// dhowden/tag returns an error for unsupported/untagged
		// containers (e.g. a bare WAV); spec.md requires treating
		// this as "no tags," not a failure.
		return TagMap{}, nil
	}

	out := TagMap{}
	addIfNonEmpty(out, "TITLE", m.Title())
	addIfNonEmpty(out, "ARTIST", m.Artist())
	addIfNonEmpty(out, "ALBUM", m.Album())
	addIfNonEmpty(out, "ALBUMARTIST", m.AlbumArtist())
	addIfNonEmpty(out, "GENRE", m.Genre())
	if m.Year() != 0 {
		out["DATE"] = []string{fmt.Sprintf("%d", m.Year())}
	}
	if track, total := m.Track(); track != 0 {
		if total != 0 {
			out["TRACKNUMBER"] = []string{fmt.Sprintf("%d/%d", track, total)}
		} else {
			out["TRACKNUMBER"] = []string{fmt.Sprintf("%d", track)}
		}
	}
	if disc, total := m.Disc(); disc != 0 {
		if total != 0 {
			out["DISCNUMBER"] = []string{fmt.Sprintf("%d/%d", disc, total)}
		} else {
			out["DISCNUMBER"] = []string{fmt.Sprintf("%d", disc)}
		}
	}
	return out, nil
}

func addIfNonEmpty(m TagMap, key, value string) {
	if value != "" {
		m[key] = []string{value}
	}
}

// LoadEffective implements load_effective(TrackId): reads source
// tags, fetches the overlay, and merges per spec.md §3's rule.
func (e *Engine) LoadEffective(ctx context.Context, coord TrackCoord, sourcePath string) (TagMap, error) {
	source, err := ReadSourceTags(sourcePath)
	if err != nil {
		return nil, err
	}

	overlay, err := e.loadOverlay(ctx, coord)
	if err != nil {
		return nil, err
	}

	return merge(source, overlay), nil
}

func merge(source, overlay TagMap) TagMap {
	out := source.Clone()
	for k, v := range overlay {
		if isTombstone(v) {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

func (e *Engine) loadOverlay(ctx context.Context, coord TrackCoord) (TagMap, error) {
	var overlay TagMap
	found, err := kvstore.LoadJSON(ctx, e.store, coord.overlayKey(), &overlay)
	if err != nil {
		return nil, musfuseerr.Wrapf(musfuseerr.Io, err, "load overlay")
	}
	if !found {
		return TagMap{}, nil
	}
	return overlay, nil
}

// retrySchedule is the fixed 10/50/250ms KV-write-conflict retry
// schedule spec.md §9's Open Question (c) names as a reasonable
// default, distinct from internal/util/retry.go's exponential
// filesystem-retry scheme used elsewhere in the module.
func retrySchedule() backoff.BackOff {
	delays := []time.Duration{10 * time.Millisecond, 50 * time.Millisecond, 250 * time.Millisecond}
	return backoff.WithMaxRetries(&fixedScheduleBackoff{delays: delays}, uint64(len(delays)))
}

// fixedScheduleBackoff walks a literal list of delays rather than
// computing them, since spec.md names exact millisecond values
// instead of a multiplier.
type fixedScheduleBackoff struct {
	delays []time.Duration
	next   int
}

func (f *fixedScheduleBackoff) NextBackOff() time.Duration {
	if f.next >= len(f.delays) {
		return backoff.Stop
	}
	d := f.delays[f.next]
	f.next++
	return d
}

func (f *fixedScheduleBackoff) Reset() { f.next = 0 }

// ApplyDelta implements apply_delta(TrackId, delta): applies
// per-key replacement (tombstone values remove a key), serializing
// concurrent deltas on the same TrackCoord via a per-track logical
// lock with last-writer-wins semantics within the lock, and retrying
// the KV read-modify-write on a concurrency conflict per the fixed
// schedule above.
func (e *Engine) ApplyDelta(ctx context.Context, coord TrackCoord, delta TagMap) error {
	lock := e.lockFor(coord.overlayKey())
	lock.Lock()
	defer lock.Unlock()

	return backoff.Retry(func() error {
		current, err := e.loadOverlay(ctx, coord)
		if err != nil {
			return err
		}
		merged := current.Clone()
		for k, v := range delta {
			merged[k] = v
		}
		if err := kvstore.StoreJSON(ctx, e.store, coord.overlayKey(), merged); err != nil {
			return musfuseerr.Wrap(musfuseerr.Concurrency, err)
		}
		return nil
	}, retrySchedule())
}

// Evict implements evict(TrackId): removes the overlay key entirely.
func (e *Engine) Evict(ctx context.Context, coord TrackCoord) error {
	return e.store.Delete(ctx, coord.overlayKey())
}

// ParseTagDelta parses the reserved `.tags` write-path payload (a
// flat JSON object of tag name -> list of values, per spec.md §6's
// Open Question (a) resolution) into a TagMap, so callers writing
// via C10 and callers writing programmatically share one decoder.
func ParseTagDelta(raw map[string][]string) TagMap {
	out := make(TagMap, len(raw))
	for k, v := range raw {
		out[strings.ToUpper(k)] = v
	}
	return out
}
