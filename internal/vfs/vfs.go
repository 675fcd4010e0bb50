// Package vfs implements C10: resolving virtual paths into albums,
// tracks, and covers, and the name-sanitization rule those paths are
// built from.
//
// grounded on: internal/meta/normalize.go's SanitizeFilename (NFC
// normalization + character replacement shape, narrowed here to
// spec.md §4.10's exact allowed class), original_source/filesystem.rs
// (FileRouter's lookup/list/open/write_tag surface).
package vfs

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/musfuse/musfuse/internal/ids"
	"github.com/musfuse/musfuse/internal/musfuseerr"
	"github.com/musfuse/musfuse/internal/tags"
	"github.com/musfuse/musfuse/internal/trackindex"
	"github.com/musfuse/musfuse/internal/util"
)

// EntityKind classifies a resolved virtual path.
type EntityKind int

const (
	Root EntityKind = iota
	Album
	Track
	Cover
	NotFound
)

// Entity is the result of lookup.
type Entity struct {
	Kind    EntityKind
	AlbumId ids.AlbumId
	TrackId ids.TrackId
}

// ListEntry is one row of a list() result.
type ListEntry struct {
	Name     string
	Kind     EntityKind
	SizeHint int64
}

var allowedChar = regexp.MustCompile(`[A-Za-z0-9 _.()\-\p{Han}\p{Hiragana}\p{Katakana}\p{Hangul}]`)

// Sanitize implements spec.md §4.10's rule: characters outside
// [A-Za-z0-9 _.()-] and ASCII-printable CJK are replaced with `_`;
// leading/trailing spaces and dots are trimmed; an empty result falls
// back to "Unknown".
func Sanitize(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	for _, r := range s {
		if allowedChar.MatchString(string(r)) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	out := strings.Trim(b.String(), " .")
	if out == "" {
		return "Unknown"
	}
	return out
}

// TrackFilename builds the "<NN - Title>.ext" (or "D{disc}-NN - Title.ext")
// component per spec.md §4.10. displayTitle is the caller-supplied
// effective title (post tag-overlay merge), not the raw scan-time one.
func TrackFilename(track *trackindex.TrackEntry, displayTitle, ext string) string {
	title := Sanitize(displayTitle)
	nn := fmt.Sprintf("%02d", track.Index)
	if track.Disc >= 2 {
		return fmt.Sprintf("D%d-%s - %s%s", track.Disc, nn, title, ext)
	}
	return fmt.Sprintf("%s - %s%s", nn, title, ext)
}

// TrackExtension returns the virtual file extension for a track,
// given the profile selected for it (".flac" for ConvertLossless,
// the source's own extension for PassthroughLossy).
func TrackExtension(policy trackindex.Policy, sourceExt string) string {
	if policy == trackindex.PolicyConvertLossless {
		return ".flac"
	}
	return sourceExt
}

// Router resolves virtual paths against a live TrackIndex snapshot.
// The index is swapped atomically on rescan; in-flight lookups keep
// using the snapshot they were handed, per spec.md §5.
type Router struct {
	tags          *tags.Engine
	caseSensitive bool
}

// New constructs a Router. caseSensitive mirrors spec.md §4.10's
// CaseSensitiveNames config: when false (the common case — matching
// most real music libraries' origin filesystems), name comparisons
// fold case.
func New(tagsEngine *tags.Engine, caseSensitive bool) *Router {
	return &Router{tags: tagsEngine, caseSensitive: caseSensitive}
}

func (r *Router) namesEqual(a, b string) bool {
	return util.PathsEqual(a, b, r.caseSensitive)
}

// albumPathName computes the sanitized directory name for an album
// from its effective display name (ALBUM tag of the album's first
// track, falling through to the scan-time display name). It does not
// disambiguate: albums whose sanitized names collide get the same
// name, and findAlbumByName resolves that name to the first of them
// in sorted AlbumId order.
func (r *Router) albumPathName(ctx context.Context, idx *trackindex.Index, album *trackindex.AlbumEntry) string {
	return Sanitize(r.effectiveAlbumDisplayName(ctx, idx, album))
}

// effectiveAlbumDisplayName resolves spec.md §4.10's "display names
// are derived from effective tags (album TITLE/ARTIST)" for an album:
// the ALBUM tag of the album's first track's effective (overlay
// -merged) TagMap, per C6, falling back to the scan-time DisplayName
// when there's no tags engine, no tracks, or no ALBUM tag set.
func (r *Router) effectiveAlbumDisplayName(ctx context.Context, idx *trackindex.Index, album *trackindex.AlbumEntry) string {
	name := album.DisplayName
	if r.tags == nil || len(album.TrackIds) == 0 {
		return name
	}
	track, ok := idx.Tracks[album.TrackIds[0]]
	if !ok {
		return name
	}
	effective, err := r.tags.LoadEffective(ctx, trackCoord(track), track.SourcePath)
	if err != nil {
		return name
	}
	if v, ok := effective["ALBUM"]; ok && len(v) > 0 && v[0] != "" {
		return v[0]
	}
	return name
}

// effectiveTrackTitle resolves the same rule for a single track's
// TITLE tag, falling back to the scan-time (CUE/filename-derived)
// title.
func (r *Router) effectiveTrackTitle(ctx context.Context, track *trackindex.TrackEntry) string {
	title := track.Title
	if r.tags == nil {
		return title
	}
	effective, err := r.tags.LoadEffective(ctx, trackCoord(track), track.SourcePath)
	if err != nil {
		return title
	}
	if v, ok := effective["TITLE"]; ok && len(v) > 0 && v[0] != "" {
		return v[0]
	}
	return title
}

func trackCoord(track *trackindex.TrackEntry) tags.TrackCoord {
	return tags.TrackCoord{AlbumId: track.AlbumId, Disc: track.Disc, Index: track.Index}
}

// Lookup implements lookup(path) → Entity. Matching folds case unless
// the Router was built with caseSensitive; on a name collision between two albums/tracks the
// first by sorted AlbumId/TrackId insertion order wins.
func (r *Router) Lookup(ctx context.Context, idx *trackindex.Index, path string) Entity {
	segments := splitPath(path)
	if len(segments) == 0 {
		return Entity{Kind: Root}
	}

	albumID, album := r.findAlbumByName(ctx, idx, segments[0])
	if album == nil {
		return Entity{Kind: NotFound}
	}
	if len(segments) == 1 {
		return Entity{Kind: Album, AlbumId: albumID}
	}

	leaf := segments[1]
	if strings.EqualFold(stripExt(leaf), "cover") {
		return Entity{Kind: Cover, AlbumId: albumID}
	}

	trackID := r.findTrackByName(ctx, idx, album, leaf)
	if trackID == "" {
		return Entity{Kind: NotFound}
	}
	return Entity{Kind: Track, AlbumId: albumID, TrackId: trackID}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func stripExt(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

// sortedAlbumIDs returns album IDs in deterministic, stable order:
// the order used both for display and for collision tie-breaking.
func sortedAlbumIDs(idx *trackindex.Index) []ids.AlbumId {
	out := make([]ids.AlbumId, 0, len(idx.Albums))
	for id := range idx.Albums {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Router) findAlbumByName(ctx context.Context, idx *trackindex.Index, name string) (ids.AlbumId, *trackindex.AlbumEntry) {
	for _, id := range sortedAlbumIDs(idx) {
		album := idx.Albums[id]
		if r.namesEqual(r.albumPathName(ctx, idx, album), name) {
			return id, album
		}
	}
	return "", nil
}

func (r *Router) findTrackByName(ctx context.Context, idx *trackindex.Index, album *trackindex.AlbumEntry, name string) ids.TrackId {
	trackIDs := make([]ids.TrackId, len(album.TrackIds))
	copy(trackIDs, album.TrackIds)
	sort.Slice(trackIDs, func(i, j int) bool { return trackIDs[i] < trackIDs[j] })

	for _, id := range trackIDs {
		track, ok := idx.Tracks[id]
		if !ok {
			continue
		}
		ext := TrackExtension(track.Policy, extOf(track.SourcePath))
		title := r.effectiveTrackTitle(ctx, track)
		if r.namesEqual(TrackFilename(track, title, ext), name) {
			return id
		}
	}
	return ""
}

func extOf(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i:]
	}
	return ""
}

// List implements list(path) for the root or an album directory.
// sizeHint is approximate for ConvertLossless tracks (sample count ×
// channels × bytes-per-sample × a FLAC compression factor ~0.6);
// exact size is unknown until stream completion.
func (r *Router) List(ctx context.Context, idx *trackindex.Index, path string) ([]ListEntry, error) {
	entity := r.Lookup(ctx, idx, path)
	switch entity.Kind {
	case Root:
		return r.listRoot(ctx, idx), nil
	case Album:
		return r.listAlbum(ctx, idx, entity.AlbumId), nil
	default:
		return nil, musfuseerr.Wrap(musfuseerr.NotFound, musfuseerr.ErrNotFound)
	}
}

func (r *Router) listRoot(ctx context.Context, idx *trackindex.Index) []ListEntry {
	var entries []ListEntry
	for _, id := range sortedAlbumIDs(idx) {
		album := idx.Albums[id]
		entries = append(entries, ListEntry{Name: r.albumPathName(ctx, idx, album), Kind: Album})
	}
	return entries
}

func (r *Router) listAlbum(ctx context.Context, idx *trackindex.Index, albumID ids.AlbumId) []ListEntry {
	album, ok := idx.Albums[albumID]
	if !ok {
		return nil
	}

	var entries []ListEntry
	if album.CoverHash != "" {
		entries = append(entries, ListEntry{Name: "cover.jpg", Kind: Cover})
	}

	trackIDs := make([]ids.TrackId, len(album.TrackIds))
	copy(trackIDs, album.TrackIds)
	sort.Slice(trackIDs, func(i, j int) bool {
		a, b := idx.Tracks[trackIDs[i]], idx.Tracks[trackIDs[j]]
		if a.Disc != b.Disc {
			return a.Disc < b.Disc
		}
		return a.Index < b.Index
	})

	for _, id := range trackIDs {
		track := idx.Tracks[id]
		ext := TrackExtension(track.Policy, extOf(track.SourcePath))
		title := r.effectiveTrackTitle(ctx, track)
		entries = append(entries, ListEntry{
			Name:     TrackFilename(track, title, ext),
			Kind:     Track,
			SizeHint: sizeHint(track, ext),
		})
	}
	return entries
}

func sizeHint(track *trackindex.TrackEntry, ext string) int64 {
	if ext != ".flac" {
		return 0
	}
	bytesPerSample := track.BitDepth / 8
	if bytesPerSample == 0 {
		bytesPerSample = 2
	}
	samples := track.LengthFrames * int64(track.SampleRate) / 75
	raw := samples * int64(track.Channels) * int64(bytesPerSample)
	return int64(float64(raw) * 0.6)
}

// WriteTag implements write_tag(path, delta): valid only on track
// paths, delegating to C6.
func (r *Router) WriteTag(ctx context.Context, idx *trackindex.Index, path string, delta tags.TagMap) error {
	entity := r.Lookup(ctx, idx, path)
	if entity.Kind != Track {
		return musfuseerr.Wrapf(musfuseerr.Unsupported, musfuseerr.ErrUnsupported, "write_tag on non-track path %s", path)
	}
	track := idx.Tracks[entity.TrackId]
	return r.tags.ApplyDelta(ctx, trackCoord(track), delta)
}
