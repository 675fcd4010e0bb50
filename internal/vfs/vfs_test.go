package vfs

import (
	"context"
	"testing"

	"github.com/musfuse/musfuse/internal/ids"
	"github.com/musfuse/musfuse/internal/kvstore"
	"github.com/musfuse/musfuse/internal/tags"
	"github.com/musfuse/musfuse/internal/trackindex"
)

func TestSanitizeReplacesIllegalCharacters(t *testing.T) {
	got := Sanitize(`Foo/Bar: "Baz"?`)
	if got == "" || got == "Unknown" {
		t.Fatalf("expected a sanitized non-empty name, got %q", got)
	}
	for _, r := range got {
		if r == '/' || r == ':' || r == '?' {
			t.Errorf("expected illegal character stripped, got %q", got)
		}
	}
}

func TestSanitizeEmptyFallsBackToUnknown(t *testing.T) {
	if got := Sanitize(" .. "); got != "Unknown" {
		t.Errorf("expected Unknown, got %q", got)
	}
}

func buildIndex() *trackindex.Index {
	idx := &trackindex.Index{
		Albums: map[ids.AlbumId]*trackindex.AlbumEntry{},
		Tracks: map[ids.TrackId]*trackindex.TrackEntry{},
	}
	album := &trackindex.AlbumEntry{AlbumId: ids.AlbumId("alb1"), DisplayName: "My Album"}
	track := &trackindex.TrackEntry{
		TrackId:    ids.TrackId("trk1"),
		AlbumId:    album.AlbumId,
		Disc:       1,
		Index:      1,
		Title:      "First Song",
		SourcePath: "/music/first.mp3",
		Policy:     trackindex.PolicyPassthroughLossy,
	}
	idx.Tracks[track.TrackId] = track
	album.TrackIds = []ids.TrackId{track.TrackId}
	idx.Albums[album.AlbumId] = album
	return idx
}

func TestLookupAlbumAndTrack(t *testing.T) {
	idx := buildIndex()
	router := New(tags.New(kvstore.New(kvstore.NewMemory())), false)
	ctx := context.Background()

	root := router.Lookup(ctx, idx, "/")
	if root.Kind != Root {
		t.Fatalf("expected Root, got %v", root.Kind)
	}

	album := router.Lookup(ctx, idx, "/My Album")
	if album.Kind != Album {
		t.Fatalf("expected Album, got %v", album.Kind)
	}

	track := router.Lookup(ctx, idx, "/My Album/01 - First Song.mp3")
	if track.Kind != Track {
		t.Fatalf("expected Track, got %v", track.Kind)
	}
	if track.TrackId != ids.TrackId("trk1") {
		t.Errorf("expected trk1, got %s", track.TrackId)
	}

	missing := router.Lookup(ctx, idx, "/My Album/nope.mp3")
	if missing.Kind != NotFound {
		t.Errorf("expected NotFound, got %v", missing.Kind)
	}
}

func TestListRootAndAlbum(t *testing.T) {
	idx := buildIndex()
	router := New(tags.New(kvstore.New(kvstore.NewMemory())), false)
	ctx := context.Background()

	rootEntries, err := router.List(ctx, idx, "/")
	if err != nil {
		t.Fatalf("list root: %v", err)
	}
	if len(rootEntries) != 1 || rootEntries[0].Name != "My Album" {
		t.Fatalf("unexpected root entries: %+v", rootEntries)
	}

	albumEntries, err := router.List(ctx, idx, "/My Album")
	if err != nil {
		t.Fatalf("list album: %v", err)
	}
	if len(albumEntries) != 1 || albumEntries[0].Kind != Track {
		t.Fatalf("unexpected album entries: %+v", albumEntries)
	}
}

func TestLookupRespectsCaseSensitiveNames(t *testing.T) {
	idx := buildIndex()
	ctx := context.Background()

	insensitive := New(tags.New(kvstore.New(kvstore.NewMemory())), false)
	if got := insensitive.Lookup(ctx, idx, "/my album"); got.Kind != Album {
		t.Errorf("expected case-insensitive router to match /my album, got %v", got.Kind)
	}

	sensitive := New(tags.New(kvstore.New(kvstore.NewMemory())), true)
	if got := sensitive.Lookup(ctx, idx, "/my album"); got.Kind != NotFound {
		t.Errorf("expected case-sensitive router to reject /my album, got %v", got.Kind)
	}
	if got := sensitive.Lookup(ctx, idx, "/My Album"); got.Kind != Album {
		t.Errorf("expected case-sensitive router to match exact case /My Album, got %v", got.Kind)
	}
}
