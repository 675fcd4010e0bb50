package tags

import (
	"context"
	"testing"

	"github.com/musfuse/musfuse/internal/ids"
	"github.com/musfuse/musfuse/internal/kvstore"
)

func TestApplyDeltaAndLoadEffectiveMerge(t *testing.T) {
	store := kvstore.New(kvstore.NewMemory())
	engine := New(store)
	coord := TrackCoord{AlbumId: ids.AlbumId("album-1"), Disc: 1, Index: 1}
	ctx := context.Background()

	source := TagMap{"TITLE": {"Old"}, "ARTIST": {"Someone"}}

	if got := merge(source, TagMap{}); got["TITLE"][0] != "Old" {
		t.Fatalf("expected source passthrough, got %+v", got)
	}

	if err := engine.ApplyDelta(ctx, coord, TagMap{"TITLE": {"New"}}); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	overlay, err := engine.loadOverlay(ctx, coord)
	if err != nil {
		t.Fatalf("load overlay: %v", err)
	}
	merged := merge(source, overlay)
	if merged["TITLE"][0] != "New" {
		t.Errorf("expected overlay TITLE=New, got %v", merged["TITLE"])
	}
	if merged["ARTIST"][0] != "Someone" {
		t.Errorf("expected source ARTIST to fall through, got %v", merged["ARTIST"])
	}
}

func TestApplyDeltaTombstoneHidesSourceKey(t *testing.T) {
	store := kvstore.New(kvstore.NewMemory())
	engine := New(store)
	coord := TrackCoord{AlbumId: ids.AlbumId("album-1"), Disc: 1, Index: 1}
	ctx := context.Background()

	source := TagMap{"GENRE": {"Rock"}}

	if err := engine.ApplyDelta(ctx, coord, TagMap{"GENRE": Tombstone()}); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	overlay, err := engine.loadOverlay(ctx, coord)
	if err != nil {
		t.Fatalf("load overlay: %v", err)
	}
	merged := merge(source, overlay)
	if _, ok := merged["GENRE"]; ok {
		t.Errorf("expected GENRE to be tombstoned, got %v", merged["GENRE"])
	}
}

func TestParseTagDeltaLiteralEmptyListTombstones(t *testing.T) {
	store := kvstore.New(kvstore.NewMemory())
	engine := New(store)
	coord := TrackCoord{AlbumId: ids.AlbumId("album-1"), Disc: 1, Index: 1}
	ctx := context.Background()

	source := TagMap{"GENRE": {"Rock"}}

	delta := ParseTagDelta(map[string][]string{"genre": {}})
	if err := engine.ApplyDelta(ctx, coord, delta); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	overlay, err := engine.loadOverlay(ctx, coord)
	if err != nil {
		t.Fatalf("load overlay: %v", err)
	}
	merged := merge(source, overlay)
	if _, ok := merged["GENRE"]; ok {
		t.Errorf("expected a bare [] delta to tombstone GENRE, got %v", merged["GENRE"])
	}
}

func TestEvictRemovesOverlay(t *testing.T) {
	store := kvstore.New(kvstore.NewMemory())
	engine := New(store)
	coord := TrackCoord{AlbumId: ids.AlbumId("album-1"), Disc: 1, Index: 1}
	ctx := context.Background()

	if err := engine.ApplyDelta(ctx, coord, TagMap{"TITLE": {"New"}}); err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if err := engine.Evict(ctx, coord); err != nil {
		t.Fatalf("evict: %v", err)
	}
	overlay, err := engine.loadOverlay(ctx, coord)
	if err != nil {
		t.Fatalf("load overlay: %v", err)
	}
	if len(overlay) != 0 {
		t.Errorf("expected empty overlay after evict, got %+v", overlay)
	}
}
