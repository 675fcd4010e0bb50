package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/musfuse/musfuse/internal/artwork"
	"github.com/musfuse/musfuse/internal/ids"
	"github.com/musfuse/musfuse/internal/kvstore"
	"github.com/musfuse/musfuse/internal/logging"
	"github.com/musfuse/musfuse/internal/tags"
	"github.com/musfuse/musfuse/internal/trackindex"
)

func TestOpenStreamPassthroughEmitsChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")
	if err := os.WriteFile(path, []byte("not-real-mp3-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := kvstore.New(kvstore.NewMemory())
	engine := New(tags.New(store), artwork.New(store), false, logging.Nop(), 4)

	track := &trackindex.TrackEntry{
		TrackId:    ids.TrackId("t1"),
		AlbumId:    ids.AlbumId("a1"),
		SourcePath: path,
		Policy:     trackindex.PolicyPassthroughLossy,
		SampleRate: 44100,
	}

	result, err := engine.OpenStream(context.Background(), track)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer result.Cancel()

	var total int
	for chunk := range result.Chunks {
		total += len(chunk.Bytes)
	}
	if total == 0 {
		t.Error("expected at least some bytes streamed")
	}
}

func TestOpenStreamBoundsConcurrentWorkers(t *testing.T) {
	dir := t.TempDir()
	makeTrack := func(name string) *trackindex.TrackEntry {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("not-real-mp3-bytes"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return &trackindex.TrackEntry{
			TrackId:    ids.TrackId(name),
			AlbumId:    ids.AlbumId("a1"),
			SourcePath: path,
			Policy:     trackindex.PolicyPassthroughLossy,
			SampleRate: 44100,
		}
	}

	store := kvstore.New(kvstore.NewMemory())
	engine := New(tags.New(store), artwork.New(store), false, logging.Nop(), 1)

	first, err := engine.OpenStream(context.Background(), makeTrack("a.mp3"))
	if err != nil {
		t.Fatalf("open first stream: %v", err)
	}
	defer first.Cancel()

	// The single worker slot is now held by first's unbuffered chunk
	// channel awaiting a reader. A second OpenStream must block in
	// engine.limiter.Go until that slot frees.
	second := make(chan error, 1)
	go func() {
		result, err := engine.OpenStream(context.Background(), makeTrack("b.mp3"))
		if err == nil {
			defer result.Cancel()
			for range result.Chunks {
			}
		}
		second <- err
	}()

	select {
	case <-second:
		t.Fatal("expected second OpenStream to block while the worker slot is saturated")
	case <-time.After(50 * time.Millisecond):
	}

	for range first.Chunks {
	}

	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("second stream: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected second OpenStream to unblock once the first stream drained")
	}
}
