package artwork

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/musfuse/musfuse/internal/kvstore"
)

func writePNG(t *testing.T, path string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{255, 0, 0, 255})

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	return data
}

func TestResolveSidecarCover(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "track.mp3")
	if err := os.WriteFile(audioPath, []byte("not-really-audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	writePNG(t, filepath.Join(dir, "cover.png"))

	e := New(kvstore.New(kvstore.NewMemory()))
	blob, err := e.Resolve(context.Background(), "track-1", audioPath)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if blob == nil {
		t.Fatal("expected a resolved sidecar blob")
	}
	if blob.MIME != "image/png" {
		t.Errorf("expected image/png, got %s", blob.MIME)
	}
	if blob.Hash == "" {
		t.Error("expected non-empty content hash")
	}
}

func TestResolveNoArtworkReturnsNil(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "track.mp3")
	if err := os.WriteFile(audioPath, []byte("no-cover-here"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	e := New(kvstore.New(kvstore.NewMemory()))
	blob, err := e.Resolve(context.Background(), "track-2", audioPath)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if blob != nil {
		t.Errorf("expected nil blob, got %+v", blob)
	}
}

func TestResolveCachesSecondLookup(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "track.mp3")
	if err := os.WriteFile(audioPath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	writePNG(t, filepath.Join(dir, "folder.png"))

	e := New(kvstore.New(kvstore.NewMemory()))
	ctx := context.Background()
	first, err := e.Resolve(ctx, "track-3", audioPath)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := e.Resolve(ctx, "track-3", audioPath)
	if err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	if first.Hash != second.Hash {
		t.Errorf("expected cached hash to match, got %s vs %s", first.Hash, second.Hash)
	}
}
