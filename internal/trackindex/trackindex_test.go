package trackindex

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/musfuse/musfuse/internal/artwork"
	"github.com/musfuse/musfuse/internal/kvstore"
	"github.com/musfuse/musfuse/internal/scan"
)

func TestMapStandaloneFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.mp3")
	if err := os.WriteFile(path, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	mapper := New(kvstore.New(kvstore.NewMemory()), nil, zerolog.Nop())
	idx, err := mapper.Map(context.Background(), []scan.SourceFile{
		{Path: path, Format: scan.FormatMP3},
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(idx.Tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(idx.Tracks))
	}
	if len(idx.Albums) != 1 {
		t.Fatalf("expected 1 album, got %d", len(idx.Albums))
	}
	for _, track := range idx.Tracks {
		if track.Policy != PolicyPassthroughLossy {
			t.Errorf("expected PassthroughLossy for mp3, got %s", track.Policy)
		}
	}
}

func TestMapStandaloneFileResolvesAlbumCover(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "song.mp3")
	if err := os.WriteFile(audioPath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	writePNG(t, filepath.Join(dir, "cover.png"))

	store := kvstore.New(kvstore.NewMemory())
	mapper := New(store, artwork.New(store), zerolog.Nop())
	idx, err := mapper.Map(context.Background(), []scan.SourceFile{
		{Path: audioPath, Format: scan.FormatMP3},
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(idx.Albums) != 1 {
		t.Fatalf("expected 1 album, got %d", len(idx.Albums))
	}

	var album *AlbumEntry
	for _, a := range idx.Albums {
		album = a
	}
	if album.CoverHash == "" {
		t.Fatal("expected AlbumEntry.CoverHash to be populated from the sidecar cover")
	}

	var stored string
	found, err := kvstore.LoadJSON(context.Background(), store, kvstore.AlbumCoverKey(string(album.AlbumId)), &stored)
	if err != nil {
		t.Fatalf("load persisted cover hash: %v", err)
	}
	if !found {
		t.Fatal("expected a persisted cover hash, found none")
	}
	if stored != album.CoverHash {
		t.Errorf("expected persisted cover hash %q, got %q", album.CoverHash, stored)
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

func TestMapCueBackedFile(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "disc.flac")
	cuePath := filepath.Join(dir, "disc.cue")
	if err := os.WriteFile(audioPath, []byte("fake-flac"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	cueContent := `
TITLE "Album"
FILE "disc.flac" WAVE
  TRACK 01 AUDIO
    TITLE "One"
    INDEX 01 00:00:00
  TRACK 02 AUDIO
    TITLE "Two"
    INDEX 01 00:10:00
`
	if err := os.WriteFile(cuePath, []byte(cueContent), 0o644); err != nil {
		t.Fatalf("write cue: %v", err)
	}

	mapper := New(kvstore.New(kvstore.NewMemory()), nil, zerolog.Nop())
	idx, err := mapper.Map(context.Background(), []scan.SourceFile{
		{Path: audioPath, Format: scan.FormatFLAC},
		{Path: cuePath, Format: scan.FormatCue},
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(idx.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(idx.Tracks))
	}
	for _, track := range idx.Tracks {
		if !track.CueSubdivided {
			t.Errorf("expected CueSubdivided track, got %+v", track)
		}
		if track.Policy != PolicyConvertLossless {
			t.Errorf("expected ConvertLossless, got %s", track.Policy)
		}
	}
}
