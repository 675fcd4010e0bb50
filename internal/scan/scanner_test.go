package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/musfuse/musfuse/internal/kvstore"
)

func writeTestFile(t *testing.T, dir, name string, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestScanDiscoversSupportedExtensions(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "track.flac", "fake-flac")
	writeTestFile(t, dir, "track.mp3", "fake-mp3")
	writeTestFile(t, dir, "notes.txt", "ignored")
	writeTestFile(t, dir, ".hidden.flac", "ignored")

	store := kvstore.New(kvstore.NewMemory())
	scanner := New(Config{Store: store, Concurrency: 2})

	delta, err := scanner.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(delta.Current) != 2 {
		t.Fatalf("expected 2 audio files, got %d: %+v", len(delta.Current), delta.Current)
	}
	for _, sf := range delta.Current {
		if sf.Format == "" || sf.Format == FormatUnknown {
			t.Errorf("expected classified format for %s, got %s", sf.Path, sf.Format)
		}
	}
}

func TestScanSkipsUnchangedFilesOnSecondRun(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "track.flac", "fake-flac")

	store := kvstore.New(kvstore.NewMemory())
	scanner := New(Config{Store: store, Concurrency: 1})
	ctx := context.Background()

	if _, err := scanner.Scan(ctx, dir); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	delta, err := scanner.Scan(ctx, dir)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(delta.Current) != 1 {
		t.Fatalf("expected 1 file in second scan, got %d", len(delta.Current))
	}
	if len(delta.Added) != 0 || len(delta.Changed) != 0 {
		t.Errorf("expected an unchanged file to be neither added nor changed, got added=%d changed=%d", len(delta.Added), len(delta.Changed))
	}
}

func TestScanClassifiesAddedChangedAndRemoved(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "keep.flac", "fake-flac")
	removedPath := writeTestFile(t, dir, "gone.flac", "fake-flac")

	store := kvstore.New(kvstore.NewMemory())
	scanner := New(Config{Store: store, Concurrency: 1})
	ctx := context.Background()

	first, err := scanner.Scan(ctx, dir)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if len(first.Added) != 2 {
		t.Fatalf("expected both files added on first scan, got %d", len(first.Added))
	}

	if err := os.Remove(removedPath); err != nil {
		t.Fatalf("remove %s: %v", removedPath, err)
	}
	// bump mtime so the stat cache sees a real change, not a no-op
	// rewrite that could land within the same filesystem-mtime tick.
	time.Sleep(10 * time.Millisecond)
	writeTestFile(t, dir, "keep.flac", "changed-content")

	second, err := scanner.Scan(ctx, dir)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(second.Added) != 0 {
		t.Errorf("expected no new files on second scan, got %d", len(second.Added))
	}
	if len(second.Changed) != 1 || second.Changed[0].Path != filepath.Join(dir, "keep.flac") {
		t.Fatalf("expected keep.flac classified as changed, got %+v", second.Changed)
	}
	if len(second.Removed) != 1 {
		t.Fatalf("expected gone.flac classified as removed, got %+v", second.Removed)
	}
}

func TestWatchRejectsScannerNotConfiguredForIt(t *testing.T) {
	dir := t.TempDir()
	store := kvstore.New(kvstore.NewMemory())
	scanner := New(Config{Store: store, Concurrency: 1})

	if _, err := scanner.Watch(context.Background(), dir); err == nil {
		t.Fatal("expected Watch to fail on a scanner constructed without Config.Watch")
	}
}

func TestWatchEmitsDeltaOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "keep.flac", "fake-flac")

	store := kvstore.New(kvstore.NewMemory())
	scanner := New(Config{Store: store, Concurrency: 1, Watch: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := scanner.Scan(ctx, dir); err != nil {
		t.Fatalf("initial scan: %v", err)
	}

	deltas, err := scanner.Watch(ctx, dir)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	writeTestFile(t, dir, "new.flac", "fake-flac-2")

	select {
	case delta, ok := <-deltas:
		if !ok {
			t.Fatal("delta channel closed before emitting a delta")
		}
		if len(delta.Added) != 1 || delta.Added[0].Path != filepath.Join(dir, "new.flac") {
			t.Fatalf("expected new.flac to appear as added, got %+v", delta.Added)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a watch-triggered delta")
	}
}
