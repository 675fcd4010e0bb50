// Package scan implements C3: enumerating source roots, classifying
// files by extension, and emitting a delta of added/removed/changed
// SourceFiles against the previous scan's KV-resident stat cache.
//
// grounded on: internal/scan/scanner.go (worker-pool/batch-writer
// shape, progressbar usage), original_source/scanner.rs (delta
// semantics: FileAdded/FileRemoved/FileModified).
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/musfuse/musfuse/internal/ids"
	"github.com/musfuse/musfuse/internal/kvstore"
	"github.com/musfuse/musfuse/internal/util"
)

// Format is a classified audio container, per spec.md §3's closed set.
type Format string

const (
	FormatFLAC    Format = "FLAC"
	FormatWAV     Format = "WAV"
	FormatAPE     Format = "APE"
	FormatWV      Format = "WV"
	FormatMP3     Format = "MP3"
	FormatAAC     Format = "AAC"
	FormatOGG     Format = "OGG"
	FormatOPUS    Format = "OPUS"
	FormatUnknown Format = "Unknown"
	FormatCue     Format = "CUE"
)

var extensionFormat = map[string]Format{
	".flac": FormatFLAC,
	".wav":  FormatWAV,
	".aiff": FormatWAV,
	".aif":  FormatWAV,
	".ape":  FormatAPE,
	".wv":   FormatWV,
	".mp3":  FormatMP3,
	".aac":  FormatAAC,
	".m4a":  FormatAAC,
	".ogg":  FormatOGG,
	".opus": FormatOPUS,
	".cue":  FormatCue,
}

// IsLossless reports whether f should be routed through
// C8's ConvertLossless policy rather than PassthroughLossy.
func (f Format) IsLossless() bool {
	switch f {
	case FormatFLAC, FormatWAV, FormatAPE, FormatWV:
		return true
	default:
		return false
	}
}

// SourceFile is a real on-disk audio (or CUE) asset, as spec.md §3
// defines it. ContentHash is computed by the scanner for every new or
// changed file; an unchanged file reuses the hash in its stat entry.
type SourceFile struct {
	Path        string
	Size        int64
	ModTime     time.Time
	ContentHash string
	Format      Format
	SampleRate  int
	Channels    int
	BitDepth    int
}

// Delta is the scan's output: the full current set plus what changed
// relative to the previous run, per spec.md §4.3.
type Delta struct {
	Added   []SourceFile
	Removed []string
	Changed []SourceFile
	Current []SourceFile
}

// Config configures a Scanner.
type Config struct {
	Store       *kvstore.Store
	Concurrency int
	Logger      zerolog.Logger
	Watch       bool // ScanMode::Lazy — supplement full walks with fsnotify
}

// Scanner walks source roots and classifies files.
type Scanner struct {
	store       *kvstore.Store
	concurrency int
	logger      zerolog.Logger
	watch       bool
}

// New constructs a Scanner.
func New(cfg Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scanner{
		store:       cfg.Store,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		watch:       cfg.Watch,
	}
}

// statCacheEntry is the file:{path-hash}:stat KV payload.
type statCacheEntry struct {
	MTime int64  `json:"mtime"`
	Size  int64  `json:"size"`
	Hash  string `json:"hash"`
}

// Scan walks sourcePath depth-first, skipping hidden files and
// unsupported extensions, and returns the delta against the KV stat
// cache. Only new or changed files are hashed; unchanged ones (same
// mtime and size as their stat entry) reuse the cached hash without
// being re-read. The scanner does not probe audio headers.
func (s *Scanner) Scan(ctx context.Context, sourcePath string) (*Delta, error) {
	type candidate struct {
		path  string
		info  os.FileInfo
	}

	paths := make(chan candidate, 256)
	delta := &Delta{}

	isTTY := util.IsTerminal(os.Stdout.Fd())
	var bar *progressbar.ProgressBar
	if isTTY {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	resultsCh := make(chan scanResult, 256)
	removedPaths := make(map[string]bool)

	seenPaths := make(map[string]bool)

	go func() {
		defer close(paths)
		_ = filepath.WalkDir(sourcePath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("access error during scan")
				return nil
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != sourcePath {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if _, ok := extensionFormat[ext]; !ok {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("stat error during scan")
				return nil
			}
			select {
			case paths <- candidate{path: path, info: info}:
			case <-gctx.Done():
				return gctx.Err()
			}
			return nil
		})
	}()

	for c := range paths {
		c := c
		seenPaths[c.path] = true
		g.Go(func() error {
			return s.processOne(gctx, c.path, c.info, resultsCh)
		})
	}

	go func() {
		g.Wait()
		close(resultsCh)
	}()

	for res := range resultsCh {
		delta.Current = append(delta.Current, res.file)
		switch {
		case res.added:
			delta.Added = append(delta.Added, res.file)
		case res.changed:
			delta.Changed = append(delta.Changed, res.file)
		}
		if bar != nil {
			bar.Add(1)
		}
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		return nil, fmt.Errorf("scan %s: %w", sourcePath, err)
	}

	if bar != nil {
		bar.Finish()
	}

	prevEntries, err := s.store.ScanPrefix(ctx, "file:")
	if err == nil {
		for _, e := range prevEntries {
			removedPaths[e.Key] = true
		}
	}

	for _, sf := range delta.Current {
		pathHash, _ := ids.FileStatKey(sf.Path)
		key := kvstore.FileStatKey(pathHash)
		delete(removedPaths, key)
	}
	for key := range removedPaths {
		delta.Removed = append(delta.Removed, key)
	}

	return delta, nil
}

// scanResult is one processed file plus its delta classification
// against the KV stat cache.
type scanResult struct {
	file    SourceFile
	added   bool
	changed bool
}

func (s *Scanner) processOne(ctx context.Context, path string, info os.FileInfo, out chan<- scanResult) error {
	pathHash, err := ids.FileStatKey(path)
	if err != nil {
		return fmt.Errorf("stat key for %s: %w", path, err)
	}
	statKey := kvstore.FileStatKey(pathHash)

	var cached statCacheEntry
	found, err := kvstore.LoadJSON(ctx, s.store, statKey, &cached)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("stat cache read failed")
	}

	unchanged := found && cached.MTime == info.ModTime().Unix() && cached.Size == info.Size()

	sf := SourceFile{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Format:  extensionFormat[strings.ToLower(filepath.Ext(path))],
	}
	if unchanged {
		sf.ContentHash = cached.Hash
		select {
		case out <- scanResult{file: sf}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	if hash, err := ids.ContentHash(path); err == nil {
		sf.ContentHash = hash
	} else {
		s.logger.Warn().Err(err).Str("path", path).Msg("content hash failed")
	}

	entry := statCacheEntry{MTime: info.ModTime().Unix(), Size: info.Size(), Hash: sf.ContentHash}
	if err := kvstore.StoreJSON(ctx, s.store, statKey, entry); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("stat cache write failed")
	}

	select {
	case out <- scanResult{file: sf, added: !found, changed: found}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// watchDebounce is how long Watch waits after the last filesystem
// event before triggering a rescan, so a burst of events (e.g. an
// album copy touching dozens of files) folds into one Delta instead
// of one per file.
const watchDebounce = 500 * time.Millisecond

// Watch starts an fsnotify watch on root and, on every Write/Create/
// Remove/Rename event (debounced), re-runs Scan and emits the
// resulting Delta — the "same delta structure a full rescan would
// produce" ScanMode::Lazy promises. Returns an error immediately if
// the scanner wasn't constructed with Config.Watch set; the config
// knob gates this method, not just its callers.
func (s *Scanner) Watch(ctx context.Context, root string) (<-chan *Delta, error) {
	if !s.watch {
		return nil, fmt.Errorf("scan: watch mode not enabled for this scanner")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("add watches under %s: %w", root, err)
	}

	deltas := make(chan *Delta, 1)
	go func() {
		defer watcher.Close()
		defer close(deltas)

		var debounce *time.Timer
		pending := false

		for {
			var fire <-chan time.Time
			if debounce != nil {
				fire = debounce.C
			}

			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				pending = true
				if debounce == nil {
					debounce = time.NewTimer(watchDebounce)
				} else {
					debounce.Reset(watchDebounce)
				}

			case <-fire:
				debounce = nil
				if !pending {
					continue
				}
				pending = false
				delta, err := s.Scan(ctx, root)
				if err != nil {
					s.logger.Warn().Err(err).Str("root", root).Msg("watch-triggered rescan failed")
					continue
				}
				select {
				case deltas <- delta:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn().Err(err).Msg("watch error")
			}
		}
	}()

	return deltas, nil
}

