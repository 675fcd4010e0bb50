package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/musfuse/musfuse/internal/artwork"
	"github.com/musfuse/musfuse/internal/config"
	"github.com/musfuse/musfuse/internal/kvstore"
	"github.com/musfuse/musfuse/internal/logging"
	"github.com/musfuse/musfuse/internal/media"
	"github.com/musfuse/musfuse/internal/mountapi"
	"github.com/musfuse/musfuse/internal/scan"
	"github.com/musfuse/musfuse/internal/tags"
	"github.com/musfuse/musfuse/internal/trackindex"
	"github.com/musfuse/musfuse/internal/util"
	"github.com/musfuse/musfuse/internal/vfs"
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Scan, build the track index, and bring up the virtual filesystem",
	Long: `Mount performs an initial scan, builds the router and media
engine, then hands both to the configured mount provider. No real
FUSE/WinFSP binding ships with this core — the default provider is a
loopback adapter suitable for embedding a platform shim around.`,
	RunE: runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := logging.New(viper.GetBool("verbose"), viper.GetBool("quiet"))

	backend, err := kvstore.OpenSQLite(cfg.KvPath)
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	defer backend.Close()
	store := kvstore.New(backend)

	// The KV store takes a write on every tag delta and every stat
	// -cache update; a mountpoint on a different (often slower,
	// network-backed) filesystem than the store is worth flagging.
	if same, err := util.IsSameFilesystem(filepath.Dir(cfg.KvPath), cfg.MountPoint); err == nil && !same {
		logger.Warn().Str("kv_path", cfg.KvPath).Str("mountpoint", cfg.MountPoint).Msg("kv store and mountpoint are on different filesystems")
	}

	scanner := scan.New(scan.Config{Store: store, Concurrency: cfg.TranscodeConcurrency, Logger: logger, Watch: cfg.Watch})

	perDir := make(map[string][]scan.SourceFile, len(cfg.SourceDirs))
	for _, dir := range cfg.SourceDirs {
		delta, err := scanner.Scan(ctx, dir)
		if err != nil {
			return fmt.Errorf("scan %s: %w", dir, err)
		}
		perDir[dir] = delta.Current
	}

	var artworkExtractor *artwork.Extractor
	if cfg.CacheArtwork {
		artworkExtractor = artwork.New(store)
	}

	mapper := trackindex.New(store, artworkExtractor, logger)
	idx, err := mapper.Map(ctx, mergeSourceFiles(perDir))
	if err != nil {
		return fmt.Errorf("map track index: %w", err)
	}

	// served holds the current index; the smoke test and the startup
	// log read it, and the loopback adapter is not handed an index.
	// cfg.Watch keeps it current across the mount's lifetime instead of
	// freezing it at the initial scan.
	var served atomic.Pointer[trackindex.Index]
	served.Store(idx)
	if cfg.Watch {
		watchCtx, cancelWatch := context.WithCancel(ctx)
		defer cancelWatch()
		if err := startWatchLoop(watchCtx, scanner, mapper, cfg.SourceDirs, perDir, &served, logger); err != nil {
			return fmt.Errorf("start watch loop: %w", err)
		}
	}

	tagsEngine := tags.New(store)
	mediaEngine := media.New(tagsEngine, artworkExtractor, false, logger, cfg.TranscodeConcurrency)
	router := vfs.New(tagsEngine, cfg.CaseSensitiveNames)

	// No platform shim ships with this core (per SPEC_FULL.md §4.11);
	// smoke-test the router and media engine the way a real shim
	// would drive them, before the loopback adapter is created and
	// mounted.
	if err := smokeTestServingSurface(ctx, router, mediaEngine, served.Load()); err != nil {
		return fmt.Errorf("serving surface smoke test: %w", err)
	}

	var eventLog *logging.EventLog
	if cfg.EventLogPath != "" {
		eventLog, err = logging.NewEventLog(cfg.EventLogPath)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer eventLog.Close()
	}

	adapter := mountapi.NewLoopbackAdapter()
	if err := adapter.PrepareEnvironment(ctx); err != nil {
		return fmt.Errorf("prepare environment: %w", err)
	}
	if err := adapter.Mount(ctx, mountapi.Config{
		Mountpoint:    cfg.MountPoint,
		CaseSensitive: cfg.CaseSensitiveNames,
	}); err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	startIdx := served.Load()
	logger.Info().
		Str("mountpoint", cfg.MountPoint).
		Int("albums", len(startIdx.Albums)).
		Int("tracks", len(startIdx.Tracks)).
		Bool("watch", cfg.Watch).
		Msg("mounted (loopback adapter — no real FUSE binding in this core)")

	for ev := range adapter.Events() {
		logger.Info().Str("status", ev.Status.String()).Str("reason", ev.Reason).Msg("mount event")
		if err := eventLog.Log(ev.Status.String(), ev.Reason); err != nil {
			logger.Warn().Err(err).Msg("failed to write mount event log entry")
		}
	}

	return nil
}

// mergeSourceFiles flattens a per-directory current-file map (as kept
// across rescans) into the single slice trackindex.Mapper.Map expects.
func mergeSourceFiles(perDir map[string][]scan.SourceFile) []scan.SourceFile {
	var all []scan.SourceFile
	for _, files := range perDir {
		all = append(all, files...)
	}
	return all
}

// startWatchLoop spawns one scanner.Watch goroutine per source
// directory (ScanMode::Lazy) and a fan-in goroutine that, on every
// incoming *scan.Delta, updates that directory's slot in perDir,
// remaps the merged file set, and atomically publishes the result to
// served. The per-directory goroutines only forward deltas; mu guards
// perDir while the fan-in goroutine updates and merges it.
func startWatchLoop(ctx context.Context, scanner *scan.Scanner, mapper *trackindex.Mapper, dirs []string, perDir map[string][]scan.SourceFile, served *atomic.Pointer[trackindex.Index], logger zerolog.Logger) error {
	var mu sync.Mutex
	fanIn := make(chan struct {
		dir   string
		delta *scan.Delta
	}, len(dirs))

	for _, dir := range dirs {
		deltas, err := scanner.Watch(ctx, dir)
		if err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dir := dir
		go func() {
			for delta := range deltas {
				select {
				case fanIn <- struct {
					dir   string
					delta *scan.Delta
				}{dir, delta}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-fanIn:
				mu.Lock()
				perDir[ev.dir] = ev.delta.Current
				merged := mergeSourceFiles(perDir)
				mu.Unlock()

				idx, err := mapper.Map(ctx, merged)
				if err != nil {
					logger.Warn().Err(err).Str("dir", ev.dir).Msg("watch-triggered remap failed")
					continue
				}
				served.Store(idx)
				logger.Info().
					Str("dir", ev.dir).
					Int("added", len(ev.delta.Added)).
					Int("changed", len(ev.delta.Changed)).
					Int("removed", len(ev.delta.Removed)).
					Msg("live rescan applied")
			}
		}
	}()

	return nil
}

// smokeTestServingSurface drives the router and media engine through
// one read of real data before the mountpoint goes live: list the
// root, list its first album, resolve its first track, and open a
// stream far enough to see a chunk. A no-op (nil error) on an empty
// index — there's nothing to smoke-test yet.
func smokeTestServingSurface(ctx context.Context, router *vfs.Router, mediaEngine *media.Engine, idx *trackindex.Index) error {
	rootEntries, err := router.List(ctx, idx, "/")
	if err != nil {
		return fmt.Errorf("list root: %w", err)
	}
	if len(rootEntries) == 0 {
		return nil
	}
	albumPath := "/" + rootEntries[0].Name

	albumEntries, err := router.List(ctx, idx, albumPath)
	if err != nil {
		return fmt.Errorf("list album %q: %w", albumPath, err)
	}

	var track *trackindex.TrackEntry
	for _, entry := range albumEntries {
		if entry.Kind != vfs.Track {
			continue
		}
		resolved := router.Lookup(ctx, idx, albumPath+"/"+entry.Name)
		if resolved.Kind == vfs.Track {
			track = idx.Tracks[resolved.TrackId]
		}
		break
	}
	if track == nil {
		return nil
	}

	streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := mediaEngine.OpenStream(streamCtx, track)
	if err != nil {
		return fmt.Errorf("open stream for %s: %w", track.SourcePath, err)
	}
	defer result.Cancel()

	select {
	case _, ok := <-result.Chunks:
		if !ok {
			return fmt.Errorf("stream for %s closed with no chunks", track.SourcePath)
		}
	case <-streamCtx.Done():
		return fmt.Errorf("timed out waiting for first chunk of %s", track.SourcePath)
	}
	return nil
}
