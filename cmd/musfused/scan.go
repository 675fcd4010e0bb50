package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/musfuse/musfuse/internal/artwork"
	"github.com/musfuse/musfuse/internal/config"
	"github.com/musfuse/musfuse/internal/kvstore"
	"github.com/musfuse/musfuse/internal/logging"
	"github.com/musfuse/musfuse/internal/scan"
	"github.com/musfuse/musfuse/internal/trackindex"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan source directories and rebuild the track index",
	Long: `Scan walks every configured source directory, discovers audio
files and CUE sheets, and maps them into the album/track index that
the virtual filesystem serves reads from.

The scan is incremental: files whose mtime/size are unchanged since
the last run are not re-hashed. Every audio file is still probed with
ffprobe when the index is built.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
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

	scanner := scan.New(scan.Config{
		Store:       store,
		Concurrency: cfg.TranscodeConcurrency,
		Logger:      logger,
	})

	var allFiles []scan.SourceFile
	var totalBytes int64
	start := time.Now()
	for _, dir := range cfg.SourceDirs {
		delta, err := scanner.Scan(ctx, dir)
		if err != nil {
			return fmt.Errorf("scan %s: %w", dir, err)
		}
		allFiles = append(allFiles, delta.Current...)
		var dirBytes int64
		for _, f := range delta.Current {
			dirBytes += f.Size
		}
		totalBytes += dirBytes
		logger.Info().
			Str("dir", dir).
			Int("added", len(delta.Added)).
			Int("removed", len(delta.Removed)).
			Str("size", humanize.Bytes(uint64(dirBytes))).
			Msg("scanned source directory")
	}

	var artworkExtractor *artwork.Extractor
	if cfg.CacheArtwork {
		artworkExtractor = artwork.New(store)
	}

	mapper := trackindex.New(store, artworkExtractor, logger)
	idx, err := mapper.Map(ctx, allFiles)
	if err != nil {
		return fmt.Errorf("map track index: %w", err)
	}

	logger.Info().
		Int("albums", len(idx.Albums)).
		Int("tracks", len(idx.Tracks)).
		Str("size", humanize.Bytes(uint64(totalBytes))).
		Dur("elapsed", time.Since(start)).
		Msg("scan complete")

	return nil
}
