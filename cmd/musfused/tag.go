package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/musfuse/musfuse/internal/config"
	"github.com/musfuse/musfuse/internal/kvstore"
	"github.com/musfuse/musfuse/internal/logging"
	"github.com/musfuse/musfuse/internal/scan"
	"github.com/musfuse/musfuse/internal/tags"
	"github.com/musfuse/musfuse/internal/trackindex"
	"github.com/musfuse/musfuse/internal/vfs"
)

var tagCmd = &cobra.Command{
	Use:   "tag <virtual-path> <delta.json>",
	Short: "Apply a tag delta to a virtual track path",
	Long: `tag reads a JSON object of tag name -> list of values from
delta.json and applies it as an overlay delta on the track resolved
from the virtual path, exactly as writing to the reserved .tags
sidecar path would.`,
	Args: cobra.ExactArgs(2),
	RunE: runTag,
}

func init() {
	rootCmd.AddCommand(tagCmd)
}

func runTag(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	virtualPath, deltaPath := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	raw, err := os.ReadFile(deltaPath)
	if err != nil {
		return fmt.Errorf("read delta: %w", err)
	}
	var deltaRaw map[string][]string
	if err := json.Unmarshal(raw, &deltaRaw); err != nil {
		return fmt.Errorf("parse delta json: %w", err)
	}

	backend, err := kvstore.OpenSQLite(cfg.KvPath)
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	defer backend.Close()
	store := kvstore.New(backend)

	scanner := scan.New(scan.Config{Store: store, Concurrency: cfg.TranscodeConcurrency})
	var allFiles []scan.SourceFile
	for _, dir := range cfg.SourceDirs {
		delta, err := scanner.Scan(ctx, dir)
		if err != nil {
			return fmt.Errorf("scan %s: %w", dir, err)
		}
		allFiles = append(allFiles, delta.Current...)
	}

	logger := logging.New(viper.GetBool("verbose"), viper.GetBool("quiet"))
	mapper := trackindex.New(store, nil, logger)
	idx, err := mapper.Map(ctx, allFiles)
	if err != nil {
		return fmt.Errorf("map track index: %w", err)
	}

	tagsEngine := tags.New(store)
	router := vfs.New(tagsEngine, cfg.CaseSensitiveNames)

	delta := tags.ParseTagDelta(deltaRaw)
	if err := router.WriteTag(ctx, idx, virtualPath, delta); err != nil {
		return fmt.Errorf("write tag: %w", err)
	}

	fmt.Printf("applied delta to %s\n", virtualPath)
	return nil
}
