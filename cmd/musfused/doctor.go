package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/musfuse/musfuse/internal/config"
	"github.com/musfuse/musfuse/internal/probe"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the environment can run musfused",
	Long: `doctor verifies ffmpeg/ffprobe are on PATH, the configured KV
path is writable, and every configured source directory exists.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	ok      bool
	message string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var results []checkResult

	results = append(results, checkFFprobe())
	results = append(results, checkFFmpeg())

	cfg, err := config.Load()
	if err != nil {
		results = append(results, checkResult{name: "config", ok: false, message: err.Error()})
	} else {
		for _, dir := range cfg.SourceDirs {
			results = append(results, checkSourceDir(dir))
		}
		results = append(results, checkKvPath(cfg.KvPath))
	}

	failed := false
	for _, r := range results {
		status := "OK"
		if !r.ok {
			status = "FAIL"
			failed = true
		}
		fmt.Printf("[%s] %s: %s\n", status, r.name, r.message)
	}

	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}

func checkFFprobe() checkResult {
	if probe.Available() {
		return checkResult{name: "ffprobe", ok: true, message: "found on PATH"}
	}
	return checkResult{name: "ffprobe", ok: false, message: "not found on PATH; install ffmpeg"}
}

func checkFFmpeg() checkResult {
	if _, err := exec.LookPath("ffmpeg"); err == nil {
		return checkResult{name: "ffmpeg", ok: true, message: "found on PATH"}
	}
	return checkResult{name: "ffmpeg", ok: false, message: "not found on PATH; install ffmpeg"}
}

func checkSourceDir(dir string) checkResult {
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{name: "source:" + dir, ok: false, message: err.Error()}
	}
	if !info.IsDir() {
		return checkResult{name: "source:" + dir, ok: false, message: "not a directory"}
	}
	return checkResult{name: "source:" + dir, ok: true, message: "exists"}
}

func checkKvPath(path string) checkResult {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return checkResult{name: "kv_path:" + path, ok: false, message: err.Error()}
	}
	f.Close()
	return checkResult{name: "kv_path:" + path, ok: true, message: "writable"}
}
