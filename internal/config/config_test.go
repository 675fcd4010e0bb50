package config

import "testing"

func TestValidateRejectsEmptySources(t *testing.T) {
	cfg := &MountConfig{MountPoint: "/mnt/x", TranscodeConcurrency: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty source dirs")
	}
}

func TestValidateRejectsEmptyMountPoint(t *testing.T) {
	cfg := &MountConfig{SourceDirs: []string{"/music"}, TranscodeConcurrency: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty mount point")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &MountConfig{
		SourceDirs:           []string{"/music"},
		MountPoint:           "/mnt/musfuse",
		TranscodeConcurrency: 2,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestDefaultConcurrencyIsPositive(t *testing.T) {
	if defaultConcurrency() < 1 {
		t.Error("expected at least 1")
	}
}
