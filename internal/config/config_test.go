// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FFmpeg.SHA256 != PinnedSHA256 || cfg.FFmpeg.DownloadURL != PinnedURL || cfg.FFmpeg.Version != PinnedVersion {
		t.Fatalf("defaults do not carry the pinned policy: %+v", cfg.FFmpeg)
	}
}

func TestLoadFillsEmptyValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffconvert.yaml")
	data := []byte("server:\n  bind: \":9000\"\nffmpeg:\n  data_dir: /srv/ffconvert\n  kill_grace_seconds: 2\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Bind != ":9000" {
		t.Errorf("bind = %q", cfg.Server.Bind)
	}
	if cfg.FFmpeg.DataDir != "/srv/ffconvert" {
		t.Errorf("data_dir = %q", cfg.FFmpeg.DataDir)
	}
	if cfg.FFmpeg.KillGrace() != 2*time.Second {
		t.Errorf("kill grace = %v", cfg.FFmpeg.KillGrace())
	}
	if cfg.FFmpeg.SHA256 != PinnedSHA256 {
		t.Errorf("sha256 not back-filled: %q", cfg.FFmpeg.SHA256)
	}
	if cfg.FFmpeg.MaxLogLines != 100 {
		t.Errorf("max_log_lines = %d", cfg.FFmpeg.MaxLogLines)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
