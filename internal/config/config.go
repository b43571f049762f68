// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// 固定的获取策略，与官方构建一致
const (
	PinnedVersion = "8.0.1"
	PinnedURL     = "https://www.gyan.dev/ffmpeg/builds/ffmpeg-release-essentials.zip"
	PinnedSHA256  = "e2aaeaa0fdbc397d4794828086424d4aaa2102cef1fb6874f6ffd29c0b88b673"
)

// Config 应用配置
type Config struct {
	Server ServerConfig `yaml:"server"`
	FFmpeg FFmpegConfig `yaml:"ffmpeg"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Bind string `yaml:"bind"`
}

// FFmpegConfig FFmpeg 获取与执行配置
type FFmpegConfig struct {
	DataDir                string   `yaml:"data_dir"`
	DownloadURL            string   `yaml:"download_url"`
	Version                string   `yaml:"version"`
	SHA256                 string   `yaml:"sha256"`
	DownloadTimeoutSeconds uint64   `yaml:"download_timeout_seconds"`
	KillGraceSeconds       uint64   `yaml:"kill_grace_seconds"`
	MaxLogLines            int      `yaml:"max_log_lines"`
	OutputExtAllow         []string `yaml:"output_ext_allow"`
	OutputExtBlock         []string `yaml:"output_ext_block"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Output      string `yaml:"output"`
}

// DownloadTimeout as a duration
func (c FFmpegConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// KillGrace as a duration
func (c FFmpegConfig) KillGrace() time.Duration {
	return time.Duration(c.KillGraceSeconds) * time.Second
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{Bind: "127.0.0.1:8080"},
		FFmpeg: FFmpegConfig{
			DataDir:                defaultDataDir(),
			DownloadURL:            PinnedURL,
			Version:                PinnedVersion,
			SHA256:                 PinnedSHA256,
			DownloadTimeoutSeconds: 600,
			KillGraceSeconds:       5,
			MaxLogLines:            100,
			OutputExtAllow:         []string{`^(mp4|mkv|mov|webm|avi|m4v|ts)$`},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load 从 YAML 文件加载配置
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.fill()
	return cfg, nil
}

// 填充空值
func (c *Config) fill() {
	d := Default()
	if c.Server.Bind == "" {
		c.Server.Bind = d.Server.Bind
	}
	if c.FFmpeg.DataDir == "" {
		c.FFmpeg.DataDir = d.FFmpeg.DataDir
	}
	if c.FFmpeg.DownloadURL == "" {
		c.FFmpeg.DownloadURL = d.FFmpeg.DownloadURL
	}
	if c.FFmpeg.Version == "" {
		c.FFmpeg.Version = d.FFmpeg.Version
	}
	if c.FFmpeg.SHA256 == "" {
		c.FFmpeg.SHA256 = d.FFmpeg.SHA256
	}
	if c.FFmpeg.DownloadTimeoutSeconds == 0 {
		c.FFmpeg.DownloadTimeoutSeconds = d.FFmpeg.DownloadTimeoutSeconds
	}
	if c.FFmpeg.KillGraceSeconds == 0 {
		c.FFmpeg.KillGraceSeconds = d.FFmpeg.KillGraceSeconds
	}
	if c.FFmpeg.MaxLogLines <= 0 {
		c.FFmpeg.MaxLogLines = d.FFmpeg.MaxLogLines
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "ffconvert")
}
