// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎
//
// Package acquire guarantees a verified FFmpeg/ffprobe pair on disk. It
// reuses a verified managed copy, downloads and verifies the pinned archive
// otherwise, and falls back to binaries on PATH only when the network is
// unreachable.

package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ZSC714725/ffconvert/internal/config"
	"github.com/ZSC714725/ffconvert/internal/errcode"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/skills"
	"github.com/ZSC714725/ffconvert/internal/logger"
)

// Source is the provenance of a Handle
type Source string

const (
	SourceCached       Source = "cached"
	SourceDownloaded   Source = "downloaded"
	SourcePathFallback Source = "path-fallback"
)

// ExternalVersion is reported for PATH binaries whose banner can't be parsed
const ExternalVersion = "external"

// Handle points at a runnable ffmpeg and ffprobe. It is immutable.
type Handle struct {
	Source      Source `json:"source"`
	FFmpegPath  string `json:"ffmpegPath"`
	FFprobePath string `json:"ffprobePath"`
	Version     string `json:"version"`
	Warning     string `json:"warning,omitempty"`
}

// Resolver makes FFmpeg available
type Resolver interface {
	// EnsureReady is idempotent; concurrent callers share one resolution.
	EnsureReady(ctx context.Context) (Handle, error)
}

// Config for the resolver
type Config struct {
	DataDir string
	URL     string
	Version string
	SHA256  string
	Timeout time.Duration
	Client  *http.Client
	Logger  logger.Logger
}

// swapped by tests
var lookPath = exec.LookPath

type resolver struct {
	dataDir string
	url     string
	version string
	sha256  string
	timeout time.Duration
	client  *http.Client
	logger  logger.Logger

	group singleflight.Group

	lock   sync.Mutex
	handle *Handle
}

// New creates a Resolver. Empty fields take the pinned defaults.
func New(cfg Config) (Resolver, error) {
	r := &resolver{
		dataDir: cfg.DataDir,
		url:     cfg.URL,
		version: cfg.Version,
		sha256:  strings.ToLower(strings.TrimSpace(cfg.SHA256)),
		timeout: cfg.Timeout,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}

	if r.dataDir == "" {
		return nil, fmt.Errorf("no data directory given")
	}
	if r.url == "" {
		r.url = config.PinnedURL
	}
	if r.version == "" {
		r.version = config.PinnedVersion
	}
	if r.sha256 == "" {
		r.sha256 = config.PinnedSHA256
	}
	if r.timeout <= 0 {
		r.timeout = 10 * time.Minute
	}
	if r.client == nil {
		r.client = newClient()
	}
	if r.logger == nil {
		r.logger = logger.Nop()
	}

	return r, nil
}

// EnsureReady resolves once and shares the work between concurrent callers.
// The shared resolution is detached from any single caller; the download is
// bounded by the resolver timeout instead. A caller whose ctx ends stops
// waiting without disturbing the others.
func (r *resolver) EnsureReady(ctx context.Context) (Handle, error) {
	r.lock.Lock()
	if r.handle != nil {
		h := *r.handle
		r.lock.Unlock()
		return h, nil
	}
	r.lock.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan("ensure", func() (interface{}, error) {
		h, err := r.resolve(detached)
		if err != nil {
			return Handle{}, err
		}
		r.lock.Lock()
		r.handle = &h
		r.lock.Unlock()
		return h, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Handle{}, res.Err
		}
		return res.Val.(Handle), nil
	case <-ctx.Done():
		return Handle{}, fmt.Errorf("ensure ffmpeg: %w", ctx.Err())
	}
}

func (r *resolver) resolve(ctx context.Context) (Handle, error) {
	store := r.store()

	if h, ok := r.checkCache(store); ok {
		r.logger.Info("using cached ffmpeg %s at %s", h.Version, h.FFmpegPath)
		return h, nil
	}

	r.logger.Info("downloading ffmpeg %s from %s", r.version, r.url)
	archive, err := r.download(ctx, store)
	if err != nil {
		var conn *connectivityError
		if errors.As(err, &conn) {
			return r.fallback(ctx, conn)
		}
		store.purge()
		return Handle{}, err
	}

	h, err := r.install(store, archive)
	if err != nil {
		os.Remove(archive)
		store.purge()
		return Handle{}, err
	}
	r.logger.Info("installed ffmpeg %s at %s", h.Version, h.FFmpegPath)
	return h, nil
}

func (r *resolver) store() *store {
	return &store{dir: filepath.Join(r.dataDir, "ffmpeg", r.version)}
}

func (r *resolver) checkCache(s *store) (Handle, bool) {
	m, err := s.readManifest()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("managed ffmpeg manifest unreadable, purging: %v", err)
			s.purge()
		}
		return Handle{}, false
	}

	if err := s.verify(m, r.sha256); err != nil {
		r.logger.Warn("managed ffmpeg failed verification, purging: %v", err)
		s.purge()
		return Handle{}, false
	}

	return Handle{
		Source:      SourceCached,
		FFmpegPath:  s.binPath("ffmpeg"),
		FFprobePath: s.binPath("ffprobe"),
		Version:     m.Version,
	}, true
}

func (r *resolver) install(s *store, archive string) (Handle, error) {
	const op = "extract ffmpeg"

	files, err := s.extract(archive, "ffmpeg", "ffprobe")
	if err != nil {
		return Handle{}, errcode.New(errcode.Extract, op, err)
	}
	if err := s.keepArchive(archive); err != nil {
		return Handle{}, errcode.New(errcode.Extract, op, err)
	}

	m := manifest{
		Version:       r.version,
		URL:           r.url,
		ArchiveSHA256: r.sha256,
		Files:         files,
		InstalledAt:   time.Now().UTC(),
	}
	if err := s.writeManifest(m); err != nil {
		return Handle{}, errcode.New(errcode.Extract, op, err)
	}

	return Handle{
		Source:      SourceDownloaded,
		FFmpegPath:  s.binPath("ffmpeg"),
		FFprobePath: s.binPath("ffprobe"),
		Version:     r.version,
	}, nil
}

func (r *resolver) fallback(ctx context.Context, cause error) (Handle, error) {
	const op = "locate ffmpeg"

	ffmpegPath, err := lookPath("ffmpeg")
	if err != nil {
		return Handle{}, errcode.New(errcode.NotFound, op, fmt.Errorf("ffmpeg is not on PATH after download failed: %w", cause))
	}
	ffprobePath, err := lookPath("ffprobe")
	if err != nil {
		// some installs ship ffprobe only next to ffmpeg
		sibling := filepath.Join(filepath.Dir(ffmpegPath), exeName("ffprobe"))
		if fi, serr := os.Stat(sibling); serr == nil && !fi.IsDir() {
			ffprobePath = sibling
		} else {
			return Handle{}, errcode.New(errcode.NotFound, op, fmt.Errorf("ffprobe is not on PATH after download failed: %w", cause))
		}
	}

	if abs, err := filepath.Abs(ffmpegPath); err == nil {
		ffmpegPath = abs
	}
	if abs, err := filepath.Abs(ffprobePath); err == nil {
		ffprobePath = abs
	}

	version := ExternalVersion
	if info, err := skills.Version(ctx, ffmpegPath); err == nil {
		version = info.Version
	}

	warning := fmt.Sprintf("using unverified ffmpeg %s from PATH (%s): pinned download unavailable: %v", version, ffmpegPath, cause)
	r.logger.Warn("%s", warning)

	return Handle{
		Source:      SourcePathFallback,
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		Version:     version,
		Warning:     warning,
	}, nil
}

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}
