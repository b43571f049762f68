// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ZSC714725/ffconvert/internal/convert"
	"github.com/ZSC714725/ffconvert/internal/errcode"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/acquire"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/command"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/probe"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/skills"
	"github.com/ZSC714725/ffconvert/internal/logger"
)

// FFmpeg is the engine behind every user-facing operation
type FFmpeg interface {
	EnsureReady(ctx context.Context) (acquire.Handle, error)
	ProbeVideo(ctx context.Context, inputPath string) (probe.Result, error)
	PreviewConvertCommand(inputPath string, opts command.Options) (command.Command, error)
	// RunConvert starts a conversion and waits for its result.
	RunConvert(ctx context.Context, inputPath string, opts command.Options) (convert.Result, error)
	StartConvert(ctx context.Context, inputPath string, opts command.Options) (*convert.Job, error)
	CancelConvert() bool
	Subscribe() (*convert.Subscription, error)
	State() (convert.Snapshot, error)
	Skills(ctx context.Context) (skills.Skills, error)
}

// Config for the engine. Resolver and Runner are required.
type Config struct {
	Resolver acquire.Resolver
	Prober   probe.Service
	Builder  command.Builder
	Runner   *convert.Runner
	Logger   logger.Logger
}

type ffmpeg struct {
	resolver acquire.Resolver
	prober   probe.Service
	builder  command.Builder
	runner   *convert.Runner
	logger   logger.Logger

	skillsLock sync.Mutex
	skills     map[string]skills.Skills
}

// New creates the engine
func New(config Config) (FFmpeg, error) {
	f := &ffmpeg{
		resolver: config.Resolver,
		prober:   config.Prober,
		builder:  config.Builder,
		runner:   config.Runner,
		logger:   config.Logger,
		skills:   map[string]skills.Skills{},
	}

	if f.resolver == nil {
		return nil, fmt.Errorf("no resolver given")
	}
	if f.runner == nil {
		return nil, fmt.Errorf("no runner given")
	}
	if f.logger == nil {
		f.logger = logger.Nop()
	}
	if f.prober == nil {
		f.prober = probe.New(f.logger)
	}
	if f.builder == nil {
		v, err := command.NewValidator(command.DefaultExtensions, nil)
		if err != nil {
			return nil, err
		}
		f.builder = command.NewBuilder(v)
	}

	return f, nil
}

func (f *ffmpeg) EnsureReady(ctx context.Context) (acquire.Handle, error) {
	return f.resolver.EnsureReady(ctx)
}

func (f *ffmpeg) ProbeVideo(ctx context.Context, inputPath string) (probe.Result, error) {
	h, err := f.resolver.EnsureReady(ctx)
	if err != nil {
		return probe.Result{}, err
	}
	return f.prober.Probe(ctx, h.FFprobePath, inputPath)
}

func (f *ffmpeg) PreviewConvertCommand(inputPath string, opts command.Options) (command.Command, error) {
	return f.builder.Build(inputPath, opts)
}

func (f *ffmpeg) RunConvert(ctx context.Context, inputPath string, opts command.Options) (convert.Result, error) {
	job, err := f.StartConvert(ctx, inputPath, opts)
	if err != nil {
		return convert.Result{}, err
	}
	return job.Wait(ctx)
}

func (f *ffmpeg) StartConvert(ctx context.Context, inputPath string, opts command.Options) (*convert.Job, error) {
	const op = "run convert"

	// same builder as the preview, so both show identical argv
	cmd, err := f.builder.Build(inputPath, opts)
	if err != nil {
		return nil, err
	}

	if fi, err := os.Stat(inputPath); err != nil {
		return nil, errcode.New(errcode.InputNotFound, op, err)
	} else if fi.IsDir() {
		return nil, errcode.Newf(errcode.InputNotFound, op, "%s is a directory", inputPath)
	}

	if f.runner.Live() {
		return nil, errcode.Newf(errcode.Busy, op, "a conversion is already running")
	}

	h, err := f.resolver.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}
	f.checkAudioEncoder(ctx, h, opts.AudioFormat)

	return f.runner.Start(convert.Request{
		Binary:      h.FFmpegPath,
		Args:        cmd.Args,
		InputPath:   inputPath,
		OutputPath:  cmd.OutputPath,
		DurationSec: f.duration(ctx, h, inputPath),
	})
}

// duration prefers a remembered probe; a failed probe only disables progress
func (f *ffmpeg) duration(ctx context.Context, h acquire.Handle, inputPath string) float64 {
	if r, ok := f.prober.Cached(inputPath); ok {
		return r.DurationSec
	}
	r, err := f.prober.Probe(ctx, h.FFprobePath, inputPath)
	if err != nil {
		f.logger.Warn("no duration for %s, progress disabled: %v", inputPath, err)
		return 0
	}
	return r.DurationSec
}

// checkAudioEncoder detects skills on first use; detection failures only log
func (f *ffmpeg) checkAudioEncoder(ctx context.Context, h acquire.Handle, name string) {
	s, err := f.skillsFor(ctx, h)
	if err != nil {
		f.logger.Debug("skip audio encoder check: %v", err)
		return
	}
	if !s.HasAudioEncoder(name) {
		f.logger.Warn("%s lists no audio encoder %q, ffmpeg will likely reject it", h.FFmpegPath, name)
	}
}

func (f *ffmpeg) CancelConvert() bool {
	return f.runner.Cancel()
}

func (f *ffmpeg) Subscribe() (*convert.Subscription, error) {
	return f.runner.Hub().Subscribe()
}

func (f *ffmpeg) State() (convert.Snapshot, error) {
	return f.runner.Current()
}

func (f *ffmpeg) Skills(ctx context.Context) (skills.Skills, error) {
	h, err := f.resolver.EnsureReady(ctx)
	if err != nil {
		return skills.Skills{}, err
	}
	return f.skillsFor(ctx, h)
}

// skillsFor detects once per binary path
func (f *ffmpeg) skillsFor(ctx context.Context, h acquire.Handle) (skills.Skills, error) {
	f.skillsLock.Lock()
	defer f.skillsLock.Unlock()

	if s, ok := f.skills[h.FFmpegPath]; ok {
		return s, nil
	}
	s, err := skills.New(ctx, h.FFmpegPath)
	if err != nil {
		return skills.Skills{}, fmt.Errorf("detect skills: %w", err)
	}
	f.skills[h.FFmpegPath] = s
	return s, nil
}
