// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package ffmpeg

import (
	"github.com/ZSC714725/ffconvert/internal/config"
	"github.com/ZSC714725/ffconvert/internal/convert"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/acquire"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/command"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/probe"
	"github.com/ZSC714725/ffconvert/internal/logger"
)

// FromConfig wires resolver, prober, builder and runner from the ffmpeg
// section of the configuration. The runner is returned for shutdown handling.
func FromConfig(cfg config.FFmpegConfig, log logger.Logger) (FFmpeg, *convert.Runner, error) {
	if log == nil {
		log = logger.Nop()
	}

	resolver, err := acquire.New(acquire.Config{
		DataDir: cfg.DataDir,
		URL:     cfg.DownloadURL,
		Version: cfg.Version,
		SHA256:  cfg.SHA256,
		Timeout: cfg.DownloadTimeout(),
		Logger:  log.Named("acquire"),
	})
	if err != nil {
		return nil, nil, err
	}

	ext, err := command.NewValidator(cfg.OutputExtAllow, cfg.OutputExtBlock)
	if err != nil {
		return nil, nil, err
	}

	runner := convert.NewRunner(convert.Config{
		Logger:      log.Named("convert"),
		KillGrace:   cfg.KillGrace(),
		MaxLogLines: cfg.MaxLogLines,
	})

	ff, err := New(Config{
		Resolver: resolver,
		Prober:   probe.New(log.Named("probe")),
		Builder:  command.NewBuilder(ext),
		Runner:   runner,
		Logger:   log,
	})
	if err != nil {
		return nil, nil, err
	}
	return ff, runner, nil
}
