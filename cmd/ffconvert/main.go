// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ZSC714725/ffconvert/internal/config"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/command"
	"github.com/ZSC714725/ffconvert/internal/logger"
	"github.com/ZSC714725/ffconvert/internal/tui"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code so deferred log flushing always happens
func run(args []string) int {
	fs := flag.NewFlagSet("ffconvert", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	dataDir := fs.String("data-dir", "", "FFmpeg install directory (overrides config)")
	logPath := fs.String("log", "", "Write engine logs to this file (default <data-dir>/ffconvert.log)")
	preview := fs.Bool("preview", false, "Print the FFmpeg command as JSON and exit")

	var over command.Options
	fs.IntVar(&over.Width, "width", 0, "Output width (default: source)")
	fs.IntVar(&over.Height, "height", 0, "Output height (default: source)")
	fs.IntVar(&over.VideoBitrateK, "vb", 0, "Video bitrate in kbit/s (default: source)")
	fs.Float64Var(&over.FrameRate, "fps", 0, "Fixed output frame rate (default: keep source timing)")
	fs.StringVar(&over.AudioFormat, "acodec", "", "Audio encoder (default: source codec or aac)")
	fs.IntVar(&over.AudioBitrateK, "ab", 0, "Audio bitrate in kbit/s (default: source)")
	fs.IntVar(&over.CRF, "crf", tui.DefaultCRF, "Constant rate factor 0..51")
	fs.StringVar(&over.OutputExt, "ext", "mp4", "Output container extension")

	fs.Usage = func() {
		fmt.Println("Usage: ffconvert [options] <input-file>")
		fmt.Println()
		fmt.Println("Converts one video with FFmpeg, downloading a pinned build on first use.")
		fmt.Println("Unset options are taken from the probed source.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  ffconvert movie.mov                          # same size, mp4")
		fmt.Println("  ffconvert -width 1280 -height 720 clip.mkv   # downscale")
		fmt.Println("  ffconvert -preview -ext webm clip.mp4        # show the command only")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return 1
	}
	input, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
			return 1
		}
	}
	if *dataDir != "" {
		cfg.FFmpeg.DataDir = *dataDir
	}

	// the terminal belongs to the UI, so logs go to a file
	if *logPath == "" {
		*logPath = cfg.Log.Output
	}
	if *logPath == "" {
		if err := os.MkdirAll(cfg.FFmpeg.DataDir, 0o755); err == nil {
			*logPath = filepath.Join(cfg.FFmpeg.DataDir, "ffconvert.log")
		}
	}
	l := logger.Nop()
	if *logPath != "" {
		l, err = logger.New("ffconvert", logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development, Output: *logPath})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: logger: %v\n", err)
			return 1
		}
	}
	defer logger.Sync(l)

	ff, runner, err := ffmpeg.FromConfig(cfg.FFmpeg, l)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *preview {
		return printPreview(ff, input, over)
	}

	p := tea.NewProgram(tui.NewModel(ff, input, over), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	// quitting before the job started must not leave ffmpeg behind
	if ff.CancelConvert() {
		deadline := time.Now().Add(cfg.FFmpeg.KillGrace() + time.Second)
		for runner.Live() && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
	}

	if m, ok := final.(tui.Model); ok {
		switch m.State {
		case tui.StateDone:
			fmt.Println(m.Job.OutputPath)
			return 0
		case tui.StateError:
			fmt.Fprintf(os.Stderr, "Error: %s\n", m.ErrorMessage)
		}
	}
	return 1
}

func printPreview(ff ffmpeg.FFmpeg, input string, over command.Options) int {
	ctx := context.Background()

	info, err := ff.ProbeVideo(ctx, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cmd, err := ff.PreviewConvertCommand(input, tui.MergeOptions(info, over))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(cmd)
	return 0
}
