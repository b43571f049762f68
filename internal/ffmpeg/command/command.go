// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎
//
// Package command turns conversion options into an FFmpeg argument vector.
// Building is pure: the same input and options always give the same result.

package command

import (
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ZSC714725/ffconvert/internal/errcode"
)

// FpsMode selects constant or variable frame rate output
type FpsMode string

const (
	FpsFixed    FpsMode = "fixed"
	FpsVariable FpsMode = "variable"
)

// OutputSuffix is appended to the input stem
const OutputSuffix = "_converted"

// Options are the user-chosen conversion parameters
type Options struct {
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	VideoBitrateK int     `json:"videoBitrateK"`
	FpsMode       FpsMode `json:"fpsMode"`
	FrameRate     float64 `json:"frameRate"`
	AudioFormat   string  `json:"audioFormat"`
	AudioBitrateK int     `json:"audioBitrateK"`
	CRF           int     `json:"crf"`
	OutputExt     string  `json:"outputExt"`
}

// Command is a fully derived invocation
type Command struct {
	OutputPath string   `json:"outputPath"`
	Args       []string `json:"args"`
}

// Builder derives commands from options
type Builder interface {
	Build(inputPath string, opts Options) (Command, error)
}

type builder struct {
	ext Validator
}

var reCodec = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

var defaultBuilder = func() Builder {
	v, _ := NewValidator(DefaultExtensions, nil)
	return NewBuilder(v)
}()

// NewBuilder returns a Builder checking output extensions with ext.
// A nil validator accepts any plain extension.
func NewBuilder(ext Validator) Builder {
	if ext == nil {
		ext, _ = NewValidator(nil, nil)
	}
	return &builder{ext: ext}
}

// Build uses the default extension rules
func Build(inputPath string, opts Options) (Command, error) {
	return defaultBuilder.Build(inputPath, opts)
}

// NormalizeExt lower-cases ext and strips a leading dot
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// OutputPath places the converted file next to the input
func OutputPath(inputPath, ext string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(inputPath), stem+OutputSuffix+"."+NormalizeExt(ext))
}

func (b *builder) Build(inputPath string, opts Options) (Command, error) {
	if err := b.validate(inputPath, opts); err != nil {
		return Command{}, err
	}

	out := OutputPath(inputPath, opts.OutputExt)

	filter := "scale=" + strconv.Itoa(opts.Width) + ":" + strconv.Itoa(opts.Height)
	if opts.FpsMode == FpsFixed {
		filter += ",fps=" + formatFloat(opts.FrameRate)
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-vf", filter,
		"-b:v", strconv.Itoa(opts.VideoBitrateK) + "k",
		"-crf", strconv.Itoa(opts.CRF),
		"-c:a", opts.AudioFormat,
		"-b:a", strconv.Itoa(opts.AudioBitrateK) + "k",
	}
	if opts.FpsMode == FpsFixed {
		args = append(args, "-fps_mode", "cfr")
	}
	args = append(args, out)

	return Command{OutputPath: out, Args: args}, nil
}

func (b *builder) validate(inputPath string, opts Options) error {
	const op = "build command"

	switch {
	case strings.TrimSpace(inputPath) == "":
		return errcode.Newf(errcode.InvalidOptions, op, "input path is empty")
	case opts.Width <= 0 || opts.Height <= 0:
		return errcode.Newf(errcode.InvalidOptions, op, "resolution must be positive, got %dx%d", opts.Width, opts.Height)
	case opts.VideoBitrateK <= 0:
		return errcode.Newf(errcode.InvalidOptions, op, "video bitrate must be positive, got %d", opts.VideoBitrateK)
	case opts.AudioBitrateK <= 0:
		return errcode.Newf(errcode.InvalidOptions, op, "audio bitrate must be positive, got %d", opts.AudioBitrateK)
	case opts.CRF < 0 || opts.CRF > 51:
		return errcode.Newf(errcode.InvalidOptions, op, "crf must be within 0..51, got %d", opts.CRF)
	case !reCodec.MatchString(opts.AudioFormat):
		return errcode.Newf(errcode.InvalidOptions, op, "invalid audio format %q", opts.AudioFormat)
	}

	switch opts.FpsMode {
	case FpsFixed:
		if math.IsNaN(opts.FrameRate) || math.IsInf(opts.FrameRate, 0) || opts.FrameRate <= 0 {
			return errcode.Newf(errcode.InvalidOptions, op, "frame rate must be a positive number, got %v", opts.FrameRate)
		}
	case FpsVariable:
	default:
		return errcode.Newf(errcode.InvalidOptions, op, "unknown fps mode %q", opts.FpsMode)
	}

	if ext := NormalizeExt(opts.OutputExt); !b.ext.IsValid(ext) {
		return errcode.Newf(errcode.InvalidOptions, op, "output extension %q is not allowed", opts.OutputExt)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
