// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ZSC714725/ffconvert/internal/errcode"
	"github.com/ZSC714725/ffconvert/internal/logger"
)

// Fallbacks for fields ffprobe leaves out or reports as zero
const (
	DefaultVideoBitrateK = 3000
	DefaultAudioBitrateK = 128
	DefaultAudioFormat   = "aac"
	DefaultFrameRate     = 30
)

// upper bound for one ffprobe run
var probeTimeout = 2 * time.Minute

// Result is the media metadata used to prefill conversion options
type Result struct {
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	FrameRate     float64 `json:"frameRate"`
	VideoBitrateK int     `json:"videoBitrateK"`
	AudioBitrateK int     `json:"audioBitrateK"`
	AudioFormat   string  `json:"audioFormat"`
	DurationSec   float64 `json:"durationSec"`
}

// Service runs ffprobe
type Service interface {
	Probe(ctx context.Context, ffprobePath, inputPath string) (Result, error)
	// Cached returns the last successful result for inputPath.
	Cached(inputPath string) (Result, bool)
}

type service struct {
	logger logger.Logger
	group  singleflight.Group

	lock  sync.RWMutex
	cache map[string]Result
}

// New creates a probe Service
func New(log logger.Logger) Service {
	if log == nil {
		log = logger.Nop()
	}
	return &service{
		logger: log,
		cache:  map[string]Result{},
	}
}

// Probe runs ffprobe once per input for all concurrent callers. The run is
// detached from the callers and bounded by probeTimeout.
func (s *service) Probe(ctx context.Context, ffprobePath, inputPath string) (Result, error) {
	key := filepath.Clean(inputPath)

	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(ffprobePath+"\x00"+key, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(detached, probeTimeout)
		defer cancel()
		r, err := run(runCtx, ffprobePath, inputPath)
		if err != nil {
			return Result{}, err
		}
		s.lock.Lock()
		s.cache[key] = r
		s.lock.Unlock()
		return r, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("shared in-flight probe of %s", inputPath)
		}
		if res.Err != nil {
			s.logger.Error("probe %s: %v", inputPath, res.Err)
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("probe %s: %w", inputPath, ctx.Err())
	}
}

func (s *service) Cached(inputPath string) (Result, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	r, ok := s.cache[filepath.Clean(inputPath)]
	return r, ok
}

func run(ctx context.Context, ffprobePath, inputPath string) (Result, error) {
	const op = "probe video"

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-of", "json",
		inputPath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, errcode.Newf(errcode.Probe, op, "ffprobe exited with %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return Result{}, errcode.New(errcode.Start, op, err)
	}

	r, err := ParseJSON(stdout.Bytes())
	if err != nil {
		return Result{}, errcode.New(errcode.Probe, op, err)
	}
	return r, nil
}

// ParseJSON converts raw ffprobe JSON output into a Result with fallbacks
// applied. Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (Result, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	return buildResult(&raw), nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecName    string         `json:"codec_name"`
	CodecType    string         `json:"codec_type"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	BitRate      string         `json:"bit_rate"`
	AvgFrameRate string         `json:"avg_frame_rate"`
	RFrameRate   string         `json:"r_frame_rate"`
	Disposition  map[string]int `json:"disposition"`
}

func buildResult(raw *ffprobeOutput) Result {
	r := Result{
		DurationSec: parseFloat(raw.Format.Duration),
	}

	var video, audio *ffprobeStream
	for i := range raw.Streams {
		st := &raw.Streams[i]
		switch st.CodecType {
		case "video":
			if video == nil && st.Disposition["attached_pic"] != 1 {
				video = st
			}
		case "audio":
			if audio == nil {
				audio = st
			}
		}
	}

	if video != nil {
		r.Width = video.Width
		r.Height = video.Height
		r.FrameRate = parseRate(video.AvgFrameRate)
		if r.FrameRate == 0 {
			r.FrameRate = parseRate(video.RFrameRate)
		}
		r.VideoBitrateK = kilo(video.BitRate)
		if r.VideoBitrateK == 0 {
			r.VideoBitrateK = kilo(raw.Format.BitRate)
		}
	}
	if audio != nil {
		r.AudioBitrateK = kilo(audio.BitRate)
		r.AudioFormat = audio.CodecName
	}

	if r.VideoBitrateK <= 0 {
		r.VideoBitrateK = DefaultVideoBitrateK
	}
	if r.AudioBitrateK <= 0 {
		r.AudioBitrateK = DefaultAudioBitrateK
	}
	if r.AudioFormat == "" {
		r.AudioFormat = DefaultAudioFormat
	}
	if r.FrameRate <= 0 {
		r.FrameRate = DefaultFrameRate
	}
	if r.DurationSec < 0 || math.IsNaN(r.DurationSec) || math.IsInf(r.DurationSec, 0) {
		r.DurationSec = 0
	}
	return r
}

// parseRate accepts "num/den" or a plain decimal
func parseRate(s string) float64 {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return finite(n / d)
	}
	return finite(parseFloat(s))
}

func kilo(bitRate string) int {
	n, _ := strconv.ParseInt(strings.TrimSpace(bitRate), 10, 64)
	if n <= 0 {
		return 0
	}
	return int(n / 1000)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}
