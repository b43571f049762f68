// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package parse

import (
	"container/ring"
	"math"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/ZSC714725/ffconvert/internal/process"
)

var (
	reTime  = regexp.MustCompile(`time=\s*(\S+)`)
	reClock = regexp.MustCompile(`^([0-9]+):([0-9]{2}):([0-9]{2}(?:\.[0-9]+)?)$`)
	reFrame = regexp.MustCompile(`frame=\s*([0-9]+)`)
	reSize  = regexp.MustCompile(`size=\s*([0-9]+)(?:kB|KiB)`)
	reSpeed = regexp.MustCompile(`speed=\s*([0-9\.]+)x`)
)

// Percent extracts the first HH:MM:SS[.frac] value after a time= marker and
// returns elapsed/duration*100 clamped to [0,100]. ok is false when the line
// has no usable marker or durationSec <= 0.
func Percent(line string, durationSec float64) (float64, bool) {
	if !(durationSec > 0) || math.IsInf(durationSec, 0) {
		return 0, false
	}
	elapsed, ok := Elapsed(line)
	if !ok {
		return 0, false
	}
	return clamp(elapsed / durationSec * 100), true
}

// Elapsed returns the seconds encoded in the first time= marker of line.
func Elapsed(line string) (float64, bool) {
	m := reTime.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	c := reClock.FindStringSubmatch(m[1])
	if c == nil {
		return 0, false
	}
	h, err := strconv.Atoi(c[1])
	if err != nil {
		return 0, false
	}
	mm, _ := strconv.Atoi(c[2])
	s, err := strconv.ParseFloat(c[3], 64)
	if err != nil || mm > 59 || s >= 60 {
		return 0, false
	}
	return float64(h*3600+mm*60) + s, true
}

func clamp(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Progress holds FFmpeg progress info parsed from stderr
type Progress struct {
	Frame   uint64  `json:"frame"`
	Size    uint64  `json:"sizeBytes"`
	Time    float64 `json:"timeSeconds"`
	Speed   float64 `json:"speed"`
	Percent float64 `json:"percent"`
	Known   bool    `json:"known"`
}

// Parser tracks progress and a bounded log for one job
type Parser interface {
	// Parse records line and returns the instantaneous percentage, if any.
	Parse(line string) (float64, bool)
	Progress() Progress
	Log() []process.Line
}

type parser struct {
	duration float64

	log      *ring.Ring
	logLines int

	progress Progress
	lock     sync.RWMutex
}

// Config for the parser
type Config struct {
	LogLines    int
	DurationSec float64
}

// New creates a Parser
func New(config Config) Parser {
	p := &parser{
		logLines: config.LogLines,
		duration: config.DurationSec,
	}
	if p.logLines <= 0 {
		p.logLines = 100
	}
	p.log = ring.New(p.logLines)
	return p
}

func (p *parser) Parse(line string) (float64, bool) {
	now := time.Now()

	p.lock.Lock()
	defer p.lock.Unlock()

	p.log.Value = process.Line{Timestamp: now, Data: line}
	p.log = p.log.Next()

	if m := reFrame.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			p.progress.Frame = x
		}
	}
	if m := reSize.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			p.progress.Size = x * 1024
		}
	}
	if m := reSpeed.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.progress.Speed = x
		}
	}
	if elapsed, ok := Elapsed(line); ok {
		p.progress.Time = elapsed
	}

	pct, ok := Percent(line, p.duration)
	if ok {
		p.progress.Percent = pct
		p.progress.Known = true
	}
	return pct, ok
}

func (p *parser) Log() []process.Line {
	var out []process.Line
	p.lock.RLock()
	p.log.Do(func(v interface{}) {
		if v != nil {
			out = append(out, v.(process.Line))
		}
	})
	p.lock.RUnlock()
	return out
}

func (p *parser) Progress() Progress {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.progress
}
