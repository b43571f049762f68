// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package probe

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZSC714725/ffconvert/internal/errcode"
)

const sampleJSON = `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "mjpeg", "width": 300, "height": 300,
     "avg_frame_rate": "0/0", "disposition": {"attached_pic": 1}},
    {"index": 1, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "avg_frame_rate": "30000/1001", "r_frame_rate": "30000/1001", "bit_rate": "4500000"},
    {"index": 2, "codec_type": "audio", "codec_name": "opus", "bit_rate": "160000"},
    {"index": 3, "codec_type": "audio", "codec_name": "aac", "bit_rate": "96000"}
  ],
  "format": {"duration": "125.000000", "bit_rate": "4700000"}
}`

func TestParseJSON(t *testing.T) {
	r, err := ParseJSON([]byte(sampleJSON))
	if err != nil {
		t.Fatal(err)
	}
	if r.Width != 1920 || r.Height != 1080 {
		t.Fatalf("resolution = %dx%d", r.Width, r.Height)
	}
	if math.Abs(r.FrameRate-29.97002997) > 1e-6 {
		t.Fatalf("frame rate = %v", r.FrameRate)
	}
	if r.VideoBitrateK != 4500 || r.AudioBitrateK != 160 || r.AudioFormat != "opus" {
		t.Fatalf("unexpected result %+v", r)
	}
	if r.DurationSec != 125 {
		t.Fatalf("duration = %v", r.DurationSec)
	}
}

func TestParseJSONFallbacks(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Result
	}{
		{
			name: "empty",
			json: `{}`,
			want: Result{FrameRate: 30, VideoBitrateK: 3000, AudioBitrateK: 128, AudioFormat: "aac"},
		},
		{
			name: "format bitrate and r_frame_rate",
			json: `{"streams":[{"codec_type":"video","width":640,"height":360,"avg_frame_rate":"0/0","r_frame_rate":"25/1"}],
			        "format":{"bit_rate":"800000","duration":"N/A"}}`,
			want: Result{Width: 640, Height: 360, FrameRate: 25, VideoBitrateK: 800, AudioBitrateK: 128, AudioFormat: "aac"},
		},
		{
			name: "audio only",
			json: `{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"3.5"}}`,
			want: Result{FrameRate: 30, VideoBitrateK: 3000, AudioBitrateK: 128, AudioFormat: "mp3", DurationSec: 3.5},
		},
		{
			name: "decimal rate",
			json: `{"streams":[{"codec_type":"video","avg_frame_rate":"59.94","bit_rate":"0"}]}`,
			want: Result{FrameRate: 59.94, VideoBitrateK: 3000, AudioBitrateK: 128, AudioFormat: "aac"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON([]byte(tt.json))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseJSONRejectsGarbage(t *testing.T) {
	if _, err := ParseJSON([]byte("not json")); err == nil {
		t.Fatal("expected error")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbeRunsBinaryAndCaches(t *testing.T) {
	ffprobe := writeScript(t, "cat <<'EOF'\n"+sampleJSON+"\nEOF\n")
	s := New(nil)

	if _, ok := s.Cached("in.mp4"); ok {
		t.Fatal("cache should start empty")
	}
	r, err := s.Probe(context.Background(), ffprobe, "./in.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if r.Width != 1920 {
		t.Fatalf("result = %+v", r)
	}
	cached, ok := s.Cached("in.mp4")
	if !ok || cached != r {
		t.Fatalf("Cached() = %+v, %v", cached, ok)
	}
}

func TestProbeErrorKinds(t *testing.T) {
	s := New(nil)

	failing := writeScript(t, "echo 'in.mp4: No such file or directory' >&2\nexit 1\n")
	if _, err := s.Probe(context.Background(), failing, "in.mp4"); !errcode.Is(err, errcode.Probe) {
		t.Fatalf("nonzero exit: err = %v, want %s", err, errcode.Probe)
	}

	garbage := writeScript(t, "echo '{broken'\n")
	if _, err := s.Probe(context.Background(), garbage, "in.mp4"); !errcode.Is(err, errcode.Probe) {
		t.Fatalf("bad json: err = %v, want %s", err, errcode.Probe)
	}

	missing := filepath.Join(t.TempDir(), "no-ffprobe")
	if _, err := s.Probe(context.Background(), missing, "in.mp4"); !errcode.Is(err, errcode.Start) {
		t.Fatalf("missing binary: err = %v, want %s", err, errcode.Start)
	}
}

// gatedScript records each run in a counter file and holds its output until
// the release file appears.
func gatedScript(t *testing.T) (ffprobe, runs, release string) {
	t.Helper()
	dir := t.TempDir()
	runs = filepath.Join(dir, "runs")
	release = filepath.Join(dir, "release")
	ffprobe = writeScript(t, "echo run >> '"+runs+"'\n"+
		"while [ ! -f '"+release+"' ]; do sleep 0.02; done\n"+
		"cat <<'EOF'\n"+sampleJSON+"\nEOF\n")
	return ffprobe, runs, release
}

func waitForRun(t *testing.T, runs string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(runs); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ffprobe never started")
}

func countRuns(t *testing.T, runs string) int {
	t.Helper()
	b, err := os.ReadFile(runs)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Count(string(b), "run")
}

func TestConcurrentCallersShareOneRun(t *testing.T) {
	ffprobe, runs, release := gatedScript(t)
	s := New(nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Probe(context.Background(), ffprobe, "in.mp4")
		}(i)
	}

	waitForRun(t, runs)
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(release, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] || results[i].Width != 1920 {
			t.Fatalf("caller %d got %+v", i, results[i])
		}
	}
	if n := countRuns(t, runs); n != 1 {
		t.Fatalf("ffprobe ran %d times, want 1", n)
	}
}

func TestCancelledCallerLeavesSharedRunAlone(t *testing.T) {
	ffprobe, runs, release := gatedScript(t)
	s := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Probe(ctx, ffprobe, "in.mp4")
		first <- err
	}()
	waitForRun(t, runs)

	second := make(chan error, 1)
	var got Result
	go func() {
		var err error
		got, err = s.Probe(context.Background(), ffprobe, "in.mp4")
		second <- err
	}()
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled caller: err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	if err := os.WriteFile(release, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := <-second; err != nil {
		t.Fatalf("waiting caller failed: %v", err)
	}
	if got.Width != 1920 {
		t.Fatalf("result = %+v", got)
	}
	if _, ok := s.Cached("in.mp4"); !ok {
		t.Fatal("result not cached")
	}
	if n := countRuns(t, runs); n != 1 {
		t.Fatalf("ffprobe ran %d times, want 1", n)
	}
}
