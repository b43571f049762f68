// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZSC714725/ffconvert/internal/config"
	"github.com/ZSC714725/ffconvert/internal/convert"
	"github.com/ZSC714725/ffconvert/internal/errcode"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/acquire"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/command"
	"github.com/ZSC714725/ffconvert/internal/logger"
	"github.com/ZSC714725/ffconvert/internal/process"
)

type stubResolver struct {
	handle acquire.Handle
	err    error
	calls  atomic.Int32
}

func (s *stubResolver) EnsureReady(ctx context.Context) (acquire.Handle, error) {
	s.calls.Add(1)
	return s.handle, s.err
}

const echoArgs = `#!/bin/sh
for a in "$@"; do echo "ARG:$a"; done
echo "frame=10 time=00:00:01.00 speed=1x" >&2
`

const fakeProbe = `#!/bin/sh
echo '{"streams":[{"codec_type":"video","width":320,"height":240,"avg_frame_rate":"25/1"}],"format":{"duration":"4.0"}}'
`

func newEngine(t *testing.T) (FFmpeg, *stubResolver, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	ff := filepath.Join(dir, "ffmpeg")
	fp := filepath.Join(dir, "ffprobe")
	os.WriteFile(ff, []byte(echoArgs), 0o755)
	os.WriteFile(fp, []byte(fakeProbe), 0o755)

	input := filepath.Join(dir, "holiday.MOV")
	os.WriteFile(input, []byte("not really a video"), 0o644)

	res := &stubResolver{handle: acquire.Handle{
		Source:      acquire.SourceCached,
		FFmpegPath:  ff,
		FFprobePath: fp,
		Version:     "8.0.1",
	}}
	e, err := New(Config{
		Resolver: res,
		Runner:   convert.NewRunner(convert.Config{NewMonitor: process.NewNullMonitor}),
	})
	if err != nil {
		t.Fatal(err)
	}
	return e, res, input
}

func options() command.Options {
	return command.Options{
		Width: 640, Height: 360, VideoBitrateK: 800, FpsMode: command.FpsFixed, FrameRate: 24,
		AudioFormat: "aac", AudioBitrateK: 96, CRF: 28, OutputExt: "mp4",
	}
}

func TestPreviewMatchesExecutedArgs(t *testing.T) {
	e, _, input := newEngine(t)

	preview, err := e.PreviewConvertCommand(input, options())
	if err != nil {
		t.Fatal(err)
	}

	sub, err := e.Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := e.RunConvert(ctx, input, options())
	if err != nil {
		t.Fatal(err)
	}
	if res.OutputPath != preview.OutputPath || res.ExitCode != 0 {
		t.Fatalf("result = %+v, preview output %q", res, preview.OutputPath)
	}

	var executed []string
	var sawProgress bool
	for done := false; !done; {
		select {
		case ev := <-sub.Events():
			switch ev.Type {
			case convert.EventLog:
				if strings.HasPrefix(ev.Message, "ARG:") {
					executed = append(executed, strings.TrimPrefix(ev.Message, "ARG:"))
				}
			case convert.EventProgress:
				sawProgress = *ev.Percent == 25
			case convert.EventDone:
				done = true
			}
		case <-ctx.Done():
			t.Fatal("no done event")
		}
	}

	if !reflect.DeepEqual(executed, preview.Args) {
		t.Fatalf("executed %q\npreview  %q", executed, preview.Args)
	}
	if !sawProgress {
		t.Fatal("duration from probe was not used for progress")
	}
}

func TestRunConvertValidatesBeforeResolving(t *testing.T) {
	e, res, input := newEngine(t)

	bad := options()
	bad.CRF = 99
	if _, err := e.RunConvert(context.Background(), input, bad); !errcode.Is(err, errcode.InvalidOptions) {
		t.Fatalf("err = %v, want %s", err, errcode.InvalidOptions)
	}

	missing := filepath.Join(filepath.Dir(input), "nope.mp4")
	if _, err := e.RunConvert(context.Background(), missing, options()); !errcode.Is(err, errcode.InputNotFound) {
		t.Fatalf("err = %v, want %s", err, errcode.InputNotFound)
	}

	if n := res.calls.Load(); n != 0 {
		t.Fatalf("resolver called %d times for rejected requests", n)
	}
}

func TestResolverErrorsPropagate(t *testing.T) {
	e, res, input := newEngine(t)
	res.err = errcode.Newf(errcode.NotFound, "locate ffmpeg", "offline")

	if _, err := e.RunConvert(context.Background(), input, options()); !errcode.Is(err, errcode.NotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := e.ProbeVideo(context.Background(), input); !errcode.Is(err, errcode.NotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestProbeVideoAndCancelWithoutJob(t *testing.T) {
	e, _, input := newEngine(t)

	r, err := e.ProbeVideo(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	if r.Width != 320 || r.FrameRate != 25 || r.DurationSec != 4 || r.VideoBitrateK != 3000 {
		t.Fatalf("probe = %+v", r)
	}

	if e.CancelConvert() {
		t.Fatal("CancelConvert() = true with no job")
	}
	if snap, err := e.State(); err != convert.ErrNoJob || snap.State != convert.StateIdle {
		t.Fatalf("State() = %+v, %v", snap, err)
	}
}

// answers -version and -codecs like a build with only the native aac encoder
const aacOnly = `#!/bin/sh
case "$1" in
-version) echo 'ffmpeg version 8.0.1 Copyright (c) 2000-2025 the FFmpeg developers' ;;
-hide_banner)
	echo listed >> "$(dirname "$0")/codec-lists"
	echo ' DEA.L. aac                  AAC (Advanced Audio Coding) (decoders: aac aac_fixed)'
	;;
esac
`

func TestStartWarnsAboutUnlistedAudioEncoder(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	ff := filepath.Join(dir, "ffmpeg")
	fp := filepath.Join(dir, "ffprobe")
	os.WriteFile(ff, []byte(aacOnly), 0o755)
	os.WriteFile(fp, []byte(fakeProbe), 0o755)
	input := filepath.Join(dir, "clip.mp4")
	os.WriteFile(input, []byte("not really a video"), 0o644)

	logPath := filepath.Join(dir, "engine.log")
	l, err := logger.New("ffconvert", logger.Config{Level: "warn", Output: logPath})
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(Config{
		Resolver: &stubResolver{handle: acquire.Handle{Source: acquire.SourceCached, FFmpegPath: ff, FFprobePath: fp, Version: "8.0.1"}},
		Runner:   convert.NewRunner(convert.Config{NewMonitor: process.NewNullMonitor}),
		Logger:   l,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// no Skills call beforehand
	opts := options()
	if _, err := e.RunConvert(ctx, input, opts); err != nil {
		t.Fatal(err)
	}
	opts.AudioFormat = "libfdk_aac"
	if _, err := e.RunConvert(ctx, input, opts); err != nil {
		t.Fatal(err)
	}
	logger.Sync(l)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, `no audio encoder "libfdk_aac"`) {
		t.Fatalf("missing warning:\n%s", out)
	}
	if strings.Contains(out, `no audio encoder "aac"`) {
		t.Fatalf("warned about a listed encoder:\n%s", out)
	}

	lists, err := os.ReadFile(filepath.Join(dir, "codec-lists"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(lists), "listed"); n != 1 {
		t.Fatalf("codecs listed %d times, want 1", n)
	}
}

func TestFromConfigAppliesExtensionRules(t *testing.T) {
	cfg := config.Default().FFmpeg
	cfg.DataDir = t.TempDir()
	cfg.OutputExtBlock = []string{`^avi$`}

	ff, runner, err := FromConfig(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if runner.Live() {
		t.Fatal("fresh runner is live")
	}

	opts := command.Options{
		Width: 640, Height: 360, VideoBitrateK: 800, FpsMode: command.FpsVariable,
		AudioFormat: "aac", AudioBitrateK: 96, CRF: 23,
	}

	opts.OutputExt = "avi"
	if _, err := ff.PreviewConvertCommand("/in/a.mp4", opts); !errcode.Is(err, errcode.InvalidOptions) {
		t.Fatalf("blocked extension: err = %v", err)
	}
	opts.OutputExt = "gif"
	if _, err := ff.PreviewConvertCommand("/in/a.mp4", opts); !errcode.Is(err, errcode.InvalidOptions) {
		t.Fatalf("extension outside allow list: err = %v", err)
	}
	opts.OutputExt = "MKV"
	if _, err := ff.PreviewConvertCommand("/in/a.mp4", opts); err != nil {
		t.Fatalf("allowed extension: %v", err)
	}

	cfg.OutputExtAllow = []string{`(`}
	if _, _, err := FromConfig(cfg, nil); err == nil {
		t.Fatal("invalid pattern accepted")
	}
}
