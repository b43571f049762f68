// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package convert

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ZSC714725/ffconvert/internal/errcode"
	"github.com/ZSC714725/ffconvert/internal/process"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
}

func newTestRunner() *Runner {
	return NewRunner(Config{
		KillGrace:  2 * time.Second,
		NewMonitor: process.NewNullMonitor,
	})
}

func shell(script string, duration float64) Request {
	return Request{
		Binary:      "/bin/sh",
		Args:        []string{"-c", script},
		InputPath:   "in.mp4",
		OutputPath:  "in_converted.mp4",
		DurationSec: duration,
	}
}

func waitJob(t *testing.T, job *Job) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := job.Wait(ctx)
	if err == context.DeadlineExceeded {
		t.Fatal("job did not finish in time")
	}
	return res, err
}

// collect drains sub until the done event for jobID
func collect(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e := <-sub.Events():
			events = append(events, e)
			if e.Type == EventDone {
				return events
			}
		case <-timeout:
			t.Fatalf("no done event, got %d events", len(events))
		}
	}
}

func waitForLine(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e := <-sub.Events():
			if e.Type == EventLog && e.Message == want {
				return
			}
		case <-timeout:
			t.Fatalf("never saw line %q", want)
		}
	}
}

func TestRunCompletesWithOrderedEvents(t *testing.T) {
	requireShell(t)
	r := newTestRunner()
	sub, err := r.Hub().Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	script := `echo "Input #0"; printf 'frame=1 time=00:00:02.50 speed=1x\r'; echo "frame=2 time=00:00:05.00 speed=1x" 1>&2; echo tail`
	job, err := r.Start(shell(script, 10))
	if err != nil {
		t.Fatal(err)
	}
	res, err := waitJob(t, job)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 || res.OutputPath != "in_converted.mp4" {
		t.Fatalf("result = %+v", res)
	}

	events := collect(t, sub)

	var lines []string
	var percents []float64
	var lastSeq uint64
	for _, e := range events {
		if e.Seq <= lastSeq {
			t.Fatalf("sequence not increasing: %d after %d", e.Seq, lastSeq)
		}
		lastSeq = e.Seq
		if e.JobID != job.ID {
			t.Fatalf("event for foreign job %q", e.JobID)
		}
		switch e.Type {
		case EventLog:
			lines = append(lines, e.Message)
		case EventProgress:
			percents = append(percents, *e.Percent)
		}
	}

	got := strings.Join(lines[1:len(lines)-1], "|")
	want := "Input #0|frame=1 time=00:00:02.50 speed=1x|frame=2 time=00:00:05.00 speed=1x|tail"
	if got != want {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	if !strings.HasPrefix(lines[0], "starting: /bin/sh") || lines[len(lines)-1] != "converted: in_converted.mp4" {
		t.Fatalf("start/finish messages = %q / %q", lines[0], lines[len(lines)-1])
	}
	if len(percents) != 2 || percents[0] != 25 || percents[1] != 50 {
		t.Fatalf("percents = %v", percents)
	}

	done := events[len(events)-1]
	if done.State != StateCompleted || *done.ExitCode != 0 || done.Kind != "" {
		t.Fatalf("done event = %+v", done)
	}

	snap, err := r.Current()
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != StateCompleted || snap.Progress.Percent != 50 || snap.ExitCode != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	requireShell(t)
	r := newTestRunner()

	job, err := r.Start(shell("echo 'Unknown encoder' 1>&2; exit 3", 0))
	if err != nil {
		t.Fatal(err)
	}
	_, err = waitJob(t, job)
	if !errcode.Is(err, errcode.Convert) || errcode.ExitCodeOf(err) != 3 {
		t.Fatalf("err = %v, want %s with exit 3", err, errcode.Convert)
	}
	snap, _ := r.Current()
	if snap.State != StateFailed || snap.Kind != string(errcode.Convert) {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStartWhileBusyIsRejected(t *testing.T) {
	requireShell(t)
	r := newTestRunner()
	sub, _ := r.Hub().Subscribe()
	defer sub.Close()

	job, err := r.Start(shell(`trap "exit 0" TERM; echo started; while :; do sleep 0.1; done`, 0))
	if err != nil {
		t.Fatal(err)
	}
	waitForLine(t, sub, "started")

	marker := filepath.Join(t.TempDir(), "spawned")
	if _, err := r.Start(shell("touch "+marker, 0)); !errcode.Is(err, errcode.Busy) {
		t.Fatalf("err = %v, want %s", err, errcode.Busy)
	}

	if !r.Cancel() {
		t.Fatal("Cancel() = false with a live job")
	}
	waitJob(t, job)

	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("rejected request spawned a process")
	}
}

func TestCancelWithoutJob(t *testing.T) {
	r := newTestRunner()
	if r.Cancel() {
		t.Fatal("Cancel() = true with no job")
	}
	if _, err := r.Current(); err != ErrNoJob {
		t.Fatalf("Current() err = %v", err)
	}
}

func TestCancelAfterCompletionIsNoop(t *testing.T) {
	requireShell(t)
	r := newTestRunner()
	job, err := r.Start(shell("exit 0", 0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := waitJob(t, job); err != nil {
		t.Fatal(err)
	}
	if r.Cancel() {
		t.Fatal("Cancel() = true after completion")
	}
}

func TestCancelWinsOverCleanExit(t *testing.T) {
	requireShell(t)
	r := newTestRunner()
	sub, _ := r.Hub().Subscribe()
	defer sub.Close()

	// exits 0 on SIGTERM
	job, err := r.Start(shell(`trap "exit 0" TERM; echo started; while :; do sleep 0.1; done`, 0))
	if err != nil {
		t.Fatal(err)
	}
	waitForLine(t, sub, "started")

	if !r.Cancel() {
		t.Fatal("Cancel() = false")
	}
	res, err := waitJob(t, job)
	if !errcode.Is(err, errcode.Cancelled) {
		t.Fatalf("err = %v, want %s", err, errcode.Cancelled)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
	snap, _ := r.Current()
	if snap.State != StateCancelled {
		t.Fatalf("state = %s", snap.State)
	}

	// slot is free again
	next, err := r.Start(shell("exit 0", 0))
	if err != nil {
		t.Fatalf("runner unusable after cancel: %v", err)
	}
	waitJob(t, next)
}

func TestStartFailureIsScoped(t *testing.T) {
	r := newTestRunner()

	_, err := r.Start(Request{Binary: filepath.Join(t.TempDir(), "missing-ffmpeg"), OutputPath: "out.mp4"})
	if !errcode.Is(err, errcode.Start) {
		t.Fatalf("err = %v, want %s", err, errcode.Start)
	}
	snap, _ := r.Current()
	if snap.State != StateFailed || snap.Kind != string(errcode.Start) {
		t.Fatalf("snapshot = %+v", snap)
	}

	if _, err := r.Start(Request{}); err != ErrInvalidRequest {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}
