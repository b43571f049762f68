// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎
//
// Package convert runs at most one FFmpeg conversion at a time, streams its
// output as ordered events and resolves every job exactly once.

package convert

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/ZSC714725/ffconvert/internal/errcode"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/parse"
	"github.com/ZSC714725/ffconvert/internal/logger"
	"github.com/ZSC714725/ffconvert/internal/process"
)

// Request describes what to run
type Request struct {
	Binary      string
	Args        []string
	InputPath   string
	OutputPath  string
	DurationSec float64
}

// Config for the runner
type Config struct {
	Logger      logger.Logger
	KillGrace   time.Duration
	MaxLogLines int
	// Env replaces the child environment when non-nil.
	Env []string
	// NewMonitor is called per job; nil samples with gopsutil.
	NewMonitor func() process.Monitor
}

// Runner owns the single conversion slot
type Runner struct {
	logger     logger.Logger
	killGrace  time.Duration
	logLines   int
	env        []string
	newMonitor func() process.Monitor
	hub        *Hub

	lock sync.Mutex
	slot *Job
}

// NewRunner creates a Runner with an idle slot
func NewRunner(cfg Config) *Runner {
	r := &Runner{
		logger:     cfg.Logger,
		killGrace:  cfg.KillGrace,
		logLines:   cfg.MaxLogLines,
		env:        cfg.Env,
		newMonitor: cfg.NewMonitor,
		hub:        NewHub(),
	}
	if r.logger == nil {
		r.logger = logger.Nop()
	}
	if r.killGrace <= 0 {
		r.killGrace = 5 * time.Second
	}
	if r.logLines <= 0 {
		r.logLines = 100
	}
	if r.newMonitor == nil {
		r.newMonitor = process.NewSysMonitor
	}
	return r
}

// Hub delivers the convert-log stream
func (r *Runner) Hub() *Hub {
	return r.hub
}

// Start spawns the job and returns without waiting for it. It fails with
// ERR_BUSY while another job is live.
func (r *Runner) Start(req Request) (*Job, error) {
	const op = "start conversion"

	if req.Binary == "" || req.OutputPath == "" {
		return nil, ErrInvalidRequest
	}

	r.lock.Lock()
	if cur := r.slot; cur != nil && cur.state.Live() {
		r.lock.Unlock()
		return nil, errcode.Newf(errcode.Busy, op, "job %s is %s", cur.ID, cur.state)
	}
	job := &Job{
		ID:         shortuuid.New(),
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		Binary:     req.Binary,
		Args:       append([]string(nil), req.Args...),
		CreatedAt:  time.Now(),
		parser:     parse.New(parse.Config{LogLines: r.logLines, DurationSec: req.DurationSec}),
		done:       make(chan struct{}),
	}
	r.slot = job
	r.setState(job, StateStarting)
	r.lock.Unlock()

	r.publishLog(job, "starting: "+job.Binary+" "+strings.Join(job.Args, " "))

	proc, err := process.New(process.Config{
		Binary:    job.Binary,
		Args:      job.Args,
		Env:       r.env,
		OnLine:    func(line string) { r.onLine(job, line) },
		Monitor:   r.newMonitor(),
		Logger:    r.logger,
		KillGrace: r.killGrace,
	})
	if err == nil {
		err = proc.Start()
	}
	if err != nil {
		jerr := errcode.New(errcode.Start, op, err)
		r.lock.Lock()
		r.setState(job, StateFailed)
		r.lock.Unlock()
		r.finish(job, Result{OutputPath: job.OutputPath, ExitCode: -1}, jerr, StateFailed)
		return nil, jerr
	}

	r.lock.Lock()
	job.proc = proc
	cancelled := job.state == StateCancelRequested
	if !cancelled {
		r.setState(job, StateRunning)
	}
	r.lock.Unlock()

	if cancelled {
		r.terminate(job, proc)
	}

	go r.wait(job, proc)
	return job, nil
}

// Cancel asks the live job to stop. It reports false if there is none.
func (r *Runner) Cancel() bool {
	r.lock.Lock()
	job := r.slot
	if job == nil {
		r.lock.Unlock()
		return false
	}

	switch job.state {
	case StateRunning, StateStarting:
		proc := job.proc
		r.setState(job, StateCancelRequested)
		r.lock.Unlock()

		if proc != nil {
			r.publishLog(job, fmt.Sprintf("cancel requested: pid=%d", proc.PID()))
			r.terminate(job, proc)
		} else {
			r.publishLog(job, "cancel requested before spawn")
		}
		return true
	case StateCancelRequested:
		r.lock.Unlock()
		return true
	}

	r.lock.Unlock()
	return false
}

// Live reports whether a job occupies the slot. Start stays authoritative.
func (r *Runner) Live() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.slot != nil && r.slot.state.Live()
}

// Current returns a snapshot of the live or most recent job
func (r *Runner) Current() (Snapshot, error) {
	r.lock.Lock()
	job := r.slot
	if job == nil {
		r.lock.Unlock()
		return Snapshot{State: StateIdle, ExitCode: -1}, ErrNoJob
	}
	state, proc := job.state, job.proc
	r.lock.Unlock()

	return job.snapshot(state, proc), nil
}

func (r *Runner) terminate(job *Job, proc process.Process) {
	if err := proc.Terminate(); err != nil {
		r.logger.Error("job %s: terminate pid %d: %v", job.ID, proc.PID(), err)
	}
}

// wait resolves the job once the child is gone and every line was published
func (r *Runner) wait(job *Job, proc process.Process) {
	const op = "convert"

	code, err := proc.Wait()
	res := Result{OutputPath: job.OutputPath, ExitCode: code}

	var jerr error
	r.lock.Lock()
	switch {
	case job.state == StateCancelRequested:
		r.setState(job, StateCancelled)
		jerr = errcode.Newf(errcode.Cancelled, op, "cancelled by user (exit=%d)", code)
	case err != nil:
		r.setState(job, StateFailed)
		jerr = &errcode.Error{Code: errcode.Convert, Op: op, ExitCode: code, Err: err}
	case code == 0:
		r.setState(job, StateCompleted)
	default:
		r.setState(job, StateFailed)
		jerr = errcode.Exit(op, code)
	}
	state := job.state
	r.lock.Unlock()

	switch state {
	case StateCompleted:
		r.publishLog(job, "converted: "+job.OutputPath)
	case StateCancelled:
		r.publishLog(job, "cancelled: "+job.OutputPath)
	default:
		r.publishLog(job, fmt.Sprintf("failed: exit code %d", code))
	}
	r.finish(job, res, jerr, state)
}

func (r *Runner) finish(job *Job, res Result, err error, state State) {
	e := Event{
		Type:     EventDone,
		JobID:    job.ID,
		State:    state,
		ExitCode: &res.ExitCode,
		Message:  res.OutputPath,
	}
	if err != nil {
		e.Kind = string(errcode.Of(err))
		e.Message = err.Error()
	}
	r.hub.Publish(e)
	job.settle(res, err)
}

func (r *Runner) onLine(job *Job, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	pct, ok := job.parser.Parse(line)

	r.hub.Publish(Event{Type: EventLog, JobID: job.ID, Message: line})
	if ok {
		r.hub.Publish(Event{Type: EventProgress, JobID: job.ID, Percent: &pct})
	}
}

func (r *Runner) publishLog(job *Job, msg string) {
	r.logger.Info("job %s: %s", job.ID, msg)
	r.hub.Publish(Event{Type: EventLog, JobID: job.ID, Message: msg})
}

// setState must be called with r.lock held
func (r *Runner) setState(job *Job, to State) {
	from := job.state
	if from == "" {
		from = StateIdle
	}
	job.state = to
	r.logger.Info("job %s state %s -> %s", job.ID, from, to)
}
