// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎
//
// Package process wraps exec.Cmd for running a single external tool to
// completion while streaming its merged stdout/stderr line by line.

package process

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"
)

// Process is one child process. It can be started once.
type Process interface {
	Start() error
	// Terminate asks the child to exit and force-kills it after the grace period.
	Terminate() error
	// Wait blocks until the child exited and all output lines were delivered.
	Wait() (int, error)
	Done() <-chan struct{}
	PID() int
	Status() Status
}

// Config for a process
type Config struct {
	Binary string
	Args   []string
	// Env replaces the environment when non-nil.
	Env       []string
	Dir       string
	OnLine    func(line string)
	Monitor   Monitor
	Logger    Logger
	KillGrace time.Duration
}

// Status of a process
type Status struct {
	State    string
	PID      int
	ExitCode int
	Duration time.Duration
	Time     time.Time
	CPU      float64
	Memory   uint64
}

// Line is a timestamped output line
type Line struct {
	Timestamp time.Time `json:"time"`
	Data      string    `json:"data"`
}

// Logger interface
type Logger interface {
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

type stateType string

const (
	stateIdle      stateType = "idle"
	stateStarting  stateType = "starting"
	stateRunning   stateType = "running"
	stateFinishing stateType = "finishing"
	stateFinished  stateType = "finished"
	stateFailed    stateType = "failed"
	stateKilled    stateType = "killed"
)

func (s stateType) String() string { return string(s) }

func (s stateType) IsRunning() bool {
	return s == stateStarting || s == stateRunning || s == stateFinishing
}

type process struct {
	binary string
	args   []string
	env    []string
	dir    string
	cmd    *exec.Cmd
	pid    int
	stdout *os.File

	state struct {
		state stateType
		time  time.Time
		lock  sync.Mutex
	}

	exit struct {
		code int
		err  error
	}
	done chan struct{}

	onLine        func(string)
	killGrace     time.Duration
	killTimer     *time.Timer
	killTimerLock sync.Mutex
	logger        Logger
	monitor       Monitor
}

// New creates a new process
func New(config Config) (Process, error) {
	p := &process{
		binary:    config.Binary,
		args:      config.Args,
		env:       config.Env,
		dir:       config.Dir,
		onLine:    config.OnLine,
		killGrace: config.KillGrace,
		logger:    config.Logger,
		monitor:   config.Monitor,
		done:      make(chan struct{}),
	}

	if len(p.binary) == 0 {
		return nil, fmt.Errorf("no valid binary given")
	}
	if p.onLine == nil {
		p.onLine = func(string) {}
	}
	if p.logger == nil {
		p.logger = &nopLogger{}
	}
	if p.monitor == nil {
		p.monitor = NewNullMonitor()
	}
	if p.killGrace <= 0 {
		p.killGrace = 5 * time.Second
	}

	p.exit.code = -1
	p.initState(stateIdle)
	return p, nil
}

func (p *process) initState(state stateType) {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()
	p.state.state = state
	p.state.time = time.Now()
}

func (p *process) setState(state stateType) error {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()

	failed := false

	switch p.state.state {
	case stateIdle:
		failed = state != stateStarting
	case stateStarting:
		switch state {
		case stateRunning, stateFailed:
		default:
			failed = true
		}
	case stateRunning:
		switch state {
		case stateFinished, stateFinishing, stateFailed, stateKilled:
		default:
			failed = true
		}
	case stateFinishing:
		switch state {
		case stateFinished, stateFailed, stateKilled:
		default:
			failed = true
		}
	case stateFinished, stateFailed, stateKilled:
		failed = true
	default:
		return fmt.Errorf("unhandled state: %s", p.state.state)
	}

	if failed {
		return fmt.Errorf("can't change from %s to %s", p.state.state, state)
	}

	p.state.state = state
	p.state.time = time.Now()
	return nil
}

func (p *process) getState() stateType {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()
	return p.state.state
}

func (p *process) Status() Status {
	cpu, memory := p.monitor.Current()

	p.state.lock.Lock()
	s := Status{
		State:    p.state.state.String(),
		PID:      p.pid,
		ExitCode: p.exit.code,
		Duration: time.Since(p.state.time),
		Time:     p.state.time,
	}
	p.state.lock.Unlock()

	s.CPU = cpu
	s.Memory = memory
	return s
}

func (p *process) PID() int {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()
	return p.pid
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) Start() error {
	if err := p.setState(stateStarting); err != nil {
		return err
	}

	r, w, err := os.Pipe()
	if err != nil {
		p.fail(err)
		return err
	}

	p.cmd = exec.Command(p.binary, p.args...)
	p.cmd.Env = p.env
	p.cmd.Dir = p.dir
	p.cmd.Stdout = w
	p.cmd.Stderr = w

	if err := p.cmd.Start(); err != nil {
		w.Close()
		r.Close()
		p.fail(err)
		return err
	}
	// the child holds its own copy of the write end
	w.Close()
	p.stdout = r

	p.state.lock.Lock()
	p.pid = p.cmd.Process.Pid
	p.state.lock.Unlock()

	if err := p.monitor.Start(p.pid); err != nil {
		p.logger.Debug("monitor start failed for pid %d: %v", p.pid, err)
	}

	p.setState(stateRunning)
	p.logger.Debug("started %s (pid %d)", p.binary, p.pid)

	go p.reader()
	return nil
}

func (p *process) fail(err error) {
	p.setState(stateFailed)
	p.exit.err = err
	close(p.done)
}

func (p *process) Terminate() error {
	state := p.getState()
	if state != stateRunning {
		return nil
	}
	if err := p.setState(stateFinishing); err != nil {
		return nil
	}

	var err error
	if runtime.GOOS == "windows" {
		err = p.cmd.Process.Kill()
	} else {
		err = p.cmd.Process.Signal(syscall.SIGTERM)
		if err != nil {
			err = p.cmd.Process.Kill()
		} else {
			p.killTimerLock.Lock()
			p.killTimer = time.AfterFunc(p.killGrace, func() {
				p.logger.Info("pid %d ignored SIGTERM for %s, killing", p.pid, p.killGrace)
				p.cmd.Process.Kill()
			})
			p.killTimerLock.Unlock()
		}
	}

	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *process) Wait() (int, error) {
	<-p.done
	return p.exit.code, p.exit.err
}

func (p *process) reader() {
	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLine)

	for scanner.Scan() {
		p.onLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("output reader for pid %d: %v", p.pid, err)
	}
	p.stdout.Close()

	p.waiter()
}

func (p *process) waiter() {
	err := p.cmd.Wait()

	p.killTimerLock.Lock()
	if p.killTimer != nil {
		p.killTimer.Stop()
		p.killTimer = nil
	}
	p.killTimerLock.Unlock()

	p.monitor.Stop()

	code := p.cmd.ProcessState.ExitCode()
	next := stateFinished
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		if code < 0 {
			next = stateKilled
		} else {
			next = stateFailed
		}
		err = nil
	default:
		next = stateKilled
	}

	p.state.lock.Lock()
	p.exit.code = code
	p.exit.err = err
	p.state.lock.Unlock()

	p.setState(next)
	p.logger.Debug("pid %d exited with code %d (%s)", p.pid, code, next)
	close(p.done)
}

func scanLine(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) {
		r, w := utf8.DecodeRune(data[start:])
		if r != '\n' && r != '\r' {
			break
		}
		start += w
	}

	for i := start; i < len(data); {
		r, w := utf8.DecodeRune(data[i:])
		if r == '\n' || r == '\r' {
			return i + w, data[start:i], nil
		}
		i += w
	}

	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}

type nopLogger struct{}

func (l *nopLogger) Info(format string, args ...interface{})  {}
func (l *nopLogger) Error(format string, args ...interface{}) {}
func (l *nopLogger) Debug(format string, args ...interface{}) {}
