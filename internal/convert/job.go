// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package convert

import (
	"context"
	"sync"
	"time"

	"github.com/ZSC714725/ffconvert/internal/errcode"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/parse"
	"github.com/ZSC714725/ffconvert/internal/process"
)

// State of a conversion job
type State string

const (
	StateIdle            State = "idle"
	StateStarting        State = "starting"
	StateRunning         State = "running"
	StateCancelRequested State = "cancel_requested"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
)

// Live states occupy the runner slot
func (s State) Live() bool {
	return s == StateStarting || s == StateRunning || s == StateCancelRequested
}

// Result of a successful conversion
type Result struct {
	OutputPath string `json:"outputPath"`
	ExitCode   int    `json:"exitCode"`
}

// Job is one conversion. Its state is guarded by the owning Runner.
type Job struct {
	ID         string
	InputPath  string
	OutputPath string
	Binary     string
	Args       []string
	CreatedAt  time.Time

	state  State
	proc   process.Process
	parser parse.Parser

	once   sync.Once
	done   chan struct{}
	result Result
	err    error
}

// Snapshot is a point-in-time view of a job
type Snapshot struct {
	ID         string         `json:"id"`
	State      State          `json:"state"`
	InputPath  string         `json:"inputPath"`
	OutputPath string         `json:"outputPath"`
	Args       []string       `json:"args"`
	CreatedAt  time.Time      `json:"createdAt"`
	Progress   parse.Progress `json:"progress"`
	PID        int            `json:"pid,omitempty"`
	CPU        float64        `json:"cpu"`
	Memory     uint64         `json:"memoryBytes"`
	ExitCode   int            `json:"exitCode"`
	Kind       string         `json:"kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	Log        []process.Line `json:"log"`
}

// settle stores the outcome once; later calls are discarded
func (j *Job) settle(res Result, err error) {
	j.once.Do(func() {
		j.result = res
		j.err = err
		close(j.done)
	})
}

// Done is closed once the job has a result
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job settled or ctx ends. Leaving early does not
// cancel the job.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (j *Job) snapshot(state State, proc process.Process) Snapshot {
	s := Snapshot{
		ID:         j.ID,
		State:      state,
		InputPath:  j.InputPath,
		OutputPath: j.OutputPath,
		Args:       j.Args,
		CreatedAt:  j.CreatedAt,
		ExitCode:   -1,
	}
	if j.parser != nil {
		s.Progress = j.parser.Progress()
		s.Log = j.parser.Log()
	}
	if proc != nil {
		st := proc.Status()
		s.PID = st.PID
		s.CPU = st.CPU
		s.Memory = st.Memory
		s.ExitCode = st.ExitCode
	}
	select {
	case <-j.done:
		if j.err != nil {
			s.Kind = string(errcode.Of(j.err))
			s.Error = j.err.Error()
		}
	default:
	}
	return s
}
