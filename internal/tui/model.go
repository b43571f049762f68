// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎
//
// Package tui is a terminal front-end for converting a single file.

package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ZSC714725/ffconvert/internal/convert"
	"github.com/ZSC714725/ffconvert/internal/errcode"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/acquire"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/command"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/probe"
)

// State of the front-end
type State int

const (
	StatePreparing State = iota
	StateConverting
	StateDone
	StateCancelled
	StateError
)

// StartedMsg is sent once the conversion process is spawned
type StartedMsg struct {
	Job     *convert.Job
	Handle  acquire.Handle
	Options command.Options
}

// ErrorMsg carries a failure from any stage
type ErrorMsg struct {
	Err error
}

// FinishedMsg is sent when the job reached a terminal state
type FinishedMsg struct {
	Result convert.Result
	Err    error
}

// TickMsg polls the engine
type TickMsg time.Time

// Model is the Bubble Tea model
type Model struct {
	Engine    ffmpeg.FFmpeg
	InputFile string
	// Overrides replace probed values when non-zero; CRF always applies
	Overrides command.Options

	State        State
	Handle       acquire.Handle
	Options      command.Options
	Job          *convert.Job
	Snapshot     convert.Snapshot
	Cancelling   bool
	Progress     progress.Model
	LogViewport  viewport.Model
	ShowLogs     bool
	Width        int
	Height       int
	StartTime    time.Time
	ErrorKind    errcode.Code
	ErrorMessage string
}

// NewModel creates the model for one input file
func NewModel(engine ffmpeg.FFmpeg, inputFile string, overrides command.Options) Model {
	prog := progress.New(
		progress.WithGradient("#7C3AED", "#10B981"),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	vp := viewport.New(80, 12)
	vp.SetContent("")

	return Model{
		Engine:      engine,
		InputFile:   inputFile,
		Overrides:   overrides,
		State:       StatePreparing,
		Progress:    prog,
		LogViewport: vp,
		ShowLogs:    true,
	}
}

// Init starts acquisition, probing and the conversion
func (m Model) Init() tea.Cmd {
	return m.start()
}

func (m Model) start() tea.Cmd {
	engine, input, over := m.Engine, m.InputFile, m.Overrides
	return func() tea.Msg {
		ctx := context.Background()

		h, err := engine.EnsureReady(ctx)
		if err != nil {
			return ErrorMsg{Err: err}
		}

		info, err := engine.ProbeVideo(ctx, input)
		if err != nil {
			return ErrorMsg{Err: err}
		}

		opts := MergeOptions(info, over)
		job, err := engine.StartConvert(ctx, input, opts)
		if err != nil {
			return ErrorMsg{Err: err}
		}
		return StartedMsg{Job: job, Handle: h, Options: opts}
	}
}

// DefaultCRF is the CLI's -crf default
const DefaultCRF = 23

// MergeOptions fills options from the probe, then applies non-zero overrides.
// CRF has a meaningful zero and is always taken from over as given; Build
// rejects out-of-range values.
// A zero FrameRate override with no FpsMode keeps the source rate variable.
func MergeOptions(info probe.Result, over command.Options) command.Options {
	opts := command.Options{
		Width:         info.Width,
		Height:        info.Height,
		VideoBitrateK: info.VideoBitrateK,
		FpsMode:       command.FpsVariable,
		FrameRate:     info.FrameRate,
		AudioFormat:   info.AudioFormat,
		AudioBitrateK: info.AudioBitrateK,
		CRF:           over.CRF,
		OutputExt:     "mp4",
	}

	if over.Width > 0 {
		opts.Width = over.Width
	}
	if over.Height > 0 {
		opts.Height = over.Height
	}
	if over.VideoBitrateK > 0 {
		opts.VideoBitrateK = over.VideoBitrateK
	}
	if over.FrameRate > 0 {
		opts.FrameRate = over.FrameRate
		opts.FpsMode = command.FpsFixed
	}
	if over.FpsMode != "" {
		opts.FpsMode = over.FpsMode
	}
	if over.AudioFormat != "" {
		opts.AudioFormat = over.AudioFormat
	}
	if over.AudioBitrateK > 0 {
		opts.AudioBitrateK = over.AudioBitrateK
	}
	if over.OutputExt != "" {
		opts.OutputExt = over.OutputExt
	}
	return opts
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitCmd(job *convert.Job) tea.Cmd {
	return func() tea.Msg {
		res, err := job.Wait(context.Background())
		return FinishedMsg{Result: res, Err: err}
	}
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.State == StateConverting && !m.Cancelling {
				// stay up until the process is gone
				m.Cancelling = m.Engine.CancelConvert()
				if m.Cancelling {
					return m, nil
				}
			}
			return m, tea.Quit
		case "l":
			m.ShowLogs = !m.ShowLogs
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 20
		m.LogViewport.Width = msg.Width - 4

		logHeight := msg.Height - 20
		if logHeight < 0 {
			logHeight = 0
		}
		m.LogViewport.Height = logHeight

	case StartedMsg:
		m.Job = msg.Job
		m.Handle = msg.Handle
		m.Options = msg.Options
		m.State = StateConverting
		m.StartTime = time.Now()
		cmds = append(cmds, tickCmd(), waitCmd(msg.Job))

	case ErrorMsg:
		m.fail(msg.Err)
		return m, nil

	case FinishedMsg:
		m.refresh()
		switch {
		case msg.Err == nil:
			m.State = StateDone
		case errcode.Is(msg.Err, errcode.Cancelled):
			m.State = StateCancelled
		default:
			m.fail(msg.Err)
		}
		return m, nil

	case TickMsg:
		if m.State == StateConverting {
			m.refresh()
			cmds = append(cmds, tickCmd())
		}
	}

	if m.ShowLogs {
		var cmd tea.Cmd
		m.LogViewport, cmd = m.LogViewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) fail(err error) {
	m.State = StateError
	m.ErrorKind = errcode.Of(err)
	m.ErrorMessage = err.Error()
}

// refresh copies the engine's view of the current job
func (m *Model) refresh() {
	snap, err := m.Engine.State()
	if err != nil || (m.Job != nil && snap.ID != m.Job.ID) {
		return
	}
	m.Snapshot = snap

	if len(snap.Log) > 0 {
		lines := make([]string, len(snap.Log))
		for i, l := range snap.Log {
			lines[i] = l.Data
		}
		m.LogViewport.SetContent(strings.Join(lines, "\n"))
		m.LogViewport.GotoBottom()
	}
}
