// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ZSC714725/ffconvert/internal/ffmpeg/command"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/parse"
)

var (
	colorPrimary   = lipgloss.Color("#7C3AED")
	colorSecondary = lipgloss.Color("#06B6D4")
	colorSuccess   = lipgloss.Color("#10B981")
	colorError     = lipgloss.Color("#EF4444")
	colorWarning   = lipgloss.Color("#F59E0B")
	colorMuted     = lipgloss.Color("#6B7280")
	colorText      = lipgloss.Color("#F9FAFB")
	colorTextDim   = lipgloss.Color("#9CA3AF")
	colorBorder    = lipgloss.Color("#374151")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Background(colorPrimary).
			Padding(0, 2).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 2).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(10)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	pathStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginTop(1)

	logBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1).
			MarginTop(1)
)

// View renders the TUI
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(" FFConvert ") + "\n")

	switch m.State {
	case StatePreparing:
		b.WriteString("\n" + valueStyle.Render("  Preparing FFmpeg and probing input...") + "\n")
	case StateConverting:
		b.WriteString(m.renderConverting())
	case StateDone:
		b.WriteString(m.renderDone())
	case StateCancelled:
		b.WriteString("\n" + warningStyle.Render("  Conversion cancelled") + "\n")
		b.WriteString(boxStyle.Render(m.renderFiles()))
	case StateError:
		b.WriteString(m.renderError())
	}

	if m.ShowLogs && m.State != StatePreparing && m.LogViewport.TotalLineCount() > 0 {
		b.WriteString("\n" + sectionHeaderStyle.Render("  FFmpeg Output") + "\n")
		b.WriteString(logBoxStyle.Render(m.LogViewport.View()))
	}

	b.WriteString("\n" + helpStyle.Render("  "+m.help()) + "\n")
	return b.String()
}

func (m Model) help() string {
	switch {
	case m.State == StateConverting && m.Cancelling:
		return "Cancelling...  •  [L] Toggle logs"
	case m.State == StateConverting:
		return "[L] Toggle logs  •  [Q] Cancel"
	default:
		return "[L] Toggle logs  •  [Q] Quit"
	}
}

func (m Model) renderConverting() string {
	var b strings.Builder
	prog := m.Snapshot.Progress

	b.WriteString("\n")
	b.WriteString("  " + m.Progress.ViewAs(barFraction(prog)) + "  " + valueStyle.Render(formatPercent(prog)) + "\n")

	elapsed := time.Since(m.StartTime)
	stats := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Render("Frame"), valueStyle.Render(formatCount(prog.Frame)),
			lipgloss.NewStyle().Width(8).Render(""),
			labelStyle.Render("Speed"), valueStyle.Render(formatSpeed(prog.Speed)),
		),
		lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Render("Time"), valueStyle.Render(formatSeconds(prog.Time)),
			lipgloss.NewStyle().Width(8).Render(""),
			labelStyle.Render("Size"), valueStyle.Render(formatBytes(prog.Size)),
		),
		labelStyle.Render("Elapsed")+valueStyle.Render(formatDuration(elapsed)),
	)
	b.WriteString(boxStyle.Render(stats) + "\n")
	b.WriteString(boxStyle.Render(m.renderFiles()))
	return b.String()
}

func (m Model) renderFiles() string {
	width := m.Width - 16
	if width < 20 {
		width = 60
	}

	lines := []string{
		labelStyle.Render("Input") + pathStyle.Render(truncatePath(m.InputFile, width)),
	}
	if m.Job != nil {
		lines = append(lines, labelStyle.Render("Output")+pathStyle.Render(truncatePath(m.Job.OutputPath, width)))
	}
	if m.Handle.FFmpegPath != "" {
		lines = append(lines, labelStyle.Render("FFmpeg")+pathStyle.Render(fmt.Sprintf("%s (%s)", m.Handle.Version, m.Handle.Source)))
	}
	if m.Options.Width > 0 {
		lines = append(lines, labelStyle.Render("Options")+pathStyle.Render(formatOptions(m.Options)))
	}
	if m.Handle.Warning != "" {
		lines = append(lines, warningStyle.Render(m.Handle.Warning))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderDone() string {
	var b strings.Builder

	b.WriteString("\n" + successStyle.Render("  ✓ Conversion complete") + "\n")
	b.WriteString(boxStyle.Render(m.renderFiles()) + "\n")
	if !m.StartTime.IsZero() {
		b.WriteString(labelStyle.Render("  Took") + valueStyle.Render(formatDuration(time.Since(m.StartTime))) + "\n")
	}
	return b.String()
}

func (m Model) renderError() string {
	var b strings.Builder

	b.WriteString("\n" + errorStyle.Render("  ✗ Conversion failed") + "\n\n")

	msg := m.ErrorMessage
	if m.ErrorKind != "" && !strings.Contains(msg, string(m.ErrorKind)) {
		msg = string(m.ErrorKind) + ": " + msg
	}
	b.WriteString(lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorError).
		Padding(0, 2).
		Foreground(colorError).
		Render(msg) + "\n")
	return b.String()
}

// barFraction clamps the known percentage into 0..1; unknown shows a sliver
func barFraction(p parse.Progress) float64 {
	if !p.Known {
		return 0.01
	}
	f := p.Percent / 100
	if !(f > 0) {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func formatPercent(p parse.Progress) string {
	if !p.Known {
		return "..."
	}
	pct := p.Percent
	if pct < 0 {
		pct = 0
	}
	// 100% is reserved for the completed state
	if pct > 99.9 {
		pct = 99.9
	}
	return fmt.Sprintf("%.1f%%", pct)
}

func formatCount(n uint64) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func formatSpeed(speed float64) string {
	if speed <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fx", speed)
}

func formatSeconds(sec float64) string {
	if sec <= 0 {
		return "-"
	}
	return formatDuration(time.Duration(sec * float64(time.Second)))
}

func formatOptions(o command.Options) string {
	fps := "source fps"
	if o.FpsMode == command.FpsFixed {
		fps = fmt.Sprintf("%g fps", o.FrameRate)
	}
	return fmt.Sprintf("%dx%d %dk crf %d, %s, %s %dk, .%s",
		o.Width, o.Height, o.VideoBitrateK, o.CRF, fps, o.AudioFormat, o.AudioBitrateK, command.NormalizeExt(o.OutputExt))
}

func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen < 20 {
		return path[:maxLen-3] + "..."
	}
	half := (maxLen - 5) / 2
	return path[:half] + " ... " + path[len(path)-half:]
}

func formatBytes(bytes uint64) string {
	if bytes == 0 {
		return "-"
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "-"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
