// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package api

import (
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/command"
)

// ProbeRequest for POST /probe
type ProbeRequest struct {
	InputPath string `json:"inputPath" binding:"required"`
}

// ConvertRequest for preview and convert
type ConvertRequest struct {
	InputPath string          `json:"inputPath" binding:"required"`
	Options   command.Options `json:"options"`
}

// ConvertResponse is the outcome of a finished conversion
type ConvertResponse struct {
	JobID      string `json:"jobId"`
	OutputPath string `json:"outputPath"`
	ExitCode   int    `json:"exitCode"`
}

// StartedResponse is returned for async conversions
type StartedResponse struct {
	JobID      string   `json:"jobId"`
	OutputPath string   `json:"outputPath"`
	Args       []string `json:"args"`
}

// CancelResponse for POST /convert/cancel
type CancelResponse struct {
	Requested bool `json:"requested"`
}

// Progress of the current job
type Progress struct {
	Frame   uint64   `json:"frame"`
	Size    uint64   `json:"sizeBytes"`
	Time    float64  `json:"timeSeconds"`
	Speed   float64  `json:"speed"`
	Percent *float64 `json:"percent"`
}

// JobState for GET /convert/state
type JobState struct {
	ID         string      `json:"id"`
	State      string      `json:"state"`
	InputPath  string      `json:"inputPath"`
	OutputPath string      `json:"outputPath"`
	Command    []string    `json:"command"`
	CreatedAt  int64       `json:"createdAt"`
	PID        int         `json:"pid,omitempty"`
	Memory     uint64      `json:"memoryBytes"`
	CPU        float64     `json:"cpuUsage"`
	ExitCode   int         `json:"exitCode"`
	Kind       string      `json:"kind,omitempty"`
	Error      string      `json:"error,omitempty"`
	Progress   *Progress   `json:"progress"`
	Log        [][2]string `json:"log"`
}

// ErrorResponse for API errors
type ErrorResponse struct {
	Code     int    `json:"code"`
	Kind     string `json:"kind,omitempty"`
	Message  string `json:"message"`
	Detail   string `json:"detail,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
}
