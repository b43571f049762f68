// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

// Package errcode defines the closed set of error kinds the engine reports.
// Callers classify failures by Code, never by message text.
package errcode

import (
	"errors"
	"fmt"
)

// Code is a stable error kind string.
type Code string

const (
	Download       Code = "ERR_DOWNLOAD"
	Hash           Code = "ERR_HASH"
	Extract        Code = "ERR_EXTRACT"
	NotFound       Code = "ERR_FFMPEG_NOT_FOUND"
	Start          Code = "ERR_START"
	Probe          Code = "ERR_PROBE"
	InvalidOptions Code = "ERR_INVALID_OPTIONS"
	InputNotFound  Code = "ERR_INPUT_NOT_FOUND"
	Busy           Code = "ERR_BUSY"
	Cancelled      Code = "ERR_CANCELLED"
	Convert        Code = "ERR_CONVERT"
)

// Error carries a Code, the failing operation and the underlying cause.
// ExitCode is only meaningful for Convert.
type Error struct {
	Code     Code
	Op       string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Code == Convert {
		msg += fmt.Sprintf(" (exit=%d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error with the given code.
func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(code Code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// Exit returns a Convert error for a child that exited with a nonzero code.
func Exit(op string, exitCode int) *Error {
	return &Error{Code: Convert, Op: op, ExitCode: exitCode}
}

// Of extracts the Code from err; "" if err carries none.
func Of(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && Of(err) == code
}

// ExitCodeOf returns the child exit code carried by a Convert error, or -1.
func ExitCodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Code == Convert {
		return e.ExitCode
	}
	return -1
}
