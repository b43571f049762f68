// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/ffconvert/internal/convert"
	"github.com/ZSC714725/ffconvert/internal/errcode"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg"
	"github.com/ZSC714725/ffconvert/internal/logger"
)

// Handler holds dependencies
type Handler struct {
	ffmpeg ffmpeg.FFmpeg
	logger logger.Logger
}

// NewHandler creates API handler
func NewHandler(ff ffmpeg.FFmpeg, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{ffmpeg: ff, logger: log}
}

// Register mounts all routes below /api/v1
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	{
		v1.POST("/ffmpeg/ready", h.EnsureReady)
		v1.GET("/ffmpeg/skills", h.Skills)

		v1.POST("/probe", h.Probe)

		v1.POST("/convert/preview", h.Preview)
		v1.POST("/convert", h.Convert)
		v1.POST("/convert/cancel", h.Cancel)
		v1.GET("/convert/state", h.State)
		v1.GET("/convert/log", h.ConvertLog)
	}
}

func errResp(c *gin.Context, code int, msg, detail string) {
	c.JSON(code, ErrorResponse{Code: code, Message: msg, Detail: detail})
}

// kindResp maps an engine error to its HTTP status
func kindResp(c *gin.Context, msg string, err error) {
	kind := errcode.Of(err)

	code := http.StatusInternalServerError
	switch kind {
	case errcode.Busy, errcode.Cancelled:
		code = http.StatusConflict
	case errcode.InvalidOptions, errcode.InputNotFound:
		code = http.StatusBadRequest
	case errcode.Download, errcode.Hash:
		code = http.StatusBadGateway
	}

	resp := ErrorResponse{Code: code, Kind: string(kind), Message: msg, Detail: err.Error()}
	var e *errcode.Error
	if kind == errcode.Convert && errors.As(err, &e) {
		exit := e.ExitCode
		resp.ExitCode = &exit
	}
	c.JSON(code, resp)
}

// EnsureReady POST /api/v1/ffmpeg/ready
func (h *Handler) EnsureReady(c *gin.Context) {
	handle, err := h.ffmpeg.EnsureReady(c.Request.Context())
	if err != nil {
		kindResp(c, "FFmpeg unavailable", err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

// Skills GET /api/v1/ffmpeg/skills
func (h *Handler) Skills(c *gin.Context) {
	handle, err := h.ffmpeg.EnsureReady(c.Request.Context())
	if err != nil {
		kindResp(c, "FFmpeg unavailable", err)
		return
	}
	sk, err := h.ffmpeg.Skills(c.Request.Context())
	if err != nil {
		errResp(c, http.StatusInternalServerError, "Skills detection failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, skillsToAPI(sk, string(handle.Source)))
}

// Probe POST /api/v1/probe
func (h *Handler) Probe(c *gin.Context) {
	var req ProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	res, err := h.ffmpeg.ProbeVideo(c.Request.Context(), req.InputPath)
	if err != nil {
		kindResp(c, "Probe failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Preview POST /api/v1/convert/preview
func (h *Handler) Preview(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	cmd, err := h.ffmpeg.PreviewConvertCommand(req.InputPath, req.Options)
	if err != nil {
		kindResp(c, "Invalid options", err)
		return
	}
	c.JSON(http.StatusOK, cmd)
}

// Convert POST /api/v1/convert[?async=true]
func (h *Handler) Convert(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	ctx := c.Request.Context()
	job, err := h.ffmpeg.StartConvert(ctx, req.InputPath, req.Options)
	if err != nil {
		kindResp(c, "Conversion not started", err)
		return
	}

	if async := c.DefaultQuery("async", ""); async == "1" || async == "true" {
		c.JSON(http.StatusAccepted, StartedResponse{JobID: job.ID, OutputPath: job.OutputPath, Args: job.Args})
		return
	}

	res, err := job.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// client went away; the job keeps running
			h.logger.Info("client left while job %s was running", job.ID)
			return
		}
		kindResp(c, "Conversion failed", err)
		return
	}
	c.JSON(http.StatusOK, ConvertResponse{JobID: job.ID, OutputPath: res.OutputPath, ExitCode: res.ExitCode})
}

// Cancel POST /api/v1/convert/cancel
func (h *Handler) Cancel(c *gin.Context) {
	c.JSON(http.StatusOK, CancelResponse{Requested: h.ffmpeg.CancelConvert()})
}

// State GET /api/v1/convert/state
func (h *Handler) State(c *gin.Context) {
	snap, err := h.ffmpeg.State()
	if err != nil {
		if err == convert.ErrNoJob {
			errResp(c, http.StatusNotFound, "No conversion yet", err.Error())
			return
		}
		errResp(c, http.StatusInternalServerError, "State unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, snapshotToAPI(snap))
}

func snapshotToAPI(s convert.Snapshot) JobState {
	st := JobState{
		ID:         s.ID,
		State:      string(s.State),
		InputPath:  s.InputPath,
		OutputPath: s.OutputPath,
		Command:    s.Args,
		CreatedAt:  s.CreatedAt.Unix(),
		PID:        s.PID,
		Memory:     s.Memory,
		CPU:        s.CPU,
		ExitCode:   s.ExitCode,
		Kind:       s.Kind,
		Error:      s.Error,
		Progress: &Progress{
			Frame: s.Progress.Frame,
			Size:  s.Progress.Size,
			Time:  s.Progress.Time,
			Speed: s.Progress.Speed,
		},
	}
	if s.Progress.Known {
		pct := s.Progress.Percent
		st.Progress.Percent = &pct
	}

	st.Log = make([][2]string, len(s.Log))
	for i, line := range s.Log {
		st.Log[i] = [2]string{
			line.Timestamp.Format("2006-01-02 15:04:05.000"),
			line.Data,
		}
	}
	return st
}
