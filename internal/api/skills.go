// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package api

import (
	"github.com/ZSC714725/ffconvert/internal/ffmpeg/skills"
)

// SkillsResponse for API
type SkillsResponse struct {
	FFmpeg struct {
		Version       string          `json:"version"`
		Source        string          `json:"source"`
		Compiler      string          `json:"compiler"`
		Configuration string          `json:"configuration"`
		Libraries     []SkillsLibrary `json:"libraries"`
	} `json:"ffmpeg"`

	Encoders struct {
		Audio []SkillsCodec `json:"audio"`
		Video []SkillsCodec `json:"video"`
	} `json:"encoders"`
}

type SkillsLibrary struct {
	Name     string `json:"name"`
	Compiled string `json:"compiled"`
	Linked   string `json:"linked"`
}

type SkillsCodec struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Encoders []string `json:"encoders"`
}

func skillsToAPI(s skills.Skills, source string) SkillsResponse {
	resp := SkillsResponse{}

	resp.FFmpeg.Version = s.FFmpeg.Version
	resp.FFmpeg.Source = source
	resp.FFmpeg.Compiler = s.FFmpeg.Compiler
	resp.FFmpeg.Configuration = s.FFmpeg.Configuration
	resp.FFmpeg.Libraries = make([]SkillsLibrary, len(s.FFmpeg.Libraries))
	for i, lib := range s.FFmpeg.Libraries {
		resp.FFmpeg.Libraries[i] = SkillsLibrary{Name: lib.Name, Compiled: lib.Compiled, Linked: lib.Linked}
	}

	resp.Encoders.Audio = codecsToAPI(s.Codecs.Audio)
	resp.Encoders.Video = codecsToAPI(s.Codecs.Video)
	return resp
}

func codecsToAPI(in []skills.Codec) []SkillsCodec {
	out := make([]SkillsCodec, len(in))
	for i, c := range in {
		out[i] = SkillsCodec{ID: c.Id, Name: c.Name, Encoders: c.Encoders}
	}
	return out
}
