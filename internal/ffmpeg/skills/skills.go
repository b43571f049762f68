// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package skills

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Codec represents a codec with its encoders
type Codec struct {
	Id       string   `json:"id"`
	Name     string   `json:"name"`
	Encoders []string `json:"encoders"`
}

// Library represents a linked av library
type Library struct {
	Name     string `json:"name"`
	Compiled string `json:"compiled"`
	Linked   string `json:"linked"`
}

// Info is what `ffmpeg -version` tells about the build
type Info struct {
	Version       string    `json:"version"`
	Compiler      string    `json:"compiler"`
	Configuration string    `json:"configuration"`
	Libraries     []Library `json:"libraries"`
}

// Skills are the capabilities of an FFmpeg binary relevant for conversion
type Skills struct {
	FFmpeg Info `json:"ffmpeg"`
	Codecs struct {
		Audio []Codec `json:"audio"`
		Video []Codec `json:"video"`
	} `json:"codecs"`
}

var (
	reVersion       = regexp.MustCompile(`^ffmpeg version n?([0-9]+\.[0-9]+(\.[0-9]+)?)`)
	reCompiler      = regexp.MustCompile(`(?m)^\s*built with (.*)$`)
	reConfiguration = regexp.MustCompile(`(?m)^\s*configuration: (.*)$`)
	reLibrary       = regexp.MustCompile(`(?m)^\s*(lib(?:[a-z]+))\s+([0-9]+\.\s*[0-9]+\.\s*[0-9]+) /\s+([0-9]+\.\s*[0-9]+\.\s*[0-9]+)`)
	reCodec         = regexp.MustCompile(`^\s([D.])([E.])([VAS]).{3} ([0-9A-Za-z_]+)\s+(.*?)(?:\(decoders:([^\)]+)\))?\s?(?:\(encoders:([^\)]+)\))?$`)
)

// New queries binary for its version and encoders
func New(ctx context.Context, binary string) (Skills, error) {
	s := Skills{}

	info, err := Version(ctx, binary)
	if err != nil {
		return Skills{}, err
	}
	s.FFmpeg = info

	out, err := exec.CommandContext(ctx, binary, "-hide_banner", "-codecs").Output()
	if err != nil {
		return Skills{}, fmt.Errorf("list codecs: %w", err)
	}
	s.Codecs.Audio, s.Codecs.Video = parseCodecs(out)
	return s, nil
}

// Version runs `binary -version` and parses the banner
func Version(ctx context.Context, binary string) (Info, error) {
	out, err := exec.CommandContext(ctx, binary, "-version").CombinedOutput()
	if err != nil {
		return Info{}, fmt.Errorf("run %s -version: %w", binary, err)
	}
	info := parseVersion(out)
	if info.Version == "" {
		return info, fmt.Errorf("can't parse ffmpeg version")
	}
	return info, nil
}

func parseVersion(data []byte) Info {
	f := Info{}

	if m := reVersion.FindSubmatch(data); m != nil {
		f.Version = string(m[1])
		if len(m[2]) == 0 {
			f.Version += ".0"
		}
	}
	if m := reCompiler.FindSubmatch(data); m != nil {
		f.Compiler = string(m[1])
	}
	if m := reConfiguration.FindSubmatch(data); m != nil {
		f.Configuration = string(m[1])
	}
	for _, m := range reLibrary.FindAllSubmatch(data, -1) {
		f.Libraries = append(f.Libraries, Library{
			Name:     string(m[1]),
			Compiled: string(m[2]),
			Linked:   string(m[3]),
		})
	}
	return f
}

// parseCodecs keeps only codecs that can be encoded
func parseCodecs(data []byte) (audio, video []Codec) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		m := reCodec.FindStringSubmatch(scanner.Text())
		if m == nil || m[2] != "E" {
			continue
		}
		c := Codec{Id: m[4], Name: strings.TrimSpace(m[5])}
		if len(m[7]) == 0 {
			c.Encoders = []string{m[4]}
		} else {
			c.Encoders = strings.Fields(m[7])
		}
		switch m[3] {
		case "V":
			video = append(video, c)
		case "A":
			audio = append(audio, c)
		}
	}
	return audio, video
}

// HasAudioEncoder reports whether name is usable with -c:a
func (s Skills) HasAudioEncoder(name string) bool {
	for _, c := range s.Codecs.Audio {
		if c.Id == name {
			return true
		}
		for _, e := range c.Encoders {
			if e == name {
				return true
			}
		}
	}
	return false
}
