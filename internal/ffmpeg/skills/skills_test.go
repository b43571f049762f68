// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package skills

import (
	"testing"
)

const versionBanner = `ffmpeg version 8.0.1-essentials_build-www.gyan.dev Copyright (c) 2000-2025 the FFmpeg developers
built with gcc 15.2.0 (Rev8, Built by MSYS2 project)
configuration: --enable-gpl --enable-version3 --enable-static
libavutil      60.  8.100 / 60.  8.100
libavcodec     62. 11.100 / 62. 11.100
`

const codecList = ` D.VI.S zlib                 LCL (LossLess Codec Library) ZLIB
 DEV.LS h264                 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (decoders: h264 h264_qsv) (encoders: libx264 libx264rgb h264_nvenc)
 DEA.L. aac                  AAC (Advanced Audio Coding) (decoders: aac aac_fixed)
 D.A.L. ac4                  AC-4
 DEA.L. opus                 Opus (Opus Interactive Audio Codec) (decoders: opus libopus) (encoders: opus libopus)
 DES... ass                  ASS (Advanced SSA) subtitle
`

func TestParseVersion(t *testing.T) {
	info := parseVersion([]byte(versionBanner))
	if info.Version != "8.0.1" {
		t.Fatalf("version = %q", info.Version)
	}
	if info.Compiler == "" || info.Configuration == "" {
		t.Fatalf("missing compiler/configuration: %+v", info)
	}
	if len(info.Libraries) != 2 || info.Libraries[1].Name != "libavcodec" {
		t.Fatalf("libraries = %+v", info.Libraries)
	}
}

func TestParseVersionShortForm(t *testing.T) {
	if v := parseVersion([]byte("ffmpeg version 7.1 Copyright")).Version; v != "7.1.0" {
		t.Fatalf("version = %q", v)
	}
	if v := parseVersion([]byte("ffmpeg version N-112233-gdeadbeef")).Version; v != "" {
		t.Fatalf("git build should not parse, got %q", v)
	}
}

func TestParseCodecsKeepsEncoders(t *testing.T) {
	audio, video := parseCodecs([]byte(codecList))

	if len(video) != 1 || video[0].Id != "h264" || len(video[0].Encoders) != 3 {
		t.Fatalf("video = %+v", video)
	}
	if len(audio) != 2 {
		t.Fatalf("audio = %+v", audio)
	}

	s := Skills{}
	s.Codecs.Audio = audio
	for _, name := range []string{"aac", "libopus", "opus"} {
		if !s.HasAudioEncoder(name) {
			t.Errorf("HasAudioEncoder(%q) = false", name)
		}
	}
	if s.HasAudioEncoder("ac4") {
		t.Error("decode-only codec reported as encoder")
	}
}
