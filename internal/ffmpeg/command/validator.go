// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package command

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultExtensions is used when no allow list is configured
var DefaultExtensions = []string{`^(mp4|mkv|mov|webm|avi|m4v|ts|flv|gif|mp3|m4a|wav)$`}

// Validator decides whether an output container extension may be used
type Validator interface {
	IsValid(ext string) bool
}

type validator struct {
	allow []*regexp.Regexp
	block []*regexp.Regexp
}

// NewValidator compiles the allow and block expressions. Empty expressions
// are ignored; an empty allow list accepts every extension not blocked.
func NewValidator(allow, block []string) (Validator, error) {
	var err error
	v := &validator{}

	if v.allow, err = compileAll("allow", allow); err != nil {
		return nil, err
	}
	if v.block, err = compileAll("block", block); err != nil {
		return nil, err
	}
	return v, nil
}

func compileAll(kind string, exps []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, exp := range exps {
		exp = strings.TrimSpace(exp)
		if exp == "" {
			continue
		}
		re, err := regexp.Compile(exp)
		if err != nil {
			return nil, fmt.Errorf("invalid %s expression '%s': %w", kind, exp, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// IsValid expects a normalized (lower-case, no dot) extension
func (v *validator) IsValid(ext string) bool {
	if ext == "" || strings.ContainsAny(ext, `/\.`) {
		return false
	}
	for _, re := range v.block {
		if re.MatchString(ext) {
			return false
		}
	}
	if len(v.allow) == 0 {
		return true
	}
	for _, re := range v.allow {
		if re.MatchString(ext) {
			return true
		}
	}
	return false
}
