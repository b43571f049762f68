// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package convert

import "errors"

var (
	ErrNoJob          = errors.New("no conversion job")
	ErrInvalidRequest = errors.New("invalid request: need a binary and an output path")
	ErrHubClosed      = errors.New("event hub closed")
)
