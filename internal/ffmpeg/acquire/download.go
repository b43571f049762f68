// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package acquire

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ZSC714725/ffconvert/internal/errcode"
)

// connectivityError means no HTTP response was ever received
type connectivityError struct {
	err error
}

func (e *connectivityError) Error() string { return e.err.Error() }
func (e *connectivityError) Unwrap() error { return e.err }

func newClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   15 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// download streams the archive into a temp file inside the store while
// hashing it. The temp file is removed on every failure.
func (r *resolver) download(ctx context.Context, s *store) (string, error) {
	const op = "download ffmpeg"

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", errcode.New(errcode.Download, op, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if isConnectivity(err) {
			return "", &connectivityError{err: err}
		}
		return "", errcode.New(errcode.Download, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errcode.Newf(errcode.Download, op, "unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errcode.New(errcode.Download, op, err)
	}
	f, err := os.CreateTemp(s.dir, "archive-*.part")
	if err != nil {
		return "", errcode.New(errcode.Download, op, err)
	}
	tmp := f.Name()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), resp.Body)
	if err == nil && resp.ContentLength > 0 && n != resp.ContentLength {
		err = fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", errcode.New(errcode.Download, op, err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if sum != r.sha256 {
		os.Remove(tmp)
		return "", errcode.Newf(errcode.Hash, "verify ffmpeg archive", "sha256 mismatch: got %s, want %s", sum, r.sha256)
	}

	r.logger.Debug("downloaded %d bytes, sha256 %s", n, sum)
	return tmp, nil
}

// isConnectivity is true for failures before any response: DNS, dial,
// TLS handshake and timeouts.
func isConnectivity(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
