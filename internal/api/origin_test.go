// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestAllowOrigin(t *testing.T) {
	cases := map[string]bool{
		"":                        true,
		"http://localhost:5173":   true,
		"http://LOCALHOST":        true,
		"http://app.localhost":    true,
		"http://127.0.0.1:8080":   true,
		"http://127.0.0.2":        true,
		"http://[::1]:3000":       true,
		"https://evil.example":    false,
		"http://localhost.evil":   false,
		"http://192.168.1.10":     false,
		"null":                    false,
		"file://":                 false,
		"http://127.0.0.1.nip.io": false,
	}
	for origin, want := range cases {
		if got := AllowOrigin(origin); got != want {
			t.Errorf("AllowOrigin(%q) = %v, want %v", origin, got, want)
		}
	}
}

func TestCORSRejectsForeignPages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign origin: status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("loopback origin: status = %d, headers = %v", w.Code, w.Header())
	}
}

func TestConvertLogChecksOrigin(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/convert/log"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("foreign origin was upgraded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin: resp = %v, err = %v", resp, err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://127.0.0.1"}})
	if err != nil {
		t.Fatalf("loopback origin: %v", err)
	}
	conn.Close()
}
