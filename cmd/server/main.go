// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/ffconvert/internal/api"
	"github.com/ZSC714725/ffconvert/internal/config"
	"github.com/ZSC714725/ffconvert/internal/ffmpeg"
	"github.com/ZSC714725/ffconvert/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	bind := flag.String("bind", "", "Bind address (overrides config)")
	dataDir := flag.String("data-dir", "", "FFmpeg install directory (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Load config: %v", err)
		}
	}
	if *bind != "" {
		cfg.Server.Bind = *bind
	}
	if *dataDir != "" {
		cfg.FFmpeg.DataDir = *dataDir
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	l, err := logger.New("ffconvert", logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Output:      cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("Logger: %v", err)
	}
	defer logger.Sync(l)

	ff, runner, err := ffmpeg.FromConfig(cfg.FFmpeg, l)
	if err != nil {
		l.Error("engine init: %v", err)
		logger.Sync(l)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Recovery(), api.CORS())
	api.NewHandler(ff, l.Named("api")).Register(r)

	srv := &http.Server{Addr: cfg.Server.Bind, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		l.Info("FFConvert listening on %s (data dir %s)", cfg.Server.Bind, cfg.FFmpeg.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("shutting down")

	// a running conversion would otherwise outlive us
	if ff.CancelConvert() {
		if snap, err := ff.State(); err == nil {
			l.Info("cancelled job %s on shutdown", snap.ID)
		}
		deadline := time.Now().Add(cfg.FFmpeg.KillGrace() + time.Second)
		for runner.Live() && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
	}

	shutdown, cancel := context.WithTimeout(context.Background(), cfg.FFmpeg.KillGrace()+5*time.Second)
	defer cancel()
	runner.Hub().Close()
	if err := srv.Shutdown(shutdown); err != nil {
		l.Error("shutdown: %v", err)
	}
}
