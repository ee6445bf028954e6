// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	_ "github.com/cubefs/cubefs/blobstore/util/version"

	"github.com/cubefs/mdstore/algorithms"
	"github.com/cubefs/mdstore/server"
	"github.com/cubefs/mdstore/storage"
)

// Config service config
type Config struct {
	server.Config

	HttpBindPort  uint32    `json:"http_bind_port"`
	MaxProcessors int       `json:"max_processors"`
	LogLevel      log.Level `json:"log_level"`

	// Workspace is created at startup and filled from Input when it is set.
	Workspace server.WorkspaceSpec `json:"workspace"`
	Input     string               `json:"input"`
	// BinWorkers bounds the workers of the startup histogram.
	BinWorkers int `json:"bin_workers"`
}

func main() {
	config.Init("f", "", "mdstore.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}

	initConfig(cfg)
	registerLogLevel()
	modifyOpenFiles()
	log.SetOutputLevel(cfg.LogLevel)

	span, ctx := trace.StartSpanFromContext(context.Background(), "mdstore")
	startServer, err := server.NewServer(ctx, &cfg.Config)
	if err != nil {
		log.Fatalf("new server failed: %s", errors.Detail(err))
	}
	if len(cfg.Workspace.Dimensions) > 0 {
		if err = loadWorkspace(ctx, startServer, cfg); err != nil {
			log.Fatalf("load workspace failed: %s", errors.Detail(err))
		}
	}
	span.Finish()

	// start http server
	httpServer := server.NewHttpServer(startServer)
	httpServer.Serve(":" + strconv.Itoa(int(cfg.HttpBindPort)))

	// wait for signal
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	<-ch

	// stop all server
	httpServer.Stop()
	startServer.Close()
}

func loadWorkspace(ctx context.Context, s *server.Server, cfg *Config) error {
	span := trace.SpanFromContextSafe(ctx)
	ws, err := s.CreateWorkspace(ctx, &cfg.Workspace)
	if err != nil {
		return err
	}
	if cfg.Input == "" {
		return nil
	}

	f, err := os.Open(cfg.Input)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err = server.IngestCSV(ctx, ws, f); err != nil {
		return errors.Info(err, "ingest", cfg.Input)
	}
	if err = ws.SplitAllIfNeeded(ctx); err != nil {
		return err
	}
	if cfg.EnableFileBack {
		if _, err = ws.FileBack(ctx); err != nil {
			return err
		}
	}

	h, err := algorithms.BinMD(ctx, ws, ws.Dimensions(), nil, algorithms.WithNumWorkers(cfg.BinWorkers))
	if err != nil {
		return err
	}
	st := h.SignalStats()
	span.Infof("workspace %s loaded: %+v, histogram bins: %d, signal min: %g, max: %g, mean: %g",
		ws.ID(), ws.Stats(), st.Bins, st.Min, st.Max, st.Mean)
	return nil
}

func registerLogLevel() {
	logLevelPath, logLevelHandler := log.ChangeDefaultLevelHandler()
	profile.HandleFunc(http.MethodPost, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
	profile.HandleFunc(http.MethodGet, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
}

func modifyOpenFiles() {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Fatalf("getting rlimit failed: %s", err)
	}
	log.Info("system limit: ", rLimit)

	if rLimit.Cur >= 102400 && rLimit.Max >= 102400 {
		return
	}

	rLimit.Cur = 1024000
	rLimit.Max = 1024000

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Fatalf("setting rlimit failed: %s", err)
	}
	err = syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Fatalf("getting rlimit failed: %s", err)
	}
	log.Info("system limit: ", rLimit)
}

func initConfig(cfg *Config) {
	if cfg.HttpBindPort == 0 {
		cfg.HttpBindPort = 9500
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = storage.FileType
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./run/boxes"
	}
	if cfg.MaxProcessors > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcessors)
	}
	if cfg.BinWorkers <= 0 {
		cfg.BinWorkers = runtime.GOMAXPROCS(0)
	}
}
