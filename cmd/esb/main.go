/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command esb runs flows described by DSL files until it receives SIGINT or SIGTERM.
//
//	esb -c esb.yaml
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rulego/esb/api/pool"
	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/builtin/interceptor"
	"github.com/rulego/esb/engine"
	"github.com/rulego/esb/utils/fs"
	"github.com/rulego/esb/utils/runtime"
)

const version = "1.0.0"

var (
	ver        bool
	configFile string
)

func init() {
	flag.StringVar(&configFile, "c", "", "config file")
	flag.BoolVar(&ver, "v", false, "print version")
}

func main() {
	flag.Parse()

	if ver {
		fmt.Printf("esb server v%s\n", version)
		os.Exit(0)
	}

	c, err := LoadConfig(configFile)
	if err != nil {
		log.Fatal("error:", err)
	}
	s, err := newServer(c)
	if err != nil {
		log.Fatal("error:", err)
	}
	s.logger.Infof("use config file=%s", configFile)
	if err := s.start(); err != nil {
		s.stop()
		log.Fatal("error:", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	s.logger.Infof("received signal %v, exiting", sig)
	s.stop()
}

type server struct {
	config  Config
	logger  types.Logger
	closer  io.Closer
	workers *pool.WorkerPool
	runtime types.Config
	// ctx holds Flows, apps holds one context per file of FlowsDir.
	ctx     *engine.Context
	apps    *engine.Pool
	watcher *appWatcher
}

func newServer(c Config) (*server, error) {
	logger, closer, err := c.NewLogger()
	if err != nil {
		return nil, err
	}
	workers := pool.New(c.ThreadingProfile())
	workers.OnPanic = func(worker string, recovered interface{}) {
		logger.Errorf("worker %s panic: %v\n%s", worker, recovered, runtime.Stack())
	}
	rc, err := c.RuntimeConfig(logger, workers)
	if err != nil {
		workers.Release()
		_ = closer.Close()
		return nil, err
	}
	apps := engine.NewPool()
	apps.SetLogger(logger)
	return &server{config: c, logger: logger, closer: closer, workers: workers, runtime: rc, apps: apps}, nil
}

func (s *server) options() []engine.Option {
	opts := []engine.Option{engine.WithConfig(s.runtime), engine.WithShutdownTimeout(s.config.ShutdownTimeout)}
	if s.config.TraceProcessors {
		opts = append(opts, engine.WithInterceptorFactories(interceptor.NewLoggingFactory(s.logger, nil)))
	}
	return opts
}

func (s *server) start() error {
	if len(s.config.Flows) > 0 {
		ctx, err := engine.NewContext(s.config.Id, s.options()...)
		if err != nil {
			return err
		}
		s.ctx = ctx
		for _, path := range s.config.Flows {
			b := fs.LoadFile(path)
			if b == nil {
				return fmt.Errorf("can not read flow file %s", path)
			}
			if err := ctx.Load(b); err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			s.logger.Infof("loaded %s", path)
		}
		if err := ctx.Start(); err != nil {
			return err
		}
	}
	if s.config.FlowsDir != "" && fs.IsExist(s.config.FlowsDir) {
		s.watcher = newAppWatcher(s.config.FlowsDir, s.apps, s.logger, s.options())
		if err := s.watcher.loadAll(); err != nil {
			return err
		}
		if s.config.Watch {
			if err := s.watcher.watch(); err != nil {
				return err
			}
			s.logger.Infof("watching %s", s.config.FlowsDir)
		}
	}
	return nil
}

func (s *server) stop() {
	if s.watcher != nil {
		s.watcher.stop()
	}
	s.apps.Stop()
	if s.ctx != nil {
		s.ctx.Dispose()
	}
	s.workers.Release()
	_ = s.closer.Close()
}
