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

package main

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rulego/esb/api/pool"
	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components"
	"github.com/rulego/esb/engine"
	"github.com/rulego/esb/utils/cache"
)

// Config is the server configuration file.
type Config struct {
	// LogLevel is a zerolog level name: debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
	// LogFile appends JSON logs to a file instead of the console.
	LogFile string `yaml:"logFile"`
	// Id names the context built from Flows.
	Id string `yaml:"id"`

	SessionSecretKey       string                 `yaml:"sessionSecretKey"`
	EncryptSession         bool                   `yaml:"encryptSession"`
	NotificationsAsync     bool                   `yaml:"notificationsAsync"`
	ResponseTimeout        time.Duration          `yaml:"responseTimeout"`
	ScriptMaxExecutionTime time.Duration          `yaml:"scriptMaxExecutionTime"`
	ShutdownTimeout        time.Duration          `yaml:"shutdownTimeout"`
	Encoding               string                 `yaml:"encoding"`
	Properties             map[string]interface{} `yaml:"properties"`
	Pool                   PoolConfig             `yaml:"pool"`

	// TraceProcessors logs every processor invocation at debug level.
	TraceProcessors bool `yaml:"traceProcessors"`
	// Plugins maps a plugin name to a shared object exporting component types.
	Plugins map[string]string `yaml:"plugins"`
	// Flows are DSL files loaded into one context.
	Flows []string `yaml:"flows"`
	// FlowsDir holds DSL files loaded as independent contexts, one per file.
	FlowsDir string `yaml:"flowsDir"`
	// Watch reloads a FlowsDir context when its file changes.
	Watch bool `yaml:"watch"`
}

type PoolConfig struct {
	MaxThreadsActive  int           `yaml:"maxThreadsActive"`
	MaxBufferSize     int           `yaml:"maxBufferSize"`
	ThreadTTL         time.Duration `yaml:"threadTTL"`
	ThreadWaitTimeout time.Duration `yaml:"threadWaitTimeout"`
	// ExhaustedAction is WAIT, ABORT, DISCARD, DISCARD_OLDEST or RUN.
	ExhaustedAction string `yaml:"exhaustedAction"`
}

// DefaultConfig is used when no file is given.
var DefaultConfig = Config{
	LogLevel:        "info",
	Id:              "esb",
	ResponseTimeout: 10 * time.Second,
	ShutdownTimeout: engine.DefaultShutdownTimeout,
	FlowsDir:        "./flows",
}

// LoadConfig reads path on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, c.validate()
}

func (c Config) validate() error {
	if c.Id == "" {
		return errors.New("id is required")
	}
	if c.EncryptSession && c.SessionSecretKey == "" {
		return errors.New("encryptSession needs sessionSecretKey")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return err
	}
	if _, err := pool.ParseExhaustedAction(strings.ToUpper(c.Pool.ExhaustedAction)); err != nil {
		return err
	}
	return nil
}

// ThreadingProfile converts the pool section, filling gaps from the default profile.
func (c Config) ThreadingProfile() pool.ThreadingProfile {
	profile := pool.DefaultThreadingProfile()
	profile.Name = c.Id
	if c.Pool.MaxThreadsActive > 0 {
		profile.MaxThreadsActive = c.Pool.MaxThreadsActive
	}
	if c.Pool.MaxBufferSize > 0 {
		profile.MaxBufferSize = c.Pool.MaxBufferSize
	}
	if c.Pool.ThreadTTL > 0 {
		profile.ThreadTTL = c.Pool.ThreadTTL
	}
	if c.Pool.ThreadWaitTimeout != 0 {
		profile.ThreadWaitTimeout = c.Pool.ThreadWaitTimeout
	}
	profile.ExhaustedAction, _ = pool.ParseExhaustedAction(strings.ToUpper(c.Pool.ExhaustedAction))
	return profile
}

// NewLogger builds the zerolog logger. The returned closer releases the log file, if any.
func (c Config) NewLogger() (*types.ZeroLogger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return nil, nil, err
	}
	if c.LogFile == "" {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return types.NewZeroLogger(zerolog.New(out).Level(level).With().Timestamp().Logger()), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return types.NewZeroLogger(zerolog.New(f).Level(level).With().Timestamp().Logger()), f, nil
}

// RuntimeConfig builds the shared runtime config. Plugins are registered into the default component registry.
func (c Config) RuntimeConfig(logger types.Logger, workers *pool.WorkerPool) (types.Config, error) {
	for name, file := range c.Plugins {
		if err := components.Registry.RegisterPlugin(name, file); err != nil {
			return types.Config{}, err
		}
	}
	opts := []types.Option{
		types.WithLogger(logger),
		types.WithPool(workers),
		types.WithCache(cache.NewMemoryCache(time.Minute)),
		types.WithComponentsRegistry(components.Registry),
		types.WithSessionSecretKey(c.SessionSecretKey),
		types.WithSessionEncryption(c.EncryptSession),
		types.WithNotificationsAsync(c.NotificationsAsync),
		types.WithProperties(c.Properties),
	}
	if c.ResponseTimeout > 0 {
		opts = append(opts, types.WithResponseTimeout(c.ResponseTimeout))
	}
	if c.ScriptMaxExecutionTime > 0 {
		opts = append(opts, types.WithScriptMaxExecutionTime(c.ScriptMaxExecutionTime))
	}
	if c.Encoding != "" {
		opts = append(opts, types.WithEncoding(c.Encoding))
	}
	return types.NewConfig(opts...), nil
}
