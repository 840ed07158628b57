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

package types

import (
	"time"

	"github.com/rulego/esb/api/pool"
)

// Config defines the configuration shared by the runtime context and its components.
type Config struct {
	// Logger is the logging interface, defaulting to `DefaultLogger()`.
	Logger Logger
	// Pool runs asynchronous work: async flows, async notifications and async retries.
	// If not configured, the go func method is used by default.
	Pool Pool
	// Cache is the object store shared by components, e.g. redelivery counters.
	Cache Cache
	// Properties are global properties in key-value format.
	Properties Properties
	// ScriptMaxExecutionTime is the maximum execution time for scripts, defaulting to 2000 milliseconds.
	ScriptMaxExecutionTime time.Duration
	// SessionSecretKey signs sessions carried across outbound hops.
	SessionSecretKey string
	// EncryptSession seals sessions with SessionSecretKey instead of only signing them.
	EncryptSession bool
	// NotificationsAsync fires notification listeners on the pool instead of the caller goroutine.
	NotificationsAsync bool
	// DefaultResponseTimeout applies to request-response endpoints that do not set one.
	DefaultResponseTimeout time.Duration
	// DefaultEncoding is used when neither message nor endpoint declare an encoding.
	DefaultEncoding string
	// ComponentsRegistry creates components referenced by the flow DSL.
	ComponentsRegistry ComponentRegistry
	// Notifier receives endpoint, connector and processor notifications.
	Notifier Notifier
}

// NewConfig creates a new Config with default values and applies the provided options.
func NewConfig(opts ...Option) Config {
	c := &Config{
		ScriptMaxExecutionTime: time.Millisecond * 2000,
		Logger:                 DefaultLogger(),
		Properties:             NewProperties(),
		DefaultResponseTimeout: 10 * time.Second,
		DefaultEncoding:        DefaultEncoding,
		Notifier:               NopNotifier{},
	}

	for _, opt := range opts {
		_ = opt(c)
	}
	return *c
}

// DefaultPool provides a worker pool with the default threading profile.
func DefaultPool() Pool {
	return pool.New(pool.DefaultThreadingProfile())
}

// Go runs task on the configured pool, falling back to a goroutine.
func (c Config) Go(task func()) error {
	if c.Pool != nil {
		return c.Pool.Submit(task)
	}
	go task()
	return nil
}
