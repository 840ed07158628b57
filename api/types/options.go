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

// Option is a function type that modifies the Config.
type Option func(*Config) error

// WithComponentsRegistry is an option that sets the components' registry of the Config.
func WithComponentsRegistry(componentsRegistry ComponentRegistry) Option {
	return func(c *Config) error {
		c.ComponentsRegistry = componentsRegistry
		return nil
	}
}

// WithPool is an option that sets the pool of the Config.
func WithPool(pool Pool) Option {
	return func(c *Config) error {
		c.Pool = pool
		return nil
	}
}

// WithDefaultPool uses a worker pool with the default threading profile.
func WithDefaultPool() Option {
	return func(c *Config) error {
		c.Pool = pool.New(pool.DefaultThreadingProfile())
		return nil
	}
}

// WithThreadingProfile builds the pool from profile.
func WithThreadingProfile(profile pool.ThreadingProfile) Option {
	return func(c *Config) error {
		c.Pool = pool.New(profile)
		return nil
	}
}

// WithCache is an option that sets the cache of the Config.
func WithCache(cache Cache) Option {
	return func(c *Config) error {
		c.Cache = cache
		return nil
	}
}

// WithProperties merges global properties into the Config.
func WithProperties(properties Properties) Option {
	return func(c *Config) error {
		if c.Properties == nil {
			c.Properties = NewProperties()
		}
		for k, v := range properties {
			c.Properties[k] = v
		}
		return nil
	}
}

// WithScriptMaxExecutionTime is an option that sets the js max execution time of the Config.
func WithScriptMaxExecutionTime(scriptMaxExecutionTime time.Duration) Option {
	return func(c *Config) error {
		c.ScriptMaxExecutionTime = scriptMaxExecutionTime
		return nil
	}
}

// WithLogger is an option that sets the logger of the Config.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithSessionSecretKey is an option that sets the session signing key of the Config.
func WithSessionSecretKey(secretKey string) Option {
	return func(c *Config) error {
		c.SessionSecretKey = secretKey
		return nil
	}
}

// WithSessionEncryption encrypts sessions instead of only signing them. It needs a session secret key.
func WithSessionEncryption(encrypt bool) Option {
	return func(c *Config) error {
		c.EncryptSession = encrypt
		return nil
	}
}

func WithNotificationsAsync(async bool) Option {
	return func(c *Config) error {
		c.NotificationsAsync = async
		return nil
	}
}

// WithResponseTimeout sets the default response timeout of request-response endpoints.
func WithResponseTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		c.DefaultResponseTimeout = timeout
		return nil
	}
}

func WithEncoding(encoding string) Option {
	return func(c *Config) error {
		c.DefaultEncoding = encoding
		return nil
	}
}

// WithNotifier is an option that sets the notifier of the Config.
func WithNotifier(notifier Notifier) Option {
	return func(c *Config) error {
		c.Notifier = notifier
		return nil
	}
}
