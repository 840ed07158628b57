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

// Package esb is an embeddable service bus: endpoints bound to connectors feed flows of message processors.
//
// # Usage
//
// Flows, endpoints and connectors are declared in a JSON definition:
//
//	{
//	  "id": "orders",
//	  "connectors": [{"name": "api", "protocol": "http", "configuration": {"readTimeout": "5s"}}],
//	  "flows": [{
//	    "name": "orders",
//	    "source": {"address": "http://localhost:9090/orders", "connector": "api"},
//	    "processors": [
//	      {"type": "filter/expr", "configuration": {"expr": "payload != ''"}},
//	      {"type": "transform/js", "configuration": {"jsScript": "msg.payload = msg.payload.toUpperCase(); return msg;"}},
//	      {"outbound": {"address": "vm://audit", "exchangePattern": "one-way"}}
//	    ],
//	    "exceptionStrategy": {"type": "catch", "errorTypes": ["EXPRESSION"]}
//	  }]
//	}
//
// Create and start a context:
//
//	ctx, err := esb.New("orders", []byte(definition))
//
// Load every definition of a folder, one context per file:
//
//	err := esb.Load("./flows")
//
// Get a running context and stop it:
//
//	ctx, ok := esb.Get("orders")
//	esb.Del("orders")
package esb

import (
	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/engine"
)

// NewConfig creates the runtime config shared by a context and its components.
func NewConfig(opts ...types.Option) types.Config {
	return types.NewConfig(opts...)
}

// NewContext creates a context that is not registered in the default pool and not started.
func NewContext(id string, opts ...engine.Option) (*engine.Context, error) {
	return engine.NewContext(id, opts...)
}

// WithConfig is a shortcut for engine.WithConfig.
func WithConfig(config types.Config) engine.Option {
	return engine.WithConfig(config)
}

// Load loads every *.json definition under folderPath into the default pool.
func Load(folderPath string, opts ...engine.Option) error {
	return engine.Load(folderPath, opts...)
}

// New creates and starts a context in the default pool.
func New(id string, dsl []byte, opts ...engine.Option) (*engine.Context, error) {
	return engine.New(id, dsl, opts...)
}

func Get(id string) (*engine.Context, bool) {
	return engine.Get(id)
}

// Del disposes a context of the default pool.
func Del(id string) {
	engine.Del(id)
}

// Stop disposes every context of the default pool.
func Stop() {
	engine.Stop()
}
