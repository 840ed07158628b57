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

// Package main is a component plugin. Build it with
//
//	go build -buildmode=plugin -o plugin.so plugin.go
//
// and load it with components.Registry.RegisterPlugin("test", "./plugin.so").
package main

import (
	"context"
	"strings"
	"time"

	"github.com/rulego/esb/api/types"
)

// Plugin is the symbol looked up by the component registry.
var Plugin = &MyPlugins{}

type MyPlugins struct{}

func (p *MyPlugins) Init() error {
	return nil
}

func (p *MyPlugins) Components() []types.Component {
	return []types.Component{&Upper{}, &Timestamp{}}
}

// Upper converts a text payload to upper case.
type Upper struct{}

func (x *Upper) Type() string {
	return "test/upper"
}

func (x *Upper) New() types.Component {
	return &Upper{}
}

func (x *Upper) Init(types.Config, types.Configuration) error {
	return nil
}

func (x *Upper) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	out := event.Copy()
	out.Message.Payload = strings.ToUpper(event.Message.PayloadString())
	return out, nil
}

func (x *Upper) Destroy() {
}

// Timestamp sets the "timestamp" outbound property.
type Timestamp struct{}

func (x *Timestamp) Type() string {
	return "test/timestamp"
}

func (x *Timestamp) New() types.Component {
	return &Timestamp{}
}

func (x *Timestamp) Init(types.Config, types.Configuration) error {
	return nil
}

func (x *Timestamp) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	out := event.Copy()
	out.Message.OutboundProperties.Put("timestamp", time.Now().Format(time.RFC3339))
	return out, nil
}

func (x *Timestamp) Destroy() {
}

func main() {
}
