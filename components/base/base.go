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

// Package base holds helpers shared by the component packages.
package base

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/utils/maps"
)

// SafeComponentSlice collects the component prototypes of a package.
type SafeComponentSlice struct {
	mu         sync.Mutex
	components []types.Component
}

func (s *SafeComponentSlice) Add(components ...types.Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components = append(s.components, components...)
}

func (s *SafeComponentSlice) Components() []types.Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Component(nil), s.components...)
}

// Decode decodes configuration into the config struct of a component.
func Decode(componentType string, configuration types.Configuration, out interface{}) error {
	if err := maps.Map2Struct(configuration, out); err != nil {
		return fmt.Errorf("%s: invalid configuration: %w", componentType, err)
	}
	return nil
}

// Logger returns the step logger from ctx, falling back to the config logger.
func Logger(ctx context.Context, config types.Config) types.Logger {
	return types.LoggerFromContext(ctx, types.NewLogger(config.Logger))
}

// Filter holds the unaccepted handling shared by filters.
type Filter struct {
	// Unaccepted receives events the filter rejects. The chain does not continue after it.
	Unaccepted types.Processor
	// ThrowOnUnaccepted fails rejected events with a ROUTING error.
	ThrowOnUnaccepted bool
}

// Route continues with next when accepted, and handles the rejection otherwise.
func (f Filter) Route(ctx context.Context, event *types.Event, accepted bool, next types.Processor, componentType string) (*types.Event, error) {
	if accepted {
		return next.Process(ctx, event)
	}
	if f.ThrowOnUnaccepted {
		return nil, types.NewTypedError(types.ErrorRouting, fmt.Errorf("message %s not accepted by %s", event.Id, componentType))
	}
	if f.Unaccepted != nil {
		return f.Unaccepted.Process(ctx, event)
	}
	return nil, nil
}

// ScriptMessage is the view of a message handed to scripts.
// JSON payloads are decoded so scripts can address their fields.
func ScriptMessage(msg *types.Message) map[string]interface{} {
	payload := msg.Payload
	if b, ok := payload.([]byte); ok {
		payload = string(b)
	}
	if s, ok := payload.(string); ok && isJson(msg.DataType.MimeType) {
		var decoded interface{}
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			payload = decoded
		}
	}
	return map[string]interface{}{
		"payload":  payload,
		"mimeType": msg.DataType.MimeType,
		"inbound":  map[string]interface{}(msg.InboundProperties),
		"outbound": map[string]interface{}(msg.OutboundProperties),
	}
}

// ApplyScriptMessage copies a script result back onto a copy of msg.
func ApplyScriptMessage(msg *types.Message, out map[string]interface{}) *types.Message {
	result := msg.Copy()
	if payload, ok := out["payload"]; ok {
		result.Payload = payload
	}
	if outbound, ok := out["outbound"].(map[string]interface{}); ok {
		result.OutboundProperties = types.Properties(outbound).Copy()
	}
	if mimeType, ok := out["mimeType"].(string); ok {
		result.DataType.MimeType = mimeType
	}
	return result
}

func isJson(mimeType string) bool {
	return strings.HasPrefix(mimeType, types.MimeTypeJson) || strings.HasSuffix(mimeType, "+json")
}
