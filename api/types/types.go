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
	"context"
	"strconv"
)

// Processor is a single step of a processor chain.
// Returning a nil event with a nil error consumes the event: the enclosing chain stops.
type Processor interface {
	Process(ctx context.Context, event *Event) (*Event, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, event *Event) (*Event, error)

func (f ProcessorFunc) Process(ctx context.Context, event *Event) (*Event, error) {
	return f(ctx, event)
}

// InterceptingProcessor receives the remainder of the chain as next.
// It decides whether, how often and around what the rest of the chain runs.
type InterceptingProcessor interface {
	Intercept(ctx context.Context, event *Event, next Processor) (*Event, error)
}

// InterceptingProcessorFunc adapts a function to InterceptingProcessor.
type InterceptingProcessorFunc func(ctx context.Context, event *Event, next Processor) (*Event, error)

func (f InterceptingProcessorFunc) Intercept(ctx context.Context, event *Event, next Processor) (*Event, error) {
	return f(ctx, event, next)
}

// Process runs f with nothing after it, so it can be used where a Processor is expected.
func (f InterceptingProcessorFunc) Process(ctx context.Context, event *Event) (*Event, error) {
	return f(ctx, event, PassThrough)
}

// PassThrough returns the event unchanged.
var PassThrough Processor = ProcessorFunc(func(_ context.Context, event *Event) (*Event, error) {
	return event, nil
})

// Located is implemented by processors that know where they are configured.
type Located interface {
	Location() ComponentLocation
}

// Parameterized processors expose their resolved parameters to interceptors.
type Parameterized interface {
	Parameters(event *Event) map[string]interface{}
}

// Named is implemented by processors with a human readable name.
type Named interface {
	Name() string
}

// Transformer converts a message.
type Transformer interface {
	Transform(ctx context.Context, msg *Message) (*Message, error)
	ReturnDataType() DataType
}

// ComponentLocation identifies a processor inside a flow.
type ComponentLocation struct {
	FlowName string
	// Path is the container path such as "processors" or "source/request".
	Path  string
	Index int
	// Type is the processor type, for example "filter/expr".
	Type string
}

func (l ComponentLocation) IsZero() bool {
	return l.FlowName == "" && l.Path == "" && l.Type == ""
}

// String renders flow/path/index, the value used for processorPath log fields.
func (l ComponentLocation) String() string {
	s := l.FlowName
	if l.Path != "" {
		if s != "" {
			s += "/"
		}
		s += l.Path
	}
	return s + "/" + strconv.Itoa(l.Index)
}

// Child returns a location nested under l.
func (l ComponentLocation) Child(path string, index int) ComponentLocation {
	p := l.Path
	if p != "" {
		p += "/" + strconv.Itoa(l.Index) + "/"
	}
	return ComponentLocation{FlowName: l.FlowName, Path: p + path, Index: index}
}

// Pool runs tasks asynchronously.
type Pool interface {
	// Submit returns an error if the task could not be accepted.
	Submit(task func()) error
	Release()
}

// Cache is the object store used for counters and short lived state.
type Cache interface {
	Set(key string, value interface{}, ttl string) error
	Get(key string) interface{}
	Has(key string) bool
	Delete(key string) error
	DeleteByPrefix(prefix string) error
	GetByPrefix(prefix string) map[string]interface{}
}

// Configuration is the raw configuration of a component.
type Configuration map[string]interface{}

// Component is a processor that can be created by type name and configured from the DSL.
type Component interface {
	Processor
	// Type must be unique in the registry, for example "filter/expr".
	Type() string
	New() Component
	Init(config Config, configuration Configuration) error
	Destroy()
}

// ComponentRegistry creates components by type.
type ComponentRegistry interface {
	Register(component Component) error
	Unregister(componentType string) error
	NewComponent(componentType string) (Component, error)
	GetComponents() map[string]Component
}
