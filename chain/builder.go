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

// Package chain builds and runs ordered processor chains.
//
// A chain runs its steps one after another, handing each step's output event to the
// next step. A step that returns a nil event ends the chain early. Intercepting steps
// receive the rest of the chain and decide when and whether it runs.
//
// Every step is decorated, outermost first, by:
//   - the lifecycle check, failing with LIFECYCLE when the runtime is stopped
//   - pre/post invoke notifications and the processorPath logger field
//   - the reactive interceptors, in registration order
//   - the interception API (ProcessorInterceptor factories)
//
// Usage:
//
//	c, err := chain.NewBuilder("orders").
//		WithLocation("orders", "processors").
//		Chain(validate, enrich, store).
//		Build()
package chain

import (
	"fmt"
	"strconv"

	"github.com/rulego/esb/api/types"
)

// Interceptor is a reactive interceptor. It wraps the processor at loc.
type Interceptor func(loc types.ComponentLocation, next types.Processor) types.Processor

// Builder assembles a Chain. Builders are not safe for concurrent use.
type Builder struct {
	name             string
	flowName         string
	path             string
	items            []item
	interceptors     []Interceptor
	manager          *InterceptorManager
	exceptionHandler types.ExceptionHandler
	notifier         types.Notifier
	lifecycleCheck   func() bool
	logger           types.Logger
}

type item struct {
	processor    types.Processor
	intercepting types.InterceptingProcessor
	builder      *Builder
}

// NewBuilder creates a builder for a chain called name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Chain appends processors. Nil processors are ignored.
// Processors that also implement types.InterceptingProcessor are chained as intercepting steps.
func (b *Builder) Chain(processors ...types.Processor) *Builder {
	for _, p := range processors {
		if p == nil {
			continue
		}
		if ip, ok := p.(types.InterceptingProcessor); ok {
			b.items = append(b.items, item{processor: p, intercepting: ip})
		} else {
			b.items = append(b.items, item{processor: p})
		}
	}
	return b
}

// ChainIntercepting appends intercepting processors. Nil values are ignored.
func (b *Builder) ChainIntercepting(processors ...types.InterceptingProcessor) *Builder {
	for _, ip := range processors {
		if ip == nil {
			continue
		}
		p, _ := ip.(types.Processor)
		b.items = append(b.items, item{processor: p, intercepting: ip})
	}
	return b
}

// ChainBuilders appends nested chains, built when this builder is built.
func (b *Builder) ChainBuilders(builders ...*Builder) *Builder {
	for _, nb := range builders {
		if nb != nil {
			b.items = append(b.items, item{builder: nb})
		}
	}
	return b
}

// WithInterceptors adds reactive interceptors. The first one added is the outermost.
func (b *Builder) WithInterceptors(interceptors ...Interceptor) *Builder {
	for _, i := range interceptors {
		if i != nil {
			b.interceptors = append(b.interceptors, i)
		}
	}
	return b
}

// WithInterceptorManager sets the source of interception API factories.
func (b *Builder) WithInterceptorManager(m *InterceptorManager) *Builder {
	b.manager = m
	return b
}

func (b *Builder) WithExceptionHandler(h types.ExceptionHandler) *Builder {
	b.exceptionHandler = h
	return b
}

// WithLocation sets the flow name and container path used to locate each step.
func (b *Builder) WithLocation(flowName, path string) *Builder {
	b.flowName = flowName
	b.path = path
	return b
}

func (b *Builder) WithNotifier(n types.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithLifecycleCheck sets a function reporting whether the runtime accepts events.
func (b *Builder) WithLifecycleCheck(running func() bool) *Builder {
	b.lifecycleCheck = running
	return b
}

func (b *Builder) WithLogger(logger types.Logger) *Builder {
	b.logger = logger
	return b
}

// inherit copies the ambient settings of parent that b does not set itself.
func (b *Builder) inherit(parent *Builder, index int) {
	if b.flowName == "" && b.path == "" {
		b.flowName = parent.flowName
		b.path = joinPath(parent.path, strconv.Itoa(index))
	}
	if len(b.interceptors) == 0 {
		b.interceptors = parent.interceptors
	}
	if b.manager == nil {
		b.manager = parent.manager
	}
	if b.notifier == nil {
		b.notifier = parent.notifier
	}
	if b.lifecycleCheck == nil {
		b.lifecycleCheck = parent.lifecycleCheck
	}
	if b.logger == nil {
		b.logger = parent.logger
	}
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "/" + child
}

// Build creates the chain. Steps keep the order in which they were added.
func (b *Builder) Build() (*Chain, error) {
	c := &Chain{
		name:             b.name,
		location:         types.ComponentLocation{FlowName: b.flowName, Path: b.path},
		exceptionHandler: b.exceptionHandler,
		notifier:         b.notifier,
		lifecycleCheck:   b.lifecycleCheck,
		logger:           b.logger,
		interceptors:     b.interceptors,
	}
	for i, it := range b.items {
		if it.builder != nil {
			it.builder.inherit(b, i)
			nested, err := it.builder.Build()
			if err != nil {
				return nil, fmt.Errorf("chain %s: nested chain %d: %w", b.name, i, err)
			}
			it = item{processor: nested}
		}
		loc := b.locate(i, it)
		s := &step{
			chain:        c,
			loc:          loc,
			processor:    it.processor,
			intercepting: it.intercepting,
		}
		if b.manager != nil {
			s.interceptors = b.manager.InterceptorsFor(loc)
		}
		if s.intercepting == nil {
			s.decorated = s.decorate(s.processor)
		}
		c.steps = append(c.steps, s)
		if it.processor != nil {
			c.processors = append(c.processors, it.processor)
		}
	}
	return c, nil
}

func (b *Builder) locate(index int, it item) types.ComponentLocation {
	var target interface{} = it.processor
	if target == nil {
		target = it.intercepting
	}
	if l, ok := target.(types.Located); ok {
		if loc := l.Location(); !loc.IsZero() {
			return loc
		}
	}
	return types.ComponentLocation{
		FlowName: b.flowName,
		Path:     b.path,
		Index:    index,
		Type:     processorType(target),
	}
}

type typed interface {
	Type() string
}

func processorType(p interface{}) string {
	switch v := p.(type) {
	case typed:
		return v.Type()
	case types.Named:
		return v.Name()
	default:
		return fmt.Sprintf("%T", p)
	}
}
