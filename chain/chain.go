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

package chain

import (
	"context"
	"fmt"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/utils/runtime"
)

// Chain is a built, immutable processor chain. It is safe for concurrent use.
type Chain struct {
	name             string
	location         types.ComponentLocation
	steps            []*step
	processors       []types.Processor
	interceptors     []Interceptor
	exceptionHandler types.ExceptionHandler
	notifier         types.Notifier
	lifecycleCheck   func() bool
	logger           types.Logger
}

var _ types.Processor = (*Chain)(nil)
var _ types.Located = (*Chain)(nil)

func (c *Chain) Name() string {
	return c.name
}

func (c *Chain) Location() types.ComponentLocation {
	return c.location
}

// Processors returns the chained processors in order.
func (c *Chain) Processors() []types.Processor {
	return c.processors
}

func (c *Chain) String() string {
	return fmt.Sprintf("chain '%s' (%d processors)", c.name, len(c.steps))
}

// Process runs event through the chain.
// Failures are returned as *types.MessagingError unless the exception handler handles them.
func (c *Chain) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if event == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	out, err := c.processFrom(ctx, 0, event)
	if err == nil {
		return out, nil
	}
	me, ok := types.AsMessagingError(err)
	if !ok {
		me = types.NewMessagingError(event, c.location, err)
	}
	if c.exceptionHandler != nil {
		return c.exceptionHandler.Handle(ctx, me)
	}
	return nil, me
}

func (c *Chain) processFrom(ctx context.Context, from int, event *types.Event) (*types.Event, error) {
	for i := from; i < len(c.steps); i++ {
		s := c.steps[i]
		if err := ctx.Err(); err != nil {
			return nil, types.NewMessagingError(event, s.loc, types.NewTypedError(types.ErrorTimeout, err))
		}
		if s.intercepting != nil {
			return s.run(ctx, event, s.decorate(s.interceptWith(&remainder{chain: c, from: i + 1})))
		}
		out, err := s.run(ctx, event, s.decorated)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		event = out
	}
	return event, nil
}

// Start starts every processor that is types.Startable.
func (c *Chain) Start() error {
	for _, p := range c.processors {
		if s, ok := p.(types.Startable); ok {
			if err := s.Start(); err != nil {
				return fmt.Errorf("chain %s: %w", c.name, err)
			}
		}
	}
	return nil
}

// Stop stops every processor that is types.Stoppable, returning the first error.
func (c *Chain) Stop() error {
	var first error
	for _, p := range c.processors {
		if s, ok := p.(types.Stoppable); ok {
			if err := s.Stop(); err != nil && first == nil {
				first = fmt.Errorf("chain %s: %w", c.name, err)
			}
		}
	}
	return first
}

// Dispose disposes processors that are types.Disposable or components with Destroy.
func (c *Chain) Dispose() {
	for _, p := range c.processors {
		switch v := p.(type) {
		case types.Disposable:
			v.Dispose()
		case interface{ Destroy() }:
			v.Destroy()
		}
	}
}

// remainder is the rest of the chain handed to an intercepting step.
type remainder struct {
	chain *Chain
	from  int
}

func (r *remainder) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if event == nil {
		return nil, nil
	}
	return r.chain.processFrom(ctx, r.from, event)
}

type step struct {
	chain        *Chain
	loc          types.ComponentLocation
	processor    types.Processor
	intercepting types.InterceptingProcessor
	interceptors []types.ProcessorInterceptor
	decorated    types.Processor
}

func (s *step) interceptWith(next types.Processor) types.Processor {
	return types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
		return s.intercepting.Intercept(ctx, event, next)
	})
}

// decorate wraps core with, from the inside out, the interception API adapter,
// the reactive interceptors, and the notification and lifecycle layers.
func (s *step) decorate(core types.Processor) types.Processor {
	p := core
	if len(s.interceptors) > 0 {
		p = &interceptionAdapter{loc: s.loc, target: s.processor, next: p, interceptors: s.interceptors}
	}
	for i := len(s.chain.interceptors) - 1; i >= 0; i-- {
		p = s.chain.interceptors[i](s.loc, p)
	}
	return s.observe(p)
}

func (s *step) observe(next types.Processor) types.Processor {
	c := s.chain
	path := s.loc.String()
	var logger types.Logger
	if c.logger != nil {
		logger = types.LoggerWith(c.logger, "processorPath", path)
	}
	return types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
		if c.lifecycleCheck != nil && !c.lifecycleCheck() {
			return nil, fmt.Errorf("%s: %w", c.name, types.ErrLifecycle)
		}
		ctx = types.ContextWithProcessorPath(ctx, path)
		if logger != nil {
			ctx = types.ContextWithLogger(ctx, logger)
		}
		notify := c.notifier != nil && event.NotificationsEnabled
		if notify {
			c.notifier.Fire(types.NewNotification(types.ProcessorPreInvoke, path, event, nil))
		}
		out, err := next.Process(ctx, event)
		if err == nil && notify {
			c.notifier.Fire(types.NewNotification(types.ProcessorPostInvoke, path, out, nil))
		}
		return out, err
	})
}

// run invokes p, wrapping failures and panics in a MessagingError located at this step.
func (s *step) run(ctx context.Context, event *types.Event, p types.Processor) (out *types.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			if s.chain.logger != nil {
				s.chain.logger.Errorf("processor %s panic: %v\n%s", s.loc, r, runtime.CallerStack())
			}
			out, err = nil, s.wrap(event, types.NewTypedError(types.ErrorUnknown, fmt.Errorf("panic: %v", r)))
		}
	}()
	out, err = p.Process(ctx, event)
	if err != nil {
		return nil, s.wrap(event, err)
	}
	return out, nil
}

func (s *step) wrap(event *types.Event, err error) error {
	// errors already located by a later step keep their location, even when wrapped
	if _, ok := types.AsMessagingError(err); ok {
		return err
	}
	me := types.NewMessagingError(event, s.loc, err)
	if c := s.chain; c.notifier != nil && event.NotificationsEnabled {
		c.notifier.Fire(types.NewNotification(types.ExceptionThrown, s.loc.String(), event, me))
	}
	return me
}
