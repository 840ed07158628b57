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

// Package flow implements flows: a named source endpoint plus the processors that
// handle its events, an exception strategy and a processing strategy.
//
//	f, err := flow.New("orders",
//		flow.WithSource(inbound),
//		flow.WithProcessors(validate, store),
//		flow.WithExceptionHandler(flow.NewDefaultExceptionStrategy(logger)),
//	)
//	err = f.Start()
package flow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/chain"
)

// Option configures a Flow.
type Option func(*Flow) error

func WithConfig(config types.Config) Option {
	return func(f *Flow) error {
		f.config = config
		return nil
	}
}

// WithSource sets the inbound endpoint feeding the flow.
func WithSource(source types.InboundEndpoint) Option {
	return func(f *Flow) error {
		f.source = source
		return nil
	}
}

func WithProcessors(processors ...types.Processor) Option {
	return func(f *Flow) error {
		f.processors = append(f.processors, processors...)
		return nil
	}
}

func WithExceptionHandler(h types.ExceptionHandler) Option {
	return func(f *Flow) error {
		f.exceptionHandler = h
		return nil
	}
}

func WithProcessingStrategy(s types.ProcessingStrategy) Option {
	return func(f *Flow) error {
		if s == nil {
			return fmt.Errorf("flow %s: processing strategy can not be nil", f.name)
		}
		f.strategy = s
		return nil
	}
}

// WithAsync processes one-way events on pool. A nil pool uses the config pool.
func WithAsync(pool types.Pool) Option {
	return func(f *Flow) error {
		f.async = true
		f.asyncPool = pool
		return nil
	}
}

func WithInterceptors(interceptors ...chain.Interceptor) Option {
	return func(f *Flow) error {
		f.interceptors = append(f.interceptors, interceptors...)
		return nil
	}
}

func WithInterceptorManager(m *chain.InterceptorManager) Option {
	return func(f *Flow) error {
		f.manager = m
		return nil
	}
}

// WithLifecycleCheck reports whether the runtime accepts events.
func WithLifecycleCheck(running func() bool) Option {
	return func(f *Flow) error {
		f.lifecycleCheck = running
		return nil
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight events.
func WithShutdownTimeout(d time.Duration) Option {
	return func(f *Flow) error {
		if d < 0 {
			return fmt.Errorf("flow %s: shutdown timeout can not be negative", f.name)
		}
		f.shutdownTimeout = d
		return nil
	}
}

// Flow is a FlowConstruct.
type Flow struct {
	name             string
	config           types.Config
	state            *types.LifecycleState
	source           types.InboundEndpoint
	processors       []types.Processor
	exceptionHandler types.ExceptionHandler
	strategy         types.ProcessingStrategy
	async            bool
	asyncPool        types.Pool
	interceptors     []chain.Interceptor
	manager          *chain.InterceptorManager
	lifecycleCheck   func() bool
	shutdownTimeout  time.Duration

	mu        sync.RWMutex
	chain     *chain.Chain
	accepting atomic.Bool
	graceful  graceful
}

var _ types.FlowConstruct = (*Flow)(nil)
var _ types.Processor = (*Flow)(nil)

// New creates a flow. It does not start it.
func New(name string, opts ...Option) (*Flow, error) {
	if name == "" {
		return nil, fmt.Errorf("flow name can not be empty")
	}
	f := &Flow{
		name:   name,
		config: types.NewConfig(),
		state:  types.NewLifecycleState("flow " + name),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	f.graceful.init(f.logger(), f.shutdownTimeout)
	if f.strategy == nil {
		if f.async {
			p := f.asyncPool
			if p == nil {
				p = f.config.Pool
			}
			f.strategy = chain.NewAsynchronous(p, f.logger())
		} else {
			f.strategy = chain.Synchronous{}
		}
	}
	if f.exceptionHandler == nil {
		f.exceptionHandler = NewDefaultExceptionStrategy(f.logger())
	}
	return f, nil
}

func (f *Flow) Name() string {
	return f.name
}

func (f *Flow) ExceptionHandler() types.ExceptionHandler {
	return f.exceptionHandler
}

func (f *Flow) ProcessingStrategy() types.ProcessingStrategy {
	return f.strategy
}

func (f *Flow) Source() types.InboundEndpoint {
	return f.source
}

func (f *Flow) Processors() []types.Processor {
	return f.processors
}

func (f *Flow) State() types.Phase {
	return f.state.Phase()
}

func (f *Flow) IsStarted() bool {
	return f.state.IsStarted()
}

// InFlight is the number of events being processed.
func (f *Flow) InFlight() int64 {
	return f.graceful.activeCount()
}

func (f *Flow) logger() types.Logger {
	return types.LoggerWith(types.NewLogger(f.config.Logger), "flow", f.name)
}

func (f *Flow) notifier() types.Notifier {
	if f.config.Notifier == nil {
		return types.NopNotifier{}
	}
	return f.config.Notifier
}

// Initialise builds the processor chain.
func (f *Flow) Initialise() error {
	return f.state.Transition(types.PhaseInitialised, func() error {
		c, err := chain.NewBuilder("flow '"+f.name+"'").
			WithLocation(f.name, "processors").
			Chain(f.processors...).
			WithExceptionHandler(f.exceptionHandler).
			WithInterceptors(f.interceptors...).
			WithInterceptorManager(f.manager).
			WithNotifier(f.config.Notifier).
			WithLifecycleCheck(f.lifecycleCheck).
			WithLogger(f.logger()).
			Build()
		if err != nil {
			return fmt.Errorf("flow %s: %w", f.name, err)
		}
		f.mu.Lock()
		f.chain = c
		f.mu.Unlock()
		return nil
	})
}

// Start starts the processors, then the source.
func (f *Flow) Start() error {
	if !f.state.IsInitialised() {
		if err := f.Initialise(); err != nil {
			return err
		}
	}
	return f.state.Transition(types.PhaseStarted, func() error {
		if f.graceful.isShutting() {
			f.graceful.init(f.logger(), f.shutdownTimeout)
		}
		c := f.currentChain()
		if err := c.Start(); err != nil {
			return err
		}
		if f.source != nil {
			f.source.SetFlowConstruct(f)
			f.source.SetListener(types.ProcessorFunc(f.Process))
			if err := f.source.Start(); err != nil {
				_ = c.Stop()
				return fmt.Errorf("flow %s: start source: %w", f.name, err)
			}
		}
		f.accepting.Store(true)
		f.logger().Infof("flow %s started", f.name)
		f.notifier().Fire(types.NewNotification(types.FlowStarted, f.name, nil, nil))
		return nil
	})
}

// Stop stops the source first, then waits for in-flight events before stopping the processors.
func (f *Flow) Stop() error {
	if !f.state.IsStarted() {
		return nil
	}
	return f.state.Transition(types.PhaseStopped, func() error {
		var first error
		if f.source != nil {
			if err := f.source.Stop(); err != nil {
				first = fmt.Errorf("flow %s: stop source: %w", f.name, err)
			}
		}
		f.accepting.Store(false)
		f.graceful.stop(f.name)
		if err := f.currentChain().Stop(); err != nil && first == nil {
			first = err
		}
		f.logger().Infof("flow %s stopped", f.name)
		f.notifier().Fire(types.NewNotification(types.FlowStopped, f.name, nil, nil))
		return first
	})
}

// Dispose stops the flow and disposes its processors.
func (f *Flow) Dispose() {
	_ = f.Stop()
	_ = f.state.Transition(types.PhaseDisposed, func() error {
		if c := f.currentChain(); c != nil {
			c.Dispose()
		}
		return nil
	})
}

func (f *Flow) currentChain() *chain.Chain {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.chain
}

// Process runs event through the flow using its processing strategy.
// A stopped flow fails with a LIFECYCLE error.
func (f *Flow) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if event == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, done := f.graceful.begin(ctx)
	runCtx = chain.WithShutdown(runCtx, f.graceful.shutdownCtx)
	if !f.accepting.Load() || f.graceful.isShutting() {
		done()
		return nil, types.NewMessagingError(event, types.ComponentLocation{FlowName: f.name},
			fmt.Errorf("flow %s is not started: %w", f.name, types.ErrLifecycle))
	}
	event.FlowName = f.name
	c := f.currentChain()
	tracked := types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
		defer done()
		return c.Process(ctx, event)
	})
	out, err := f.strategy.Apply(runCtx, tracked, event)
	if err != nil {
		done()
	}
	return out, err
}

func (f *Flow) String() string {
	return "flow " + f.name
}
