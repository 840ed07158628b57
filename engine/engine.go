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

// Package engine provides the runtime context that owns connectors, endpoints and flows.
//
// A Context is built from options, filled programmatically or from the flow DSL, and then
// started. Start connects the connectors before starting the flows, Stop stops the flows
// before disconnecting the connectors.
//
//	ctx, err := engine.NewContext("orders", engine.WithConfig(config))
//	err = ctx.Load(dsl)
//	err = ctx.Start()
//	defer ctx.Dispose()
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/chain"
	"github.com/rulego/esb/components"
	"github.com/rulego/esb/connector"
	"github.com/rulego/esb/endpoint"
	"github.com/rulego/esb/flow"
	"github.com/rulego/esb/utils/cache"

	// transports available to the DSL
	_ "github.com/rulego/esb/connector/db"
	_ "github.com/rulego/esb/connector/file"
	_ "github.com/rulego/esb/connector/http"
	_ "github.com/rulego/esb/connector/mqtt"
	_ "github.com/rulego/esb/connector/schedule"
	_ "github.com/rulego/esb/connector/vm"
	_ "github.com/rulego/esb/connector/websocket"
)

// DefaultShutdownTimeout bounds how long each flow waits for in-flight events on Stop.
const DefaultShutdownTimeout = 10 * time.Second

// Option configures a Context.
type Option func(*Context) error

func WithConfig(config types.Config) Option {
	return func(c *Context) error {
		c.config = config
		return nil
	}
}

// WithConnectorPrototypes replaces the protocols the context can create connectors for.
func WithConnectorPrototypes(prototypes *connector.PrototypeRegistry) Option {
	return func(c *Context) error {
		c.prototypes = prototypes
		return nil
	}
}

// WithInterceptorFactories adds processor interceptors applied to every flow.
func WithInterceptorFactories(factories ...types.ProcessorInterceptorFactory) Option {
	return func(c *Context) error {
		c.factories = append(c.factories, factories...)
		return nil
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Context) error {
		if d < 0 {
			return fmt.Errorf("shutdown timeout can not be negative")
		}
		c.shutdownTimeout = d
		return nil
	}
}

// WithParser sets the DSL parser used by Load. JsonParser by default.
func WithParser(p Parser) Option {
	return func(c *Context) error {
		c.parser = p
		return nil
	}
}

// Context is the runtime: config, connectors, endpoints, flows, notifications and
// interception shared by everything it runs.
type Context struct {
	id              string
	config          types.Config
	state           *types.LifecycleState
	prototypes      *connector.PrototypeRegistry
	factories       []types.ProcessorInterceptorFactory
	shutdownTimeout time.Duration
	parser          Parser

	notifications *NotificationManager
	connectors    *connector.Registry
	endpoints     *endpoint.Registry
	interceptors  *chain.InterceptorManager
	running       atomic.Bool

	mu         sync.RWMutex
	flows      map[string]*flow.Flow
	flowOrder  []string
	processors map[string]types.Processor
	definition *Definition
}

// NewContext creates a context. Missing config parts get defaults: the built-in component
// registry and an in-memory cache.
func NewContext(id string, opts ...Option) (*Context, error) {
	c := &Context{
		id:              id,
		config:          types.NewConfig(),
		shutdownTimeout: DefaultShutdownTimeout,
		parser:          &JsonParser{},
		flows:           make(map[string]*flow.Flow),
		processors:      make(map[string]types.Processor),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("context %s: %w", id, err)
		}
	}
	c.state = types.NewLifecycleState("context " + id)
	if c.config.ComponentsRegistry == nil {
		c.config.ComponentsRegistry = components.Registry
	}
	if c.config.Cache == nil {
		c.config.Cache = cache.NewMemoryCache(time.Minute)
	}
	c.config.Logger = types.LoggerWith(types.NewLogger(c.config.Logger), "context", id)

	c.notifications = NewNotificationManager(c.config)
	if prev := c.config.Notifier; prev != nil {
		if _, nop := prev.(types.NopNotifier); !nop {
			c.notifications.AddListener(prev.Fire)
		}
	}
	c.config.Notifier = c.notifications

	c.interceptors = chain.NewInterceptorManager(c.factories...)
	c.connectors = connector.NewRegistry(c.config, c.prototypes)
	c.endpoints = endpoint.NewRegistry()
	if err := c.state.Transition(types.PhaseInitialised, nil); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Context) Id() string {
	return c.id
}

// Config is the config handed to connectors, endpoints and flows. Its Notifier is the
// context's NotificationManager.
func (c *Context) Config() types.Config {
	return c.config
}

func (c *Context) Logger() types.Logger {
	return c.config.Logger
}

func (c *Context) Notifications() *NotificationManager {
	return c.notifications
}

func (c *Context) Connectors() *connector.Registry {
	return c.connectors
}

func (c *Context) Endpoints() *endpoint.Registry {
	return c.endpoints
}

func (c *Context) Interceptors() *chain.InterceptorManager {
	return c.interceptors
}

// IsRunning reports whether chains may accept events.
func (c *Context) IsRunning() bool {
	return c.running.Load()
}

func (c *Context) State() types.Phase {
	return c.state.Phase()
}

// Definition returns the last DSL loaded, nil if none.
func (c *Context) Definition() *Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.definition
}

// EndpointBuilder creates an endpoint builder bound to the context's config and connectors.
func (c *Context) EndpointBuilder(address string, opts ...endpoint.Option) (*endpoint.Builder, error) {
	base := []endpoint.Option{endpoint.WithConfig(c.config), endpoint.WithConnectorResolver(c.connectors)}
	return endpoint.NewBuilder(address, append(base, opts...)...)
}

// NewFlow creates a flow wired to the context and registers it.
func (c *Context) NewFlow(name string, opts ...flow.Option) (*flow.Flow, error) {
	base := []flow.Option{
		flow.WithConfig(c.config),
		flow.WithInterceptorManager(c.interceptors),
		flow.WithLifecycleCheck(c.IsRunning),
		flow.WithShutdownTimeout(c.shutdownTimeout),
	}
	f, err := flow.New(name, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := c.RegisterFlow(f); err != nil {
		return nil, err
	}
	return f, nil
}

// RegisterFlow adds f. It is started right away when the context is running.
func (c *Context) RegisterFlow(f *flow.Flow) error {
	c.mu.Lock()
	if _, ok := c.flows[f.Name()]; ok {
		c.mu.Unlock()
		return fmt.Errorf("flow %q already registered", f.Name())
	}
	c.flows[f.Name()] = f
	c.flowOrder = append(c.flowOrder, f.Name())
	c.mu.Unlock()
	if c.IsRunning() {
		return f.Start()
	}
	return nil
}

func (c *Context) Flow(name string) (*flow.Flow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.flows[name]
	return f, ok
}

// Flows returns the flows in registration order.
func (c *Context) Flows() []*flow.Flow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	flows := make([]*flow.Flow, 0, len(c.flowOrder))
	for _, name := range c.flowOrder {
		flows = append(flows, c.flows[name])
	}
	return flows
}

// RemoveFlow disposes the named flow.
func (c *Context) RemoveFlow(name string) error {
	c.mu.Lock()
	f, ok := c.flows[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("flow %q not found", name)
	}
	delete(c.flows, name)
	for i, n := range c.flowOrder {
		if n == name {
			c.flowOrder = append(c.flowOrder[:i:i], c.flowOrder[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	f.Dispose()
	return nil
}

// RegisterProcessor makes p available to references by id.
func (c *Context) RegisterProcessor(id string, p types.Processor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.processors[id]; ok {
		return fmt.Errorf("processor %q already registered", id)
	}
	c.processors[id] = p
	return nil
}

func (c *Context) Processor(id string) (types.Processor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.processors[id]
	return p, ok
}

// Lookup resolves a reference: a flow, then an outbound endpoint (a global definition
// is built on first use), then a registered processor.
func (c *Context) Lookup(name string) (types.Processor, bool) {
	if f, ok := c.Flow(name); ok {
		return f, true
	}
	if out, ok := c.endpoints.Outbound(name); ok {
		return out, true
	}
	if b, ok := c.endpoints.Lookup(name); ok {
		out, err := b.BuildOutbound()
		if err != nil {
			c.Logger().Warnf("reference %s: %v", name, err)
			return nil, false
		}
		if err := c.endpoints.RegisterAs(name, out); err != nil {
			// built concurrently
			if existing, ok := c.endpoints.Outbound(name); ok {
				return existing, true
			}
			return nil, false
		}
		return out, true
	}
	return c.Processor(name)
}

// Load parses dsl with the context's parser and builds what it defines.
func (c *Context) Load(dsl []byte) error {
	def, err := c.parser.DecodeDefinition(dsl)
	if err != nil {
		return fmt.Errorf("context %s: parse: %w", c.id, err)
	}
	return c.LoadDefinition(def)
}

// Start connects the connectors and starts the flows. A flow that fails to start
// stops the ones started before it.
func (c *Context) Start() error {
	return c.state.Transition(types.PhaseStarted, func() error {
		if err := c.connectors.StartAll(); err != nil {
			_ = c.connectors.StopAll()
			return fmt.Errorf("context %s: %w", c.id, err)
		}
		c.running.Store(true)
		flows := c.Flows()
		for i, f := range flows {
			if err := f.Start(); err != nil {
				c.running.Store(false)
				for j := i - 1; j >= 0; j-- {
					_ = flows[j].Stop()
				}
				_ = c.connectors.StopAll()
				return fmt.Errorf("context %s: %w", c.id, err)
			}
		}
		c.Logger().Infof("context %s started with %d flows", c.id, len(flows))
		c.notifications.Fire(types.NewNotification(types.ContextStarted, c.id, nil, nil))
		return nil
	})
}

// Stop stops the flows in reverse order, waiting for their in-flight events, and then
// the connectors.
func (c *Context) Stop() error {
	if !c.state.IsStarted() {
		return nil
	}
	return c.state.Transition(types.PhaseStopped, func() error {
		var first error
		flows := c.Flows()
		for i := len(flows) - 1; i >= 0; i-- {
			if err := flows[i].Stop(); err != nil && first == nil {
				first = err
			}
		}
		c.running.Store(false)
		if err := c.connectors.StopAll(); err != nil && first == nil {
			first = err
		}
		c.Logger().Infof("context %s stopped", c.id)
		c.notifications.Fire(types.NewNotification(types.ContextStopped, c.id, nil, nil))
		return first
	})
}

// Dispose stops the context and releases flows, endpoints and connectors.
func (c *Context) Dispose() {
	if err := c.Stop(); err != nil {
		c.Logger().Warnf("context %s: %v", c.id, err)
	}
	_ = c.state.Transition(types.PhaseDisposed, func() error {
		for _, f := range c.Flows() {
			f.Dispose()
		}
		for _, ep := range c.endpoints.Endpoints() {
			if s, ok := ep.(types.Stoppable); ok {
				_ = s.Stop()
			}
			c.endpoints.Remove(ep.Name())
		}
		c.connectors.DisposeAll()
		c.mu.Lock()
		c.flows = make(map[string]*flow.Flow)
		c.flowOrder = nil
		c.processors = make(map[string]types.Processor)
		c.mu.Unlock()
		c.notifications.Dispose()
		return nil
	})
}
