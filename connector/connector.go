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

// Package connector holds the shared machinery of transports: connection lifecycle,
// listener registration, dispatcher caching, sessions and the connector registry.
//
// A transport embeds *BaseConnector and implements Transport:
//
//	type Connector struct {
//		*connector.BaseConnector
//	}
//
//	func New() *Connector {
//		c := &Connector{}
//		c.BaseConnector = connector.NewBaseConnector("vm", c)
//		return c
//	}
package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rulego/esb/api/types"
)

// Transport is implemented by concrete connectors.
type Transport interface {
	// DoConnect opens the shared transport resources, e.g. a client connection.
	DoConnect(ctx context.Context) error
	DoDisconnect() error
	CreateReceiver(base *BaseReceiver) (types.MessageReceiver, error)
	CreateDispatcher(endpoint types.OutboundEndpoint) (types.Processor, error)
}

// Component is a connector prototype that can be instantiated from configuration.
type Component interface {
	types.Connector
	New() Component
	// Init configures a fresh instance. It is called before Initialise.
	Init(name string, config types.Config, configuration types.Configuration) error
}

// Option configures a BaseConnector.
type Option func(*BaseConnector)

// WithRetryPolicy sets the policy used to connect.
func WithRetryPolicy(t types.RetryPolicyTemplate) Option {
	return func(c *BaseConnector) {
		c.retry = t
	}
}

func WithSessionHandler(h types.SessionHandler) Option {
	return func(c *BaseConnector) {
		c.sessionHandler = h
	}
}

// WithExchangePatterns restricts the patterns endpoints may use.
func WithExchangePatterns(inbound, outbound []types.ExchangePattern) Option {
	return func(c *BaseConnector) {
		c.inboundPatterns = inbound
		c.outboundPatterns = outbound
	}
}

// BaseConnector implements types.Connector on top of a Transport.
type BaseConnector struct {
	name     string
	protocol string
	config   types.Config
	state    *types.LifecycleState

	transport        Transport
	retry            types.RetryPolicyTemplate
	sessionHandler   types.SessionHandler
	inboundPatterns  []types.ExchangePattern
	outboundPatterns []types.ExchangePattern

	connectMu   sync.Mutex
	connected   atomic.Bool
	mu          sync.RWMutex
	receivers   map[string]types.MessageReceiver
	dispatchers map[string]types.Processor
}

// NewBaseConnector creates a connector for protocol. Name and config are set by Configure.
func NewBaseConnector(protocol string, transport Transport, opts ...Option) *BaseConnector {
	c := &BaseConnector{
		name:             protocol,
		protocol:         protocol,
		config:           types.NewConfig(),
		transport:        transport,
		inboundPatterns:  []types.ExchangePattern{types.OneWay, types.RequestResponse},
		outboundPatterns: []types.ExchangePattern{types.OneWay, types.RequestResponse},
		receivers:        make(map[string]types.MessageReceiver),
		dispatchers:      make(map[string]types.Processor),
	}
	c.state = types.NewLifecycleState("connector " + protocol)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configure sets the name and runtime config. Call it before Initialise.
func (c *BaseConnector) Configure(name string, config types.Config, opts ...Option) {
	if name != "" {
		c.name = name
	}
	c.config = config
	c.state = types.NewLifecycleState("connector " + c.name)
	for _, opt := range opts {
		opt(c)
	}
}

func (c *BaseConnector) Name() string {
	return c.name
}

func (c *BaseConnector) Protocol() string {
	return c.protocol
}

func (c *BaseConnector) Config() types.Config {
	return c.config
}

func (c *BaseConnector) Logger() types.Logger {
	return types.LoggerWith(types.NewLogger(c.config.Logger), "connector", c.name)
}

func (c *BaseConnector) State() *types.LifecycleState {
	return c.state
}

func (c *BaseConnector) notify(action types.NotificationAction, err error) {
	if n := c.config.Notifier; n != nil {
		n.Fire(types.NewNotification(action, c.name, nil, err))
	}
}

// Initialise picks the default session handler.
func (c *BaseConnector) Initialise() error {
	return c.state.Transition(types.PhaseInitialised, func() error {
		if c.sessionHandler == nil {
			if key := c.config.SessionSecretKey; key != "" {
				var h types.SessionHandler
				var err error
				if c.config.EncryptSession {
					h, err = NewEncryptedSessionHandler([]byte(key))
				} else {
					h, err = NewSignedSessionHandler([]byte(key))
				}
				if err != nil {
					return fmt.Errorf("connector %s: %w", c.name, err)
				}
				c.sessionHandler = h
			} else {
				c.sessionHandler = NullSessionHandler{}
			}
		}
		return nil
	})
}

// Connect opens the transport, retrying with the connector retry policy.
// It is a no-op when already connected.
func (c *BaseConnector) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	if c.connected.Load() {
		return nil
	}
	connect := func(ctx context.Context) error {
		return c.transport.DoConnect(ctx)
	}
	var err error
	if c.retry != nil {
		err = c.retry.Execute(ctx, connect)
	} else {
		err = connect(ctx)
	}
	if err != nil {
		c.notify(types.ConnectorConnectFailed, err)
		if types.ResolveErrorType(err) == types.ErrorUnknown {
			err = types.NewTypedError(types.ErrorConnectivity, err)
		}
		return fmt.Errorf("connector %s: connect: %w", c.name, err)
	}
	c.connected.Store(true)
	c.notify(types.ConnectorConnected, nil)
	c.Logger().Debugf("connected")
	return nil
}

// Disconnect disconnects every receiver and closes the transport.
func (c *BaseConnector) Disconnect() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	if !c.connected.Load() {
		return nil
	}
	var firstErr error
	for _, r := range c.Receivers() {
		if err := r.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.transport.DoDisconnect(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.connected.Store(false)
	c.notify(types.ConnectorDisconnected, firstErr)
	return firstErr
}

func (c *BaseConnector) IsConnected() bool {
	return c.connected.Load()
}

func (c *BaseConnector) IsStarted() bool {
	return c.state.IsStarted()
}

// Start connects the transport.
func (c *BaseConnector) Start() error {
	if !c.state.IsInitialised() {
		if err := c.Initialise(); err != nil {
			return err
		}
	}
	return c.state.Transition(types.PhaseStarted, func() error {
		return c.Connect(context.Background())
	})
}

// Stop disconnects receivers and the transport. Registered listeners are kept.
func (c *BaseConnector) Stop() error {
	if !c.state.IsStarted() {
		return nil
	}
	return c.state.Transition(types.PhaseStopped, c.Disconnect)
}

// Dispose stops the connector and forgets listeners and dispatchers.
func (c *BaseConnector) Dispose() {
	if c.state.IsStarted() {
		if err := c.Stop(); err != nil {
			c.Logger().Warnf("stop on dispose: %v", err)
		}
	}
	_ = c.state.Transition(types.PhaseDisposed, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.receivers = make(map[string]types.MessageReceiver)
		c.dispatchers = make(map[string]types.Processor)
		return nil
	})
}

func (c *BaseConnector) SupportsExchangePattern(p types.ExchangePattern, inbound bool) bool {
	patterns := c.outboundPatterns
	if inbound {
		patterns = c.inboundPatterns
	}
	for _, s := range patterns {
		if s == p {
			return true
		}
	}
	return false
}

func (c *BaseConnector) SessionHandler() types.SessionHandler {
	return c.sessionHandler
}

func receiverKey(ep types.ImmutableEndpoint) string {
	return ep.URI().Address()
}

// RegisterListener creates the transport receiver for endpoint. One receiver per address.
func (c *BaseConnector) RegisterListener(endpoint types.InboundEndpoint, listener types.Processor, flow types.FlowConstruct) (types.MessageReceiver, error) {
	if listener == nil {
		return nil, types.ErrNoListener
	}
	key := receiverKey(endpoint)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.receivers[key]; ok {
		return nil, fmt.Errorf("connector %s: a listener is already registered for %s", c.name, key)
	}
	r, err := c.transport.CreateReceiver(NewBaseReceiver(c, endpoint, listener, flow))
	if err != nil {
		return nil, err
	}
	c.receivers[key] = r
	return r, nil
}

func (c *BaseConnector) UnregisterListener(endpoint types.InboundEndpoint) error {
	key := receiverKey(endpoint)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.receivers[key]; !ok {
		return fmt.Errorf("connector %s: no listener registered for %s", c.name, key)
	}
	delete(c.receivers, key)
	return nil
}

// Receiver returns the receiver registered for an address such as vm://orders.
func (c *BaseConnector) Receiver(address string) (types.MessageReceiver, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.receivers[address]
	return r, ok
}

// Receivers returns the registered receivers ordered by address.
func (c *BaseConnector) Receivers() []types.MessageReceiver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.receivers))
	for k := range c.receivers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rs := make([]types.MessageReceiver, 0, len(keys))
	for _, k := range keys {
		rs = append(rs, c.receivers[k])
	}
	return rs
}

// Dispatcher returns the cached dispatcher of endpoint. It connects lazily on first use.
func (c *BaseConnector) Dispatcher(endpoint types.OutboundEndpoint) (types.Processor, error) {
	key := endpoint.Name() + "|" + endpoint.URI().String()
	c.mu.RLock()
	d, ok := c.dispatchers[key]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.dispatchers[key]; ok {
		return d, nil
	}
	inner, err := c.transport.CreateDispatcher(endpoint)
	if err != nil {
		return nil, err
	}
	d = &dispatcher{connector: c, endpoint: endpoint, inner: inner}
	c.dispatchers[key] = d
	return d, nil
}

type dispatcher struct {
	connector *BaseConnector
	endpoint  types.OutboundEndpoint
	inner     types.Processor
}

func (d *dispatcher) Type() string {
	return d.connector.protocol + "/dispatcher"
}

func (d *dispatcher) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if d.connector.state.IsDisposed() {
		return nil, fmt.Errorf("connector %s is disposed: %w", d.connector.name, types.ErrLifecycle)
	}
	if !d.connector.IsConnected() {
		if err := d.connector.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return d.inner.Process(ctx, event)
}

// Go runs task on the runtime pool.
func (c *BaseConnector) Go(task func()) error {
	return c.config.Go(task)
}

// ToTransport turns the outbound view of msg into the message a receiver sees: outbound
// properties become inbound properties.
func ToTransport(msg *types.Message) *types.Message {
	out := types.NewMessage(msg.Payload)
	out.DataType = msg.DataType
	for k, v := range msg.OutboundProperties {
		out.InboundProperties.Put(k, v)
	}
	return out
}

// ResponseEvent builds the event returned by a request-response dispatcher.
func ResponseEvent(request *types.Event, response *types.Message) *types.Event {
	res := request.Copy()
	res.Message = response
	return res
}
