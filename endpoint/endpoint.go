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

package endpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rulego/esb/api/types"
)

// base is the immutable configuration shared by inbound and outbound endpoints.
type base struct {
	name               string
	uri                types.EndpointURI
	connector          types.Connector
	pattern            types.ExchangePattern
	mimeType           string
	encoding           string
	properties         types.Properties
	txConfig           *types.TransactionConfig
	retry              types.RetryPolicyTemplate
	redelivery         types.InterceptingProcessor
	securityFilter     types.Processor
	responseTimeout    time.Duration
	responseProperties []string
	processors         []types.Processor
	responseProcessors []types.Processor
	config             types.Config
	inbound            bool
	chainFactory       ChainFactory
}

func (b *base) Name() string                                  { return b.name }
func (b *base) URI() types.EndpointURI                        { return b.uri }
func (b *base) Connector() types.Connector                    { return b.connector }
func (b *base) ExchangePattern() types.ExchangePattern        { return b.pattern }
func (b *base) Encoding() string                              { return b.encoding }
func (b *base) MimeType() string                              { return b.mimeType }
func (b *base) Properties() types.Properties                  { return b.properties }
func (b *base) TransactionConfig() *types.TransactionConfig   { return b.txConfig }
func (b *base) RetryPolicy() types.RetryPolicyTemplate        { return b.retry }
func (b *base) RedeliveryPolicy() types.InterceptingProcessor { return b.redelivery }
func (b *base) SecurityFilter() types.Processor               { return b.securityFilter }
func (b *base) ResponseTimeout() time.Duration                { return b.responseTimeout }
func (b *base) ResponseProperties() []string                  { return b.responseProperties }
func (b *base) Processors() []types.Processor                 { return b.processors }
func (b *base) ResponseProcessors() []types.Processor         { return b.responseProcessors }
func (b *base) Config() types.Config                          { return b.config }
func (b *base) IsInbound() bool                               { return b.inbound }

// ChainFactory returns the factory that builds the endpoint chains.
func (b *base) ChainFactory() ChainFactory { return b.chainFactory }

func (b *base) String() string {
	return fmt.Sprintf("%s{%s, %s}", direction(b.inbound), b.uri, b.pattern)
}

// InboundEndpoint receives messages from its connector and hands them to a listener,
// usually a flow.
type InboundEndpoint struct {
	base
	state    *types.LifecycleState
	mu       sync.Mutex
	listener types.Processor
	flow     types.FlowConstruct
	receiver types.MessageReceiver
	chain    types.Processor
}

// SetListener sets the processor that receives events once the request chain ran.
func (e *InboundEndpoint) SetListener(listener types.Processor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = listener
}

func (e *InboundEndpoint) SetFlowConstruct(flow types.FlowConstruct) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flow = flow
}

func (e *InboundEndpoint) FlowConstruct() types.FlowConstruct {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flow
}

// Chain is the composed request/response chain, nil until the endpoint started.
func (e *InboundEndpoint) Chain() types.Processor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chain
}

// Receiver is the receiver registered with the connector, nil until the endpoint started.
func (e *InboundEndpoint) Receiver() types.MessageReceiver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receiver
}

func (e *InboundEndpoint) IsStarted() bool {
	return e.state.IsStarted()
}

// Start builds the inbound chain around the listener and registers it with the connector.
func (e *InboundEndpoint) Start() error {
	return e.state.Transition(types.PhaseStarted, func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.listener == nil {
			return fmt.Errorf("inbound endpoint %s: %w", e.name, types.ErrNoListener)
		}
		composite, err := e.chainFactory.InboundChain(e, e.flow, e.listener)
		if err != nil {
			return err
		}
		if s, ok := composite.(types.Startable); ok {
			if err := s.Start(); err != nil {
				return err
			}
		}
		receiver, err := e.connector.RegisterListener(e, composite, e.flow)
		if err != nil {
			return fmt.Errorf("inbound endpoint %s: register listener: %w", e.name, err)
		}
		if err := receiver.Connect(context.Background()); err != nil {
			_ = e.connector.UnregisterListener(e)
			return fmt.Errorf("inbound endpoint %s: connect receiver: %w", e.name, err)
		}
		e.chain = composite
		e.receiver = receiver
		e.config.Logger.Debugf("inbound endpoint %s started on connector %s", e.name, e.connector.Name())
		return nil
	})
}

// Stop unregisters the listener. Messages arriving afterwards are not accepted.
func (e *InboundEndpoint) Stop() error {
	return e.state.Transition(types.PhaseStopped, func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		var firstErr error
		if e.receiver != nil {
			if err := e.receiver.Disconnect(); err != nil {
				firstErr = err
			}
			if err := e.connector.UnregisterListener(e); err != nil && firstErr == nil {
				firstErr = err
			}
			e.receiver = nil
		}
		if s, ok := e.chain.(types.Stoppable); ok {
			if err := s.Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}

// OutboundEndpoint sends events through its connector. The outbound chain is built on the
// first event.
type OutboundEndpoint struct {
	base
	mu    sync.Mutex
	chain types.Processor
}

func (e *OutboundEndpoint) Type() string {
	return "endpoint/outbound"
}

// Process runs the outbound chain. One-way endpoints hand back the event they were given,
// request-response endpoints the response.
func (e *OutboundEndpoint) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	c, err := e.outboundChain()
	if err != nil {
		return nil, err
	}
	out, err := c.Process(ctx, event)
	if err != nil {
		return nil, err
	}
	if !e.pattern.HasResponse() {
		return event, nil
	}
	return out, nil
}

func (e *OutboundEndpoint) outboundChain() (types.Processor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chain != nil {
		return e.chain, nil
	}
	dispatcher, err := e.connector.Dispatcher(e)
	if err != nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, fmt.Errorf("outbound endpoint %s: %w", e.name, err))
	}
	c, err := e.chainFactory.OutboundChain(e, dispatcher)
	if err != nil {
		return nil, err
	}
	if s, ok := c.(types.Startable); ok {
		if err := s.Start(); err != nil {
			return nil, err
		}
	}
	e.chain = c
	return c, nil
}

// Stop drops the outbound chain. The next event rebuilds it.
func (e *OutboundEndpoint) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if s, ok := e.chain.(types.Stoppable); ok {
		err = s.Stop()
	}
	e.chain = nil
	return err
}

var (
	_ types.InboundEndpoint  = (*InboundEndpoint)(nil)
	_ types.OutboundEndpoint = (*OutboundEndpoint)(nil)
)
