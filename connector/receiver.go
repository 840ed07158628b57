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

package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/transaction"
)

// BaseReceiver turns transport messages into events for one inbound endpoint.
// Transports embed it and add their own Connect/Disconnect hooks.
type BaseReceiver struct {
	connector *BaseConnector
	endpoint  types.InboundEndpoint
	listener  types.Processor
	flow      types.FlowConstruct
	template  *transaction.Template

	mu        sync.RWMutex
	connected bool
	// OnConnect opens the endpoint specific transport resources, e.g. a subscription.
	OnConnect func(ctx context.Context) error
	// OnDisconnect releases what OnConnect opened.
	OnDisconnect func() error
}

func NewBaseReceiver(c *BaseConnector, endpoint types.InboundEndpoint, listener types.Processor, flow types.FlowConstruct) *BaseReceiver {
	return &BaseReceiver{
		connector: c,
		endpoint:  endpoint,
		listener:  listener,
		flow:      flow,
		template:  transaction.NewTemplate(c.Logger()),
	}
}

func (r *BaseReceiver) Endpoint() types.InboundEndpoint {
	return r.endpoint
}

func (r *BaseReceiver) Connector() *BaseConnector {
	return r.connector
}

func (r *BaseReceiver) Listener() types.Processor {
	return r.listener
}

func (r *BaseReceiver) Flow() types.FlowConstruct {
	return r.flow
}

func (r *BaseReceiver) Logger() types.Logger {
	return types.LoggerWith(r.connector.Logger(), "endpoint", r.endpoint.Name())
}

func (r *BaseReceiver) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Connect connects the connector and then the receiver, retrying with the endpoint
// retry policy when it has one.
func (r *BaseReceiver) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return nil
	}
	connect := func(ctx context.Context) error {
		if err := r.connector.Connect(ctx); err != nil {
			return err
		}
		if r.OnConnect != nil {
			return r.OnConnect(ctx)
		}
		return nil
	}
	var err error
	if policy := r.endpoint.RetryPolicy(); policy != nil {
		err = policy.Execute(ctx, connect)
	} else {
		err = connect(ctx)
	}
	if err != nil {
		return err
	}
	r.connected = true
	return nil
}

// Disconnect stops accepting messages. OnDisconnect runs without holding the receiver
// lock so it may wait for in-flight messages.
func (r *BaseReceiver) Disconnect() error {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return nil
	}
	r.connected = false
	hook := r.OnDisconnect
	r.mu.Unlock()
	if hook != nil {
		return hook()
	}
	return nil
}

// CreateEvent builds the inbound event for msg. The session is restored through the
// connector session handler; an invalid session is discarded.
func (r *BaseReceiver) CreateEvent(msg *types.Message) *types.Event {
	opts := []types.EventOption{types.WithExchangePattern(r.endpoint.ExchangePattern())}
	if id := msg.InboundProperties.GetString(types.PropertyCorrelationId); id != "" {
		opts = append(opts, types.WithCorrelationId(id))
	}
	if h := r.connector.SessionHandler(); h != nil {
		session, err := h.Retrieve(msg)
		if err != nil {
			r.Logger().Warnf("discarding session: %v", err)
		} else if session != nil {
			opts = append(opts, types.WithSession(session))
		}
	}
	if r.flow != nil {
		opts = append(opts, types.WithFlowName(r.flow.Name()))
	}
	return types.NewEvent(msg, opts...)
}

// RouteMessage runs msg through the endpoint chain under the endpoint transaction config.
// One-way endpoints return a nil event.
func (r *BaseReceiver) RouteMessage(ctx context.Context, msg *types.Message) (*types.Event, error) {
	if !r.IsConnected() {
		return nil, fmt.Errorf("receiver for %s is not connected: %w", r.endpoint.URI().Address(), types.ErrLifecycle)
	}
	event := r.CreateEvent(msg)
	return r.RouteEvent(ctx, event)
}

// RouteEvent is RouteMessage for an event built by the transport.
func (r *BaseReceiver) RouteEvent(ctx context.Context, event *types.Event) (*types.Event, error) {
	out, err := r.template.Execute(ctx, r.endpoint.TransactionConfig(), func(ctx context.Context) (*types.Event, error) {
		return r.listener.Process(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	if !r.endpoint.ExchangePattern().HasResponse() {
		return nil, nil
	}
	return out, nil
}

var _ types.MessageReceiver = (*BaseReceiver)(nil)
