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

// Package vm provides in-memory queues between flows of the same runtime.
//
// Address format: vm://queueName. One-way dispatch enqueues the message; request-response
// dispatch invokes the receiver of the queue on the caller goroutine.
package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/connector"
	"github.com/rulego/esb/utils/maps"
)

const Protocol = "vm"

func init() {
	_ = connector.Prototypes.Register(New())
}

// Config of the vm connector.
type Config struct {
	// QueueCapacity bounds each queue. Dispatch blocks while a queue is full.
	QueueCapacity int `json:"queueCapacity"`
	// Consumers is the number of goroutines draining the queue of each receiver.
	Consumers int `json:"consumers"`
}

type Connector struct {
	*connector.BaseConnector
	Config Config

	mu     sync.Mutex
	queues map[string]*queue
}

// New creates a vm connector with default settings.
func New(opts ...connector.Option) *Connector {
	c := &Connector{
		Config: Config{QueueCapacity: 1000, Consumers: 1},
		queues: make(map[string]*queue),
	}
	c.BaseConnector = connector.NewBaseConnector(Protocol, c, opts...)
	return c
}

func (c *Connector) New() connector.Component {
	return New()
}

func (c *Connector) Init(name string, config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &c.Config); err != nil {
		return err
	}
	if c.Config.QueueCapacity <= 0 {
		c.Config.QueueCapacity = 1000
	}
	if c.Config.Consumers <= 0 {
		c.Config.Consumers = 1
	}
	c.Configure(name, config)
	return nil
}

func (c *Connector) DoConnect(context.Context) error {
	return nil
}

func (c *Connector) DoDisconnect() error {
	return nil
}

type queue struct {
	name string
	ch   chan *types.Message
}

func (c *Connector) queue(name string) *queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[name]
	if !ok {
		q = &queue{name: name, ch: make(chan *types.Message, c.Config.QueueCapacity)}
		c.queues[name] = q
	}
	return q
}

func (q *queue) put(ctx context.Context, msg *types.Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return types.NewTypedError(types.ErrorTimeout, fmt.Errorf("vm queue %s is full: %w", q.name, ctx.Err()))
	}
}

// QueueSize is the number of messages waiting on a queue.
func (c *Connector) QueueSize(name string) int {
	return len(c.queue(name).ch)
}

// Request takes the next message from the queue of address, waiting until ctx is done.
func (c *Connector) Request(ctx context.Context, address string) (*types.Message, error) {
	uri, err := types.ParseEndpointURI(address)
	if err != nil {
		return nil, err
	}
	q := c.queue(uri.Resource())
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type receiver struct {
	*connector.BaseReceiver
	c      *Connector
	q      *queue
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func (c *Connector) CreateReceiver(base *connector.BaseReceiver) (types.MessageReceiver, error) {
	r := &receiver{BaseReceiver: base, c: c, q: c.queue(base.Endpoint().URI().Resource())}
	base.OnConnect = r.start
	base.OnDisconnect = r.stop
	return r, nil
}

func (r *receiver) start(context.Context) error {
	r.stopCh = make(chan struct{})
	for i := 0; i < r.c.Config.Consumers; i++ {
		r.wg.Add(1)
		go r.consume(r.stopCh)
	}
	return nil
}

func (r *receiver) stop() error {
	if r.stopCh != nil {
		close(r.stopCh)
		r.wg.Wait()
		r.stopCh = nil
	}
	return nil
}

func (r *receiver) consume(stop chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		select {
		case <-stop:
			return
		case msg := <-r.q.ch:
			if _, err := r.RouteMessage(context.Background(), msg); err != nil {
				if errors.Is(err, types.ErrLifecycle) {
					// stopped between take and route, keep the message for the next receiver
					select {
					case r.q.ch <- msg:
					default:
						r.Logger().Errorf("dropping message from %s: %v", r.q.name, err)
					}
					return
				}
				r.Logger().Errorf("processing message from %s failed: %v", r.q.name, err)
			}
		}
	}
}

type dispatcher struct {
	c        *Connector
	endpoint types.OutboundEndpoint
}

func (c *Connector) CreateDispatcher(endpoint types.OutboundEndpoint) (types.Processor, error) {
	return &dispatcher{c: c, endpoint: endpoint}, nil
}

func (d *dispatcher) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	msg := connector.ToTransport(event.Message)
	if !d.endpoint.ExchangePattern().HasResponse() {
		if err := d.c.queue(d.endpoint.URI().Resource()).put(ctx, msg); err != nil {
			return nil, err
		}
		return event, nil
	}
	address := d.endpoint.URI().Address()
	r, ok := d.c.Receiver(address)
	if !ok {
		return nil, types.NewTypedError(types.ErrorConnectivity, fmt.Errorf("no receiver listening on %s", address))
	}
	out, err := r.RouteMessage(ctx, msg)
	if err != nil || out == nil {
		return nil, err
	}
	return connector.ResponseEvent(event, connector.ToTransport(out.Message)), nil
}

var _ connector.Component = (*Connector)(nil)
