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

// Package mqtt connects endpoints to an MQTT broker.
//
// Address format: mqtt://sensors/temperature?qos=1. The topic is the address resource or,
// for topics with wildcards, the topic parameter: mqtt://sensors?topic=sensors/%23.
// Inbound endpoints subscribe, outbound endpoints publish. Both are one-way.
package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/connector"
	"github.com/rulego/esb/utils/maps"
)

const Protocol = "mqtt"

// Inbound properties set on received messages.
const (
	PropertyTopic     = "mqtt.topic"
	PropertyQos       = "mqtt.qos"
	PropertyMessageId = "mqtt.messageId"
	PropertyRetained  = "mqtt.retained"
	PropertyDuplicate = "mqtt.duplicate"
)

func init() {
	_ = connector.Prototypes.Register(New())
}

// Config of the mqtt connector.
type Config struct {
	ClientConfig `mapstructure:",squash"`
	// QOS is the default quality of service of subscriptions and publications.
	QOS uint8 `json:"qos"`
}

// broker is the part of Client used by the connector.
type broker interface {
	Subscribe(handler Handler) error
	Unsubscribe(topic string) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

type Connector struct {
	*connector.BaseConnector
	Config Config

	mu        sync.RWMutex
	client    broker
	newClient func(ctx context.Context, conf ClientConfig, logger types.Logger) (broker, error)
}

func New(opts ...connector.Option) *Connector {
	c := &Connector{Config: Config{ClientConfig: ClientConfig{Server: "tcp://127.0.0.1:1883"}}}
	c.newClient = func(ctx context.Context, conf ClientConfig, logger types.Logger) (broker, error) {
		return NewClient(ctx, conf, logger)
	}
	oneWay := []types.ExchangePattern{types.OneWay}
	opts = append([]connector.Option{connector.WithExchangePatterns(oneWay, oneWay)}, opts...)
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
	if c.Config.Server == "" {
		return fmt.Errorf("server can not be empty")
	}
	if c.Config.QOS > 2 {
		return fmt.Errorf("invalid qos %d", c.Config.QOS)
	}
	c.Configure(name, config)
	return nil
}

func (c *Connector) DoConnect(ctx context.Context) error {
	client, err := c.newClient(ctx, c.Config.ClientConfig, c.Logger())
	if err != nil {
		return types.NewTypedError(types.ErrorConnectivity, err)
	}
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *Connector) DoDisconnect() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		client.Close()
	}
	return nil
}

func (c *Connector) broker() (broker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, fmt.Errorf("connector %s is not connected", c.Name()))
	}
	return c.client, nil
}

// Topic returns the topic of an endpoint address.
func Topic(uri types.EndpointURI) string {
	if t := uri.Param("topic"); t != "" {
		return t
	}
	return uri.Resource()
}

func (c *Connector) qos(uri types.EndpointURI) (byte, error) {
	v := uri.Param("qos")
	if v == "" {
		return c.Config.QOS, nil
	}
	qos, err := strconv.Atoi(v)
	if err != nil || qos < 0 || qos > 2 {
		return 0, fmt.Errorf("invalid qos %q", v)
	}
	return byte(qos), nil
}

type receiver struct {
	*connector.BaseReceiver
	c     *Connector
	topic string
	qos   byte
}

func (c *Connector) CreateReceiver(base *connector.BaseReceiver) (types.MessageReceiver, error) {
	uri := base.Endpoint().URI()
	qos, err := c.qos(uri)
	if err != nil {
		return nil, err
	}
	r := &receiver{BaseReceiver: base, c: c, topic: Topic(uri), qos: qos}
	base.OnConnect = r.subscribe
	base.OnDisconnect = r.unsubscribe
	return r, nil
}

func (r *receiver) subscribe(context.Context) error {
	b, err := r.c.broker()
	if err != nil {
		return err
	}
	return b.Subscribe(Handler{Topic: r.topic, Qos: r.qos, Handle: r.handle})
}

func (r *receiver) unsubscribe() error {
	b, err := r.c.broker()
	if err != nil {
		return nil
	}
	return b.Unsubscribe(r.topic)
}

func (r *receiver) handle(_ paho.Client, m paho.Message) {
	if _, err := r.RouteMessage(context.Background(), ToMessage(m)); err != nil {
		r.Logger().Errorf("processing message from topic %s failed: %v", m.Topic(), err)
	}
}

// ToMessage converts a received MQTT message.
func ToMessage(m paho.Message) *types.Message {
	msg := types.NewMessage(m.Payload())
	msg.DataType.MimeType = types.MimeTypeBinary
	msg.InboundProperties.Put(PropertyTopic, m.Topic())
	msg.InboundProperties.Put(PropertyQos, int(m.Qos()))
	msg.InboundProperties.Put(PropertyMessageId, int(m.MessageID()))
	msg.InboundProperties.Put(PropertyRetained, m.Retained())
	msg.InboundProperties.Put(PropertyDuplicate, m.Duplicate())
	return msg
}

type dispatcher struct {
	c        *Connector
	topic    string
	qos      byte
	retained bool
}

func (c *Connector) CreateDispatcher(endpoint types.OutboundEndpoint) (types.Processor, error) {
	uri := endpoint.URI()
	qos, err := c.qos(uri)
	if err != nil {
		return nil, err
	}
	retained, _ := strconv.ParseBool(uri.Param("retained"))
	return &dispatcher{c: c, topic: Topic(uri), qos: qos, retained: retained}, nil
}

func (d *dispatcher) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	b, err := d.c.broker()
	if err != nil {
		return nil, err
	}
	payload, err := event.Message.PayloadBytes()
	if err != nil {
		return nil, types.NewTypedError(types.ErrorTransformation, err)
	}
	topic := d.topic
	if t := event.Message.OutboundProperties.GetString(PropertyTopic); t != "" {
		topic = t
	}
	if err := b.Publish(topic, d.qos, d.retained, payload); err != nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, err)
	}
	return event, nil
}

var _ connector.Component = (*Connector)(nil)
