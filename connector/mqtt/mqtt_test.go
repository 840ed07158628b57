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

package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/endpoint"
	"github.com/rulego/esb/test"
)

type message struct {
	topic   string
	qos     byte
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return m.qos }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 7 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}

// fakeBroker delivers publications to the matching subscriptions synchronously.
type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]Handler
	published []string
	closed    bool
}

func (b *fakeBroker) Subscribe(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[h.Topic] = h
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) Publish(topic string, qos byte, _ bool, payload []byte) error {
	b.mu.Lock()
	b.published = append(b.published, topic)
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	if ok {
		h.Handle(nil, &message{topic: topic, qos: qos, payload: payload})
	}
	return nil
}

func (b *fakeBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func newConnector(t *testing.T, b *fakeBroker) *Connector {
	c := New()
	require.Nil(t, c.Init("broker", types.NewConfig(types.WithLogger(types.NopLogger())), types.Configuration{
		"server": "tcp://broker:1883",
		"qos":    1,
	}))
	c.newClient = func(context.Context, ClientConfig, types.Logger) (broker, error) {
		if b == nil {
			return nil, errors.New("connection refused")
		}
		return b, nil
	}
	t.Cleanup(c.Dispose)
	return c
}

func TestInit(t *testing.T) {
	c := New()
	require.Nil(t, c.Init("broker", types.NewConfig(), types.Configuration{
		"server":         "tcp://10.0.0.1:1883",
		"username":       "esb",
		"connectTimeout": "2s",
		"qos":            2,
	}))
	assert.Equal(t, "tcp://10.0.0.1:1883", c.Config.Server)
	assert.Equal(t, "esb", c.Config.Username)
	assert.Equal(t, 2*time.Second, c.Config.ConnectTimeout)
	assert.Equal(t, uint8(2), c.Config.QOS)

	assert.NotNil(t, New().Init("broker", types.NewConfig(), types.Configuration{"qos": 3}))
	assert.NotNil(t, New().Init("broker", types.NewConfig(), types.Configuration{"server": ""}))
	assert.False(t, c.SupportsExchangePattern(types.RequestResponse, true))
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "sensors/temp", Topic(types.MustParseEndpointURI("mqtt://sensors/temp")))
	assert.Equal(t, "sensors/#", Topic(types.MustParseEndpointURI("mqtt://sensors?topic=sensors/%23")))
}

func TestToMessage(t *testing.T) {
	msg := ToMessage(&message{topic: "a/b", qos: 1, payload: []byte("21.5")})
	assert.Equal(t, "21.5", msg.PayloadString())
	assert.Equal(t, "a/b", msg.InboundProperties.GetString(PropertyTopic))
	assert.Equal(t, 1, msg.InboundProperties.Get(PropertyQos))
	assert.Equal(t, 7, msg.InboundProperties.Get(PropertyMessageId))
}

func TestPublishSubscribe(t *testing.T) {
	b := &fakeBroker{handlers: map[string]Handler{}}
	c := newConnector(t, b)
	listener := test.Sensor("listener", nil)

	in, _ := endpoint.NewBuilder("mqtt://sensors/temp", endpoint.WithConnector(c))
	inbound, err := in.BuildInbound()
	require.Nil(t, err)
	inbound.SetListener(listener)
	require.Nil(t, inbound.Start())

	out, _ := endpoint.NewBuilder("mqtt://sensors/temp?qos=0", endpoint.WithConnector(c))
	outbound, err := out.BuildOutbound()
	require.Nil(t, err)
	ev := test.NewTextEvent("21.5")
	res, err := outbound.Process(context.Background(), ev)
	require.Nil(t, err)
	assert.Equal(t, "21.5", res.Message.PayloadString())

	require.Equal(t, 1, listener.Count())
	got := listener.Events()[0].Message
	assert.Equal(t, "21.5", got.PayloadString())
	assert.Equal(t, "sensors/temp", got.InboundProperties.GetString(PropertyTopic))
	assert.Equal(t, 0, got.InboundProperties.Get(PropertyQos))

	require.Nil(t, inbound.Stop())
	_, err = outbound.Process(context.Background(), test.NewTextEvent("22"))
	require.Nil(t, err)
	assert.Equal(t, 1, listener.Count())
	assert.Equal(t, []string{"sensors/temp", "sensors/temp"}, b.published)

	require.Nil(t, c.Disconnect())
	assert.True(t, b.closed)
}

func TestConnectFailure(t *testing.T) {
	c := newConnector(t, nil)
	err := c.Start()
	require.NotNil(t, err)
	assert.Equal(t, types.ErrorConnectivity, types.ResolveErrorType(err))

	out, _ := endpoint.NewBuilder("mqtt://sensors/temp", endpoint.WithConnector(c))
	outbound, err := out.BuildOutbound()
	require.Nil(t, err)
	_, err = outbound.Process(context.Background(), test.NewTextEvent("x"))
	assert.Equal(t, types.ErrorConnectivity, types.ResolveErrorType(err))

	b, _ := endpoint.NewBuilder("mqtt://sensors/temp?exchangePattern=request-response", endpoint.WithConnector(c))
	_, err = b.BuildInbound()
	assert.NotNil(t, err)
}

var _ paho.Message = (*message)(nil)
