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

package websocket

import (
	"context"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/endpoint"
	"github.com/rulego/esb/test"
)

func newConnector(t *testing.T) *Connector {
	c := New()
	require.Nil(t, c.Init("ws", types.NewConfig(types.WithLogger(types.NopLogger())), types.Configuration{
		"handshakeTimeout": "2s",
	}))
	t.Cleanup(c.Dispose)
	return c
}

func TestInit(t *testing.T) {
	c := New()
	require.Nil(t, c.Init("ws", types.NewConfig(), types.Configuration{"readBufferSize": 1024}))
	assert.Equal(t, 1024, c.Config.ReadBufferSize)
	assert.Equal(t, types.RequestResponse, c.DefaultExchangePattern(true))
	assert.Equal(t, types.OneWay, c.DefaultExchangePattern(false))
	assert.NotNil(t, New().Init("ws", types.NewConfig(), types.Configuration{"certKeyFile": "key.pem"}))
}

func TestEcho(t *testing.T) {
	c := newConnector(t)
	listener := test.Appender("echo", "!", nil)
	b, err := endpoint.NewBuilder("ws://127.0.0.1:0/echo/:room", endpoint.WithConnector(c))
	require.Nil(t, err)
	in, err := b.BuildInbound()
	require.Nil(t, err)
	in.SetListener(listener)
	require.Nil(t, in.Start())

	addr, ok := c.ListenAddr("127.0.0.1:0")
	require.True(t, ok)

	b, err = endpoint.NewBuilder("ws://"+addr+"/echo/lobby?exchangePattern=request-response&responseTimeout=2s",
		endpoint.WithConnector(c))
	require.Nil(t, err)
	out, err := b.BuildOutbound()
	require.Nil(t, err)

	for _, word := range []string{"hello", "again"} {
		res, err := out.Process(context.Background(), test.NewTextEvent(word))
		require.Nil(t, err)
		assert.Equal(t, word+"!", res.Message.PayloadString())
	}
	require.Equal(t, 2, listener.Count())
	props := listener.Events()[0].Message.InboundProperties
	assert.Equal(t, "lobby", props.GetString(PropertyUriParamPrefix+"room"))
	assert.Equal(t, "text", props.GetString(PropertyMessageType))

	require.Nil(t, in.Stop())
	_, ok = c.ListenAddr("127.0.0.1:0")
	assert.False(t, ok)
}

func TestOneWayInbound(t *testing.T) {
	c := newConnector(t)
	listener := test.Sensor("sink", nil)
	b, err := endpoint.NewBuilder("ws://127.0.0.1:0/sink?exchangePattern=one-way", endpoint.WithConnector(c))
	require.Nil(t, err)
	in, err := b.BuildInbound()
	require.Nil(t, err)
	in.SetListener(listener)
	require.Nil(t, in.Start())
	addr, _ := c.ListenAddr("127.0.0.1:0")

	conn, _, err := gws.DefaultDialer.Dial("ws://"+addr+"/sink", nil)
	require.Nil(t, err)
	defer conn.Close()
	require.Nil(t, conn.WriteMessage(gws.BinaryMessage, []byte{1, 2}))
	require.True(t, test.WaitFor(2*time.Second, func() bool { return listener.Count() == 1 }))
	assert.Equal(t, types.MimeTypeBinary, listener.Events()[0].Message.DataType.MimeType)

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	assert.NotNil(t, err)
}

func TestDialFailure(t *testing.T) {
	c := newConnector(t)
	b, err := endpoint.NewBuilder("ws://127.0.0.1:1/nowhere", endpoint.WithConnector(c))
	require.Nil(t, err)
	out, err := b.BuildOutbound()
	require.Nil(t, err)
	_, err = out.Process(context.Background(), test.NewTextEvent("x"))
	require.NotNil(t, err)
	assert.True(t, types.ResolveErrorType(err).IsA(types.ErrorConnectivity))
}
