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

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/endpoint"
	"github.com/rulego/esb/test"
)

func TestSpec(t *testing.T) {
	spec, err := Spec(types.MustParseEndpointURI("schedule://cleanup?cron=0+*/5+*+*+*+*"))
	require.Nil(t, err)
	assert.Equal(t, "0 */5 * * * *", spec)

	spec, err = Spec(types.MustParseEndpointURI("schedule://heartbeat?frequency=1500"))
	require.Nil(t, err)
	assert.Equal(t, "@every 1.5s", spec)

	spec, err = Spec(types.MustParseEndpointURI("schedule://heartbeat?frequency=30s"))
	require.Nil(t, err)
	assert.Equal(t, "@every 30s", spec)

	_, err = Spec(types.MustParseEndpointURI("schedule://heartbeat"))
	assert.NotNil(t, err)
	_, err = Spec(types.MustParseEndpointURI("schedule://heartbeat?frequency=-1"))
	assert.NotNil(t, err)
}

func TestInit(t *testing.T) {
	c := New()
	require.Nil(t, c.Init("scheduler", types.NewConfig(), types.Configuration{"location": "UTC"}))
	assert.Equal(t, "UTC", c.Config.Location)
	assert.NotNil(t, New().Init("scheduler", types.NewConfig(), types.Configuration{"location": "Mars/Olympus"}))
	assert.False(t, c.SupportsExchangePattern(types.RequestResponse, true))
	assert.False(t, c.SupportsExchangePattern(types.OneWay, false))
}

func TestFire(t *testing.T) {
	c := New()
	require.Nil(t, c.Init("scheduler", types.NewConfig(types.WithLogger(types.NopLogger())), nil))
	t.Cleanup(c.Dispose)

	listener := test.Sensor("tick", nil)
	b, err := endpoint.NewBuilder("schedule://tick?cron=*+*+*+*+*+*", endpoint.WithConnector(c))
	require.Nil(t, err)
	in, err := b.BuildInbound()
	require.Nil(t, err)
	in.SetListener(listener)
	require.Nil(t, in.Start())

	require.True(t, test.WaitFor(3*time.Second, func() bool { return listener.Count() > 0 }))
	msg := listener.Events()[0].Message
	assert.Equal(t, "", msg.PayloadString())
	assert.Equal(t, "tick", msg.InboundProperties.GetString(PropertyName))

	require.Nil(t, in.Stop())
	count := listener.Count()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, count, listener.Count())
}

func TestInvalidCron(t *testing.T) {
	c := New()
	require.Nil(t, c.Init("scheduler", types.NewConfig(types.WithLogger(types.NopLogger())), nil))
	t.Cleanup(c.Dispose)
	b, err := endpoint.NewBuilder("schedule://bad?cron=not+a+cron", endpoint.WithConnector(c))
	require.Nil(t, err)
	in, err := b.BuildInbound()
	require.Nil(t, err)
	in.SetListener(test.Sensor("bad", nil))
	assert.NotNil(t, in.Start())
}
