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

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/endpoint"
	"github.com/rulego/esb/flow"
	"github.com/rulego/esb/test"
)

func newContext(t *testing.T, opts ...Option) *Context {
	base := []Option{WithConfig(types.NewConfig(types.WithLogger(types.NopLogger())))}
	ctx, err := NewContext(t.Name(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(ctx.Dispose)
	return ctx
}

func outbound(t *testing.T, ctx *Context, address string, pattern types.ExchangePattern) types.Processor {
	b, err := ctx.EndpointBuilder(address, endpoint.WithExchangePattern(pattern))
	require.NoError(t, err)
	out, err := b.BuildOutbound()
	require.NoError(t, err)
	return out
}

func TestContextLifecycle(t *testing.T) {
	ctx := newContext(t)
	r := test.NewRecorder()
	ctx.Notifications().AddListener(func(n types.Notification) {
		r.Add(string(n.Action) + ":" + n.Resource)
	}, types.ContextStarted, types.ContextStopped, types.FlowStarted, types.FlowStopped)

	b, err := ctx.EndpointBuilder("vm://orders", endpoint.WithExchangePattern(types.RequestResponse))
	require.NoError(t, err)
	source, err := b.BuildInbound()
	require.NoError(t, err)
	f, err := ctx.NewFlow("orders", flow.WithSource(source), flow.WithProcessors(test.Appender("append", "-done", nil)))
	require.NoError(t, err)
	assert.False(t, ctx.IsRunning())

	require.NoError(t, ctx.Start())
	assert.True(t, ctx.IsRunning())
	assert.True(t, f.IsStarted())
	assert.Equal(t, types.PhaseStarted, ctx.State())

	out, err := outbound(t, ctx, "vm://orders", types.RequestResponse).Process(context.Background(), test.NewTextEvent("order"))
	require.NoError(t, err)
	assert.Equal(t, "order-done", out.Message.Payload)

	require.NoError(t, ctx.Stop())
	assert.False(t, ctx.IsRunning())
	assert.False(t, f.IsStarted())
	_, err = f.Process(context.Background(), test.NewTextEvent("late"))
	require.Error(t, err)
	assert.True(t, types.ResolveErrorType(err).IsA(types.ErrorLifecycle))

	assert.Equal(t, []string{
		"FLOW_STARTED:orders", "CONTEXT_STARTED:" + ctx.Id(),
		"FLOW_STOPPED:orders", "CONTEXT_STOPPED:" + ctx.Id(),
	}, r.Entries())

	// restart
	require.NoError(t, ctx.Start())
	assert.True(t, f.IsStarted())
}

func TestRegisterFlowWhileRunning(t *testing.T) {
	ctx := newContext(t)
	require.NoError(t, ctx.Start())

	f, err := ctx.NewFlow("late", flow.WithProcessors(test.Sensor("s", nil)))
	require.NoError(t, err)
	assert.True(t, f.IsStarted())

	_, err = ctx.NewFlow("late")
	assert.Error(t, err)

	require.NoError(t, ctx.RemoveFlow("late"))
	_, ok := ctx.Flow("late")
	assert.False(t, ok)
	assert.Equal(t, types.PhaseDisposed, f.State())
	assert.Error(t, ctx.RemoveFlow("late"))
}

func TestStartFailureStopsStartedFlows(t *testing.T) {
	ctx := newContext(t)
	first, err := ctx.NewFlow("first")
	require.NoError(t, err)
	b, err := ctx.EndpointBuilder("vm://broken")
	require.NoError(t, err)
	source, err := b.BuildInbound()
	require.NoError(t, err)
	_, err = ctx.NewFlow("second", flow.WithSource(&failingSource{InboundEndpoint: source}))
	require.NoError(t, err)

	assert.Error(t, ctx.Start())
	assert.False(t, ctx.IsRunning())
	assert.False(t, first.IsStarted())
}

type failingSource struct {
	*endpoint.InboundEndpoint
}

func (s *failingSource) Start() error {
	return errors.New("bind failed")
}

func TestLookup(t *testing.T) {
	ctx := newContext(t)
	f, err := ctx.NewFlow("child")
	require.NoError(t, err)
	b, err := ctx.EndpointBuilder("vm://audit")
	require.NoError(t, err)
	require.NoError(t, ctx.Endpoints().Define("audit", b))
	sensor := test.Sensor("sensor", nil)
	require.NoError(t, ctx.RegisterProcessor("sensor", sensor))
	assert.Error(t, ctx.RegisterProcessor("sensor", sensor))

	p, ok := ctx.Lookup("child")
	require.True(t, ok)
	assert.Same(t, f, p)

	p, ok = ctx.Lookup("audit")
	require.True(t, ok)
	again, _ := ctx.Lookup("audit")
	assert.Same(t, p, again)
	_, registered := ctx.Endpoints().Outbound("audit")
	assert.True(t, registered)

	p, ok = ctx.Lookup("sensor")
	require.True(t, ok)
	assert.Same(t, sensor, p)

	_, ok = ctx.Lookup("missing")
	assert.False(t, ok)
}

func TestAsyncFlowBehindInbound(t *testing.T) {
	ctx := newContext(t)
	stamped := make(chan string, 20)
	require.NoError(t, ctx.RegisterProcessor("stamp", types.ProcessorFunc(func(_ context.Context, ev *types.Event) (*types.Event, error) {
		ev.Message.Payload = "stamped"
		ev.Variables["stamped"] = true
		stamped <- ev.Message.PayloadString()
		return ev, nil
	})))
	responses := make(chan string, 20)
	ctx.Notifications().AddListener(func(n types.Notification) {
		responses <- n.Event.Message.PayloadString()
	}, types.MessageResponse)
	require.NoError(t, ctx.Load([]byte(`{"flows": [{
	  "name": "ledger", "async": true,
	  "source": {"address": "vm://ledger"},
	  "processors": [{"ref": "stamp"}]
	}]}`)))
	require.NoError(t, ctx.Start())

	out := outbound(t, ctx, "vm://ledger", types.OneWay)
	for i := 0; i < 10; i++ {
		_, err := out.Process(context.Background(), test.NewTextEvent("entry"))
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, "stamped", <-stamped)
		assert.Equal(t, "entry", <-responses)
	}
}
