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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/chain"
	"github.com/rulego/esb/connector"
	"github.com/rulego/esb/connector/vm"
	"github.com/rulego/esb/endpoint/processor"
	"github.com/rulego/esb/test"
	"github.com/rulego/esb/transaction"
)

func testConfig(n types.Notifier) types.Config {
	opts := []types.Option{types.WithLogger(types.NopLogger())}
	if n != nil {
		opts = append(opts, types.WithNotifier(n))
	}
	return types.NewConfig(opts...)
}

func newVM(t *testing.T, opts ...connector.Option) *vm.Connector {
	c := vm.New(opts...)
	require.Nil(t, c.Init("vm1", testConfig(nil), nil))
	require.Nil(t, c.Start())
	t.Cleanup(c.Dispose)
	return c
}

type upper struct{}

func (upper) Transform(_ context.Context, msg *types.Message) (*types.Message, error) {
	msg.Payload = strings.ToUpper(msg.PayloadString())
	return msg, nil
}

func (upper) ReturnDataType() types.DataType {
	return types.DataType{MimeType: types.MimeTypeText}
}

// bare replaces the message with one that has no property scopes.
type bare struct{}

func (bare) Transform(_ context.Context, msg *types.Message) (*types.Message, error) {
	return &types.Message{Payload: "bare:" + msg.PayloadString()}, nil
}

func (bare) ReturnDataType() types.DataType {
	return types.DataType{}
}

func TestPropertyStepsAfterBareMessage(t *testing.T) {
	c := newVM(t)
	b, err := NewBuilder("vm://orders", WithConnector(c), WithProperty("tenant", "acme"))
	require.Nil(t, err)
	out, err := b.BuildOutbound()
	require.Nil(t, err)

	steps, err := chain.NewBuilder("bare").Chain(
		processor.NewTransformerProcessor(bare{}),
		processor.NewOutboundEndpointProperties(out),
		processor.NewTransformerProcessor(bare{}),
		processor.NewInboundExceptionDetails(out),
		processor.NewTransformerProcessor(bare{}),
		processor.NewInboundEndpointProperties(out),
	).Build()
	require.Nil(t, err)

	ev := test.NewTextEvent("x")
	ev.Error = &types.Error{Type: types.ErrorRouting}
	res, err := steps.Process(context.Background(), ev)
	require.Nil(t, err)
	assert.Equal(t, "bare:bare:bare:x", res.Message.Payload)
	assert.Equal(t, "vm://orders", res.Message.InboundProperties.GetString(types.PropertyEndpoint))
	assert.Equal(t, "acme", res.Message.InboundProperties.GetString("tenant"))
}

func TestBuilderResolvesConnector(t *testing.T) {
	config := testConfig(nil)
	registry := connector.NewRegistry(config, connector.Prototypes)
	vm1 := vm.New()
	vm1.Configure("vm1", config)
	vm2 := vm.New()
	vm2.Configure("vm2", config)
	require.Nil(t, registry.Register(vm1))

	t.Run("explicit", func(t *testing.T) {
		b, err := NewBuilder("vm://orders", WithConnector(vm2), WithConfig(config))
		require.Nil(t, err)
		ep, err := b.BuildInbound()
		require.Nil(t, err)
		assert.Equal(t, "vm2", ep.Connector().Name())
	})
	t.Run("default", func(t *testing.T) {
		b, err := NewBuilder("vm://orders", WithConnectorResolver(registry), WithConfig(config))
		require.Nil(t, err)
		ep, err := b.BuildOutbound()
		require.Nil(t, err)
		assert.Equal(t, "vm1", ep.Connector().Name())
	})
	t.Run("uriParam", func(t *testing.T) {
		require.Nil(t, registry.Register(vm2))
		b, err := NewBuilder("vm://orders?connector=vm2&region=eu", WithConnectorResolver(registry), WithConfig(config))
		require.Nil(t, err)
		ep, err := b.BuildOutbound()
		require.Nil(t, err)
		assert.Equal(t, "vm2", ep.Connector().Name())
		assert.Equal(t, "eu", ep.Properties().GetString("region"))
		assert.False(t, ep.Properties().Has(ParamConnector))

		// two vm connectors: no default
		b, _ = NewBuilder("vm://orders", WithConnectorResolver(registry), WithConfig(config))
		_, err = b.BuildOutbound()
		assert.NotNil(t, err)
	})
	t.Run("unknown", func(t *testing.T) {
		b, _ := NewBuilder("vm://orders", WithConnectorName("nope"), WithConnectorResolver(registry))
		_, err := b.BuildInbound()
		assert.True(t, errors.Is(err, types.ErrConnectorNotFound))

		b, _ = NewBuilder("orders")
		_, err = b.BuildInbound()
		assert.NotNil(t, err)
	})
}

func TestBuilderDefaults(t *testing.T) {
	c := newVM(t)
	b, err := NewBuilder("vm://orders?exchangePattern=request-response&responseTimeout=250&mimeType=text/plain",
		WithConnector(c), WithConfig(testConfig(nil)))
	require.Nil(t, err)
	ep, err := b.BuildOutbound()
	require.Nil(t, err)
	assert.Equal(t, types.RequestResponse, ep.ExchangePattern())
	assert.Equal(t, 250*time.Millisecond, ep.ResponseTimeout())
	assert.Equal(t, "text/plain", ep.MimeType())
	assert.Equal(t, types.DefaultEncoding, ep.Encoding())
	assert.Equal(t, "vm://orders?exchangePattern=request-response&responseTimeout=250&mimeType=text/plain", ep.Name())
	assert.False(t, ep.IsInbound())

	b, err = NewBuilder("vm://orders", WithConnector(c), WithName("orders"), WithResponseTimeout(time.Second),
		WithExchangePattern(types.OneWay))
	require.Nil(t, err)
	ep, err = b.BuildOutbound()
	require.Nil(t, err)
	assert.Equal(t, "orders", ep.Name())
	assert.Equal(t, time.Second, ep.ResponseTimeout())
	assert.Equal(t, types.OneWay, ep.ExchangePattern())

	_, err = NewBuilder("vm://orders", WithResponseTimeout(-time.Second))
	assert.NotNil(t, err)
}

func TestUnsupportedExchangePattern(t *testing.T) {
	c := newVM(t, connector.WithExchangePatterns([]types.ExchangePattern{types.OneWay}, []types.ExchangePattern{types.OneWay}))
	b, err := NewBuilder("vm://orders", WithConnector(c), WithExchangePattern(types.RequestResponse))
	require.Nil(t, err)
	_, err = b.BuildInbound()
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "does not support request-response inbound")
}

func TestTransformersFollowProcessors(t *testing.T) {
	c := newVM(t)
	r := test.NewRecorder()
	b, err := NewBuilder("vm://orders", WithConnector(c),
		WithTransformers(upper{}),
		WithProcessors(test.Sensor("p1", r)),
		WithResponseTransformers(upper{}),
		WithResponseProcessors(test.Sensor("r1", r)))
	require.Nil(t, err)
	ep, err := b.BuildInbound()
	require.Nil(t, err)
	require.Len(t, ep.Processors(), 2)
	assert.IsType(t, &test.SensingProcessor{}, ep.Processors()[0])
	require.Len(t, ep.ResponseProcessors(), 2)
	assert.IsType(t, &test.SensingProcessor{}, ep.ResponseProcessors()[0])

	clone := b.Clone()
	require.Nil(t, clone.With(WithProcessors(test.Sensor("p2", r))))
	ep2, err := clone.BuildInbound()
	require.Nil(t, err)
	assert.Len(t, ep2.Processors(), 3)
	ep, _ = b.BuildInbound()
	assert.Len(t, ep.Processors(), 2)
}

func TestInboundChain(t *testing.T) {
	c := newVM(t)
	r := test.NewRecorder()
	redelivery := types.InterceptingProcessorFunc(func(ctx context.Context, event *types.Event, next types.Processor) (*types.Event, error) {
		r.Add("redelivery")
		return next.Process(ctx, event)
	})
	b, err := NewBuilder("vm://orders", WithConnector(c), WithName("orders"),
		WithProperty("region", "eu"),
		WithRedeliveryPolicy(redelivery),
		WithSecurityFilter(test.Sensor("security", r)),
		WithProcessors(test.Sensor("p1", r)),
		WithResponseProcessors(test.Sensor("r1", r)),
		WithConfig(testConfig(nil)))
	require.Nil(t, err)
	ep, err := b.BuildInbound()
	require.Nil(t, err)

	f := &DefaultChainFactory{}
	_, err = f.InboundChain(ep, nil, nil)
	assert.True(t, errors.Is(err, types.ErrNoListener))

	listener := test.Appender("listener", "!", r)
	p, err := f.InboundChain(ep, nil, listener)
	require.Nil(t, err)
	composite := p.(*chain.ResponseComposite)
	assert.Equal(t, "InboundEndpoint 'vm://orders' composite request/response chain", composite.Name())
	assert.Equal(t, "InboundEndpoint 'vm://orders' request chain", composite.Request().(*chain.Chain).Name())
	assert.Equal(t, "InboundEndpoint 'vm://orders' response chain", composite.Response().(*chain.Chain).Name())

	out, err := p.Process(context.Background(), test.NewTextEvent("hi"))
	require.Nil(t, err)
	assert.Equal(t, []string{"redelivery", "security", "p1", "listener", "r1"}, r.Entries())
	assert.Equal(t, "hi!", out.Message.Payload)
	assert.Equal(t, "eu", out.Message.InboundProperties.GetString("region"))
	assert.Equal(t, "vm://orders", out.Message.InboundProperties.GetString(types.PropertyEndpoint))
	assert.Equal(t, "orders", out.Message.InboundProperties.GetString(types.PropertyOriginatingEndpoint))
}

func TestInboundSecurityFilterShortCircuits(t *testing.T) {
	c := newVM(t)
	r := test.NewRecorder()
	b, _ := NewBuilder("vm://orders", WithConnector(c), WithSecurityFilter(test.Stopper("security", r)),
		WithResponseProcessors(test.Sensor("r1", r)))
	ep, err := b.BuildInbound()
	require.Nil(t, err)
	p, err := (&DefaultChainFactory{}).InboundChain(ep, nil, test.Sensor("listener", r))
	require.Nil(t, err)
	ev := test.NewTextEvent("hi")
	out, err := p.Process(context.Background(), ev)
	require.Nil(t, err)
	assert.Equal(t, []string{"security", "r1"}, r.Entries())
	assert.Same(t, ev, out)
}

func TestInboundMimeType(t *testing.T) {
	c := newVM(t)
	b, _ := NewBuilder("vm://orders", WithConnector(c), WithMimeType("application/json"))
	ep, err := b.BuildInbound()
	require.Nil(t, err)
	p, err := (&DefaultChainFactory{}).InboundChain(ep, nil, types.PassThrough)
	require.Nil(t, err)

	_, err = p.Process(context.Background(), test.NewTextEvent("hi"))
	require.NotNil(t, err)
	assert.Equal(t, types.ErrorMimeType, types.ResolveErrorType(err))

	ev := types.NewEvent(types.NewMessage(`{"a":1}`))
	out, err := p.Process(context.Background(), ev)
	require.Nil(t, err)
	assert.Equal(t, "application/json", out.Message.DataType.MimeType)
	assert.Equal(t, types.DefaultEncoding, out.Message.DataType.Encoding)
}

func TestInboundEndpointLifecycle(t *testing.T) {
	n := &test.Notifications{}
	c := vm.New()
	require.Nil(t, c.Init("vm1", testConfig(n), nil))
	require.Nil(t, c.Start())
	defer c.Dispose()

	b, _ := NewBuilder("vm://orders", WithConnector(c), WithConfig(testConfig(n)))
	ep, err := b.BuildInbound()
	require.Nil(t, err)
	err = ep.Start()
	assert.True(t, errors.Is(err, types.ErrNoListener))

	listener := test.Sensor("listener", nil)
	ep.SetListener(listener)
	require.Nil(t, ep.Start())
	assert.True(t, ep.IsStarted())
	assert.NotNil(t, ep.Chain())
	_, ok := c.Receiver("vm://orders")
	assert.True(t, ok)

	out, err := ep.Receiver().RouteMessage(context.Background(), types.NewMessage("hello"))
	require.Nil(t, err)
	assert.Nil(t, out)
	require.Equal(t, 1, listener.Count())
	assert.Equal(t, types.OneWay, listener.Events()[0].ExchangePattern)
	assert.Contains(t, n.Actions(types.MessageReceived), types.MessageReceived)

	require.Nil(t, ep.Stop())
	_, ok = c.Receiver("vm://orders")
	assert.False(t, ok)
	assert.Nil(t, ep.Receiver())

	// restart registers again
	require.Nil(t, ep.Start())
	_, ok = c.Receiver("vm://orders")
	assert.True(t, ok)
	require.Nil(t, ep.Stop())
}

func TestOutboundOneWay(t *testing.T) {
	n := &test.Notifications{}
	c := newVM(t)
	b, _ := NewBuilder("vm://audit", WithConnector(c), WithProperty("source", "test"), WithConfig(testConfig(n)))
	ep, err := b.BuildOutbound()
	require.Nil(t, err)

	ev := test.NewTextEvent("hello", types.WithCorrelationId("c-1"))
	out, err := ep.Process(context.Background(), ev)
	require.Nil(t, err)
	assert.Same(t, ev, out)
	assert.Equal(t, 1, c.QueueSize("audit"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := c.Request(ctx, "vm://audit")
	require.Nil(t, err)
	assert.Equal(t, "hello", msg.Payload)
	assert.Equal(t, "c-1", msg.InboundProperties.GetString(types.PropertyCorrelationId))
	assert.Equal(t, "vm://audit", msg.InboundProperties.GetString(types.PropertyEndpoint))
	assert.Equal(t, "test", msg.InboundProperties.GetString("source"))
	assert.Equal(t, []types.NotificationAction{types.MessageDispatched}, n.Actions(types.MessageDispatched, types.MessageSent))
}

func TestOutboundRequestResponse(t *testing.T) {
	c := newVM(t)
	config := testConfig(nil)
	in, _ := NewBuilder("vm://echo", WithConnector(c), WithExchangePattern(types.RequestResponse), WithConfig(config))
	inbound, err := in.BuildInbound()
	require.Nil(t, err)
	inbound.SetListener(types.ProcessorFunc(func(_ context.Context, event *types.Event) (*types.Event, error) {
		event.Message.Payload = "echo:" + event.Message.PayloadString()
		event.Message.OutboundProperties.Put("handled", true)
		return event, nil
	}))
	require.Nil(t, inbound.Start())
	defer inbound.Stop()

	out, _ := NewBuilder("vm://echo", WithConnector(c), WithExchangePattern(types.RequestResponse),
		WithResponseProperties("trace"), WithConfig(config))
	outbound, err := out.BuildOutbound()
	require.Nil(t, err)

	ev := test.NewTextEvent("ping")
	ev.Message.OutboundProperties.Put("trace", "t-1")
	res, err := outbound.Process(context.Background(), ev)
	require.Nil(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "echo:ping", res.Message.Payload)
	assert.Equal(t, true, res.Message.InboundProperties.Get("handled"))
	assert.Equal(t, "t-1", res.Message.InboundProperties.Get("trace"))
	assert.Equal(t, ev.CorrelationId, res.CorrelationId)

	noReceiver, _ := NewBuilder("vm://nobody", WithConnector(c), WithExchangePattern(types.RequestResponse))
	ep, err := noReceiver.BuildOutbound()
	require.Nil(t, err)
	_, err = ep.Process(context.Background(), test.NewTextEvent("ping"))
	require.NotNil(t, err)
	assert.Equal(t, types.ErrorConnectivity, types.ResolveErrorType(err))
}

func TestOutboundTimeout(t *testing.T) {
	c := newVM(t)
	in, _ := NewBuilder("vm://slow", WithConnector(c), WithExchangePattern(types.RequestResponse))
	inbound, err := in.BuildInbound()
	require.Nil(t, err)
	inbound.SetListener(types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.Nil(t, inbound.Start())
	defer inbound.Stop()

	out, _ := NewBuilder("vm://slow", WithConnector(c), WithExchangePattern(types.RequestResponse),
		WithResponseTimeout(20*time.Millisecond))
	outbound, err := out.BuildOutbound()
	require.Nil(t, err)
	_, err = outbound.Process(context.Background(), test.NewTextEvent("ping"))
	require.NotNil(t, err)
	assert.Equal(t, types.ErrorTimeout, types.ResolveErrorType(err))
}

func TestOutboundTransactional(t *testing.T) {
	c := newVM(t)
	var seen types.Transaction
	out, _ := NewBuilder("vm://tx", WithConnector(c),
		WithTransactionConfig(&types.TransactionConfig{Action: types.TxAlwaysBegin}),
		WithProcessors(types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
			seen, _ = transaction.FromContext(ctx)
			return event, nil
		})))
	ep, err := out.BuildOutbound()
	require.Nil(t, err)
	_, err = ep.Process(context.Background(), test.NewTextEvent("x"))
	require.Nil(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, types.TxStatusCommitted, seen.Status())
}

func TestOutboundTxRollbackGuard(t *testing.T) {
	c := newVM(t)
	out, _ := NewBuilder("vm://guarded", WithConnector(c))
	ep, err := out.BuildOutbound()
	require.Nil(t, err)
	tx := transaction.NewTx()
	tx.SetRollbackOnly()
	ctx := transaction.NewContext(context.Background(), tx)
	ev := test.NewTextEvent("x")
	res, err := ep.Process(ctx, ev)
	require.Nil(t, err)
	assert.Same(t, ev, res)
	assert.Equal(t, 0, c.QueueSize("guarded"))
}

func TestChainFactoryInterceptors(t *testing.T) {
	c := newVM(t)
	r := test.NewRecorder()
	ri := &test.RecordingInterceptor{Name: "i", Recorder: r}
	f := &DefaultChainFactory{InterceptorManager: chain.NewInterceptorManager(ri.Factory())}
	b, _ := NewBuilder("vm://orders", WithConnector(c), WithChainFactory(f))
	ep, err := b.BuildInbound()
	require.Nil(t, err)
	assert.Same(t, f, ep.ChainFactory())
	p, err := f.InboundChain(ep, nil, types.PassThrough)
	require.Nil(t, err)
	_, err = p.Process(context.Background(), test.NewTextEvent("x"))
	require.Nil(t, err)
	// every step of the request and response chains is intercepted
	assert.Equal(t, 3*(4+1+3), len(r.Entries()))
	assert.Equal(t, "source/request", ri.Locations()[0].Path)
}

func TestRegistry(t *testing.T) {
	c := newVM(t)
	reg := NewRegistry()
	b, _ := NewBuilder("vm://orders", WithConnector(c))
	require.Nil(t, reg.Define("orders", b))
	assert.NotNil(t, reg.Define("orders", b))

	def, ok := reg.Lookup("orders")
	require.True(t, ok)
	require.Nil(t, def.With(WithName("ordersIn")))
	in, err := def.BuildInbound()
	require.Nil(t, err)
	require.Nil(t, reg.Register(in))
	assert.NotNil(t, reg.Register(in))

	_, ok = reg.Inbound("ordersIn")
	assert.True(t, ok)
	_, ok = reg.Outbound("ordersIn")
	assert.False(t, ok)
	assert.Len(t, reg.Endpoints(), 1)

	reg.Remove("ordersIn")
	_, ok = reg.Get("ordersIn")
	assert.False(t, ok)

	// an endpoint built from a definition without a name is still found under the definition
	def, _ = reg.Lookup("orders")
	out, err := def.BuildOutbound()
	require.Nil(t, err)
	assert.Equal(t, "vm://orders", out.Name())
	require.Nil(t, reg.RegisterAs("orders", out))
	assert.NotNil(t, reg.RegisterAs("orders", out))
	found, ok := reg.Outbound("orders")
	require.True(t, ok)
	assert.Same(t, out, found)
}
