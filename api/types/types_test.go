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

package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypes(t *testing.T) {
	assert.True(t, ErrorRouting.IsA(ErrorAny))
	assert.True(t, ErrorRouting.IsA(ErrorRouting))
	assert.False(t, ErrorRouting.IsA(ErrorTimeout))
	custom := ErrorType{Namespace: "APP", Identifier: "RATE", Parent: &ErrorOverload}
	assert.True(t, custom.IsA(ErrorOverload))
	assert.True(t, custom.IsA(ErrorAny))
	assert.False(t, ErrorOverload.IsA(custom))
	assert.Equal(t, "APP:RATE", custom.String())

	got, ok := LookupErrorType("MULE:ROUTING")
	require.True(t, ok)
	assert.Equal(t, ErrorRouting, got)
	got, ok = LookupErrorType("TIMEOUT")
	require.True(t, ok)
	assert.Equal(t, ErrorTimeout, got)
	_, ok = LookupErrorType("APP:RATE")
	assert.False(t, ok)
}

func TestResolveErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{nil, ErrorUnknown},
		{errors.New("boom"), ErrorUnknown},
		{fmt.Errorf("stop: %w", ErrLifecycle), ErrorLifecycle},
		{ErrNotStarted, ErrorLifecycle},
		{ErrMimeTypeMismatch, ErrorMimeType},
		{ErrPoolExhausted, ErrorOverload},
		{ErrIllegalTransactionState, ErrorTransaction},
		{NewTypedError(ErrorSecurity, errors.New("denied")), ErrorSecurity},
		{fmt.Errorf("wrapped: %w", NewTypedError(ErrorRouting, nil)), ErrorRouting},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveErrorType(tt.err), "%v", tt.err)
	}
}

func TestMessagingError(t *testing.T) {
	cause := NewTypedError(ErrorRouting, errors.New("no route"))
	ev := NewEvent(NewMessage("x"))
	loc := ComponentLocation{FlowName: "orders", Path: "processors", Index: 1}
	me := NewMessagingError(ev, loc, cause)
	assert.Equal(t, ErrorRouting, me.Type)
	assert.Equal(t, "MULE:ROUTING at orders/processors/1: MULE:ROUTING: no route", me.Error())
	assert.ErrorIs(t, me, cause)
	assert.Equal(t, ErrorRouting, ResolveErrorType(fmt.Errorf("outer: %w", me)))

	assert.False(t, me.Handled())
	me.MarkHandled()
	assert.True(t, me.Handled())
	assert.Equal(t, ErrorRouting, me.ToEventError().Type)

	found, ok := AsMessagingError(fmt.Errorf("outer: %w", me))
	require.True(t, ok)
	assert.Same(t, me, found)
	_, ok = AsMessagingError(cause)
	assert.False(t, ok)

	plain := NewMessagingError(ev, ComponentLocation{}, errors.New("boom"))
	assert.Equal(t, "MULE:UNKNOWN: boom", plain.Error())
}

func TestLifecycleState(t *testing.T) {
	s := NewLifecycleState("flow orders")
	assert.False(t, s.IsInitialised())
	assert.False(t, s.CanTransition(PhaseStarted))

	require.NoError(t, s.Transition(PhaseInitialised, nil))
	require.NoError(t, s.Transition(PhaseStarted, nil))
	assert.True(t, s.IsStarted())
	require.NoError(t, s.Transition(PhaseStarted, func() error { return errors.New("not called") }))

	err := s.Transition(PhaseDisposed, nil)
	assert.ErrorIs(t, err, ErrLifecycle)
	assert.Contains(t, err.Error(), "flow orders")

	failing := errors.New("stop failed")
	assert.Equal(t, failing, s.Transition(PhaseStopped, func() error { return failing }))
	assert.Equal(t, PhaseStarted, s.Phase())

	require.NoError(t, s.Transition(PhaseStopped, nil))
	require.NoError(t, s.Transition(PhaseStarted, nil))
	require.NoError(t, s.Transition(PhaseStopped, nil))
	require.NoError(t, s.Transition(PhaseDisposed, nil))
	assert.True(t, s.IsDisposed())
	assert.Equal(t, "disposed", s.Phase().String())
	assert.ErrorIs(t, s.Transition(PhaseStarted, nil), ErrLifecycle)
}

func TestEndpointURI(t *testing.T) {
	u, err := ParseEndpointURI(" HTTP://ann:pw@localhost:8080/api/orders?method=POST&exchangePattern=one-way ")
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "localhost", u.Host)
	assert.Equal(t, 8080, u.Port)
	assert.Equal(t, "/api/orders", u.Path)
	assert.Equal(t, "ann", u.User)
	assert.Equal(t, "pw", u.Password)
	assert.Equal(t, "POST", u.Param("method"))
	assert.Equal(t, "http://localhost:8080/api/orders", u.Address())
	assert.Equal(t, "localhost/api/orders", u.Resource())

	vm := MustParseEndpointURI("vm://orders")
	assert.Equal(t, "orders", vm.Resource())
	assert.Equal(t, "vm://orders", vm.String())
	assert.Equal(t, "", vm.Param("connector"))

	for _, bad := range []string{"", "orders", "http://host:port/x", "http://[::1"} {
		_, err := ParseEndpointURI(bad)
		assert.Error(t, err, bad)
	}
	assert.Panics(t, func() { MustParseEndpointURI("") })
}

func TestExchangePattern(t *testing.T) {
	for s, want := range map[string]ExchangePattern{
		"one-way": OneWay, "ONEWAY": OneWay, "request-response": RequestResponse, " request_response ": RequestResponse,
	} {
		got, err := ParseExchangePattern(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseExchangePattern("fire-and-forget")
	assert.Error(t, err)
	assert.True(t, RequestResponse.HasResponse())
	assert.False(t, OneWay.HasResponse())
	assert.Equal(t, "request-response", RequestResponse.String())
}

func TestEvent(t *testing.T) {
	ev := NewEvent(nil, WithVariables(map[string]interface{}{"a": 1}), WithFlowName("orders"))
	assert.Equal(t, ev.Id, ev.CorrelationId)
	assert.NotNil(t, ev.Session)
	assert.NotNil(t, ev.Message.InboundProperties)
	assert.True(t, ev.NotificationsEnabled)
	assert.Equal(t, "orders", ev.FlowName)

	ev.Message.OutboundProperties.Put("k", "v")
	ev.Session.Properties["user"] = "ann"
	c := ev.Copy()
	c.Variables["a"] = 2
	c.Message.OutboundProperties.Put("k", "changed")
	c.Session.Properties["user"] = "bob"
	assert.Equal(t, 1, ev.Variables["a"])
	assert.Equal(t, "v", ev.Message.OutboundProperties.GetString("k"))
	assert.Equal(t, "ann", ev.Session.Properties["user"])
	assert.Equal(t, ev.Id, c.Id)

	correlated := NewEvent(NewMessage("x"), WithCorrelationId("c1"), WithExchangePattern(RequestResponse))
	assert.Equal(t, "c1", correlated.CorrelationId)
	assert.NotEqual(t, "c1", correlated.Id)
	assert.Equal(t, RequestResponse, correlated.ExchangePattern)
}

func TestMessage(t *testing.T) {
	b, err := NewMessage(map[string]int{"n": 1}).PayloadBytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(b))
	assert.Equal(t, "abc", NewMessage([]byte("abc")).PayloadString())
	assert.Equal(t, "", NewMessage(nil).PayloadString())

	bare := (&Message{Payload: "x"}).EnsureProperties()
	bare.InboundProperties.Put("k", "v")
	bare.OutboundProperties.Put("k", "v")
	assert.Equal(t, "v", bare.InboundProperties.GetString("k"))

	p := NewProperties()
	p.Put("a", 1)
	p.PutIfAbsent("a", 2)
	p.PutIfAbsent("b", 3)
	assert.Equal(t, 1, p.Get("a"))
	assert.Equal(t, "3", p.GetString("b"))
	p.Remove("a")
	assert.False(t, p.Has("a"))

	assert.True(t, DataType{}.IsAny())
	assert.False(t, DataType{MimeType: MimeTypeJson}.IsAny())
	assert.Equal(t, "text/plain; charset=UTF-8", DataType{MimeType: MimeTypeText, Encoding: DefaultEncoding}.String())
}

func TestComponentLocation(t *testing.T) {
	assert.True(t, ComponentLocation{}.IsZero())
	root := ComponentLocation{FlowName: "orders", Path: "processors", Index: 3}
	assert.Equal(t, "orders/processors/3", root.String())
	child := root.Child("route", 1)
	assert.Equal(t, "orders/processors/3/route/1", child.String())
	assert.Equal(t, "orders/source/0", ComponentLocation{FlowName: "orders"}.Child("source", 0).String())
}

func TestTransactionConfig(t *testing.T) {
	for s, want := range map[string]TransactionAction{
		"": TxIndifferent, "always-begin": TxAlwaysBegin, "BEGIN_OR_JOIN": TxBeginOrJoin, " join_if_possible ": TxJoinIfPossible,
	} {
		got, err := ParseTransactionAction(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTransactionAction("sometimes")
	assert.Error(t, err)
	assert.Equal(t, "ALWAYS_JOIN", TxAlwaysJoin.String())

	var nilConfig *TransactionConfig
	assert.False(t, nilConfig.IsTransacted())
	assert.False(t, (&TransactionConfig{Action: TxNone}).IsTransacted())
	assert.True(t, (&TransactionConfig{Action: TxAlwaysBegin}).IsTransacted())
}
