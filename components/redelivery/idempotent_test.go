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

package redelivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/test"
	"github.com/rulego/esb/utils/cache"
)

func newPolicy(t *testing.T, configuration types.Configuration) *IdempotentPolicy {
	config := types.NewConfig(types.WithLogger(types.NopLogger()), types.WithCache(cache.NewMemoryCache(0)))
	c, err := test.CreateAndInitComponentWithConfig(config, "redelivery/idempotent", configuration, Registry)
	require.Nil(t, err)
	return c.(*IdempotentPolicy)
}

func delivery(payload string) *types.Event {
	ev := test.NewTextEvent(payload)
	ev.Message.InboundProperties.Put(types.PropertyEndpoint, "vm://in")
	return ev
}

func TestIdempotentPolicyDefaults(t *testing.T) {
	test.ComponentNew(t, "redelivery/idempotent", &IdempotentPolicy{}, types.Configuration{
		"maxRedeliveryCount": 5,
		"useSecureHash":      true,
	}, Registry)
	_, err := test.CreateAndInitComponent("redelivery/idempotent", types.Configuration{"maxRedeliveryCount": -1}, Registry)
	assert.NotNil(t, err)
}

func TestIdempotentPolicyExhaustsToDeadLetterQueue(t *testing.T) {
	r := test.NewRecorder()
	dlq := test.Sensor("dlq", r)
	p := newPolicy(t, types.Configuration{"maxRedeliveryCount": 2, "deadLetterQueue": dlq})
	failing := test.Failer("listener", r, errors.New("boom"))

	for i := 0; i < 3; i++ {
		_, err := p.Intercept(context.Background(), delivery("order-1"), failing)
		assert.EqualError(t, err, "boom")
	}
	assert.Equal(t, 3, p.Count(delivery("order-1")))

	out, err := p.Intercept(context.Background(), delivery("order-1"), failing)
	require.Nil(t, err)
	require.NotNil(t, out)
	assert.Equal(t, types.ErrorRedeliveryExhausted, out.Error.Type)
	assert.Equal(t, 1, dlq.Count())
	assert.Equal(t, 3, failing.Count())
	assert.Equal(t, 0, p.Count(delivery("order-1")))

	// other payloads have their own counter
	_, err = p.Intercept(context.Background(), delivery("order-2"), failing)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, p.Count(delivery("order-2")))
}

func TestIdempotentPolicyNoDeadLetterQueue(t *testing.T) {
	p := newPolicy(t, types.Configuration{"maxRedeliveryCount": 0})
	failing := test.Failer("listener", nil, errors.New("boom"))

	_, err := p.Intercept(context.Background(), delivery("a"), failing)
	assert.EqualError(t, err, "boom")
	_, err = p.Intercept(context.Background(), delivery("a"), failing)
	assert.Equal(t, types.ErrorRedeliveryExhausted, types.ResolveErrorType(err))
	assert.Equal(t, 1, failing.Count())
}

func TestIdempotentPolicyResetsOnSuccess(t *testing.T) {
	p := newPolicy(t, types.Configuration{"maxRedeliveryCount": 1})
	_, err := p.Intercept(context.Background(), delivery("a"), test.Failer("f", nil, errors.New("boom")))
	assert.NotNil(t, err)
	assert.Equal(t, 1, p.Count(delivery("a")))

	out, err := p.Intercept(context.Background(), delivery("a"), test.Appender("ok", "!", nil))
	require.Nil(t, err)
	assert.Equal(t, "a!", out.Message.Payload)
	assert.Equal(t, 0, p.Count(delivery("a")))
}

func TestIdempotentPolicyIdExpression(t *testing.T) {
	p := newPolicy(t, types.Configuration{"idExpression": "inbound.messageId"})
	first := delivery("x")
	first.Message.InboundProperties.Put("messageId", "m1")
	second := delivery("y")
	second.Message.InboundProperties.Put("messageId", "m1")

	id1, err := p.MessageId(first)
	require.Nil(t, err)
	id2, _ := p.MessageId(second)
	assert.Equal(t, "m1", id1)
	assert.Equal(t, id1, id2)

	_, err = p.MessageId(delivery("z"))
	assert.Equal(t, types.ErrorExpression, types.ResolveErrorType(err))

	hashed := newPolicy(t, types.Configuration{})
	h1, _ := hashed.MessageId(delivery("x"))
	h2, _ := hashed.MessageId(delivery("x"))
	assert.Len(t, h1, 64)
	assert.Equal(t, h1, h2)

	plain := newPolicy(t, types.Configuration{"useSecureHash": false})
	ev := delivery("x")
	id, _ := plain.MessageId(ev)
	assert.Equal(t, ev.CorrelationId, id)
}
