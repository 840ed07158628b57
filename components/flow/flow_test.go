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

package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/test"
	"github.com/rulego/esb/transaction"
)

func TestFlowRef(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		test.ComponentNew(t, "flow/ref", &FlowRef{}, types.Configuration{"flow": nil}, Registry)
	})

	t.Run("Process", func(t *testing.T) {
		r := test.NewRecorder()
		target := types.ProcessorFunc(func(_ context.Context, event *types.Event) (*types.Event, error) {
			r.Add("target:" + event.FlowName)
			out := event.Copy()
			out.FlowName = "enrich"
			out.Message.Payload = event.Message.PayloadString() + "-enriched"
			return out, nil
		})
		c, err := test.CreateAndInitComponent("flow/ref", types.Configuration{"flow": target}, Registry)
		require.Nil(t, err)
		ev := test.NewTextEvent("order", types.WithFlowName("main"))
		out, err := c.Process(context.Background(), ev)
		require.Nil(t, err)
		assert.Equal(t, "order-enriched", out.Message.Payload)
		assert.Equal(t, "main", out.FlowName)
		assert.Equal(t, []string{"target:main"}, r.Entries())
	})

	t.Run("Failure", func(t *testing.T) {
		boom := errors.New("boom")
		c, err := test.CreateAndInitComponent("flow/ref", types.Configuration{
			"flow": test.Failer("target", test.NewRecorder(), boom),
		}, Registry)
		require.Nil(t, err)
		_, err = c.Process(context.Background(), test.NewTextEvent("order"))
		assert.True(t, errors.Is(err, boom))
	})

	t.Run("Missing", func(t *testing.T) {
		c, err := test.CreateAndInitComponent("flow/ref", types.Configuration{}, Registry)
		require.Nil(t, err)
		_, err = c.Process(context.Background(), test.NewTextEvent("order"))
		assert.Equal(t, types.ErrorRouting, types.ResolveErrorType(err))
	})
}

func TestRef(t *testing.T) {
	r := test.NewRecorder()
	c, err := test.CreateAndInitComponent("ref", types.Configuration{"target": test.Appender("out", "-sent", r)}, Registry)
	require.Nil(t, err)
	out, err := c.Process(context.Background(), test.NewTextEvent("order"))
	require.Nil(t, err)
	assert.Equal(t, "order-sent", out.Message.Payload)

	c, err = test.CreateAndInitComponent("ref", nil, Registry)
	require.Nil(t, err)
	_, err = c.Process(context.Background(), test.NewTextEvent("order"))
	assert.Equal(t, types.ErrorRouting, types.ResolveErrorType(err))
}

func TestAsync(t *testing.T) {
	r := test.NewRecorder()
	target := test.Appender("background", "-async", r)
	c, err := test.CreateAndInitComponent("flow/async", types.Configuration{"processor": target}, Registry)
	require.Nil(t, err)

	tx := transaction.NewTx()
	ctx, cancel := context.WithCancel(transaction.NewContext(context.Background(), tx))
	ev := test.NewTextEvent("order", types.WithExchangePattern(types.RequestResponse))
	out, err := c.Process(ctx, ev)
	cancel()
	require.Nil(t, err)
	assert.Same(t, ev, out)
	assert.Equal(t, "order", out.Message.Payload)

	require.True(t, test.WaitFor(time.Second, func() bool { return target.Count() == 1 }))
	background := target.Events()[0]
	assert.Equal(t, types.OneWay, background.ExchangePattern)
	assert.NotSame(t, ev, background)
}
