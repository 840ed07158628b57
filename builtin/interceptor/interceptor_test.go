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

package interceptor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/chain"
	"github.com/rulego/esb/test"
)

func TestConcurrencyLimiter(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	blocking := types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
		entered <- struct{}{}
		<-release
		return event, nil
	})
	c, err := chain.NewBuilder("limited").
		WithLocation("orders", "processors").
		WithInterceptors(NewConcurrencyLimiter(1).Interceptor()).
		Chain(blocking).
		Build()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.Process(context.Background(), test.NewTextEvent("first"))
		assert.NoError(t, err)
	}()
	<-entered

	_, err = c.Process(context.Background(), test.NewTextEvent("second"))
	require.Error(t, err)
	assert.Equal(t, types.ErrorOverload, types.ResolveErrorType(err))
	assert.True(t, errors.Is(err, ErrConcurrencyLimitReached))

	close(release)
	wg.Wait()
	out, err := c.Process(context.Background(), test.NewTextEvent("third"))
	require.NoError(t, err)
	assert.Equal(t, "third", out.Message.Payload)
}

func TestRateLimiter(t *testing.T) {
	t.Run("FailFast", func(t *testing.T) {
		c, err := chain.NewBuilder("rate").
			WithInterceptors(NewRateLimiter(0.001, 1, false).Interceptor()).
			Chain(test.Sensor("p", nil)).
			Build()
		require.NoError(t, err)
		_, err = c.Process(context.Background(), test.NewTextEvent("a"))
		require.NoError(t, err)
		_, err = c.Process(context.Background(), test.NewTextEvent("b"))
		assert.Equal(t, types.ErrorOverload, types.ResolveErrorType(err))
		assert.True(t, errors.Is(err, ErrRateLimited))
	})
	t.Run("Wait", func(t *testing.T) {
		c, err := chain.NewBuilder("rate").
			WithInterceptors(NewRateLimiter(50, 1, true).Interceptor()).
			Chain(test.Sensor("p", nil)).
			Build()
		require.NoError(t, err)
		start := time.Now()
		for i := 0; i < 3; i++ {
			_, err = c.Process(context.Background(), test.NewTextEvent("a"))
			require.NoError(t, err)
		}
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})
	t.Run("WaitTimeout", func(t *testing.T) {
		c, err := chain.NewBuilder("rate").
			WithInterceptors(NewRateLimiter(0.001, 1, true).Interceptor()).
			Chain(test.Sensor("p", nil)).
			Build()
		require.NoError(t, err)
		_, err = c.Process(context.Background(), test.NewTextEvent("a"))
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = c.Process(ctx, test.NewTextEvent("b"))
		require.Error(t, err)
		errorType := types.ResolveErrorType(err)
		assert.True(t, errorType.IsA(types.ErrorOverload) || errorType.IsA(types.ErrorTimeout))
	})
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	logger := types.NewZeroLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))
	factory := NewLoggingFactory(logger, func(loc types.ComponentLocation) bool { return loc.Index == 1 })
	c, err := chain.NewBuilder("logged").
		WithLocation("orders", "processors").
		WithInterceptorManager(chain.NewInterceptorManager(factory)).
		Chain(test.Sensor("skipped", nil), test.Failer("failing", nil, errors.New("boom"))).
		Build()
	require.NoError(t, err)

	_, err = c.Process(context.Background(), test.NewTextEvent("x"))
	require.Error(t, err)
	out := buf.String()
	assert.Contains(t, out, "before orders/processors/1")
	assert.Contains(t, out, "orders/processors/1 took")
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, "boom")
	assert.NotContains(t, out, "orders/processors/0")
}

func TestStatsInterceptor(t *testing.T) {
	stats := NewStatsInterceptor()
	fail := true
	flaky := types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
		if fail {
			return nil, errors.New("flaky")
		}
		return event, nil
	})
	c, err := chain.NewBuilder("counted").
		WithLocation("orders", "processors").
		WithInterceptorManager(chain.NewInterceptorManager(stats.Factory(nil))).
		Chain(test.Sensor("ok", nil), flaky).
		Build()
	require.NoError(t, err)

	_, err = c.Process(context.Background(), test.NewTextEvent("x"))
	require.Error(t, err)
	fail = false
	_, err = c.Process(context.Background(), test.NewTextEvent("y"))
	require.NoError(t, err)

	first, ok := stats.Get("orders/processors/0")
	require.True(t, ok)
	assert.Equal(t, int64(2), first.Invocations)
	assert.Equal(t, int64(0), first.Failures)
	second, ok := stats.Get("orders/processors/1")
	require.True(t, ok)
	assert.Equal(t, int64(2), second.Invocations)
	assert.Equal(t, int64(1), second.Failures)
	assert.Equal(t, int64(0), second.Current)
	assert.Len(t, stats.Snapshot(), 2)

	stats.Reset()
	_, ok = stats.Get("orders/processors/0")
	assert.False(t, ok)
}
