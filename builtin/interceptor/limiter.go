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
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/chain"
)

var (
	ErrConcurrencyLimitReached = errors.New("concurrency limit reached")
	ErrRateLimited             = errors.New("rate limit exceeded")
)

// ConcurrencyLimiter bounds how many events each intercepted processor runs at once.
//
//	limiter := interceptor.NewConcurrencyLimiter(100)
//	f, err := ctx.NewFlow("orders", flow.WithInterceptors(limiter.Interceptor()))
type ConcurrencyLimiter struct {
	Max int64
}

func NewConcurrencyLimiter(max int) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{Max: int64(max)}
}

// Interceptor creates a counter per processor location.
func (l *ConcurrencyLimiter) Interceptor() chain.Interceptor {
	return func(loc types.ComponentLocation, next types.Processor) types.Processor {
		var current int64
		return types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
			for {
				n := atomic.LoadInt64(&current)
				if n >= l.Max {
					return nil, types.NewTypedError(types.ErrorOverload, fmt.Errorf("%s: %w", loc, ErrConcurrencyLimitReached))
				}
				if atomic.CompareAndSwapInt64(&current, n, n+1) {
					break
				}
			}
			defer atomic.AddInt64(&current, -1)
			return next.Process(ctx, event)
		})
	}
}

// RateLimiter bounds the executions per second of each intercepted processor.
// With Wait set events wait for a token until their context ends, otherwise they fail
// right away with OVERLOAD.
type RateLimiter struct {
	Limit rate.Limit
	Burst int
	Wait  bool
}

func NewRateLimiter(perSecond float64, burst int, wait bool) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{Limit: rate.Limit(perSecond), Burst: burst, Wait: wait}
}

// Interceptor creates a token bucket per processor location.
func (l *RateLimiter) Interceptor() chain.Interceptor {
	return func(loc types.ComponentLocation, next types.Processor) types.Processor {
		limiter := rate.NewLimiter(l.Limit, l.Burst)
		return types.ProcessorFunc(func(ctx context.Context, event *types.Event) (*types.Event, error) {
			if !l.Wait {
				if !limiter.Allow() {
					return nil, types.NewTypedError(types.ErrorOverload, fmt.Errorf("%s: %w", loc, ErrRateLimited))
				}
				return next.Process(ctx, event)
			}
			if err := limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, types.NewTypedError(types.ErrorTimeout, fmt.Errorf("%s: %w", loc, ctx.Err()))
				}
				return nil, types.NewTypedError(types.ErrorOverload, fmt.Errorf("%s: %w: %v", loc, ErrRateLimited, err))
			}
			return next.Process(ctx, event)
		})
	}
}
