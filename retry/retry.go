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

// Package retry provides retry policy templates used to connect connectors and
// to re-run outbound work.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rulego/esb/api/types"
)

// Policy decides whether another attempt is made after a failed attempt (1-based)
// and how long to wait before it.
type Policy interface {
	Next(attempt int) (delay time.Duration, retry bool)
}

// NoRetryPolicy makes a single attempt.
type NoRetryPolicy struct{}

func (NoRetryPolicy) Next(int) (time.Duration, bool) {
	return 0, false
}

// SimplePolicy retries Count times, waiting Frequency between attempts.
// A Multiplier above 1 grows the wait exponentially up to MaxFrequency.
type SimplePolicy struct {
	Count        int
	Frequency    time.Duration
	Multiplier   float64
	MaxFrequency time.Duration
}

func (p SimplePolicy) Next(attempt int) (time.Duration, bool) {
	if attempt > p.Count {
		return 0, false
	}
	return backoff(p.Frequency, p.Multiplier, p.MaxFrequency, attempt), true
}

// ForeverPolicy retries until the context ends.
type ForeverPolicy struct {
	Frequency    time.Duration
	Multiplier   float64
	MaxFrequency time.Duration
}

func (p ForeverPolicy) Next(attempt int) (time.Duration, bool) {
	return backoff(p.Frequency, p.Multiplier, p.MaxFrequency, attempt), true
}

func backoff(initial time.Duration, multiplier float64, max time.Duration, attempt int) time.Duration {
	if initial <= 0 || multiplier <= 1 || attempt <= 1 {
		return initial
	}
	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if max > 0 && delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}

// Template executes callbacks under a Policy.
type Template struct {
	Policy   Policy
	Notifier types.RetryNotifier
	// Async runs Execute on Pool and returns at once. Results reach the Notifier.
	Async  bool
	Pool   types.Pool
	Logger types.Logger
}

// Option configures a Template.
type Option func(*Template)

func WithNotifier(n types.RetryNotifier) Option {
	return func(t *Template) {
		t.Notifier = n
	}
}

// WithAsync runs the template on pool. A nil pool uses goroutines.
func WithAsync(pool types.Pool) Option {
	return func(t *Template) {
		t.Async = true
		t.Pool = pool
	}
}

func WithLogger(logger types.Logger) Option {
	return func(t *Template) {
		t.Logger = logger
	}
}

// NewTemplate creates a template. A nil policy never retries.
func NewTemplate(policy Policy, opts ...Option) *Template {
	if policy == nil {
		policy = NoRetryPolicy{}
	}
	t := &Template{Policy: policy}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute runs callback until it succeeds, the policy gives up or ctx ends.
// Exhaustion returns a RETRY_EXHAUSTED error wrapping the last failure.
func (t *Template) Execute(ctx context.Context, callback types.RetryCallback) error {
	if !t.Async {
		return t.execute(ctx, callback)
	}
	detached := context.WithoutCancel(ctx)
	task := func() {
		if err := t.execute(detached, callback); err != nil && t.Logger != nil {
			t.Logger.Warnf("async retry failed: %v", err)
		}
	}
	if t.Pool == nil {
		go task()
		return nil
	}
	return t.Pool.Submit(task)
}

func (t *Template) execute(ctx context.Context, callback types.RetryCallback) error {
	for attempt := 1; ; attempt++ {
		err := callback(ctx)
		if err == nil {
			if t.Notifier != nil {
				t.Notifier.OnSuccess(ctx, attempt)
			}
			return nil
		}
		if t.Notifier != nil {
			t.Notifier.OnFailure(ctx, attempt, err)
		}
		delay, again := t.Policy.Next(attempt)
		if !again {
			return types.NewTypedError(types.ErrorRetryExhausted,
				fmt.Errorf("gave up after %d attempts: %w", attempt, err))
		}
		if t.Logger != nil {
			t.Logger.Debugf("attempt %d failed, retrying in %s: %v", attempt, delay, err)
		}
		if delay <= 0 {
			if ctx.Err() != nil {
				return types.NewTypedError(types.ErrorRetryExhausted, fmt.Errorf("cancelled after %d attempts: %w", attempt, err))
			}
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.NewTypedError(types.ErrorRetryExhausted, fmt.Errorf("cancelled after %d attempts: %w", attempt, err))
		case <-timer.C:
		}
	}
}

// NotifierFunc adapts two functions to types.RetryNotifier.
type NotifierFunc struct {
	Success func(ctx context.Context, attempt int)
	Failure func(ctx context.Context, attempt int, err error)
}

func (n NotifierFunc) OnSuccess(ctx context.Context, attempt int) {
	if n.Success != nil {
		n.Success(ctx, attempt)
	}
}

func (n NotifierFunc) OnFailure(ctx context.Context, attempt int, err error) {
	if n.Failure != nil {
		n.Failure(ctx, attempt, err)
	}
}

var _ types.RetryPolicyTemplate = (*Template)(nil)
