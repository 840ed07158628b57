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

package chain

import (
	"context"
	"errors"

	"github.com/rulego/esb/api/pool"
	"github.com/rulego/esb/api/types"
)

// Synchronous runs events on the caller goroutine.
type Synchronous struct{}

func (Synchronous) Apply(ctx context.Context, p types.Processor, event *types.Event) (*types.Event, error) {
	return p.Process(ctx, event)
}

// Asynchronous hands one-way events to a pool and returns the input event at once.
// Request-response events are processed synchronously.
type Asynchronous struct {
	Pool   types.Pool
	Logger types.Logger
}

// NewAsynchronous creates an asynchronous strategy. A nil pool runs tasks on new goroutines.
func NewAsynchronous(p types.Pool, logger types.Logger) *Asynchronous {
	return &Asynchronous{Pool: p, Logger: logger}
}

func (a *Asynchronous) Apply(ctx context.Context, p types.Processor, event *types.Event) (*types.Event, error) {
	if event == nil || event.ExchangePattern.HasResponse() {
		return p.Process(ctx, event)
	}
	// the caller may cancel ctx and keeps using event as soon as Apply returns
	asyncCtx, cancel := detach(ctx)
	asyncEvent := event.Copy()
	task := func() {
		defer cancel()
		if _, err := p.Process(asyncCtx, asyncEvent); err != nil && a.Logger != nil {
			a.Logger.Errorf("async processing of event %s failed: %v", asyncEvent.Id, err)
		}
	}
	if a.Pool == nil {
		go task()
		return event, nil
	}
	if err := a.Pool.Submit(task); err != nil {
		cancel()
		if errors.Is(err, pool.ErrPoolReleased) {
			err = types.NewTypedError(types.ErrorLifecycle, err)
		}
		return nil, types.NewMessagingError(event, types.ComponentLocation{FlowName: event.FlowName}, err)
	}
	return event, nil
}

type shutdownKey struct{}

// WithShutdown attaches the context whose cancellation force-stops async work started from ctx.
func WithShutdown(ctx context.Context, shutdown context.Context) context.Context {
	return context.WithValue(ctx, shutdownKey{}, shutdown)
}

// detach drops the cancellation of ctx but keeps the one of its shutdown context, if any.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	shutdown, ok := ctx.Value(shutdownKey{}).(context.Context)
	if !ok || shutdown == nil {
		return detached, cancel
	}
	stop := context.AfterFunc(shutdown, cancel)
	return detached, func() {
		stop()
		cancel()
	}
}

var _ types.ProcessingStrategy = Synchronous{}
var _ types.ProcessingStrategy = (*Asynchronous)(nil)
