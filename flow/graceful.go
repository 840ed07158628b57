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
	"sync/atomic"
	"time"

	"github.com/rulego/esb/api/types"
)

// DefaultShutdownTimeout bounds how long Stop waits for in-flight events.
const DefaultShutdownTimeout = 10 * time.Second

// graceful tracks in-flight events so Stop can wait for them.
type graceful struct {
	shutdownCtx     context.Context
	shutdownCancel  context.CancelFunc
	shutdownTimeout time.Duration
	isShuttingDown  int32
	active          int64
	logger          types.Logger
}

func (g *graceful) init(logger types.Logger, timeout time.Duration) {
	if timeout == 0 {
		timeout = DefaultShutdownTimeout
	}
	g.shutdownTimeout = timeout
	g.logger = logger
	g.shutdownCtx, g.shutdownCancel = context.WithCancel(context.Background())
	atomic.StoreInt32(&g.isShuttingDown, 0)
}

func (g *graceful) isShutting() bool {
	return atomic.LoadInt32(&g.isShuttingDown) == 1
}

// begin registers an in-flight event. It returns a context cancelled on force stop
// and the function ending the event, safe to call more than once.
func (g *graceful) begin(ctx context.Context) (context.Context, func()) {
	atomic.AddInt64(&g.active, 1)
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(g.shutdownCtx, cancel)
	var done int32
	return ctx, func() {
		if atomic.CompareAndSwapInt32(&done, 0, 1) {
			stop()
			cancel()
			atomic.AddInt64(&g.active, -1)
		}
	}
}

func (g *graceful) activeCount() int64 {
	return atomic.LoadInt64(&g.active)
}

// stop refuses new events, then waits for in-flight ones up to the shutdown timeout.
// Events still running after that are cancelled.
func (g *graceful) stop(name string) {
	if !atomic.CompareAndSwapInt32(&g.isShuttingDown, 0, 1) {
		return
	}
	deadline := time.Now().Add(g.shutdownTimeout)
	for g.activeCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := g.activeCount(); n > 0 {
		g.logger.Warnf("flow %s: %d events still in flight after %s, cancelling", name, n, g.shutdownTimeout)
		g.forceStop()
	}
}

func (g *graceful) forceStop() {
	if g.shutdownCancel != nil {
		g.shutdownCancel()
	}
}
