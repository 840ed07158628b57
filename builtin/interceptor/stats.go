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
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/esb/api/types"
)

// LocationStats are the counters of one processor location.
type LocationStats struct {
	Invocations int64
	Failures    int64
	Current     int64
	TotalTime   time.Duration
}

type counters struct {
	invocations int64
	failures    int64
	current     int64
	totalNanos  int64
}

// StatsInterceptor counts invocations and failures of each processor location.
//
//	stats := interceptor.NewStatsInterceptor()
//	ctx, err := engine.NewContext("orders", engine.WithInterceptorFactories(stats.Factory(nil)))
type StatsInterceptor struct {
	mu         sync.RWMutex
	byLocation map[string]*counters
}

var _ types.ProcessorInterceptor = (*StatsInterceptor)(nil)

func NewStatsInterceptor() *StatsInterceptor {
	return &StatsInterceptor{byLocation: make(map[string]*counters)}
}

// Factory applies the interceptor to the locations accepted by match, every location
// when match is nil.
func (s *StatsInterceptor) Factory(match func(types.ComponentLocation) bool) types.ProcessorInterceptorFactory {
	return types.InterceptorFactoryFunc(match, func() types.ProcessorInterceptor { return s })
}

func (s *StatsInterceptor) statsFor(loc types.ComponentLocation) *counters {
	key := loc.String()
	s.mu.RLock()
	c, ok := s.byLocation[key]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.byLocation[key]; !ok {
		c = &counters{}
		s.byLocation[key] = c
	}
	return c
}

func (s *StatsInterceptor) Before(_ context.Context, loc types.ComponentLocation, _ map[string]interface{}, _ types.InterceptionEvent) error {
	c := s.statsFor(loc)
	atomic.AddInt64(&c.invocations, 1)
	atomic.AddInt64(&c.current, 1)
	return nil
}

func (s *StatsInterceptor) Around(_ context.Context, loc types.ComponentLocation, _ map[string]interface{}, _ types.InterceptionEvent, action types.InterceptionAction) error {
	start := time.Now()
	err := action.Proceed()
	atomic.AddInt64(&s.statsFor(loc).totalNanos, int64(time.Since(start)))
	return err
}

func (s *StatsInterceptor) After(_ context.Context, loc types.ComponentLocation, _ types.InterceptionEvent, err error) error {
	c := s.statsFor(loc)
	atomic.AddInt64(&c.current, -1)
	if err != nil {
		atomic.AddInt64(&c.failures, 1)
	}
	return nil
}

// Get returns the counters of the location printed as loc, e.g. "orders/processors/0".
func (s *StatsInterceptor) Get(loc string) (LocationStats, bool) {
	s.mu.RLock()
	c, ok := s.byLocation[loc]
	s.mu.RUnlock()
	if !ok {
		return LocationStats{}, false
	}
	return c.snapshot(), true
}

// Snapshot copies the counters of every location seen so far.
func (s *StatsInterceptor) Snapshot() map[string]LocationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]LocationStats, len(s.byLocation))
	for k, c := range s.byLocation {
		out[k] = c.snapshot()
	}
	return out
}

// Reset drops every counter.
func (s *StatsInterceptor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byLocation = make(map[string]*counters)
}

func (c *counters) snapshot() LocationStats {
	return LocationStats{
		Invocations: atomic.LoadInt64(&c.invocations),
		Failures:    atomic.LoadInt64(&c.failures),
		Current:     atomic.LoadInt64(&c.current),
		TotalTime:   time.Duration(atomic.LoadInt64(&c.totalNanos)),
	}
}
