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

// Package pool provides a bounded worker pool configured by a threading profile.
//
// Workers are started on demand up to MaxThreadsActive and exit after ThreadTTL of idleness.
// Tasks that find every worker busy are buffered up to MaxBufferSize; beyond that the
// profile's ExhaustedAction decides what happens.
package pool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolExhausted is returned by Submit when a task can not be accepted.
var ErrPoolExhausted = errors.New("worker pool exhausted")

// ErrPoolReleased is returned by Submit after Release.
var ErrPoolReleased = errors.New("worker pool released")

// ExhaustedAction is what Submit does when workers and buffer are full.
type ExhaustedAction int

const (
	// WhenExhaustedWait blocks up to ThreadWaitTimeout for room (negative waits forever).
	WhenExhaustedWait ExhaustedAction = iota
	// WhenExhaustedAbort rejects the task with ErrPoolExhausted.
	WhenExhaustedAbort
	// WhenExhaustedDiscard silently drops the task.
	WhenExhaustedDiscard
	// WhenExhaustedDiscardOldest drops the oldest buffered task to make room.
	WhenExhaustedDiscardOldest
	// WhenExhaustedRun runs the task on the caller goroutine.
	WhenExhaustedRun
)

// ParseExhaustedAction parses WAIT, ABORT, DISCARD, DISCARD_OLDEST or RUN.
func ParseExhaustedAction(s string) (ExhaustedAction, error) {
	switch s {
	case "", "WAIT":
		return WhenExhaustedWait, nil
	case "ABORT":
		return WhenExhaustedAbort, nil
	case "DISCARD":
		return WhenExhaustedDiscard, nil
	case "DISCARD_OLDEST":
		return WhenExhaustedDiscardOldest, nil
	case "RUN":
		return WhenExhaustedRun, nil
	}
	return WhenExhaustedWait, fmt.Errorf("unknown exhausted action %q", s)
}

// ThreadingProfile configures a WorkerPool.
type ThreadingProfile struct {
	// Name prefixes worker names, e.g. "flow.orders" gives "flow.orders.3".
	Name             string
	MaxThreadsActive int
	MaxBufferSize    int
	ThreadTTL        time.Duration
	ExhaustedAction  ExhaustedAction
	// ThreadWaitTimeout is used by WhenExhaustedWait, negative means wait forever.
	ThreadWaitTimeout time.Duration
}

// DefaultThreadingProfile mirrors a general purpose dispatcher pool.
func DefaultThreadingProfile() ThreadingProfile {
	return ThreadingProfile{
		Name:              "esb",
		MaxThreadsActive:  runtime.NumCPU() * 16,
		MaxBufferSize:     1024,
		ThreadTTL:         time.Minute,
		ExhaustedAction:   WhenExhaustedWait,
		ThreadWaitTimeout: 30 * time.Second,
	}
}

// WorkerPool runs submitted tasks on a bounded set of goroutines.
type WorkerPool struct {
	profile ThreadingProfile
	// OnPanic is called with the worker name when a task panics. Nil ignores panics.
	OnPanic func(worker string, recovered interface{})

	queue    chan func()
	stopCh   chan struct{}
	mu       sync.Mutex
	workers  int
	seq      int64
	released int32
	wg       sync.WaitGroup
}

// New creates a pool. Non positive MaxThreadsActive defaults to the number of CPUs.
func New(profile ThreadingProfile) *WorkerPool {
	if profile.MaxThreadsActive <= 0 {
		profile.MaxThreadsActive = runtime.NumCPU()
	}
	if profile.MaxBufferSize < 0 {
		profile.MaxBufferSize = 0
	}
	if profile.ThreadTTL <= 0 {
		profile.ThreadTTL = time.Minute
	}
	if profile.Name == "" {
		profile.Name = "esb"
	}
	return &WorkerPool{
		profile: profile,
		queue:   make(chan func(), profile.MaxBufferSize),
		stopCh:  make(chan struct{}),
	}
}

func (wp *WorkerPool) Profile() ThreadingProfile {
	return wp.profile
}

// ActiveWorkers is the number of live worker goroutines.
func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.workers
}

// Submit runs task on a worker, starting one if the profile allows.
func (wp *WorkerPool) Submit(task func()) error {
	if task == nil {
		return nil
	}
	if atomic.LoadInt32(&wp.released) == 1 {
		return ErrPoolReleased
	}
	if wp.tryStartWorker(task) {
		return nil
	}
	select {
	case wp.queue <- task:
		wp.ensureWorker()
		return nil
	default:
	}
	return wp.onExhausted(task)
}

// ensureWorker starts a drain worker if every worker exited while a task was being queued.
func (wp *WorkerPool) ensureWorker() {
	wp.mu.Lock()
	none := wp.workers == 0
	wp.mu.Unlock()
	if none {
		wp.tryStartWorker(func() {})
	}
}

func (wp *WorkerPool) onExhausted(task func()) error {
	switch wp.profile.ExhaustedAction {
	case WhenExhaustedAbort:
		return ErrPoolExhausted
	case WhenExhaustedDiscard:
		return nil
	case WhenExhaustedRun:
		wp.run(wp.profile.Name+".caller", task)
		return nil
	case WhenExhaustedDiscardOldest:
		for i := 0; i < 3; i++ {
			select {
			case <-wp.queue:
			default:
			}
			select {
			case wp.queue <- task:
				return nil
			default:
			}
		}
		return ErrPoolExhausted
	default:
		return wp.wait(task)
	}
}

func (wp *WorkerPool) wait(task func()) error {
	timeout := wp.profile.ThreadWaitTimeout
	if timeout == 0 {
		return ErrPoolExhausted
	}
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case wp.queue <- task:
		return nil
	case <-timer:
		return ErrPoolExhausted
	case <-wp.stopCh:
		return ErrPoolReleased
	}
}

func (wp *WorkerPool) tryStartWorker(task func()) bool {
	wp.mu.Lock()
	if wp.workers >= wp.profile.MaxThreadsActive {
		wp.mu.Unlock()
		return false
	}
	wp.workers++
	wp.mu.Unlock()
	name := fmt.Sprintf("%s.%d", wp.profile.Name, atomic.AddInt64(&wp.seq, 1))
	wp.wg.Add(1)
	go wp.worker(name, task)
	return true
}

func (wp *WorkerPool) worker(name string, first func()) {
	defer wp.wg.Done()
	defer func() {
		wp.mu.Lock()
		wp.workers--
		wp.mu.Unlock()
	}()
	wp.run(name, first)
	idle := time.NewTimer(wp.profile.ThreadTTL)
	defer idle.Stop()
	for {
		select {
		case task := <-wp.queue:
			wp.run(name, task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(wp.profile.ThreadTTL)
		case <-idle.C:
			return
		case <-wp.stopCh:
			return
		}
	}
}

func (wp *WorkerPool) run(name string, task func()) {
	defer func() {
		if r := recover(); r != nil && wp.OnPanic != nil {
			wp.OnPanic(name, r)
		}
	}()
	task()
}

// Release stops accepting tasks and lets workers exit. Buffered tasks are dropped.
func (wp *WorkerPool) Release() {
	if !atomic.CompareAndSwapInt32(&wp.released, 0, 1) {
		return
	}
	close(wp.stopCh)
}

// Wait blocks until every worker has exited. Call after Release.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}
