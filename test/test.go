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

// Package test provides recording processors, interceptors and notifiers for tests.
package test

import (
	"context"
	"sync"
	"time"

	"github.com/rulego/esb/api/types"
)

// Recorder collects ordered trace entries from many sources.
type Recorder struct {
	mu      sync.Mutex
	entries []string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Add(entry string) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

// SensingProcessor records its name and then returns the result of Fn, or the event.
type SensingProcessor struct {
	Name     string
	Recorder *Recorder
	Fn       func(ctx context.Context, event *types.Event) (*types.Event, error)

	mu     sync.Mutex
	events []*types.Event
}

// Sensor creates a SensingProcessor that passes events through.
func Sensor(name string, r *Recorder) *SensingProcessor {
	return &SensingProcessor{Name: name, Recorder: r}
}

func (p *SensingProcessor) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if p.Recorder != nil {
		p.Recorder.Add(p.Name)
	}
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	if p.Fn != nil {
		return p.Fn(ctx, event)
	}
	return event, nil
}

// Events returns the events seen so far.
func (p *SensingProcessor) Events() []*types.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.Event(nil), p.events...)
}

func (p *SensingProcessor) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// Appender appends suffix to a string payload.
func Appender(name, suffix string, r *Recorder) *SensingProcessor {
	return &SensingProcessor{Name: name, Recorder: r, Fn: func(_ context.Context, event *types.Event) (*types.Event, error) {
		event.Message.Payload = event.Message.PayloadString() + suffix
		return event, nil
	}}
}

// Stopper consumes the event.
func Stopper(name string, r *Recorder) *SensingProcessor {
	return &SensingProcessor{Name: name, Recorder: r, Fn: func(context.Context, *types.Event) (*types.Event, error) {
		return nil, nil
	}}
}

// Failer fails with err.
func Failer(name string, r *Recorder, err error) *SensingProcessor {
	return &SensingProcessor{Name: name, Recorder: r, Fn: func(context.Context, *types.Event) (*types.Event, error) {
		return nil, err
	}}
}

// RecordingInterceptor is a ProcessorInterceptor that records every callback as
// "<name>.before", "<name>.around" and "<name>.after".
type RecordingInterceptor struct {
	Name     string
	Recorder *Recorder
	// AroundFn replaces the default Around, which proceeds.
	AroundFn func(ctx context.Context, event types.InterceptionEvent, action types.InterceptionAction) error
	BeforeErr error
	AfterErr  error

	mu        sync.Mutex
	params    []map[string]interface{}
	afterErrs []error
	locations []types.ComponentLocation
}

func (i *RecordingInterceptor) Before(_ context.Context, loc types.ComponentLocation, params map[string]interface{}, _ types.InterceptionEvent) error {
	i.Recorder.Add(i.Name + ".before")
	i.mu.Lock()
	i.params = append(i.params, params)
	i.locations = append(i.locations, loc)
	i.mu.Unlock()
	return i.BeforeErr
}

func (i *RecordingInterceptor) Around(ctx context.Context, _ types.ComponentLocation, _ map[string]interface{}, event types.InterceptionEvent, action types.InterceptionAction) error {
	i.Recorder.Add(i.Name + ".around")
	if i.AroundFn != nil {
		return i.AroundFn(ctx, event, action)
	}
	return action.Proceed()
}

func (i *RecordingInterceptor) After(_ context.Context, _ types.ComponentLocation, _ types.InterceptionEvent, err error) error {
	i.Recorder.Add(i.Name + ".after")
	i.mu.Lock()
	i.afterErrs = append(i.afterErrs, err)
	i.mu.Unlock()
	return i.AfterErr
}

// Params returns the parameters passed to Before.
func (i *RecordingInterceptor) Params() []map[string]interface{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]map[string]interface{}(nil), i.params...)
}

// AfterErrors returns the errors passed to After.
func (i *RecordingInterceptor) AfterErrors() []error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]error(nil), i.afterErrs...)
}

func (i *RecordingInterceptor) Locations() []types.ComponentLocation {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]types.ComponentLocation(nil), i.locations...)
}

// Factory returns a factory that applies i everywhere.
func (i *RecordingInterceptor) Factory() types.ProcessorInterceptorFactory {
	return types.InterceptorFactoryFunc(nil, func() types.ProcessorInterceptor { return i })
}

// Notifications collects fired notifications.
type Notifications struct {
	mu    sync.Mutex
	items []types.Notification
}

func (n *Notifications) Fire(notification types.Notification) {
	n.mu.Lock()
	n.items = append(n.items, notification)
	n.mu.Unlock()
}

func (n *Notifications) All() []types.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.Notification(nil), n.items...)
}

// Actions returns the recorded actions, optionally only those in filter.
func (n *Notifications) Actions(filter ...types.NotificationAction) []types.NotificationAction {
	var result []types.NotificationAction
	for _, item := range n.All() {
		if len(filter) == 0 {
			result = append(result, item.Action)
			continue
		}
		for _, f := range filter {
			if f == item.Action {
				result = append(result, item.Action)
				break
			}
		}
	}
	return result
}

// WaitFor polls cond until it is true or timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// NewTextEvent creates an event with a text payload.
func NewTextEvent(payload string, opts ...types.EventOption) *types.Event {
	msg := types.NewMessage(payload)
	msg.DataType = types.DataType{MimeType: types.MimeTypeText, Encoding: types.DefaultEncoding}
	return types.NewEvent(msg, opts...)
}
