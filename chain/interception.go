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
	"fmt"
	"sync"

	"github.com/rulego/esb/api/types"
)

// InterceptorManager holds the interception API factories of a runtime.
type InterceptorManager struct {
	mu        sync.RWMutex
	factories []types.ProcessorInterceptorFactory
}

func NewInterceptorManager(factories ...types.ProcessorInterceptorFactory) *InterceptorManager {
	m := &InterceptorManager{}
	m.Add(factories...)
	return m
}

// Add registers factories. Earlier factories produce outer interceptors.
func (m *InterceptorManager) Add(factories ...types.ProcessorInterceptorFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range factories {
		if f != nil {
			m.factories = append(m.factories, f)
		}
	}
}

func (m *InterceptorManager) Factories() []types.ProcessorInterceptorFactory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.ProcessorInterceptorFactory(nil), m.factories...)
}

// InterceptorsFor creates the interceptors that apply to loc, outermost first.
func (m *InterceptorManager) InterceptorsFor(loc types.ComponentLocation) []types.ProcessorInterceptor {
	if m == nil {
		return nil
	}
	var result []types.ProcessorInterceptor
	for _, f := range m.Factories() {
		if f.Intercept(loc) {
			if i := f.Get(); i != nil {
				result = append(result, i)
			}
		}
	}
	return result
}

// interceptionAdapter runs a processor inside nested ProcessorInterceptor layers.
type interceptionAdapter struct {
	loc          types.ComponentLocation
	target       types.Processor
	next         types.Processor
	interceptors []types.ProcessorInterceptor
}

func (a *interceptionAdapter) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	return a.layer(ctx, 0, event)
}

func (a *interceptionAdapter) parameters(event *types.Event) map[string]interface{} {
	if p, ok := a.target.(types.Parameterized); ok {
		if params := p.Parameters(event); params != nil {
			return params
		}
	}
	return map[string]interface{}{}
}

func (a *interceptionAdapter) layer(ctx context.Context, i int, event *types.Event) (*types.Event, error) {
	if i == len(a.interceptors) {
		return a.next.Process(ctx, event)
	}
	interceptor := a.interceptors[i]
	iev := &interceptionEvent{event: event}

	if err := interceptor.Before(ctx, a.loc, a.parameters(event), iev); err != nil {
		err = interceptionError(err)
		if afterErr := interceptor.After(ctx, a.loc, iev, err); afterErr != nil {
			return nil, interceptionError(afterErr)
		}
		return nil, err
	}

	action := &interceptionAction{proceed: func() (*types.Event, error) {
		return a.layer(ctx, i+1, iev.event)
	}}
	aroundErr := interceptor.Around(ctx, a.loc, a.parameters(iev.event), iev, action)

	var out *types.Event
	var err error
	switch action.state {
	case actionNone:
		if aroundErr == nil {
			out, err = action.run()
		}
	case actionProceeded:
		out, err = action.out, action.err
	case actionSkipped:
		out = iev.event
	case actionFailed:
		err = action.err
	}
	if err == nil && aroundErr != nil {
		out, err = nil, interceptionError(aroundErr)
	}

	afterEvent := iev
	if out != nil && out != iev.event {
		afterEvent = &interceptionEvent{event: out}
	}
	if afterErr := interceptor.After(ctx, a.loc, afterEvent, err); afterErr != nil && err == nil {
		return nil, interceptionError(afterErr)
	}
	return out, err
}

// interceptionError types err as INTERCEPTION unless it already carries a type.
func interceptionError(err error) error {
	if types.ResolveErrorType(err) != types.ErrorUnknown {
		return err
	}
	return types.NewTypedError(types.ErrorInterception, err)
}

type interceptionEvent struct {
	event *types.Event
}

func (e *interceptionEvent) Message() *types.Message {
	return e.event.Message
}

func (e *interceptionEvent) SetMessage(msg *types.Message) {
	if msg == nil {
		msg = types.NewMessage(nil)
	}
	e.event.Message = msg.EnsureProperties()
}

func (e *interceptionEvent) Variables() map[string]interface{} {
	return e.event.Variables
}

func (e *interceptionEvent) AddVariable(key string, value interface{}) {
	if e.event.Variables == nil {
		e.event.Variables = make(map[string]interface{})
	}
	e.event.Variables[key] = value
}

func (e *interceptionEvent) RemoveVariable(key string) {
	delete(e.event.Variables, key)
}

func (e *interceptionEvent) CorrelationId() string {
	return e.event.CorrelationId
}

func (e *interceptionEvent) Error() *types.Error {
	return e.event.Error
}

func (e *interceptionEvent) Event() *types.Event {
	return e.event
}

type actionState int

const (
	actionNone actionState = iota
	actionProceeded
	actionSkipped
	actionFailed
)

// interceptionAction records the first decision taken by Around.
type interceptionAction struct {
	proceed func() (*types.Event, error)
	state   actionState
	out     *types.Event
	err     error
}

func (a *interceptionAction) run() (*types.Event, error) {
	a.state = actionProceeded
	a.out, a.err = a.proceed()
	return a.out, a.err
}

func (a *interceptionAction) Proceed() error {
	if a.state != actionNone {
		return a.err
	}
	_, err := a.run()
	return err
}

func (a *interceptionAction) Skip() error {
	if a.state != actionNone {
		return a.err
	}
	a.state = actionSkipped
	return nil
}

func (a *interceptionAction) Fail(cause error) error {
	if a.state != actionNone {
		return a.err
	}
	if cause == nil {
		cause = fmt.Errorf("processor execution interrupted")
	}
	a.state = actionFailed
	a.err = interceptionError(cause)
	return a.err
}

func (a *interceptionAction) FailWithType(errorType types.ErrorType) error {
	if a.state != actionNone {
		return a.err
	}
	a.state = actionFailed
	a.err = types.NewTypedError(errorType, fmt.Errorf("processor execution interrupted with %s", errorType))
	return a.err
}
