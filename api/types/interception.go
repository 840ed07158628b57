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

package types

import "context"

// InterceptionEvent is the view of an event handed to a ProcessorInterceptor.
// Changes made through it are visible to the intercepted processor and to the
// interceptors nested inside.
type InterceptionEvent interface {
	Message() *Message
	SetMessage(msg *Message)
	Variables() map[string]interface{}
	AddVariable(key string, value interface{})
	RemoveVariable(key string)
	CorrelationId() string
	// Error is the failure recorded on the event, nil when there is none.
	Error() *Error
	// Event returns the underlying event.
	Event() *Event
}

// InterceptionAction is given to Around to decide what happens to the processor.
// Exactly one of its methods should be called; later calls are ignored.
type InterceptionAction interface {
	// Proceed runs the intercepted processor (and any nested interceptors).
	Proceed() error
	// Skip does not run the processor, the event continues unchanged.
	Skip() error
	// Fail fails the step with cause, typed INTERCEPTION unless cause carries a type.
	Fail(cause error) error
	// FailWithType fails the step with the given error type.
	FailWithType(errorType ErrorType) error
}

// ProcessorInterceptor adds behaviour around the execution of processors.
//
// For interceptors i1 and i2 applied to the same processor the order is:
//
//	i1.Before, i1.Around -> i2.Before, i2.Around -> processor -> i2.After -> i1.After
type ProcessorInterceptor interface {
	Before(ctx context.Context, location ComponentLocation, parameters map[string]interface{}, event InterceptionEvent) error
	Around(ctx context.Context, location ComponentLocation, parameters map[string]interface{}, event InterceptionEvent, action InterceptionAction) error
	// After always runs once Before ran, err is the failure of the step if any.
	After(ctx context.Context, location ComponentLocation, event InterceptionEvent, err error) error
}

// ProcessorInterceptorFactory creates interceptors for the locations it applies to.
type ProcessorInterceptorFactory interface {
	Intercept(location ComponentLocation) bool
	Get() ProcessorInterceptor
}

// BaseInterceptor has no-op Before/After and an Around that proceeds.
// Embed it to implement only the callbacks you need.
type BaseInterceptor struct{}

func (BaseInterceptor) Before(context.Context, ComponentLocation, map[string]interface{}, InterceptionEvent) error {
	return nil
}

func (BaseInterceptor) Around(_ context.Context, _ ComponentLocation, _ map[string]interface{}, _ InterceptionEvent, action InterceptionAction) error {
	return action.Proceed()
}

func (BaseInterceptor) After(context.Context, ComponentLocation, InterceptionEvent, error) error {
	return nil
}

// InterceptorFactoryFunc builds a factory that applies to every location accepted by match.
// A nil match applies everywhere.
func InterceptorFactoryFunc(match func(ComponentLocation) bool, get func() ProcessorInterceptor) ProcessorInterceptorFactory {
	return &funcFactory{match: match, get: get}
}

type funcFactory struct {
	match func(ComponentLocation) bool
	get   func() ProcessorInterceptor
}

func (f *funcFactory) Intercept(location ComponentLocation) bool {
	return f.match == nil || f.match(location)
}

func (f *funcFactory) Get() ProcessorInterceptor {
	return f.get()
}
