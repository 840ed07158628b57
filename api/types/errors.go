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

import (
	"errors"
	"fmt"

	"github.com/rulego/esb/api/pool"
)

// CoreNamespace is the namespace of the built-in error types.
const CoreNamespace = "MULE"

// ErrorType classifies failures so exception strategies can select on them.
type ErrorType struct {
	Namespace  string
	Identifier string
	Parent     *ErrorType
}

func (t ErrorType) String() string {
	return t.Namespace + ":" + t.Identifier
}

// IsA reports whether t is other or one of its descendants. ANY matches every type.
func (t ErrorType) IsA(other ErrorType) bool {
	if other.Namespace == CoreNamespace && other.Identifier == "ANY" {
		return true
	}
	for cur := &t; cur != nil; cur = cur.Parent {
		if cur.Namespace == other.Namespace && cur.Identifier == other.Identifier {
			return true
		}
	}
	return false
}

func newCoreErrorType(id string) ErrorType {
	return ErrorType{Namespace: CoreNamespace, Identifier: id, Parent: &ErrorAny}
}

var (
	ErrorAny                 = ErrorType{Namespace: CoreNamespace, Identifier: "ANY"}
	ErrorUnknown             = newCoreErrorType("UNKNOWN")
	ErrorExpression          = newCoreErrorType("EXPRESSION")
	ErrorTransformation      = newCoreErrorType("TRANSFORMATION")
	ErrorConnectivity        = newCoreErrorType("CONNECTIVITY")
	ErrorRetryExhausted      = newCoreErrorType("RETRY_EXHAUSTED")
	ErrorRedeliveryExhausted = newCoreErrorType("REDELIVERY_EXHAUSTED")
	ErrorRouting             = newCoreErrorType("ROUTING")
	ErrorTimeout             = newCoreErrorType("TIMEOUT")
	ErrorOverload            = newCoreErrorType("OVERLOAD")
	ErrorSecurity            = newCoreErrorType("SECURITY")
	ErrorMimeType            = newCoreErrorType("MIME_TYPE")
	ErrorTransaction         = newCoreErrorType("TRANSACTION")
	ErrorLifecycle           = newCoreErrorType("LIFECYCLE")
	ErrorInterception        = newCoreErrorType("INTERCEPTION")
)

var coreErrorTypes = map[string]ErrorType{}

func init() {
	for _, t := range []ErrorType{ErrorAny, ErrorUnknown, ErrorExpression, ErrorTransformation,
		ErrorConnectivity, ErrorRetryExhausted, ErrorRedeliveryExhausted, ErrorRouting, ErrorTimeout,
		ErrorOverload, ErrorSecurity, ErrorMimeType, ErrorTransaction, ErrorLifecycle, ErrorInterception} {
		coreErrorTypes[t.Identifier] = t
	}
}

// LookupErrorType resolves "MULE:ROUTING" or "ROUTING" to a core type.
func LookupErrorType(name string) (ErrorType, bool) {
	if len(name) > len(CoreNamespace)+1 && name[:len(CoreNamespace)+1] == CoreNamespace+":" {
		name = name[len(CoreNamespace)+1:]
	}
	t, ok := coreErrorTypes[name]
	return t, ok
}

var (
	ErrNoListener              = errors.New("no listener (target) has been set for this endpoint")
	ErrLifecycle               = errors.New("cannot process event, the runtime is stopped")
	ErrNotStarted              = errors.New("component not started")
	ErrConnectorNotFound       = errors.New("connector not found")
	ErrIllegalTransactionState = errors.New("illegal transaction state")
	ErrPoolExhausted           = pool.ErrPoolExhausted
	ErrMimeTypeMismatch        = errors.New("mime type mismatch")
	ErrCacheNotInitialized     = errors.New("cache not initialized")
)

// TypedError attaches an ErrorType to a plain error.
type TypedError struct {
	Type  ErrorType
	Cause error
}

// NewTypedError wraps cause with the given type.
func NewTypedError(t ErrorType, cause error) *TypedError {
	return &TypedError{Type: t, Cause: cause}
}

func (e *TypedError) Error() string {
	if e.Cause == nil {
		return e.Type.String()
	}
	return e.Type.String() + ": " + e.Cause.Error()
}

func (e *TypedError) Unwrap() error {
	return e.Cause
}

func (e *TypedError) ErrorType() ErrorType {
	return e.Type
}

type errorTyper interface {
	ErrorType() ErrorType
}

// ResolveErrorType finds the first ErrorType in the chain of err, UNKNOWN otherwise.
func ResolveErrorType(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}
	var typed errorTyper
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}
	switch {
	case errors.Is(err, ErrLifecycle), errors.Is(err, ErrNotStarted):
		return ErrorLifecycle
	case errors.Is(err, ErrMimeTypeMismatch):
		return ErrorMimeType
	case errors.Is(err, ErrPoolExhausted):
		return ErrorOverload
	case errors.Is(err, ErrIllegalTransactionState):
		return ErrorTransaction
	}
	return ErrorUnknown
}

// Error is the failure recorded on an event once it has been handled.
type Error struct {
	Type        ErrorType
	Description string
	Cause       error
}

// MessagingError is a failure that happened while an event was being processed.
type MessagingError struct {
	Event            *Event
	FailingProcessor ComponentLocation
	Type             ErrorType
	Cause            error
	handled          bool
}

// NewMessagingError wraps cause. The error type is resolved from cause.
func NewMessagingError(event *Event, loc ComponentLocation, cause error) *MessagingError {
	return &MessagingError{Event: event, FailingProcessor: loc, Type: ResolveErrorType(cause), Cause: cause}
}

func (e *MessagingError) Error() string {
	if e.FailingProcessor.IsZero() {
		return fmt.Sprintf("%s: %v", e.Type, e.Cause)
	}
	return fmt.Sprintf("%s at %s: %v", e.Type, e.FailingProcessor, e.Cause)
}

func (e *MessagingError) Unwrap() error {
	return e.Cause
}

func (e *MessagingError) ErrorType() ErrorType {
	return e.Type
}

// MarkHandled flags the error as consumed by an exception strategy.
func (e *MessagingError) MarkHandled() {
	e.handled = true
}

func (e *MessagingError) Handled() bool {
	return e.handled
}

// ToEventError converts the messaging error into the value stored on Event.Error.
func (e *MessagingError) ToEventError() *Error {
	return &Error{Type: e.Type, Description: e.Error(), Cause: e.Cause}
}

// AsMessagingError returns err as a *MessagingError if one is in its chain.
func AsMessagingError(err error) (*MessagingError, bool) {
	var me *MessagingError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
