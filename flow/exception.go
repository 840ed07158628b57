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
	"strings"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/chain"
	"github.com/rulego/esb/transaction"
	"github.com/rulego/esb/utils/expr"
)

// MessagingExceptionStrategy is an exception handler that can be selected by a ChoiceExceptionStrategy.
type MessagingExceptionStrategy interface {
	types.ExceptionHandler
	Accepts(err *types.MessagingError) bool
}

// StrategyOption configures the catch and rollback strategies.
type StrategyOption func(*strategy) error

// When only accepts errors for which the boolean expression is true.
// The expression sees the failed event plus error.type and error.description.
func When(expression string) StrategyOption {
	return func(s *strategy) error {
		if strings.TrimSpace(expression) == "" {
			return nil
		}
		p, err := expr.CompileBool(expression)
		if err != nil {
			return err
		}
		s.when = p
		return nil
	}
}

// ForErrorTypes only accepts errors of the given types or their descendants.
func ForErrorTypes(errorTypes ...types.ErrorType) StrategyOption {
	return func(s *strategy) error {
		s.errorTypes = append(s.errorTypes, errorTypes...)
		return nil
	}
}

// WithStrategyLogger sets the logger used by the strategy.
func WithStrategyLogger(logger types.Logger) StrategyOption {
	return func(s *strategy) error {
		s.logger = logger
		return nil
	}
}

// WithStrategyConfig sets the config whose properties the When expression can read.
func WithStrategyConfig(config types.Config) StrategyOption {
	return func(s *strategy) error {
		s.config = config
		return nil
	}
}

type strategy struct {
	name       string
	when       *expr.Program
	errorTypes []types.ErrorType
	processors *chain.Chain
	logger     types.Logger
	config     types.Config
}

func newStrategy(name string, processors []types.Processor, opts []StrategyOption) (strategy, error) {
	s := strategy{name: name}
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return s, err
		}
	}
	if s.logger == nil {
		s.logger = types.NewLogger(s.config.Logger)
	}
	c, err := chain.NewBuilder(name).
		WithLocation("", "errorHandler/"+name).
		Chain(processors...).
		WithLogger(s.logger).
		Build()
	if err != nil {
		return s, err
	}
	s.processors = c
	return s, nil
}

func (s *strategy) Accepts(err *types.MessagingError) bool {
	if len(s.errorTypes) > 0 {
		matched := false
		for _, t := range s.errorTypes {
			if err.Type.IsA(t) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if s.when == nil {
		return true
	}
	env := expr.Env(failedEvent(err), s.config.Properties)
	env["error"] = map[string]interface{}{"type": err.Type.String(), "description": err.Error()}
	ok, evalErr := s.when.Run(env)
	if evalErr != nil {
		s.logger.Warnf("%s exception strategy: when expression failed: %v", s.name, evalErr)
		return false
	}
	b, _ := ok.(bool)
	return b
}

// failedEvent returns a copy of the failed event with the error attached.
func failedEvent(err *types.MessagingError) *types.Event {
	var ev *types.Event
	if err.Event != nil {
		ev = err.Event.Copy()
	} else {
		ev = types.NewEvent(nil)
	}
	ev.Error = err.ToEventError()
	return ev
}

// CaughtErrorVariable holds the *types.Error handled by a CatchExceptionStrategy.
const CaughtErrorVariable = "error"

// CatchExceptionStrategy handles the error: its processors, which see the failed event
// with Error set, produce the flow result. The result carries no Error.
type CatchExceptionStrategy struct {
	strategy
}

func NewCatchExceptionStrategy(processors []types.Processor, opts ...StrategyOption) (*CatchExceptionStrategy, error) {
	s, err := newStrategy("catch", processors, opts)
	if err != nil {
		return nil, err
	}
	return &CatchExceptionStrategy{strategy: s}, nil
}

func (s *CatchExceptionStrategy) Handle(ctx context.Context, err *types.MessagingError) (*types.Event, error) {
	err.MarkHandled()
	s.logger.Debugf("caught %s", err.Error())
	out, perr := s.processors.Process(ctx, failedEvent(err))
	if perr != nil || out == nil {
		return out, perr
	}
	// a caught error is no longer a failure of the flow, callers find it in a variable
	if out.Error != nil {
		if out.Variables == nil {
			out.Variables = make(map[string]interface{})
		}
		out.Variables[CaughtErrorVariable] = out.Error
		out.Error = nil
	}
	return out, nil
}

// RollbackExceptionStrategy marks the current transaction rollback-only, runs its
// processors and propagates the error.
type RollbackExceptionStrategy struct {
	strategy
}

func NewRollbackExceptionStrategy(processors []types.Processor, opts ...StrategyOption) (*RollbackExceptionStrategy, error) {
	s, err := newStrategy("rollback", processors, opts)
	if err != nil {
		return nil, err
	}
	return &RollbackExceptionStrategy{strategy: s}, nil
}

func (s *RollbackExceptionStrategy) Handle(ctx context.Context, err *types.MessagingError) (*types.Event, error) {
	if transaction.SetRollbackOnly(ctx) {
		s.logger.Debugf("transaction marked for rollback after %s", err.Type)
	}
	if _, perr := s.processors.Process(ctx, failedEvent(err)); perr != nil {
		s.logger.Errorf("rollback exception strategy processors failed: %v", perr)
	}
	return nil, err
}

// DefaultExceptionStrategy logs the error, marks the current transaction rollback-only
// and propagates the error.
type DefaultExceptionStrategy struct {
	logger types.Logger
}

func NewDefaultExceptionStrategy(logger types.Logger) *DefaultExceptionStrategy {
	return &DefaultExceptionStrategy{logger: types.NewLogger(logger)}
}

func (s *DefaultExceptionStrategy) Accepts(*types.MessagingError) bool {
	return true
}

func (s *DefaultExceptionStrategy) Handle(ctx context.Context, err *types.MessagingError) (*types.Event, error) {
	eventId := ""
	if err.Event != nil {
		eventId = err.Event.Id
	}
	s.logger.Errorf("event %s failed: %v", eventId, err)
	transaction.SetRollbackOnly(ctx)
	return nil, err
}

// ChoiceExceptionStrategy delegates to the first strategy accepting the error,
// or to the default strategy.
type ChoiceExceptionStrategy struct {
	strategies []MessagingExceptionStrategy
	fallback   types.ExceptionHandler
}

// NewChoiceExceptionStrategy creates a choice. A nil fallback uses a DefaultExceptionStrategy.
func NewChoiceExceptionStrategy(fallback types.ExceptionHandler, strategies ...MessagingExceptionStrategy) *ChoiceExceptionStrategy {
	if fallback == nil {
		fallback = NewDefaultExceptionStrategy(nil)
	}
	return &ChoiceExceptionStrategy{strategies: strategies, fallback: fallback}
}

func (s *ChoiceExceptionStrategy) Accepts(err *types.MessagingError) bool {
	for _, st := range s.strategies {
		if st.Accepts(err) {
			return true
		}
	}
	return false
}

func (s *ChoiceExceptionStrategy) Handle(ctx context.Context, err *types.MessagingError) (*types.Event, error) {
	for _, st := range s.strategies {
		if st.Accepts(err) {
			return st.Handle(ctx, err)
		}
	}
	return s.fallback.Handle(ctx, err)
}

var (
	_ MessagingExceptionStrategy = (*CatchExceptionStrategy)(nil)
	_ MessagingExceptionStrategy = (*RollbackExceptionStrategy)(nil)
	_ MessagingExceptionStrategy = (*DefaultExceptionStrategy)(nil)
	_ MessagingExceptionStrategy = (*ChoiceExceptionStrategy)(nil)
)
