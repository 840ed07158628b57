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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/test"
	"github.com/rulego/esb/transaction"
)

func failure(t types.ErrorType, payload string) *types.MessagingError {
	return types.NewMessagingError(test.NewTextEvent(payload), types.ComponentLocation{FlowName: "f", Path: "processors", Index: 1},
		types.NewTypedError(t, errors.New("failed")))
}

func TestCatchExceptionStrategy(t *testing.T) {
	var seen *types.Error
	sawError := types.ProcessorFunc(func(_ context.Context, ev *types.Event) (*types.Event, error) {
		seen = ev.Error
		return ev, nil
	})
	s, err := NewCatchExceptionStrategy([]types.Processor{sawError, test.Appender("h", "!", nil)},
		When("payload == 'retry' && error.type == 'MULE:CONNECTIVITY'"))
	require.Nil(t, err)

	me := failure(types.ErrorConnectivity, "retry")
	assert.True(t, s.Accepts(me))
	assert.False(t, s.Accepts(failure(types.ErrorConnectivity, "other")))
	assert.False(t, s.Accepts(failure(types.ErrorTimeout, "retry")))

	out, err := s.Handle(context.Background(), me)
	require.Nil(t, err)
	assert.True(t, me.Handled())
	require.NotNil(t, seen)
	assert.Equal(t, types.ErrorConnectivity, seen.Type)
	assert.Equal(t, "retry!", out.Message.Payload)
	assert.Nil(t, out.Error)
	caught, ok := out.Variables[CaughtErrorVariable].(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrorConnectivity, caught.Type)
	assert.Equal(t, "retry", me.Event.Message.Payload)

	_, err = NewCatchExceptionStrategy(nil, When("payload =="))
	assert.NotNil(t, err)
}

func TestRollbackExceptionStrategy(t *testing.T) {
	r := test.NewRecorder()
	s, err := NewRollbackExceptionStrategy([]types.Processor{test.Sensor("cleanup", r)}, ForErrorTypes(types.ErrorConnectivity))
	require.Nil(t, err)
	assert.False(t, s.Accepts(failure(types.ErrorTimeout, "x")))

	tx := transaction.NewTx()
	ctx := transaction.NewContext(context.Background(), tx)
	me := failure(types.ErrorConnectivity, "x")
	require.True(t, s.Accepts(me))
	out, err := s.Handle(ctx, me)
	assert.Nil(t, out)
	assert.Same(t, me, err)
	assert.True(t, tx.IsRollbackOnly())
	assert.Equal(t, []string{"cleanup"}, r.Entries())
	assert.False(t, me.Handled())
}

func TestDefaultExceptionStrategy(t *testing.T) {
	s := NewDefaultExceptionStrategy(types.NopLogger())
	tx := transaction.NewTx()
	me := failure(types.ErrorTimeout, "x")
	out, err := s.Handle(transaction.NewContext(context.Background(), tx), me)
	assert.Nil(t, out)
	assert.Same(t, me, err)
	assert.True(t, tx.IsRollbackOnly())
}

func TestChoiceExceptionStrategy(t *testing.T) {
	r := test.NewRecorder()
	connectivity, err := NewCatchExceptionStrategy([]types.Processor{test.Sensor("connectivity", r)}, ForErrorTypes(types.ErrorConnectivity))
	require.Nil(t, err)
	anyError, err := NewCatchExceptionStrategy([]types.Processor{test.Sensor("any", r)}, When("payload == 'catch-all'"))
	require.Nil(t, err)
	fallback := types.ExceptionHandlerFunc(func(_ context.Context, err *types.MessagingError) (*types.Event, error) {
		r.Add("fallback")
		return nil, err
	})
	choice := NewChoiceExceptionStrategy(fallback, connectivity, anyError)

	_, err = choice.Handle(context.Background(), failure(types.ErrorConnectivity, "x"))
	require.Nil(t, err)
	_, err = choice.Handle(context.Background(), failure(types.ErrorTimeout, "catch-all"))
	require.Nil(t, err)
	_, err = choice.Handle(context.Background(), failure(types.ErrorTimeout, "x"))
	assert.NotNil(t, err)
	assert.Equal(t, []string{"connectivity", "any", "fallback"}, r.Entries())
	assert.True(t, choice.Accepts(failure(types.ErrorConnectivity, "x")))
	assert.False(t, choice.Accepts(failure(types.ErrorTimeout, "x")))

	_, err = NewChoiceExceptionStrategy(nil).Handle(context.Background(), failure(types.ErrorTimeout, "x"))
	assert.NotNil(t, err)
}
