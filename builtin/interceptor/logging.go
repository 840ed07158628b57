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
	"time"

	"github.com/rulego/esb/api/types"
)

// LoggingInterceptor logs each processor execution at debug level, and failures at warn level.
type LoggingInterceptor struct {
	Logger types.Logger
}

var _ types.ProcessorInterceptor = (*LoggingInterceptor)(nil)

// NewLoggingFactory applies a LoggingInterceptor to the locations accepted by match,
// every location when match is nil.
func NewLoggingFactory(logger types.Logger, match func(types.ComponentLocation) bool) types.ProcessorInterceptorFactory {
	i := &LoggingInterceptor{Logger: types.NewLogger(logger)}
	return types.InterceptorFactoryFunc(match, func() types.ProcessorInterceptor { return i })
}

func (i *LoggingInterceptor) Before(_ context.Context, loc types.ComponentLocation, params map[string]interface{}, event types.InterceptionEvent) error {
	i.Logger.Debugf("before %s correlationId=%s params=%v", loc, event.CorrelationId(), params)
	return nil
}

func (i *LoggingInterceptor) Around(_ context.Context, loc types.ComponentLocation, _ map[string]interface{}, event types.InterceptionEvent, action types.InterceptionAction) error {
	start := time.Now()
	err := action.Proceed()
	i.Logger.Debugf("%s took %s correlationId=%s", loc, time.Since(start), event.CorrelationId())
	return err
}

func (i *LoggingInterceptor) After(_ context.Context, loc types.ComponentLocation, event types.InterceptionEvent, err error) error {
	if err != nil {
		i.Logger.Warnf("after %s correlationId=%s failed: %v", loc, event.CorrelationId(), err)
		return nil
	}
	i.Logger.Debugf("after %s correlationId=%s", loc, event.CorrelationId())
	return nil
}
