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

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
	"github.com/rulego/esb/transaction"
)

func init() {
	Registry.Add(&Async{})
}

// AsyncConfiguration configures Async.
type AsyncConfiguration struct {
	// Processor runs in the background with a copy of the event.
	Processor types.Processor `required:"true"`
}

// Async runs Processor on the runtime pool outside the current transaction and passes the
// original event on without waiting. Failures of the background run are logged.
type Async struct {
	Config AsyncConfiguration
	config types.Config
}

func (x *Async) Type() string {
	return "flow/async"
}

func (x *Async) New() types.Component {
	return &Async{}
}

func (x *Async) Init(config types.Config, configuration types.Configuration) error {
	x.config = config
	return base.Decode(x.Type(), configuration, &x.Config)
}

func (x *Async) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if x.Config.Processor == nil {
		return nil, types.NewTypedError(types.ErrorRouting, errNoTarget)
	}
	background := transaction.Suspend(context.WithoutCancel(ctx))
	copied := event.Copy()
	copied.ExchangePattern = types.OneWay
	logger := base.Logger(ctx, x.config)
	err := x.config.Go(func() {
		if _, err := x.Config.Processor.Process(background, copied); err != nil {
			logger.Errorf("async processing of event %s failed: %v", copied.Id, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (x *Async) Destroy() {
}
