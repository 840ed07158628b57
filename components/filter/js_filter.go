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

package filter

import (
	"context"
	"fmt"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
	"github.com/rulego/esb/utils/js"
)

func init() {
	Registry.Add(&JsFilter{})
}

// JsFilterConfiguration configures JsFilter.
type JsFilterConfiguration struct {
	// JsScript is the body of function Filter(msg, vars) and must return a boolean.
	// msg has payload, inbound and outbound fields.
	JsScript          string
	Unaccepted        types.Processor
	ThrowOnUnaccepted bool
}

// JsFilter accepts events for which the script returns true.
type JsFilter struct {
	Config   JsFilterConfiguration
	jsEngine *js.GojaJsEngine
}

func (x *JsFilter) Type() string {
	return "filter/js"
}

func (x *JsFilter) New() types.Component {
	return &JsFilter{Config: JsFilterConfiguration{JsScript: "return true;"}}
}

func (x *JsFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	engine, err := js.NewGojaJsEngine(config, fmt.Sprintf("function Filter(msg, vars) { %s }", x.Config.JsScript), nil)
	if err != nil {
		return types.NewTypedError(types.ErrorExpression, err)
	}
	x.jsEngine = engine
	return nil
}

func (x *JsFilter) Intercept(ctx context.Context, event *types.Event, next types.Processor) (*types.Event, error) {
	out, err := x.jsEngine.Execute(ctx, "Filter", base.ScriptMessage(event.Message), event.Variables)
	if err != nil {
		return nil, types.NewTypedError(types.ErrorExpression, err)
	}
	accepted, _ := out.(bool)
	f := base.Filter{Unaccepted: x.Config.Unaccepted, ThrowOnUnaccepted: x.Config.ThrowOnUnaccepted}
	return f.Route(ctx, event, accepted, next, x.Type())
}

func (x *JsFilter) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	return x.Intercept(ctx, event, types.PassThrough)
}

func (x *JsFilter) Destroy() {
	if x.jsEngine != nil {
		x.jsEngine.Stop()
	}
}
