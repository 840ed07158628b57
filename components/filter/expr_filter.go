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
	"errors"
	"strings"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
	"github.com/rulego/esb/utils/expr"
)

func init() {
	Registry.Add(&ExprFilter{})
}

// ExprFilterConfiguration configures ExprFilter.
type ExprFilterConfiguration struct {
	// Expr is a boolean expr-lang expression over msg, payload, vars, inbound, outbound and session.
	Expr              string
	Unaccepted        types.Processor
	ThrowOnUnaccepted bool
}

// ExprFilter accepts events for which Expr is true.
type ExprFilter struct {
	Config  ExprFilterConfiguration
	config  types.Config
	program *expr.Program
}

func (x *ExprFilter) Type() string {
	return "filter/expr"
}

func (x *ExprFilter) New() types.Component {
	return &ExprFilter{}
}

func (x *ExprFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	if strings.TrimSpace(x.Config.Expr) == "" {
		return errors.New("expr can not be empty")
	}
	program, err := expr.CompileBool(x.Config.Expr)
	if err != nil {
		return err
	}
	x.config = config
	x.program = program
	return nil
}

func (x *ExprFilter) Intercept(ctx context.Context, event *types.Event, next types.Processor) (*types.Event, error) {
	accepted, err := x.program.EvalBool(event, x.config.Properties)
	if err != nil {
		return nil, err
	}
	f := base.Filter{Unaccepted: x.Config.Unaccepted, ThrowOnUnaccepted: x.Config.ThrowOnUnaccepted}
	return f.Route(ctx, event, accepted, next, x.Type())
}

func (x *ExprFilter) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	return x.Intercept(ctx, event, types.PassThrough)
}

func (x *ExprFilter) Parameters(_ *types.Event) map[string]interface{} {
	return map[string]interface{}{"expr": x.Config.Expr}
}

func (x *ExprFilter) Destroy() {
}
