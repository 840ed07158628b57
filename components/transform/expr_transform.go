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

package transform

import (
	"context"
	"errors"
	"strings"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
	"github.com/rulego/esb/utils/expr"
)

func init() {
	Registry.Add(&ExprTransform{})
}

// ExprTransformConfiguration configures ExprTransform.
type ExprTransformConfiguration struct {
	// Expr computes the new payload.
	Expr string
	// Mapping computes a map payload, one expression per key. Expr wins when both are set.
	Mapping map[string]string
	// MimeType of the result. Mapping results default to application/json.
	MimeType string
}

// ExprTransform replaces the payload with the result of an expression.
type ExprTransform struct {
	Config  ExprTransformConfiguration
	config  types.Config
	program *expr.Program
	mapping map[string]*expr.Program
}

func (x *ExprTransform) Type() string {
	return "transform/expr"
}

func (x *ExprTransform) New() types.Component {
	return &ExprTransform{}
}

func (x *ExprTransform) Init(config types.Config, configuration types.Configuration) error {
	if err := base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	x.config = config
	if e := strings.TrimSpace(x.Config.Expr); e != "" {
		program, err := expr.Compile(e)
		if err != nil {
			return err
		}
		x.program = program
		return nil
	}
	if len(x.Config.Mapping) == 0 {
		return errors.New("expr and mapping can not both be empty")
	}
	x.mapping = make(map[string]*expr.Program, len(x.Config.Mapping))
	for k, v := range x.Config.Mapping {
		program, err := expr.Compile(v)
		if err != nil {
			return err
		}
		x.mapping[k] = program
	}
	if x.Config.MimeType == "" {
		x.Config.MimeType = types.MimeTypeJson
	}
	return nil
}

// Transform evaluates the expressions against a message without variables.
func (x *ExprTransform) Transform(_ context.Context, msg *types.Message) (*types.Message, error) {
	return x.transform(types.NewEvent(msg))
}

func (x *ExprTransform) ReturnDataType() types.DataType {
	return types.DataType{MimeType: x.Config.MimeType}
}

func (x *ExprTransform) transform(event *types.Event) (*types.Message, error) {
	env := expr.Env(event, x.config.Properties)
	result := event.Message.Copy()
	if x.program != nil {
		out, err := x.program.Run(env)
		if err != nil {
			return nil, err
		}
		result.Payload = out
	} else {
		payload := make(map[string]interface{}, len(x.mapping))
		for k, program := range x.mapping {
			out, err := program.Run(env)
			if err != nil {
				return nil, err
			}
			payload[k] = out
		}
		result.Payload = payload
	}
	if x.Config.MimeType != "" {
		result.DataType.MimeType = x.Config.MimeType
	}
	return result, nil
}

func (x *ExprTransform) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	msg, err := x.transform(event)
	if err != nil {
		return nil, err
	}
	out := event.Copy()
	out.Message = msg
	return out, nil
}

func (x *ExprTransform) Destroy() {
}
