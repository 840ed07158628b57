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
	"fmt"
	"strings"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
	"github.com/rulego/esb/utils/js"
)

const (
	// JsTransformDefaultScript returns the message unchanged.
	JsTransformDefaultScript = "return msg;"
	JsTransformFuncTemplate  = "function Transform(msg, vars) { %s }"
	JsTransformFuncName      = "Transform"
)

// ErrJsTransformReturnFormat is returned when the script does not return an object.
var ErrJsTransformReturnFormat = errors.New("return the value is not a map")

func init() {
	Registry.Add(&JsTransform{})
}

// JsTransformConfiguration configures JsTransform.
type JsTransformConfiguration struct {
	// JsScript is the body of function Transform(msg, vars). It returns the message object,
	// whose payload, outbound and mimeType fields are copied back. vars can be modified in place.
	JsScript string
}

// JsTransform changes the message with a goja script.
type JsTransform struct {
	Config      JsTransformConfiguration
	jsEngine    *js.GojaJsEngine
	passThrough bool
}

func (x *JsTransform) Type() string {
	return "transform/js"
}

func (x *JsTransform) New() types.Component {
	return &JsTransform{Config: JsTransformConfiguration{JsScript: JsTransformDefaultScript}}
}

func (x *JsTransform) Init(config types.Config, configuration types.Configuration) error {
	if err := base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	script := strings.TrimSpace(x.Config.JsScript)
	if script == "" || script == JsTransformDefaultScript {
		x.passThrough = true
		return nil
	}
	engine, err := js.NewGojaJsEngine(config, fmt.Sprintf(JsTransformFuncTemplate, x.Config.JsScript), nil)
	if err != nil {
		return types.NewTypedError(types.ErrorTransformation, err)
	}
	x.jsEngine = engine
	return nil
}

func (x *JsTransform) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if x.passThrough {
		return event, nil
	}
	out := event.Copy()
	result, err := x.jsEngine.Execute(ctx, JsTransformFuncName, base.ScriptMessage(out.Message), out.Variables)
	if err != nil {
		if errors.Is(err, js.ErrTimeout) {
			return nil, types.NewTypedError(types.ErrorTimeout, err)
		}
		return nil, types.NewTypedError(types.ErrorTransformation, err)
	}
	formatData, ok := result.(map[string]interface{})
	if !ok {
		return nil, types.NewTypedError(types.ErrorTransformation, ErrJsTransformReturnFormat)
	}
	out.Message = base.ApplyScriptMessage(out.Message, formatData)
	return out, nil
}

func (x *JsTransform) Destroy() {
	if x.jsEngine != nil {
		x.jsEngine.Stop()
	}
}
