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

package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
	"github.com/rulego/esb/utils/expr"
	"github.com/rulego/esb/utils/js"
)

func init() {
	Registry.Add(&Log{})
}

// LogConfiguration configures Log.
type LogConfiguration struct {
	// Message is a template such as "received ${payload} from ${inbound.MULE_ENDPOINT}".
	Message string
	// JsScript, when set, is the body of function ToString(msg, vars) and replaces Message.
	JsScript string
	// Level is DEBUG, INFO, WARN or ERROR.
	Level string
	// Category is added as a logger field.
	Category string
}

// Log writes a message built from the event.
type Log struct {
	Config   LogConfiguration
	config   types.Config
	template *expr.Template
	jsEngine *js.GojaJsEngine
}

func (x *Log) Type() string {
	return "log"
}

func (x *Log) New() types.Component {
	return &Log{Config: LogConfiguration{Message: "${payload}", Level: "INFO"}}
}

func (x *Log) Init(config types.Config, configuration types.Configuration) error {
	if err := base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	x.Config.Level = strings.ToUpper(x.Config.Level)
	switch x.Config.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("unknown log level %q", x.Config.Level)
	}
	x.config = config
	var err error
	if strings.TrimSpace(x.Config.JsScript) != "" {
		x.jsEngine, err = js.NewGojaJsEngine(config, fmt.Sprintf("function ToString(msg, vars) { %s }", x.Config.JsScript), nil)
		return err
	}
	x.template, err = expr.NewTemplate(x.Config.Message)
	return err
}

func (x *Log) render(ctx context.Context, event *types.Event) (string, error) {
	if x.jsEngine != nil {
		out, err := x.jsEngine.Execute(ctx, "ToString", base.ScriptMessage(event.Message), event.Variables)
		if err != nil {
			return "", types.NewTypedError(types.ErrorExpression, err)
		}
		s, ok := out.(string)
		if !ok {
			return "", errors.New("return the value is not string")
		}
		return s, nil
	}
	return x.template.ExecuteAsString(expr.Env(event, x.config.Properties))
}

func (x *Log) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	s, err := x.render(ctx, event)
	if err != nil {
		return nil, err
	}
	logger := base.Logger(ctx, x.config)
	if x.Config.Category != "" {
		logger = types.LoggerWith(logger, "category", x.Config.Category)
	}
	switch x.Config.Level {
	case "DEBUG":
		logger.Debugf("%s", s)
	case "WARN":
		logger.Warnf("%s", s)
	case "ERROR":
		logger.Errorf("%s", s)
	default:
		logger.Infof("%s", s)
	}
	return event, nil
}

func (x *Log) Destroy() {
	if x.jsEngine != nil {
		x.jsEngine.Stop()
	}
}
