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

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
	"github.com/rulego/esb/utils/expr"
)

func init() {
	Registry.Add(&SetPayload{}, &SetProperty{}, &SetVariable{})
}

// value is a configured value that may contain ${...} placeholders.
type value struct {
	raw      interface{}
	template *expr.Template
}

func newValue(raw interface{}) (value, error) {
	s, ok := raw.(string)
	if !ok {
		return value{raw: raw}, nil
	}
	t, err := expr.NewTemplate(s)
	if err != nil {
		return value{}, err
	}
	if !t.HasVar() {
		return value{raw: s}, nil
	}
	return value{raw: s, template: t}, nil
}

func (v value) resolve(event *types.Event, global types.Properties) (interface{}, error) {
	if v.template == nil {
		return v.raw, nil
	}
	return v.template.Execute(expr.Env(event, global))
}

// SetPayloadConfiguration configures SetPayload.
type SetPayloadConfiguration struct {
	Value    interface{}
	MimeType string
	Encoding string
}

// SetPayload replaces the payload.
type SetPayload struct {
	Config SetPayloadConfiguration
	config types.Config
	value  value
}

func (x *SetPayload) Type() string {
	return "transform/setPayload"
}

func (x *SetPayload) New() types.Component {
	return &SetPayload{}
}

func (x *SetPayload) Init(config types.Config, configuration types.Configuration) (err error) {
	if err = base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	x.config = config
	x.value, err = newValue(x.Config.Value)
	return err
}

func (x *SetPayload) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	v, err := x.value.resolve(event, x.config.Properties)
	if err != nil {
		return nil, err
	}
	out := event.Copy()
	out.Message.Payload = v
	if x.Config.MimeType != "" {
		out.Message.DataType.MimeType = x.Config.MimeType
	}
	if x.Config.Encoding != "" {
		out.Message.DataType.Encoding = x.Config.Encoding
	}
	return out, nil
}

func (x *SetPayload) Destroy() {
}

// SetPropertyConfiguration configures SetProperty.
type SetPropertyConfiguration struct {
	Name  string
	Value interface{}
	// Scope is outbound (default) or session.
	Scope string
	// Remove deletes the property instead of setting it.
	Remove bool
}

// SetProperty sets an outbound or session property.
type SetProperty struct {
	Config SetPropertyConfiguration
	config types.Config
	value  value
}

func (x *SetProperty) Type() string {
	return "transform/setProperty"
}

func (x *SetProperty) New() types.Component {
	return &SetProperty{Config: SetPropertyConfiguration{Scope: "outbound"}}
}

func (x *SetProperty) Init(config types.Config, configuration types.Configuration) (err error) {
	if err = base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Name == "" {
		return errors.New("name can not be empty")
	}
	if x.Config.Scope != "outbound" && x.Config.Scope != "session" {
		return fmt.Errorf("unknown scope %q", x.Config.Scope)
	}
	x.config = config
	x.value, err = newValue(x.Config.Value)
	return err
}

func (x *SetProperty) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	out := event.Copy()
	props := out.Message.OutboundProperties
	if x.Config.Scope == "session" {
		props = out.Session.Properties
	}
	if x.Config.Remove {
		delete(props, x.Config.Name)
		return out, nil
	}
	v, err := x.value.resolve(event, x.config.Properties)
	if err != nil {
		return nil, err
	}
	props[x.Config.Name] = v
	return out, nil
}

func (x *SetProperty) Parameters(_ *types.Event) map[string]interface{} {
	return map[string]interface{}{"name": x.Config.Name, "scope": x.Config.Scope}
}

func (x *SetProperty) Destroy() {
}

// SetVariableConfiguration configures SetVariable.
type SetVariableConfiguration struct {
	Name   string
	Value  interface{}
	Remove bool
}

// SetVariable sets a flow variable.
type SetVariable struct {
	Config SetVariableConfiguration
	config types.Config
	value  value
}

func (x *SetVariable) Type() string {
	return "transform/setVariable"
}

func (x *SetVariable) New() types.Component {
	return &SetVariable{}
}

func (x *SetVariable) Init(config types.Config, configuration types.Configuration) (err error) {
	if err = base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Name == "" {
		return errors.New("name can not be empty")
	}
	x.config = config
	x.value, err = newValue(x.Config.Value)
	return err
}

func (x *SetVariable) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	out := event.Copy()
	if x.Config.Remove {
		delete(out.Variables, x.Config.Name)
		return out, nil
	}
	v, err := x.value.resolve(event, x.config.Properties)
	if err != nil {
		return nil, err
	}
	out.Variables[x.Config.Name] = v
	return out, nil
}

func (x *SetVariable) Parameters(_ *types.Event) map[string]interface{} {
	return map[string]interface{}{"name": x.Config.Name}
}

func (x *SetVariable) Destroy() {
}
