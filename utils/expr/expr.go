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

// Package expr evaluates expr-lang expressions against events.
//
// The environment exposes:
//
//	msg       the message (payload, dataType, inbound, outbound)
//	payload   the message payload
//	vars      flow variables
//	inbound   inbound properties
//	outbound  outbound properties
//	session   session properties
//	event     id, correlationId and flowName
//	global    Config.Properties
package expr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rulego/esb/api/types"
)

// Env builds the evaluation environment for event.
func Env(event *types.Event, global types.Properties) map[string]interface{} {
	env := map[string]interface{}{
		"global": map[string]interface{}(global),
	}
	if event == nil {
		return env
	}
	msg := event.Message
	if msg == nil {
		msg = types.NewMessage(nil)
	}
	payload := msg.Payload
	if b, ok := payload.([]byte); ok {
		payload = string(b)
	}
	env["payload"] = payload
	env["inbound"] = map[string]interface{}(msg.InboundProperties)
	env["outbound"] = map[string]interface{}(msg.OutboundProperties)
	env["msg"] = map[string]interface{}{
		"payload":  payload,
		"dataType": map[string]interface{}{"mimeType": msg.DataType.MimeType, "encoding": msg.DataType.Encoding},
		"inbound":  env["inbound"],
		"outbound": env["outbound"],
	}
	env["vars"] = event.Variables
	session := map[string]interface{}{}
	if event.Session != nil {
		session = event.Session.Properties
	}
	env["session"] = session
	env["event"] = map[string]interface{}{
		"id":            event.Id,
		"correlationId": event.CorrelationId,
		"flowName":      event.FlowName,
	}
	return env
}

// Program is a compiled expression.
type Program struct {
	Source  string
	program *vm.Program
}

// Compile compiles source. Undefined variables evaluate to nil.
func Compile(source string) (*Program, error) {
	p, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, types.NewTypedError(types.ErrorExpression, err)
	}
	return &Program{Source: source, program: p}, nil
}

// CompileBool compiles a predicate.
func CompileBool(source string) (*Program, error) {
	p, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, types.NewTypedError(types.ErrorExpression, err)
	}
	return &Program{Source: source, program: p}, nil
}

// Run evaluates the program in env.
func (p *Program) Run(env map[string]interface{}) (interface{}, error) {
	out, err := vm.Run(p.program, env)
	if err != nil {
		return nil, types.NewTypedError(types.ErrorExpression, err)
	}
	return out, nil
}

// Eval evaluates the program against event.
func (p *Program) Eval(event *types.Event, global types.Properties) (interface{}, error) {
	return p.Run(Env(event, global))
}

// EvalBool evaluates a predicate against event.
func (p *Program) EvalBool(event *types.Event, global types.Properties) (bool, error) {
	out, err := p.Eval(event, global)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, types.NewTypedError(types.ErrorExpression, fmt.Errorf("expression %q did not return a boolean", p.Source))
	}
	return b, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// Template renders strings such as "order ${payload.id} from ${inbound.host}".
// A template that is exactly one ${...} evaluates to the raw value instead of a string.
type Template struct {
	Source string
	parts  []templatePart
	single *Program
}

type templatePart struct {
	text    string
	program *Program
}

// NewTemplate parses tmpl.
func NewTemplate(tmpl string) (*Template, error) {
	t := &Template{Source: tmpl}
	trimmed := strings.TrimSpace(tmpl)
	if loc := varPattern.FindStringIndex(trimmed); loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
		p, err := Compile(trimmed[2 : len(trimmed)-1])
		if err != nil {
			return nil, err
		}
		t.single = p
		return t, nil
	}
	last := 0
	for _, m := range varPattern.FindAllStringSubmatchIndex(tmpl, -1) {
		if m[0] > last {
			t.parts = append(t.parts, templatePart{text: tmpl[last:m[0]]})
		}
		p, err := Compile(tmpl[m[2]:m[3]])
		if err != nil {
			return nil, err
		}
		t.parts = append(t.parts, templatePart{program: p})
		last = m[1]
	}
	if last < len(tmpl) {
		t.parts = append(t.parts, templatePart{text: tmpl[last:]})
	}
	return t, nil
}

// HasVar reports whether the template contains any ${...}.
func (t *Template) HasVar() bool {
	if t.single != nil {
		return true
	}
	for _, p := range t.parts {
		if p.program != nil {
			return true
		}
	}
	return false
}

// Execute renders the template in env.
func (t *Template) Execute(env map[string]interface{}) (interface{}, error) {
	if t.single != nil {
		return t.single.Run(env)
	}
	var sb strings.Builder
	for _, p := range t.parts {
		if p.program == nil {
			sb.WriteString(p.text)
			continue
		}
		v, err := p.program.Run(env)
		if err != nil {
			return nil, err
		}
		if v != nil {
			sb.WriteString(fmt.Sprint(v))
		}
	}
	return sb.String(), nil
}

// ExecuteAsString renders the template and formats a non string result.
func (t *Template) ExecuteAsString(env map[string]interface{}) (string, error) {
	v, err := t.Execute(env)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}
