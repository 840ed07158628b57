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

// Package reflect describes the configuration of components.
//
// A component keeps its settings in a field named Config or config. A types.Config
// field is the runtime configuration and is never taken for the settings. ComponentForm
// reads that struct and reports every exported field with its DSL name and default value.
package reflect

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/rulego/esb/api/types"
)

var (
	processorType = reflect.TypeOf((*types.Processor)(nil)).Elem()
	// runtimeConfigType is the types.Config a component receives in Init, never its settings.
	runtimeConfigType = reflect.TypeOf(types.Config{})
)

// ComponentForm describes a component type and its configuration fields.
type ComponentForm struct {
	Type     string      `json:"type"`
	Label    string      `json:"label"`
	Category string      `json:"category"`
	Desc     string      `json:"desc,omitempty"`
	Fields   []FormField `json:"fields"`
	// Intercepting components wrap the rest of the chain.
	Intercepting bool `json:"intercepting"`
}

// FormField is one configuration field.
type FormField struct {
	Name         string                   `json:"name"`
	Type         string                   `json:"type"`
	DefaultValue interface{}              `json:"defaultValue"`
	Label        string                   `json:"label,omitempty"`
	Desc         string                   `json:"desc,omitempty"`
	Rules        []map[string]interface{} `json:"rules,omitempty"`
	Fields       []FormField              `json:"fields,omitempty"`
}

// Field returns the field with the given DSL name.
func (f ComponentForm) Field(name string) (FormField, bool) {
	for _, field := range f.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FormField{}, false
}

// GetComponentForm builds the form of component from its Config field.
func GetComponentForm(component types.Component) ComponentForm {
	t, configField, configValue := GetComponentConfig(component)
	form := ComponentForm{
		Type:   component.Type(),
		Label:  t.Name(),
		Fields: GetFields(configField, configValue),
	}
	form.Category = form.Type
	if i := strings.Index(form.Type, "/"); i > 0 {
		form.Category = form.Type[:i]
	}
	if _, ok := component.(types.InterceptingProcessor); ok {
		form.Intercepting = true
	}
	if d, ok := component.(interface{ Desc() string }); ok {
		form.Desc = d.Desc()
	}
	return form
}

// GetComponentConfig returns the component struct type and its config field and value.
func GetComponentConfig(component interface{}) (reflect.Type, reflect.StructField, reflect.Value) {
	t := reflect.TypeOf(component)
	v := reflect.ValueOf(component)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
		v = v.Elem()
	}
	for _, name := range []string{"Config", "config"} {
		field, ok := t.FieldByName(name)
		if !ok || field.Type.Kind() != reflect.Struct || field.Type == runtimeConfigType {
			continue
		}
		return t, field, v.FieldByName(name)
	}
	return t, reflect.StructField{}, reflect.Value{}
}

// GetFields lists the exported fields of the config struct.
func GetFields(configField reflect.StructField, configValue reflect.Value) []FormField {
	if configField.Type == nil || configField.Type.Kind() != reflect.Struct {
		return nil
	}
	var fields []FormField
	for i := 0; i < configField.Type.NumField(); i++ {
		field := configField.Type.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		var defaultValue interface{}
		if configValue.IsValid() && configValue.Field(i).CanInterface() {
			defaultValue = configValue.Field(i).Interface()
		}
		typeName := field.Type.Name()
		var subFields []FormField
		switch field.Type.Kind() {
		case reflect.Map:
			typeName = "map"
		case reflect.Slice, reflect.Array:
			typeName = "array"
		case reflect.Interface:
			typeName = "any"
			if field.Type.Implements(processorType) {
				typeName = "ref"
			}
		case reflect.Struct:
			typeName = "struct"
			subFields = GetFields(field, configValue.Field(i))
		}
		var rules []map[string]interface{}
		if required, _ := strconv.ParseBool(field.Tag.Get("required")); required {
			rules = append(rules, map[string]interface{}{"required": true, "message": "This field is required"})
		}
		if tag := field.Tag.Get("rules"); tag != "" {
			var tagRules []map[string]interface{}
			if err := json.Unmarshal([]byte(tag), &tagRules); err == nil {
				rules = append(rules, tagRules...)
			}
		}
		name := jsonTag
		if i := strings.Index(name, ","); i != -1 {
			name = name[:i]
		}
		if name == "" {
			name = lowerFirst(field.Name)
		}
		fields = append(fields, FormField{
			Name:         name,
			Type:         typeName,
			DefaultValue: defaultValue,
			Label:        field.Tag.Get("label"),
			Desc:         field.Tag.Get("desc"),
			Rules:        rules,
			Fields:       subFields,
		})
	}
	return fields
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
