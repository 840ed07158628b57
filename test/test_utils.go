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

package test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/utils/reflect"
)

// ComponentProvider is a set of component prototypes, such as a package Registry.
type ComponentProvider interface {
	Components() []types.Component
}

func lookup(componentType string, registry ComponentProvider) types.Component {
	for _, component := range registry.Components() {
		if component.Type() == componentType {
			return component
		}
	}
	return nil
}

// CreateAndInitComponent creates a component of the given type and initialises it.
func CreateAndInitComponent(componentType string, configuration types.Configuration, registry ComponentProvider) (types.Component, error) {
	return CreateAndInitComponentWithConfig(types.NewConfig(types.WithLogger(types.NopLogger())), componentType, configuration, registry)
}

func CreateAndInitComponentWithConfig(config types.Config, componentType string, configuration types.Configuration, registry ComponentProvider) (types.Component, error) {
	prototype := lookup(componentType, registry)
	if prototype == nil {
		return nil, fmt.Errorf("component type %s not found", componentType)
	}
	c := prototype.New()
	return c, c.Init(config, configuration)
}

// ComponentNew checks the prototype creates a component of the same type with the given defaults.
func ComponentNew(t *testing.T, componentType string, target types.Component, defaults types.Configuration, registry ComponentProvider) {
	prototype := lookup(componentType, registry)
	require.NotNil(t, prototype, componentType)
	c := prototype.New()
	assert.Equal(t, componentType, c.Type())
	assert.IsType(t, target, c)
	assertFields(t, c, defaults)
}

// ComponentInit initialises a component and checks the resulting configuration.
func ComponentInit(t *testing.T, componentType string, configuration types.Configuration, expected types.Configuration, registry ComponentProvider) {
	c, err := CreateAndInitComponent(componentType, configuration, registry)
	require.Nil(t, err)
	assertFields(t, c, expected)
}

func assertFields(t *testing.T, c types.Component, expected types.Configuration) {
	form := reflect.GetComponentForm(c)
	for k, v := range expected {
		field, ok := form.Field(k)
		if assert.True(t, ok, "field %s", k) {
			assert.Equal(t, v, field.DefaultValue, "field %s", k)
		}
	}
}

// Run processes ev with c as the last step of a chain.
func Run(ctx context.Context, c types.Processor, ev *types.Event) (*types.Event, error) {
	if ip, ok := c.(types.InterceptingProcessor); ok {
		return ip.Intercept(ctx, ev, types.PassThrough)
	}
	return c.Process(ctx, ev)
}

// Upper is a transformer that upper-cases string payloads.
type Upper struct{}

func (Upper) Transform(_ context.Context, msg *types.Message) (*types.Message, error) {
	out := msg.Copy()
	out.Payload = strings.ToUpper(msg.PayloadString())
	return out, nil
}

func (Upper) ReturnDataType() types.DataType {
	return types.DataType{MimeType: types.MimeTypeText}
}
