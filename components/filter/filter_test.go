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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/test"
)

func TestExprFilter(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		test.ComponentNew(t, "filter/expr", &ExprFilter{}, types.Configuration{"expr": ""}, Registry)
	})

	t.Run("Init", func(t *testing.T) {
		test.ComponentInit(t, "filter/expr", types.Configuration{"expr": "payload == 'a'"},
			types.Configuration{"expr": "payload == 'a'", "throwOnUnaccepted": false}, Registry)
		_, err := test.CreateAndInitComponent("filter/expr", types.Configuration{"expr": " "}, Registry)
		assert.Equal(t, "expr can not be empty", err.Error())
		_, err = test.CreateAndInitComponent("filter/expr", types.Configuration{"expr": "payload =="}, Registry)
		assert.Equal(t, types.ErrorExpression, types.ResolveErrorType(err))
	})

	t.Run("Intercept", func(t *testing.T) {
		r := test.NewRecorder()
		unaccepted := test.Appender("unaccepted", "-rejected", r)
		c, err := test.CreateAndInitComponent("filter/expr", types.Configuration{
			"expr":       "inbound.priority > 3 && vars.region == 'eu'",
			"unaccepted": unaccepted,
		}, Registry)
		require.Nil(t, err)
		f := c.(*ExprFilter)
		next := test.Sensor("next", r)

		ev := test.NewTextEvent("order", types.WithVariables(map[string]interface{}{"region": "eu"}))
		ev.Message.InboundProperties.Put("priority", 5)
		out, err := f.Intercept(context.Background(), ev, next)
		require.Nil(t, err)
		assert.Equal(t, "order", out.Message.Payload)

		ev.Message.InboundProperties.Put("priority", 1)
		out, err = f.Intercept(context.Background(), ev, next)
		require.Nil(t, err)
		assert.Equal(t, "order-rejected", out.Message.Payload)
		assert.Equal(t, []string{"next", "unaccepted"}, r.Entries())
	})

	t.Run("Throw", func(t *testing.T) {
		c, err := test.CreateAndInitComponent("filter/expr", types.Configuration{
			"expr":              "false",
			"throwOnUnaccepted": true,
		}, Registry)
		require.Nil(t, err)
		_, err = c.Process(context.Background(), test.NewTextEvent("x"))
		assert.Equal(t, types.ErrorRouting, types.ResolveErrorType(err))
	})
}

func TestJsFilter(t *testing.T) {
	c, err := test.CreateAndInitComponent("filter/js", types.Configuration{
		"jsScript": "return msg.payload.temperature > 50 && vars.unit === 'C';",
	}, Registry)
	require.Nil(t, err)
	defer c.Destroy()

	ev := types.NewEvent(types.NewMessage(`{"temperature":60}`), types.WithVariables(map[string]interface{}{"unit": "C"}))
	ev.Message.DataType.MimeType = types.MimeTypeJson
	out, err := c.Process(context.Background(), ev)
	require.Nil(t, err)
	assert.Same(t, ev, out)

	ev.Message.Payload = `{"temperature":20}`
	out, err = c.Process(context.Background(), ev)
	require.Nil(t, err)
	assert.Nil(t, out)

	_, err = test.CreateAndInitComponent("filter/js", types.Configuration{"jsScript": "return ("}, Registry)
	assert.NotNil(t, err)
}

func TestMimeTypeFilter(t *testing.T) {
	c, err := test.CreateAndInitComponent("filter/mimeType", types.Configuration{"mimeType": "text/*"}, Registry)
	require.Nil(t, err)

	out, err := c.Process(context.Background(), test.NewTextEvent("x"))
	require.Nil(t, err)
	assert.NotNil(t, out)

	ev := types.NewEvent(types.NewMessage("{}"))
	ev.Message.DataType.MimeType = types.MimeTypeJson
	out, err = c.Process(context.Background(), ev)
	require.Nil(t, err)
	assert.Nil(t, out)

	_, err = test.CreateAndInitComponent("filter/mimeType", types.Configuration{}, Registry)
	assert.NotNil(t, err)
}

func TestWildcardFilter(t *testing.T) {
	c, err := test.CreateAndInitComponent("filter/wildcard", types.Configuration{
		"pattern": "*.xml, order-*, *urgent*, exact",
	}, Registry)
	require.Nil(t, err)
	f := c.(*WildcardFilter)

	tests := []struct {
		in   string
		want bool
	}{
		{"a.xml", true},
		{"order-1", true},
		{"very urgent msg", true},
		{"exact", true},
		{"Exact", false},
		{"a.json", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Accept(tt.in), tt.in)
	}

	c, err = test.CreateAndInitComponent("filter/wildcard", types.Configuration{
		"pattern":       "ORDER-*",
		"caseSensitive": false,
	}, Registry)
	require.Nil(t, err)
	assert.True(t, c.(*WildcardFilter).Accept("order-9"))

	_, err = test.CreateAndInitComponent("filter/wildcard", types.Configuration{"pattern": " , "}, Registry)
	assert.NotNil(t, err)
}
