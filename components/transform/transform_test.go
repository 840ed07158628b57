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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/test"
)

func TestExprTransform(t *testing.T) {
	t.Run("Expr", func(t *testing.T) {
		c, err := test.CreateAndInitComponent("transform/expr", types.Configuration{
			"expr": "upper(payload) + '-' + vars.suffix",
		}, Registry)
		require.Nil(t, err)
		ev := test.NewTextEvent("abc", types.WithVariables(map[string]interface{}{"suffix": "1"}))
		out, err := c.Process(context.Background(), ev)
		require.Nil(t, err)
		assert.Equal(t, "ABC-1", out.Message.Payload)
		assert.Equal(t, "abc", ev.Message.Payload)
	})

	t.Run("Mapping", func(t *testing.T) {
		c, err := test.CreateAndInitComponent("transform/expr", types.Configuration{
			"mapping": map[string]string{"name": "payload", "len": "len(payload)"},
		}, Registry)
		require.Nil(t, err)
		out, err := c.Process(context.Background(), test.NewTextEvent("abc"))
		require.Nil(t, err)
		assert.Equal(t, map[string]interface{}{"name": "abc", "len": 3}, out.Message.Payload)
		assert.Equal(t, types.MimeTypeJson, out.Message.DataType.MimeType)

		msg, err := c.(types.Transformer).Transform(context.Background(), types.NewMessage("xy"))
		require.Nil(t, err)
		assert.Equal(t, 2, msg.Payload.(map[string]interface{})["len"])
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := test.CreateAndInitComponent("transform/expr", types.Configuration{}, Registry)
		assert.NotNil(t, err)
		c, err := test.CreateAndInitComponent("transform/expr", types.Configuration{"expr": "1 / vars.missing.x"}, Registry)
		require.Nil(t, err)
		_, err = c.Process(context.Background(), test.NewTextEvent("a"))
		assert.Equal(t, types.ErrorExpression, types.ResolveErrorType(err))
	})
}

func TestJsTransform(t *testing.T) {
	t.Run("PassThrough", func(t *testing.T) {
		c, err := test.CreateAndInitComponent("transform/js", types.Configuration{}, Registry)
		require.Nil(t, err)
		ev := test.NewTextEvent("a")
		out, err := c.Process(context.Background(), ev)
		require.Nil(t, err)
		assert.Same(t, ev, out)
	})

	t.Run("Script", func(t *testing.T) {
		c, err := test.CreateAndInitComponent("transform/js", types.Configuration{
			"jsScript": "msg.payload.total = msg.payload.qty * 2; msg.outbound.checked = 'yes'; vars.seen = true; return msg;",
		}, Registry)
		require.Nil(t, err)
		defer c.Destroy()
		ev := types.NewEvent(types.NewMessage(`{"qty":4}`))
		ev.Message.DataType.MimeType = types.MimeTypeJson
		out, err := c.Process(context.Background(), ev)
		require.Nil(t, err)
		payload := out.Message.Payload.(map[string]interface{})
		assert.EqualValues(t, 8, payload["total"])
		assert.Equal(t, "yes", out.Message.OutboundProperties.GetString("checked"))
		assert.Equal(t, true, out.Variables["seen"])
		_, seen := ev.Variables["seen"]
		assert.False(t, seen)
	})

	t.Run("BadReturn", func(t *testing.T) {
		c, err := test.CreateAndInitComponent("transform/js", types.Configuration{"jsScript": "return 1;"}, Registry)
		require.Nil(t, err)
		_, err = c.Process(context.Background(), test.NewTextEvent("a"))
		assert.ErrorIs(t, err, ErrJsTransformReturnFormat)
		assert.Equal(t, types.ErrorTransformation, types.ResolveErrorType(err))
	})
}

func TestSetComponents(t *testing.T) {
	ctx := context.Background()
	ev := test.NewTextEvent("abc")
	ev.Message.InboundProperties.Put("id", "42")

	payload, err := test.CreateAndInitComponent("transform/setPayload", types.Configuration{
		"value":    "order ${inbound.id}",
		"mimeType": types.MimeTypeText,
	}, Registry)
	require.Nil(t, err)
	out, err := payload.Process(ctx, ev)
	require.Nil(t, err)
	assert.Equal(t, "order 42", out.Message.Payload)

	prop, err := test.CreateAndInitComponent("transform/setProperty", types.Configuration{
		"name":  "orderId",
		"value": "${inbound.id}",
	}, Registry)
	require.Nil(t, err)
	out, err = prop.Process(ctx, out)
	require.Nil(t, err)
	assert.Equal(t, "42", out.Message.OutboundProperties.Get("orderId"))

	session, err := test.CreateAndInitComponent("transform/setProperty", types.Configuration{
		"name":  "user",
		"value": "bob",
		"scope": "session",
	}, Registry)
	require.Nil(t, err)
	out, err = session.Process(ctx, out)
	require.Nil(t, err)
	assert.Equal(t, "bob", out.Session.Properties["user"])
	_, ok := ev.Session.Properties["user"]
	assert.False(t, ok)

	variable, err := test.CreateAndInitComponent("transform/setVariable", types.Configuration{
		"name":  "count",
		"value": 3,
	}, Registry)
	require.Nil(t, err)
	out, err = variable.Process(ctx, out)
	require.Nil(t, err)
	assert.Equal(t, 3, out.Variables["count"])

	remove, err := test.CreateAndInitComponent("transform/setVariable", types.Configuration{"name": "count", "remove": true}, Registry)
	require.Nil(t, err)
	out, err = remove.Process(ctx, out)
	require.Nil(t, err)
	_, ok = out.Variables["count"]
	assert.False(t, ok)

	_, err = test.CreateAndInitComponent("transform/setProperty", types.Configuration{"name": "x", "scope": "inbound"}, Registry)
	assert.NotNil(t, err)
	_, err = test.CreateAndInitComponent("transform/setVariable", types.Configuration{}, Registry)
	assert.NotNil(t, err)
}

func TestByteArrayToString(t *testing.T) {
	c, err := test.CreateAndInitComponent("transform/byteArrayToString", types.Configuration{}, Registry)
	require.Nil(t, err)

	ev := types.NewEvent(types.NewMessage([]byte("héllo")))
	out, err := c.Process(context.Background(), ev)
	require.Nil(t, err)
	assert.Equal(t, "héllo", out.Message.Payload)
	assert.Equal(t, types.MimeTypeText, out.Message.DataType.MimeType)

	latin1 := types.NewEvent(types.NewMessage([]byte{'h', 0xe9}))
	latin1.Message.DataType.Encoding = "ISO-8859-1"
	out, err = c.Process(context.Background(), latin1)
	require.Nil(t, err)
	assert.Equal(t, "hé", out.Message.Payload)

	text := test.NewTextEvent("already")
	out, err = c.Process(context.Background(), text)
	require.Nil(t, err)
	assert.Same(t, text, out)

	_, err = test.CreateAndInitComponent("transform/byteArrayToString", types.Configuration{"encoding": "no-such-charset"}, Registry)
	assert.NotNil(t, err)
}
