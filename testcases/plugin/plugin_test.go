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

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components"
	"github.com/rulego/esb/engine"
	"github.com/rulego/esb/test"
	"github.com/rulego/esb/utils/fs"
)

const pluginDsl = `{
  "processors": [{"id": "shout", "type": "test/upper"}],
  "flows": [{"name": "shout", "processors": [{"ref": "shout"}, {"type": "test/timestamp"}]}]
}`

func TestComponents(t *testing.T) {
	require.NoError(t, Plugin.Init())
	var names []string
	for _, c := range Plugin.Components() {
		names = append(names, c.Type())
	}
	assert.Equal(t, []string{"test/upper", "test/timestamp"}, names)

	ev := test.NewTextEvent("hello")
	out, err := (&Upper{}).Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out.Message.Payload)
	assert.Equal(t, "hello", ev.Message.Payload)

	out, err = (&Timestamp{}).Process(context.Background(), out)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Message.OutboundProperties.GetString("timestamp"))
}

// TestPlugin needs plugin.so built next to this file.
func TestPlugin(t *testing.T) {
	if !fs.IsExist("./plugin.so") {
		t.Skip("plugin.so not built")
	}
	_ = components.Registry.Unregister("test")
	require.NoError(t, components.Registry.RegisterPlugin("test", "./plugin.so"))
	defer components.Registry.Unregister("test")

	ctx, err := engine.NewContext("plugin", engine.WithConfig(types.NewConfig(types.WithLogger(types.NopLogger()))))
	require.NoError(t, err)
	defer ctx.Dispose()
	require.NoError(t, ctx.Load([]byte(pluginDsl)))
	require.NoError(t, ctx.Start())

	f, ok := ctx.Flow("shout")
	require.True(t, ok)
	out, err := f.Process(context.Background(), test.NewTextEvent("hello"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out.Message.Payload)
	assert.NotEmpty(t, out.Message.OutboundProperties.GetString("timestamp"))
}
