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
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/test"
)

func TestLog(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		test.ComponentNew(t, "log", &Log{}, types.Configuration{"message": "${payload}", "level": "INFO"}, Registry)
	})

	t.Run("Template", func(t *testing.T) {
		var buf bytes.Buffer
		config := types.NewConfig(types.WithLogger(types.NewZeroLogger(zerolog.New(&buf))))
		c, err := test.CreateAndInitComponentWithConfig(config, "log", types.Configuration{
			"message":  "order ${vars.id}",
			"level":    "warn",
			"category": "orders",
		}, Registry)
		require.Nil(t, err)
		ev := test.NewTextEvent("x", types.WithVariables(map[string]interface{}{"id": 9}))
		out, err := c.Process(context.Background(), ev)
		require.Nil(t, err)
		assert.Same(t, ev, out)
		assert.Contains(t, buf.String(), `"level":"warn"`)
		assert.Contains(t, buf.String(), `"category":"orders"`)
		assert.Contains(t, buf.String(), "order 9")
	})

	t.Run("Script", func(t *testing.T) {
		var buf bytes.Buffer
		config := types.NewConfig(types.WithLogger(types.NewZeroLogger(zerolog.New(&buf))))
		c, err := test.CreateAndInitComponentWithConfig(config, "log", types.Configuration{
			"jsScript": "return 'payload=' + msg.payload;",
		}, Registry)
		require.Nil(t, err)
		_, err = c.Process(context.Background(), test.NewTextEvent("abc"))
		require.Nil(t, err)
		assert.Contains(t, buf.String(), "payload=abc")

		c, err = test.CreateAndInitComponent("log", types.Configuration{"jsScript": "return 1;"}, Registry)
		require.Nil(t, err)
		_, err = c.Process(context.Background(), test.NewTextEvent("abc"))
		assert.NotNil(t, err)
	})

	t.Run("BadLevel", func(t *testing.T) {
		_, err := test.CreateAndInitComponent("log", types.Configuration{"level": "trace"}, Registry)
		assert.NotNil(t, err)
	})
}
