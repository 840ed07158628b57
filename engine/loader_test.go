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

package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/filter"
	"github.com/rulego/esb/components/redelivery"
	"github.com/rulego/esb/flow"
	"github.com/rulego/esb/test"
	"github.com/rulego/esb/transaction"
)

const ordersDsl = `{
  "id": "orders",
  "connectors": [{"name": "queues", "protocol": "vm", "configuration": {"consumers": 1}}],
  "endpoints": [{"name": "orders-in", "address": "vm://orders", "exchangePattern": "request-response"}],
  "processors": [{"id": "done", "type": "transform/setPayload", "configuration": {"value": "done"}}],
  "flows": [
    {
      "name": "orders",
      "source": {"ref": "orders-in", "name": "orders-source"},
      "processors": [{"ref": "audit"}, {"ref": "enrich"}, {"ref": "done"}]
    },
    {"name": "enrich", "processors": [{"ref": "audit"}]},
    {
      "name": "broken",
      "processors": [{"ref": "missing"}],
      "exceptionStrategy": {
        "type": "choice",
        "strategies": [{
          "type": "catch",
          "errorTypes": ["ROUTING"],
          "processors": [{"type": "transform/setPayload", "configuration": {"value": "recovered"}}]
        }]
      }
    }
  ]
}`

func TestLoad(t *testing.T) {
	ctx := newContext(t)
	r := test.NewRecorder()
	require.NoError(t, ctx.RegisterProcessor("audit", test.Sensor("audit", r)))
	require.NoError(t, ctx.Load([]byte(ordersDsl)))
	require.NoError(t, ctx.Start())

	def := ctx.Definition()
	require.NotNil(t, def)
	assert.Equal(t, "orders", def.Id)
	assert.Len(t, ctx.Flows(), 3)
	conn, ok := ctx.Connectors().Connector("queues")
	require.True(t, ok)
	assert.Equal(t, "vm", conn.Protocol())
	source, ok := ctx.Endpoints().Inbound("orders-source")
	require.True(t, ok)
	assert.Equal(t, types.RequestResponse, source.ExchangePattern())

	out, err := outbound(t, ctx, "vm://orders", types.RequestResponse).Process(context.Background(), test.NewTextEvent("order"))
	require.NoError(t, err)
	assert.Equal(t, "done", out.Message.Payload)
	assert.Equal(t, []string{"audit", "audit"}, r.Entries())

	broken, ok := ctx.Flow("broken")
	require.True(t, ok)
	out, err = broken.Process(context.Background(), test.NewTextEvent("x"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", out.Message.Payload)
	assert.Nil(t, out.Error)
	caught, ok := out.Variables[flow.CaughtErrorVariable].(*types.Error)
	require.True(t, ok)
	assert.True(t, caught.Type.IsA(types.ErrorRouting))
}

func TestUnresolvedReference(t *testing.T) {
	ctx := newContext(t)
	require.NoError(t, ctx.Load([]byte(`{"flows": [{"name": "main", "processors": [{"ref": "nowhere"}]}]}`)))
	require.NoError(t, ctx.Start())
	f, _ := ctx.Flow("main")
	_, err := f.Process(context.Background(), test.NewTextEvent("x"))
	require.Error(t, err)
	assert.True(t, types.ResolveErrorType(err).IsA(types.ErrorRouting))
}

func TestComponentReferences(t *testing.T) {
	ctx := newContext(t)

	component, err := ctx.newComponent(RedeliveryComponent, types.Configuration{"maxRedeliveryCount": 1, "deadLetterQueue": "dlq"})
	require.NoError(t, err)
	policy, ok := component.(*redelivery.IdempotentPolicy)
	require.True(t, ok)
	ref, ok := policy.Config.DeadLetterQueue.(*reference)
	require.True(t, ok)
	assert.Equal(t, "dlq", ref.Name())

	component, err = ctx.newComponent("filter/expr", types.Configuration{
		"expr":       `payload == "ok"`,
		"unaccepted": map[string]interface{}{"type": "transform/setPayload", "configuration": map[string]interface{}{"value": "rejected"}},
	})
	require.NoError(t, err)
	exprFilter := component.(*filter.ExprFilter)
	require.NotNil(t, exprFilter.Config.Unaccepted)
	out, err := exprFilter.Config.Unaccepted.Process(context.Background(), test.NewTextEvent("bad"))
	require.NoError(t, err)
	assert.Equal(t, "rejected", out.Message.Payload)

	_, err = ctx.newComponent("flow/ref", types.Configuration{"flow": 42})
	assert.Error(t, err)
}

const deadLetterDsl = `{
  "flows": [
    {
      "name": "payments",
      "processors": [
        {"type": "redelivery/idempotent", "configuration": {"maxRedeliveryCount": 1, "deadLetterQueue": "parked"}},
        {"type": "filter/expr", "configuration": {"expr": "payload != 'poison'", "throwOnUnaccepted": true}}
      ]
    },
    {"name": "parked", "processors": [{"type": "transform/setPayload", "configuration": {"value": "parked"}}]}
  ]
}`

func TestDeadLetterQueueReference(t *testing.T) {
	ctx := newContext(t)
	require.NoError(t, ctx.Load([]byte(deadLetterDsl)))
	require.NoError(t, ctx.Start())
	payments, ok := ctx.Flow("payments")
	require.True(t, ok)

	for i := 0; i < 2; i++ {
		_, err := payments.Process(context.Background(), test.NewTextEvent("poison"))
		require.Error(t, err, "delivery %d", i+1)
	}
	out, err := payments.Process(context.Background(), test.NewTextEvent("poison"))
	require.NoError(t, err)
	assert.Equal(t, "parked", out.Message.Payload)

	out, err = payments.Process(context.Background(), test.NewTextEvent("fine"))
	require.NoError(t, err)
	assert.Equal(t, "fine", out.Message.Payload)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		dsl  string
	}{
		{"invalid json", `{"flows": [`},
		{"unknown component", `{"flows": [{"name": "f", "processors": [{"type": "nope"}]}]}`},
		{"empty processor", `{"flows": [{"name": "f", "processors": [{}]}]}`},
		{"unknown protocol", `{"connectors": [{"name": "c", "protocol": "carrier-pigeon"}]}`},
		{"connector without name", `{"connectors": [{"protocol": "vm"}]}`},
		{"global processor without id", `{"processors": [{"type": "log"}]}`},
		{"global endpoint without name", `{"endpoints": [{"address": "vm://a"}]}`},
		{"endpoint without address", `{"flows": [{"name": "f", "source": {"name": "in"}}]}`},
		{"unknown global endpoint", `{"flows": [{"name": "f", "source": {"ref": "in"}}]}`},
		{"ref and address", `{"endpoints": [{"name": "in", "address": "vm://in"}], "flows": [{"name": "f", "source": {"ref": "in", "address": "vm://x"}}]}`},
		{"unknown exchange pattern", `{"flows": [{"name": "f", "source": {"address": "vm://in", "exchangePattern": "maybe"}}]}`},
		{"bad response timeout", `{"flows": [{"name": "f", "source": {"address": "vm://in", "responseTimeout": "soon"}}]}`},
		{"unknown error type", `{"flows": [{"name": "f", "exceptionStrategy": {"type": "catch", "errorTypes": ["OOPS"]}}]}`},
		{"unknown strategy", `{"flows": [{"name": "f", "exceptionStrategy": {"type": "ignore"}}]}`},
		{"unknown transaction action", `{"flows": [{"name": "f", "source": {"address": "vm://in", "transaction": {"action": "sometimes"}}}]}`},
		{"duplicate flow", `{"flows": [{"name": "f"}, {"name": "f"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newContext(t)
			assert.Error(t, ctx.Load([]byte(tt.dsl)))
		})
	}
}

func TestTransactionConfig(t *testing.T) {
	ctx := newContext(t)
	require.NoError(t, ctx.LoadDefinition(Definition{Connectors: []ConnectorDef{
		{Name: "store", Protocol: "db", Configuration: types.Configuration{"driverName": test.SQLDriverName, "dsn": "engine"}},
		{Name: "queues", Protocol: "vm"},
	}}))

	cfg, err := ctx.transactionConfig(TransactionDef{Action: "always-begin", Timeout: "2s"})
	require.NoError(t, err)
	assert.Equal(t, types.TxAlwaysBegin, cfg.Action)
	assert.IsType(t, transaction.MemoryFactory{}, cfg.Factory)
	assert.Equal(t, "2s", cfg.Timeout.String())

	cfg, err = ctx.transactionConfig(TransactionDef{Action: "BEGIN_OR_JOIN", Factory: "store", InteractWithExternal: true})
	require.NoError(t, err)
	assert.True(t, cfg.IsTransacted())
	assert.True(t, cfg.InteractWithExternal)

	_, err = ctx.transactionConfig(TransactionDef{Action: "BEGIN_OR_JOIN", Factory: "queues"})
	assert.Error(t, err)
	_, err = ctx.transactionConfig(TransactionDef{Action: "BEGIN_OR_JOIN", Factory: "nowhere"})
	assert.ErrorIs(t, err, types.ErrConnectorNotFound)
}

func TestRetryTemplate(t *testing.T) {
	ctx := newContext(t)
	for _, def := range []RetryDef{{}, {Count: 2, Frequency: "10ms", Multiplier: 2, MaxFrequency: "1s"}, {Forever: true, Frequency: "5"}} {
		tmpl, err := ctx.retryTemplate(def)
		require.NoError(t, err)
		assert.NotNil(t, tmpl)
	}
	_, err := ctx.retryTemplate(RetryDef{Count: 1, Frequency: "often"})
	assert.Error(t, err)

	tmpl, err := ctx.retryTemplate(RetryDef{Count: 2})
	require.NoError(t, err)
	attempts := 0
	err = tmpl.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestGlobalEndpointReferenceReused(t *testing.T) {
	ctx := newContext(t)
	require.NoError(t, ctx.Load([]byte(`{
	  "endpoints": [{"name": "stock", "address": "vm://stock", "exchangePattern": "request-response"}],
	  "flows": [
	    {"name": "inventory", "source": {"address": "vm://stock", "exchangePattern": "request-response"},
	     "processors": [{"type": "transform/setPayload", "configuration": {"value": "reserved"}}]},
	    {"name": "checkout", "processors": [{"ref": "stock"}]}
	  ]
	}`)))
	require.NoError(t, ctx.Start())
	checkout, ok := ctx.Flow("checkout")
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		out, err := checkout.Process(context.Background(), test.NewTextEvent("cart"))
		require.NoError(t, err, "message %d", i+1)
		assert.Equal(t, "reserved", out.Message.Payload)
	}
	_, ok = ctx.Endpoints().Outbound("stock")
	assert.True(t, ok)
}

func TestSecuredEndpoint(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "checkout"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	ctx := newContext(t)
	require.NoError(t, ctx.Load([]byte(fmt.Sprintf(`{
	  "flows": [
	    {"name": "stock",
	     "source": {"address": "vm://stock", "exchangePattern": "request-response",
	                "securityFilter": {"type": "security/jwt", "configuration": {"secret": "s3cret"}}},
	     "processors": [{"type": "transform/expr", "configuration": {"expr": "session.principal"}}]},
	    {"name": "trusted", "processors": [
	      {"type": "transform/setProperty", "configuration": {"name": "Authorization", "value": "Bearer %s"}},
	      {"outbound": {"address": "vm://stock", "exchangePattern": "request-response"}}
	    ]},
	    {"name": "anonymous", "processors": [
	      {"outbound": {"address": "vm://stock", "exchangePattern": "request-response"}}
	    ]}
	  ]
	}`, token))))
	require.NoError(t, ctx.Start())

	trusted, ok := ctx.Flow("trusted")
	require.True(t, ok)
	out, err := trusted.Process(context.Background(), test.NewTextEvent("reserve"))
	require.NoError(t, err)
	assert.Equal(t, "checkout", out.Message.Payload)

	anonymous, ok := ctx.Flow("anonymous")
	require.True(t, ok)
	_, err = anonymous.Process(context.Background(), test.NewTextEvent("reserve"))
	require.Error(t, err)
	assert.True(t, types.ResolveErrorType(err).IsA(types.ErrorSecurity))
}
