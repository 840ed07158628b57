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


package security

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/test"
)

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.Nil(t, err)
	return token
}

func TestJwtFilter(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		test.ComponentNew(t, "security/jwt", &JwtFilter{}, types.Configuration{
			"tokenProperty":  DefaultTokenProperty,
			"claimsVariable": DefaultClaimsVariable,
		}, Registry)
	})

	t.Run("Init", func(t *testing.T) {
		_, err := test.CreateAndInitComponent("security/jwt", types.Configuration{}, Registry)
		assert.Equal(t, "secret can not be empty", err.Error())

		config := types.NewConfig(types.WithLogger(types.NopLogger()))
		config.Properties.Put("jwtSecret", "s3cret")
		c, err := test.CreateAndInitComponentWithConfig(config, "security/jwt", types.Configuration{"secret": "${jwtSecret}"}, Registry)
		require.Nil(t, err)
		assert.Equal(t, []byte("s3cret"), c.(*JwtFilter).key)
	})

	c, err := test.CreateAndInitComponent("security/jwt", types.Configuration{
		"secret": "s3cret",
		"issuer": "orders-api",
	}, Registry)
	require.Nil(t, err)
	f := c.(*JwtFilter)
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("Accepted", func(t *testing.T) {
		r := test.NewRecorder()
		ev := test.NewTextEvent("order")
		ev.Message.InboundProperties.Put("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, []byte("s3cret"),
			jwt.MapClaims{"sub": "alice", "iss": "orders-api", "exp": exp}))
		out, err := f.Intercept(context.Background(), ev, test.Sensor("next", r))
		require.Nil(t, err)
		assert.Equal(t, []string{"next"}, r.Entries())
		claims := out.Variables[DefaultClaimsVariable].(map[string]interface{})
		assert.Equal(t, "alice", claims["sub"])
		assert.Equal(t, "alice", out.Session.Properties[PrincipalProperty])
	})

	rejected := map[string]string{
		"Missing":     "",
		"BadKey":      sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"iss": "orders-api", "exp": exp}),
		"WrongIssuer": sign(t, jwt.SigningMethodHS512, []byte("s3cret"), jwt.MapClaims{"iss": "billing", "exp": exp}),
		"Expired":     sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"iss": "orders-api", "exp": time.Now().Add(-time.Hour).Unix()}),
		"Unsigned":    sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"iss": "orders-api", "exp": exp}),
		"Garbage":     "not-a-token",
	}
	for name, token := range rejected {
		t.Run(name, func(t *testing.T) {
			r := test.NewRecorder()
			ev := test.NewTextEvent("order")
			if token != "" {
				ev.Message.InboundProperties.Put("Authorization", token)
			}
			out, err := f.Intercept(context.Background(), ev, test.Sensor("next", r))
			assert.Nil(t, out)
			assert.Equal(t, types.ErrorSecurity, types.ResolveErrorType(err))
			assert.Empty(t, r.Entries())
		})
	}

	t.Run("CustomProperty", func(t *testing.T) {
		c, err := test.CreateAndInitComponent("security/jwt", types.Configuration{
			"secret":         "s3cret",
			"tokenProperty":  "X-Token",
			"claimsVariable": "caller",
		}, Registry)
		require.Nil(t, err)
		ev := test.NewTextEvent("order")
		ev.Message.InboundProperties.Put("X-Token", sign(t, jwt.SigningMethodHS384, []byte("s3cret"), jwt.MapClaims{"role": "admin"}))
		out, err := test.Run(context.Background(), c.(types.Processor), ev)
		require.Nil(t, err)
		assert.Equal(t, "admin", out.Variables["caller"].(map[string]interface{})["role"])
	})
}
