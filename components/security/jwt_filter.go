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
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
	"github.com/rulego/esb/utils/str"
)

const (
	DefaultTokenProperty  = "Authorization"
	DefaultClaimsVariable = "claims"
	// PrincipalProperty is the session property holding the token subject.
	PrincipalProperty = "principal"
)

var hmacMethods = []string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}

func init() {
	Registry.Add(&JwtFilter{})
}

// JwtFilterConfiguration configures JwtFilter.
type JwtFilterConfiguration struct {
	// Secret is the HMAC key. ${name} refers to a config property.
	Secret string
	// TokenProperty is the inbound property carrying the token, with or without the Bearer prefix.
	TokenProperty string
	Issuer        string
	Audience      string
	// ClaimsVariable is the flow variable receiving the verified claims.
	ClaimsVariable string
}

// JwtFilter lets through events carrying a valid HMAC signed token.
type JwtFilter struct {
	Config JwtFilterConfiguration
	key    []byte
	opts   []jwt.ParserOption
}

func (x *JwtFilter) Type() string {
	return "security/jwt"
}

func (x *JwtFilter) New() types.Component {
	return &JwtFilter{Config: JwtFilterConfiguration{TokenProperty: DefaultTokenProperty, ClaimsVariable: DefaultClaimsVariable}}
}

func (x *JwtFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	secret := str.ExecuteTemplate(x.Config.Secret, config.Properties)
	if strings.TrimSpace(secret) == "" {
		return errors.New("secret can not be empty")
	}
	if x.Config.TokenProperty == "" {
		x.Config.TokenProperty = DefaultTokenProperty
	}
	if x.Config.ClaimsVariable == "" {
		x.Config.ClaimsVariable = DefaultClaimsVariable
	}
	x.key = []byte(secret)
	x.opts = []jwt.ParserOption{jwt.WithValidMethods(hmacMethods)}
	if x.Config.Issuer != "" {
		x.opts = append(x.opts, jwt.WithIssuer(x.Config.Issuer))
	}
	if x.Config.Audience != "" {
		x.opts = append(x.opts, jwt.WithAudience(x.Config.Audience))
	}
	return nil
}

func (x *JwtFilter) Intercept(ctx context.Context, event *types.Event, next types.Processor) (*types.Event, error) {
	claims, err := x.verify(event)
	if err != nil {
		return nil, types.NewTypedError(types.ErrorSecurity, err)
	}
	if event.Variables == nil {
		event.Variables = make(map[string]interface{})
	}
	event.Variables[x.Config.ClaimsVariable] = map[string]interface{}(claims)
	if sub, err := claims.GetSubject(); err == nil && sub != "" && event.Session != nil {
		if event.Session.Properties == nil {
			event.Session.Properties = make(map[string]interface{})
		}
		event.Session.Properties[PrincipalProperty] = sub
	}
	return next.Process(ctx, event)
}

func (x *JwtFilter) verify(event *types.Event) (jwt.MapClaims, error) {
	raw := strings.TrimSpace(event.Message.InboundProperties.GetString(x.Config.TokenProperty))
	if raw == "" {
		return nil, errors.New("missing token in " + x.Config.TokenProperty)
	}
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return x.key, nil
	}, x.opts...); err != nil {
		return nil, err
	}
	return claims, nil
}

func (x *JwtFilter) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	return x.Intercept(ctx, event, types.PassThrough)
}

func (x *JwtFilter) Parameters(_ *types.Event) map[string]interface{} {
	return map[string]interface{}{"tokenProperty": x.Config.TokenProperty, "issuer": x.Config.Issuer}
}

func (x *JwtFilter) Destroy() {
}
