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
	"errors"
	"strings"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
)

func init() {
	Registry.Add(&WildcardFilter{})
}

// WildcardFilterConfiguration configures WildcardFilter.
type WildcardFilterConfiguration struct {
	// Pattern is a comma separated list such as "*.xml,order-*". A star is
	// allowed at the start, the end or both.
	Pattern           string
	CaseSensitive     bool
	Unaccepted        types.Processor
	ThrowOnUnaccepted bool
}

// WildcardFilter matches the payload string against wildcard patterns.
type WildcardFilter struct {
	Config   WildcardFilterConfiguration
	patterns []string
}

func (x *WildcardFilter) Type() string {
	return "filter/wildcard"
}

func (x *WildcardFilter) New() types.Component {
	return &WildcardFilter{Config: WildcardFilterConfiguration{CaseSensitive: true}}
}

func (x *WildcardFilter) Init(_ types.Config, configuration types.Configuration) error {
	if err := base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	x.patterns = nil
	for _, p := range strings.Split(x.Config.Pattern, ",") {
		if p = strings.TrimSpace(p); p != "" {
			if !x.Config.CaseSensitive {
				p = strings.ToLower(p)
			}
			x.patterns = append(x.patterns, p)
		}
	}
	if len(x.patterns) == 0 {
		return errors.New("pattern can not be empty")
	}
	return nil
}

// Accept reports whether s matches any pattern.
func (x *WildcardFilter) Accept(s string) bool {
	if !x.Config.CaseSensitive {
		s = strings.ToLower(s)
	}
	for _, p := range x.patterns {
		if wildcardMatch(p, s) {
			return true
		}
	}
	return false
}

func wildcardMatch(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	prefix := strings.HasPrefix(pattern, "*")
	suffix := strings.HasSuffix(pattern, "*")
	core := strings.Trim(pattern, "*")
	switch {
	case prefix && suffix:
		return strings.Contains(s, core)
	case prefix:
		return strings.HasSuffix(s, core)
	case suffix:
		return strings.HasPrefix(s, core)
	default:
		return s == pattern
	}
}

func (x *WildcardFilter) Intercept(ctx context.Context, event *types.Event, next types.Processor) (*types.Event, error) {
	f := base.Filter{Unaccepted: x.Config.Unaccepted, ThrowOnUnaccepted: x.Config.ThrowOnUnaccepted}
	return f.Route(ctx, event, x.Accept(event.Message.PayloadString()), next, x.Type())
}

func (x *WildcardFilter) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	return x.Intercept(ctx, event, types.PassThrough)
}

func (x *WildcardFilter) Destroy() {
}
