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

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
	"github.com/rulego/esb/endpoint/processor"
)

func init() {
	Registry.Add(&MimeTypeFilter{})
}

// MimeTypeFilterConfiguration configures MimeTypeFilter.
type MimeTypeFilterConfiguration struct {
	// MimeType may use wildcards, e.g. text/*.
	MimeType          string
	Unaccepted        types.Processor
	ThrowOnUnaccepted bool
}

// MimeTypeFilter accepts events whose message data type matches MimeType.
type MimeTypeFilter struct {
	Config MimeTypeFilterConfiguration
}

func (x *MimeTypeFilter) Type() string {
	return "filter/mimeType"
}

func (x *MimeTypeFilter) New() types.Component {
	return &MimeTypeFilter{}
}

func (x *MimeTypeFilter) Init(_ types.Config, configuration types.Configuration) error {
	if err := base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.MimeType == "" {
		return errors.New("mimeType can not be empty")
	}
	return nil
}

func (x *MimeTypeFilter) Intercept(ctx context.Context, event *types.Event, next types.Processor) (*types.Event, error) {
	actual := event.Message.DataType.MimeType
	accepted := actual != "" && processor.MimeTypeMatches(x.Config.MimeType, actual)
	f := base.Filter{Unaccepted: x.Config.Unaccepted, ThrowOnUnaccepted: x.Config.ThrowOnUnaccepted}
	return f.Route(ctx, event, accepted, next, x.Type())
}

func (x *MimeTypeFilter) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	return x.Intercept(ctx, event, types.PassThrough)
}

func (x *MimeTypeFilter) Destroy() {
}
