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

package flow

import (
	"context"
	"errors"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
)

var errNoTarget = errors.New("reference target not found")

func init() {
	Registry.Add(&FlowRef{})
	Registry.Add(&Ref{})
}

// FlowRefConfiguration configures FlowRef.
type FlowRefConfiguration struct {
	// Flow is the referenced flow.
	Flow types.Processor `required:"true"`
}

// FlowRef runs a referenced flow. The referenced flow applies its own exception handler
// and processing strategy, and the caller continues with the result under its own flow name.
type FlowRef struct {
	Config FlowRefConfiguration
}

func (x *FlowRef) Type() string {
	return "flow/ref"
}

func (x *FlowRef) New() types.Component {
	return &FlowRef{}
}

func (x *FlowRef) Init(_ types.Config, configuration types.Configuration) error {
	return base.Decode(x.Type(), configuration, &x.Config)
}

func (x *FlowRef) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if x.Config.Flow == nil {
		return nil, types.NewTypedError(types.ErrorRouting, errNoTarget)
	}
	caller := event.FlowName
	out, err := x.Config.Flow.Process(ctx, event)
	if out != nil {
		out.FlowName = caller
	}
	return out, err
}

func (x *FlowRef) Destroy() {
}

// RefConfiguration configures Ref.
type RefConfiguration struct {
	// Target is the referenced processor, e.g. a named outbound endpoint.
	Target types.Processor `required:"true"`
}

// Ref runs a processor declared elsewhere.
type Ref struct {
	Config RefConfiguration
}

func (x *Ref) Type() string {
	return "ref"
}

func (x *Ref) New() types.Component {
	return &Ref{}
}

func (x *Ref) Init(_ types.Config, configuration types.Configuration) error {
	return base.Decode(x.Type(), configuration, &x.Config)
}

func (x *Ref) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if x.Config.Target == nil {
		return nil, types.NewTypedError(types.ErrorRouting, errNoTarget)
	}
	return x.Config.Target.Process(ctx, event)
}

func (x *Ref) Destroy() {
}
