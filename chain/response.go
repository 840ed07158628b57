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

package chain

import (
	"context"

	"github.com/rulego/esb/api/types"
)

// ResponseComposite runs a request processor and then a response processor.
type ResponseComposite struct {
	name     string
	request  types.Processor
	response types.Processor
}

// NewResponseComposite composes request and response. Either may be nil.
//
// The response processor receives the request result. If the request processor consumed
// the event (returned nil), the response processor receives the event that was handed to
// the request processor instead. A request failure skips the response processor.
func NewResponseComposite(name string, request, response types.Processor) *ResponseComposite {
	return &ResponseComposite{name: name, request: request, response: response}
}

func (r *ResponseComposite) Name() string {
	return r.name
}

func (r *ResponseComposite) Request() types.Processor {
	return r.request
}

func (r *ResponseComposite) Response() types.Processor {
	return r.response
}

func (r *ResponseComposite) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if event == nil {
		return nil, nil
	}
	out := event
	if r.request != nil {
		result, err := r.request.Process(ctx, event)
		if err != nil {
			return nil, err
		}
		if result != nil {
			out = result
		}
	}
	if r.response == nil {
		return out, nil
	}
	return r.response.Process(ctx, out)
}

func (r *ResponseComposite) Start() error {
	for _, p := range []types.Processor{r.request, r.response} {
		if s, ok := p.(types.Startable); ok {
			if err := s.Start(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *ResponseComposite) Stop() error {
	var first error
	for _, p := range []types.Processor{r.request, r.response} {
		if s, ok := p.(types.Stoppable); ok {
			if err := s.Stop(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
