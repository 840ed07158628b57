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

// Package flow provides components that hand the event to other processors of the runtime.
//
//   - flow/ref runs another flow and continues with its result.
//   - ref runs a processor declared elsewhere in the DSL, e.g. an outbound endpoint.
//   - flow/async runs a processor on the pool with a copy of the event and continues at once.
//
// Targets are resolved by name when the event arrives, so a flow may reference a flow
// declared after it:
//
//	{
//	  "type": "flow/ref",
//	  "configuration": {
//	    "flow": "enrichOrder"
//	  }
//	}
package flow

import "github.com/rulego/esb/components/base"

// Registry holds the flow control prototypes.
var Registry = &base.SafeComponentSlice{}
