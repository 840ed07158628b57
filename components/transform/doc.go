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

// Package transform provides components that change the payload, properties or variables
// of an event.
//
// Values of setPayload, setProperty and setVariable may embed ${expression} placeholders,
// evaluated with expr-lang against the event:
//
//	{
//	  "type": "transform/setProperty",
//	  "configuration": {
//	    "name": "orderId",
//	    "value": "${inbound.id}"
//	  }
//	}
package transform

import "github.com/rulego/esb/components/base"

// Registry holds the transform prototypes.
var Registry = &base.SafeComponentSlice{}
