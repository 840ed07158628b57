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

// Package filter provides components that decide whether an event continues down the chain.
//
// Filters are intercepting: an accepted event runs the rest of the chain, a rejected one
// is handed to the configured unaccepted processor, or consumed when there is none.
// With throwOnUnaccepted the rejection fails the step with MULE:ROUTING instead.
//
//	{
//	  "type": "filter/expr",
//	  "configuration": {
//	    "expr": "inbound.priority > 3",
//	    "unaccepted": "lowPriorityQueue"
//	  }
//	}
package filter

import "github.com/rulego/esb/components/base"

// Registry holds the filter prototypes.
var Registry = &base.SafeComponentSlice{}
