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


// Package security provides components that authenticate events before they reach the rest of the chain.
//
// The jwt filter reads a bearer token from an inbound property, verifies its HMAC
// signature and claims, and stores the claims in a flow variable. Events without a valid
// token fail with MULE:SECURITY, which the http connector answers with 401.
//
//	{
//	  "type": "security/jwt",
//	  "configuration": {
//	    "secret": "${jwtSecret}",
//	    "issuer": "orders-api"
//	  }
//	}
package security

import "github.com/rulego/esb/components/base"

// Registry holds the security prototypes.
var Registry = &base.SafeComponentSlice{}
