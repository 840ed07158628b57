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

package engine

import "github.com/rulego/esb/api/types"

// Definition is the flow DSL: connectors, global endpoints and processors, and flows.
//
//	{
//	  "id": "orders",
//	  "connectors": [{"name": "api", "protocol": "http", "configuration": {"server": ":9090"}}],
//	  "endpoints": [{"name": "audit", "address": "vm://audit"}],
//	  "flows": [{
//	    "name": "orders",
//	    "source": {"address": "http://0.0.0.0:9090/orders", "exchangePattern": "request-response"},
//	    "processors": [
//	      {"type": "transform/js", "configuration": {"script": "..."}},
//	      {"ref": "audit"}
//	    ],
//	    "exceptionStrategy": {"type": "catch", "processors": [{"type": "log"}]}
//	  }]
//	}
type Definition struct {
	Id         string         `json:"id,omitempty"`
	Connectors []ConnectorDef `json:"connectors,omitempty"`
	Endpoints  []EndpointDef  `json:"endpoints,omitempty"`
	Processors []ProcessorDef `json:"processors,omitempty"`
	Flows      []FlowDef      `json:"flows,omitempty"`
}

// ConnectorDef creates a named connector of a protocol.
type ConnectorDef struct {
	Name          string              `json:"name"`
	Protocol      string              `json:"protocol"`
	Configuration types.Configuration `json:"configuration,omitempty"`
}

// EndpointDef describes an endpoint. Ref starts from a global endpoint and applies the
// remaining fields on top of it.
type EndpointDef struct {
	Name               string                 `json:"name,omitempty"`
	Ref                string                 `json:"ref,omitempty"`
	Address            string                 `json:"address,omitempty"`
	Connector          string                 `json:"connector,omitempty"`
	ExchangePattern    string                 `json:"exchangePattern,omitempty"`
	MimeType           string                 `json:"mimeType,omitempty"`
	Encoding           string                 `json:"encoding,omitempty"`
	ResponseTimeout    string                 `json:"responseTimeout,omitempty"`
	Properties         map[string]interface{} `json:"properties,omitempty"`
	ResponseProperties []string               `json:"responseProperties,omitempty"`
	Transaction        *TransactionDef        `json:"transaction,omitempty"`
	Retry              *RetryDef              `json:"retry,omitempty"`
	// Redelivery configures a redelivery/idempotent policy for the inbound endpoint.
	Redelivery         types.Configuration    `json:"redelivery,omitempty"`
	SecurityFilter     *ProcessorDef          `json:"securityFilter,omitempty"`
	Processors         []ProcessorDef         `json:"processors,omitempty"`
	ResponseProcessors []ProcessorDef         `json:"responseProcessors,omitempty"`
}

// TransactionDef configures the endpoint transaction. Factory names a connector that
// provides transactions, such as a db connector; empty or "memory" uses local transactions.
type TransactionDef struct {
	Action               string `json:"action"`
	Factory              string `json:"factory,omitempty"`
	Timeout              string `json:"timeout,omitempty"`
	InteractWithExternal bool   `json:"interactWithExternal,omitempty"`
}

// RetryDef configures the retry policy of an outbound endpoint.
type RetryDef struct {
	Count        int     `json:"count,omitempty"`
	Frequency    string  `json:"frequency,omitempty"`
	Multiplier   float64 `json:"multiplier,omitempty"`
	MaxFrequency string  `json:"maxFrequency,omitempty"`
	Forever      bool    `json:"forever,omitempty"`
	// Async retries on the pool and returns right away.
	Async bool `json:"async,omitempty"`
}

// ProcessorDef is one of: a component (Type and Configuration), a reference to a flow,
// endpoint or processor (Ref), or an inline outbound endpoint (Outbound).
type ProcessorDef struct {
	Id            string              `json:"id,omitempty"`
	Type          string              `json:"type,omitempty"`
	Ref           string              `json:"ref,omitempty"`
	Outbound      *EndpointDef        `json:"outbound,omitempty"`
	Configuration types.Configuration `json:"configuration,omitempty"`
}

// FlowDef describes a flow.
type FlowDef struct {
	Name              string         `json:"name"`
	Source            *EndpointDef   `json:"source,omitempty"`
	Processors        []ProcessorDef `json:"processors,omitempty"`
	Async             bool           `json:"async,omitempty"`
	ShutdownTimeout   string         `json:"shutdownTimeout,omitempty"`
	ExceptionStrategy *StrategyDef   `json:"exceptionStrategy,omitempty"`
}

// StrategyDef describes an exception strategy: catch, rollback, default or choice.
type StrategyDef struct {
	Type       string         `json:"type"`
	When       string         `json:"when,omitempty"`
	ErrorTypes []string       `json:"errorTypes,omitempty"`
	Processors []ProcessorDef `json:"processors,omitempty"`
	Strategies []StrategyDef  `json:"strategies,omitempty"`
}
