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

package types

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// EndpointURI is the parsed address of an endpoint, for example vm://orders?connector=vm1.
type EndpointURI struct {
	raw      string
	Scheme   string
	Host     string
	Port     int
	Path     string
	User     string
	Password string
	Params   url.Values
}

// ParseEndpointURI parses and validates an endpoint address.
func ParseEndpointURI(raw string) (EndpointURI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return EndpointURI{}, fmt.Errorf("endpoint address can not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return EndpointURI{}, fmt.Errorf("malformed endpoint address %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return EndpointURI{}, fmt.Errorf("endpoint address %q has no scheme", raw)
	}
	uri := EndpointURI{
		raw:    raw,
		Scheme: strings.ToLower(u.Scheme),
		Host:   u.Hostname(),
		Path:   u.Path,
		Params: u.Query(),
	}
	if p := u.Port(); p != "" {
		if uri.Port, err = strconv.Atoi(p); err != nil {
			return EndpointURI{}, fmt.Errorf("endpoint address %q has invalid port: %w", raw, err)
		}
	}
	if u.User != nil {
		uri.User = u.User.Username()
		uri.Password, _ = u.User.Password()
	}
	if uri.Params == nil {
		uri.Params = url.Values{}
	}
	return uri, nil
}

// MustParseEndpointURI panics on invalid input. Intended for tests and static setup.
func MustParseEndpointURI(raw string) EndpointURI {
	uri, err := ParseEndpointURI(raw)
	if err != nil {
		panic(err)
	}
	return uri
}

// Address is the transport address without query parameters, e.g. vm://orders or
// http://localhost:8080/api.
func (u EndpointURI) Address() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	if u.Port > 0 {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(u.Port))
	}
	b.WriteString(u.Path)
	return b.String()
}

// Resource is the host, or the path for host-less addresses, used as queue or topic name.
func (u EndpointURI) Resource() string {
	if u.Host != "" {
		return strings.TrimPrefix(u.Host+u.Path, "/")
	}
	return strings.TrimPrefix(u.Path, "/")
}

func (u EndpointURI) Param(key string) string {
	return u.Params.Get(key)
}

func (u EndpointURI) String() string {
	if u.raw != "" {
		return u.raw
	}
	return u.Address()
}

// ImmutableEndpoint is the configuration shared by inbound and outbound endpoints.
type ImmutableEndpoint interface {
	Name() string
	URI() EndpointURI
	Connector() Connector
	ExchangePattern() ExchangePattern
	Encoding() string
	MimeType() string
	Properties() Properties
	TransactionConfig() *TransactionConfig
	RetryPolicy() RetryPolicyTemplate
	// RedeliveryPolicy wraps the rest of the inbound request chain, nil when unset.
	RedeliveryPolicy() InterceptingProcessor
	SecurityFilter() Processor
	ResponseTimeout() time.Duration
	// ResponseProperties lists outbound properties copied from request to response.
	ResponseProperties() []string
	Processors() []Processor
	ResponseProcessors() []Processor
	Config() Config
	IsInbound() bool
}

// InboundEndpoint is a message source bound to a connector.
type InboundEndpoint interface {
	ImmutableEndpoint
	Startable
	Stoppable
	SetListener(listener Processor)
	SetFlowConstruct(flow FlowConstruct)
	FlowConstruct() FlowConstruct
}

// OutboundEndpoint dispatches events through its connector.
type OutboundEndpoint interface {
	ImmutableEndpoint
	Processor
}

// Connector adapts a transport.
type Connector interface {
	Initialisable
	Startable
	Stoppable
	Disposable
	Name() string
	Protocol() string
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	// SupportsExchangePattern reports whether inbound endpoints may use p.
	SupportsExchangePattern(p ExchangePattern, inbound bool) bool
	RegisterListener(endpoint InboundEndpoint, listener Processor, flow FlowConstruct) (MessageReceiver, error)
	UnregisterListener(endpoint InboundEndpoint) error
	// Dispatcher returns the processor that sends events to endpoint's address.
	Dispatcher(endpoint OutboundEndpoint) (Processor, error)
	SessionHandler() SessionHandler
}

// ExceptionStatusMapper is implemented by connectors with transport status codes.
type ExceptionStatusMapper interface {
	ExceptionStatusCode(err *Error) int
}

// MessageReceiver turns transport messages into events for one inbound endpoint.
type MessageReceiver interface {
	Endpoint() InboundEndpoint
	Connect(ctx context.Context) error
	Disconnect() error
	// RouteMessage runs msg through the endpoint chain. A nil event is returned for one-way endpoints.
	RouteMessage(ctx context.Context, msg *Message) (*Event, error)
}

// SessionHandler stores the session on outgoing messages and restores it on incoming ones.
type SessionHandler interface {
	Store(event *Event, msg *Message) error
	Retrieve(msg *Message) (*Session, error)
}

// ExceptionHandler handles failures raised by a chain.
// It returns the event to continue with, or an error to propagate.
type ExceptionHandler interface {
	Handle(ctx context.Context, err *MessagingError) (*Event, error)
}

// ExceptionHandlerFunc adapts a function to ExceptionHandler.
type ExceptionHandlerFunc func(ctx context.Context, err *MessagingError) (*Event, error)

func (f ExceptionHandlerFunc) Handle(ctx context.Context, err *MessagingError) (*Event, error) {
	return f(ctx, err)
}

// ProcessingStrategy decides on which goroutine a flow processes events.
type ProcessingStrategy interface {
	Apply(ctx context.Context, p Processor, event *Event) (*Event, error)
}

// FlowConstruct is a named processing pipeline that owns a source and processors.
type FlowConstruct interface {
	Name() string
	ExceptionHandler() ExceptionHandler
	ProcessingStrategy() ProcessingStrategy
}
