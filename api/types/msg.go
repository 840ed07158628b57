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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Well known message property names.
const (
	PropertyEndpoint            = "MULE_ENDPOINT"
	PropertyOriginatingEndpoint = "MULE_ORIGINATING_ENDPOINT"
	PropertyCorrelationId       = "MULE_CORRELATION_ID"
	PropertySession             = "MULE_SESSION"
	PropertyExceptionStatus     = "MULE_EXCEPTION_STATUS"
	PropertyEncoding            = "MULE_ENCODING"
)

// Common mime types.
const (
	MimeTypeAny    = "*/*"
	MimeTypeJson   = "application/json"
	MimeTypeText   = "text/plain"
	MimeTypeBinary = "application/octet-stream"
)

// DefaultEncoding is used when neither the message nor the endpoint declare one.
const DefaultEncoding = "UTF-8"

// DataType describes the payload of a message.
type DataType struct {
	MimeType string
	Encoding string
}

// IsAny reports whether the mime type is unset or the */* wildcard.
func (d DataType) IsAny() bool {
	return d.MimeType == "" || d.MimeType == MimeTypeAny
}

func (d DataType) String() string {
	if d.Encoding == "" {
		return d.MimeType
	}
	return d.MimeType + "; charset=" + d.Encoding
}

// Properties is a scoped property map attached to a message.
type Properties map[string]interface{}

// NewProperties creates an empty property map.
func NewProperties() Properties {
	return make(Properties)
}

// Copy returns a shallow copy of the map.
func (p Properties) Copy() Properties {
	c := make(Properties, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

func (p Properties) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p Properties) Get(key string) interface{} {
	return p[key]
}

// GetString returns the value as string, empty if absent.
func (p Properties) GetString(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (p Properties) Put(key string, value interface{}) {
	p[key] = value
}

// PutIfAbsent stores the value only when the key is not present.
func (p Properties) PutIfAbsent(key string, value interface{}) {
	if _, ok := p[key]; !ok {
		p[key] = value
	}
}

func (p Properties) Remove(key string) {
	delete(p, key)
}

// Message is the payload plus its inbound and outbound properties.
type Message struct {
	Payload            interface{}
	DataType           DataType
	InboundProperties  Properties
	OutboundProperties Properties
}

// NewMessage creates a message with the given payload and empty property scopes.
func NewMessage(payload interface{}) *Message {
	return &Message{
		Payload:            payload,
		InboundProperties:  NewProperties(),
		OutboundProperties: NewProperties(),
	}
}

// EnsureProperties allocates missing property scopes, e.g. on a message built as
// &Message{Payload: x}, and returns m.
func (m *Message) EnsureProperties() *Message {
	if m.InboundProperties == nil {
		m.InboundProperties = NewProperties()
	}
	if m.OutboundProperties == nil {
		m.OutboundProperties = NewProperties()
	}
	return m
}

// PayloadBytes converts the payload to bytes. Non string/byte payloads are JSON encoded.
func (m *Message) PayloadBytes() ([]byte, error) {
	switch v := m.Payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	default:
		return json.Marshal(v)
	}
}

// PayloadString is PayloadBytes as a string, ignoring encoding errors.
func (m *Message) PayloadString() string {
	b, err := m.PayloadBytes()
	if err != nil {
		return fmt.Sprint(m.Payload)
	}
	return string(b)
}

// Copy copies the property scopes. The payload itself is shared.
func (m *Message) Copy() *Message {
	if m == nil {
		return nil
	}
	c := &Message{Payload: m.Payload, DataType: m.DataType}
	if m.InboundProperties != nil {
		c.InboundProperties = m.InboundProperties.Copy()
	} else {
		c.InboundProperties = NewProperties()
	}
	if m.OutboundProperties != nil {
		c.OutboundProperties = m.OutboundProperties.Copy()
	} else {
		c.OutboundProperties = NewProperties()
	}
	return c
}

// Session travels with an event across flows and, via a SessionHandler, across outbound hops.
type Session struct {
	Id         string                 `json:"id"`
	Properties map[string]interface{} `json:"properties"`
}

// NewSession creates a session with a random id.
func NewSession() *Session {
	return &Session{Id: newId(), Properties: make(map[string]interface{})}
}

func (s *Session) Copy() *Session {
	if s == nil {
		return nil
	}
	props := make(map[string]interface{}, len(s.Properties))
	for k, v := range s.Properties {
		props[k] = v
	}
	return &Session{Id: s.Id, Properties: props}
}

// ExchangePattern controls whether an endpoint waits for a response.
type ExchangePattern int

const (
	OneWay ExchangePattern = iota
	RequestResponse
)

func (p ExchangePattern) HasResponse() bool {
	return p == RequestResponse
}

func (p ExchangePattern) String() string {
	if p == RequestResponse {
		return "request-response"
	}
	return "one-way"
}

// ParseExchangePattern parses "one-way" or "request-response".
func ParseExchangePattern(s string) (ExchangePattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "one-way", "oneway", "one_way":
		return OneWay, nil
	case "request-response", "requestresponse", "request_response":
		return RequestResponse, nil
	default:
		return OneWay, fmt.Errorf("unknown exchange pattern %q", s)
	}
}

// Event is the envelope that flows through processor chains.
type Event struct {
	Id              string
	CorrelationId   string
	Message         *Message
	Variables       map[string]interface{}
	Session         *Session
	Error           *Error
	FlowName        string
	ExchangePattern ExchangePattern
	Timestamp       int64
	// NotificationsEnabled switches processor and endpoint notifications for this event.
	NotificationsEnabled bool
}

// EventOption customises NewEvent.
type EventOption func(*Event)

// WithCorrelationId sets the correlation id instead of defaulting to the event id.
func WithCorrelationId(id string) EventOption {
	return func(e *Event) {
		e.CorrelationId = id
	}
}

func WithSession(s *Session) EventOption {
	return func(e *Event) {
		e.Session = s
	}
}

func WithExchangePattern(p ExchangePattern) EventOption {
	return func(e *Event) {
		e.ExchangePattern = p
	}
}

func WithFlowName(name string) EventOption {
	return func(e *Event) {
		e.FlowName = name
	}
}

func WithVariables(vars map[string]interface{}) EventOption {
	return func(e *Event) {
		for k, v := range vars {
			e.Variables[k] = v
		}
	}
}

// NewEvent creates an event around msg. A nil msg gets an empty message.
func NewEvent(msg *Message, opts ...EventOption) *Event {
	if msg == nil {
		msg = NewMessage(nil)
	}
	if msg.InboundProperties == nil {
		msg.InboundProperties = NewProperties()
	}
	if msg.OutboundProperties == nil {
		msg.OutboundProperties = NewProperties()
	}
	e := &Event{
		Id:                   newId(),
		Message:              msg,
		Variables:            make(map[string]interface{}),
		Timestamp:            time.Now().UnixMilli(),
		NotificationsEnabled: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.CorrelationId == "" {
		e.CorrelationId = e.Id
	}
	if e.Session == nil {
		e.Session = NewSession()
	}
	return e
}

// Copy returns a copy that can be mutated without affecting the original.
func (e *Event) Copy() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Message = e.Message.Copy()
	c.Variables = make(map[string]interface{}, len(e.Variables))
	for k, v := range e.Variables {
		c.Variables[k] = v
	}
	c.Session = e.Session.Copy()
	return &c
}

func newId() string {
	id, _ := uuid.NewV4()
	return id.String()
}
