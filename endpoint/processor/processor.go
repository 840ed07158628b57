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

// Package processor holds the standard steps that endpoints put in front of and
// behind the configured processors of inbound and outbound chains.
package processor

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/transaction"
)

func notifier(ep types.ImmutableEndpoint) types.Notifier {
	if n := ep.Config().Notifier; n != nil {
		return n
	}
	return types.NopNotifier{}
}

func logger(ctx context.Context, ep types.ImmutableEndpoint) types.Logger {
	return types.LoggerFromContext(ctx, types.NewLogger(ep.Config().Logger))
}

// MimeTypeCheck enforces the mime type declared by an endpoint. Messages without a type
// (or */*) adopt the declared one.
type MimeTypeCheck struct {
	endpoint types.ImmutableEndpoint
	inbound  bool
}

func NewInboundMimeTypeCheck(ep types.ImmutableEndpoint) *MimeTypeCheck {
	return &MimeTypeCheck{endpoint: ep, inbound: true}
}

func NewOutboundMimeTypeCheck(ep types.ImmutableEndpoint) *MimeTypeCheck {
	return &MimeTypeCheck{endpoint: ep}
}

func (p *MimeTypeCheck) Type() string {
	if p.inbound {
		return "endpoint/inboundMimeTypeCheck"
	}
	return "endpoint/outboundMimeTypeCheck"
}

func (p *MimeTypeCheck) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	declared := p.endpoint.MimeType()
	if declared == "" || declared == types.MimeTypeAny {
		return event, nil
	}
	dt := &event.Message.DataType
	if dt.IsAny() {
		dt.MimeType = declared
		if dt.Encoding == "" {
			dt.Encoding = p.endpoint.Encoding()
		}
		return event, nil
	}
	if !MimeTypeMatches(declared, dt.MimeType) {
		return nil, types.NewTypedError(types.ErrorMimeType, fmt.Errorf("endpoint %s only accepts %s, message has %s: %w",
			p.endpoint.Name(), declared, dt.MimeType, types.ErrMimeTypeMismatch))
	}
	return event, nil
}

// MimeTypeMatches compares primary and sub types, honouring * wildcards on either side.
// Parameters such as charset are ignored.
func MimeTypeMatches(declared, actual string) bool {
	dp, ds, ok := splitMediaType(declared)
	if !ok {
		return false
	}
	ap, as, ok := splitMediaType(actual)
	if !ok {
		return false
	}
	return (dp == "*" || ap == "*" || dp == ap) && (ds == "*" || as == "*" || ds == as)
}

func splitMediaType(v string) (string, string, bool) {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return "", "", false
	}
	primary, sub, found := strings.Cut(mt, "/")
	if !found {
		return "", "", false
	}
	return primary, sub, true
}

// InboundEndpointProperties adds the endpoint properties to the inbound scope without
// overwriting what the transport set, and records where the message came from.
type InboundEndpointProperties struct {
	endpoint types.ImmutableEndpoint
}

func NewInboundEndpointProperties(ep types.ImmutableEndpoint) *InboundEndpointProperties {
	return &InboundEndpointProperties{endpoint: ep}
}

func (p *InboundEndpointProperties) Type() string {
	return "endpoint/inboundProperties"
}

func (p *InboundEndpointProperties) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	msg := event.Message.EnsureProperties()
	for k, v := range p.endpoint.Properties() {
		msg.InboundProperties.PutIfAbsent(k, v)
	}
	msg.InboundProperties.Put(types.PropertyEndpoint, p.endpoint.URI().String())
	msg.InboundProperties.Put(types.PropertyOriginatingEndpoint, p.endpoint.Name())
	if msg.DataType.Encoding == "" {
		msg.DataType.Encoding = p.endpoint.Encoding()
	}
	return event, nil
}

// OutboundEndpointProperties stamps the destination and correlation id on the outbound
// scope. Endpoint properties overwrite message properties.
type OutboundEndpointProperties struct {
	endpoint types.ImmutableEndpoint
}

func NewOutboundEndpointProperties(ep types.ImmutableEndpoint) *OutboundEndpointProperties {
	return &OutboundEndpointProperties{endpoint: ep}
}

func (p *OutboundEndpointProperties) Type() string {
	return "endpoint/outboundProperties"
}

func (p *OutboundEndpointProperties) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	out := event.Message.EnsureProperties().OutboundProperties
	out.Put(types.PropertyEndpoint, p.endpoint.URI().String())
	out.PutIfAbsent(types.PropertyCorrelationId, event.CorrelationId)
	for k, v := range p.endpoint.Properties() {
		out.Put(k, v)
	}
	return event, nil
}

// OutboundResponseProperties copies the listed outbound properties of the request onto
// the inbound scope of the response when the response does not carry them.
type OutboundResponseProperties struct {
	endpoint types.ImmutableEndpoint
}

func NewOutboundResponseProperties(ep types.ImmutableEndpoint) *OutboundResponseProperties {
	return &OutboundResponseProperties{endpoint: ep}
}

func (p *OutboundResponseProperties) Type() string {
	return "endpoint/outboundResponseProperties"
}

func (p *OutboundResponseProperties) Intercept(ctx context.Context, event *types.Event, next types.Processor) (*types.Event, error) {
	names := p.endpoint.ResponseProperties()
	saved := make(map[string]interface{}, len(names))
	for _, name := range names {
		if v, ok := event.Message.OutboundProperties[name]; ok {
			saved[name] = v
		}
	}
	out, err := next.Process(ctx, event)
	if err != nil || out == nil {
		return out, err
	}
	for k, v := range saved {
		out.Message.InboundProperties.PutIfAbsent(k, v)
	}
	return out, nil
}

func (p *OutboundResponseProperties) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	return p.Intercept(ctx, event, types.PassThrough)
}

// Notification fires an endpoint notification and passes the event on.
type Notification struct {
	endpoint types.ImmutableEndpoint
	action   func(event *types.Event) types.NotificationAction
	kind     string
}

// NewInboundNotification fires MESSAGE_RECEIVED.
func NewInboundNotification(ep types.ImmutableEndpoint) *Notification {
	return &Notification{endpoint: ep, kind: "endpoint/inboundNotification", action: func(*types.Event) types.NotificationAction {
		return types.MessageReceived
	}}
}

// NewOutboundNotification fires MESSAGE_DISPATCHED for one-way and MESSAGE_SENT for
// request-response endpoints.
func NewOutboundNotification(ep types.ImmutableEndpoint) *Notification {
	return &Notification{endpoint: ep, kind: "endpoint/outboundNotification", action: func(*types.Event) types.NotificationAction {
		if ep.ExchangePattern().HasResponse() {
			return types.MessageSent
		}
		return types.MessageDispatched
	}}
}

// NewResponseNotification fires MESSAGE_RESPONSE.
func NewResponseNotification(ep types.ImmutableEndpoint) *Notification {
	return &Notification{endpoint: ep, kind: "endpoint/responseNotification", action: func(*types.Event) types.NotificationAction {
		return types.MessageResponse
	}}
}

func (p *Notification) Type() string {
	return p.kind
}

func (p *Notification) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	if event.NotificationsEnabled {
		notifier(p.endpoint).Fire(types.NewNotification(p.action(event), p.endpoint.URI().String(), event, nil))
	}
	return event, nil
}

// Logging logs every event passing the endpoint at debug level.
type Logging struct {
	endpoint  types.ImmutableEndpoint
	direction string
}

func NewLogging(ep types.ImmutableEndpoint, direction string) *Logging {
	return &Logging{endpoint: ep, direction: direction}
}

func (p *Logging) Type() string {
	return "endpoint/logging"
}

func (p *Logging) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	logger(ctx, p.endpoint).Debugf("%s %s: event=%s correlationId=%s payload=%T",
		p.endpoint.Name(), p.direction, event.Id, event.CorrelationId, event.Message.Payload)
	return event, nil
}

// DefaultExceptionStatus is used when the connector has no status mapping.
const DefaultExceptionStatus = 500

// InboundExceptionDetails records a transport status on responses carrying an error.
type InboundExceptionDetails struct {
	endpoint types.ImmutableEndpoint
}

func NewInboundExceptionDetails(ep types.ImmutableEndpoint) *InboundExceptionDetails {
	return &InboundExceptionDetails{endpoint: ep}
}

func (p *InboundExceptionDetails) Type() string {
	return "endpoint/exceptionDetails"
}

func (p *InboundExceptionDetails) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	if event.Error == nil {
		return event, nil
	}
	status := DefaultExceptionStatus
	if mapper, ok := p.endpoint.Connector().(types.ExceptionStatusMapper); ok {
		status = mapper.ExceptionStatusCode(event.Error)
	}
	event.Message.EnsureProperties().OutboundProperties.Put(types.PropertyExceptionStatus, status)
	return event, nil
}

// OutboundSessionHandler writes the session onto the outgoing message.
type OutboundSessionHandler struct {
	endpoint types.ImmutableEndpoint
}

func NewOutboundSessionHandler(ep types.ImmutableEndpoint) *OutboundSessionHandler {
	return &OutboundSessionHandler{endpoint: ep}
}

func (p *OutboundSessionHandler) Type() string {
	return "endpoint/sessionHandler"
}

func (p *OutboundSessionHandler) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	c := p.endpoint.Connector()
	if c == nil {
		return event, nil
	}
	handler := c.SessionHandler()
	if handler == nil {
		return event, nil
	}
	if err := handler.Store(event, event.Message); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return event, nil
}

// OutboundTxRollback stops dispatching when the context transaction is rollback-only.
type OutboundTxRollback struct {
	endpoint types.ImmutableEndpoint
}

func NewOutboundTxRollback(ep types.ImmutableEndpoint) *OutboundTxRollback {
	return &OutboundTxRollback{endpoint: ep}
}

func (p *OutboundTxRollback) Type() string {
	return "endpoint/txRollback"
}

func (p *OutboundTxRollback) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if tx, ok := transaction.FromContext(ctx); ok && tx.IsRollbackOnly() {
		logger(ctx, p.endpoint).Debugf("%s: transaction %s is rollback-only, not dispatching", p.endpoint.Name(), tx.Id())
		return nil, nil
	}
	return event, nil
}

// EventTimeout bounds the rest of the outbound chain by the endpoint response timeout.
type EventTimeout struct {
	endpoint types.ImmutableEndpoint
}

func NewEventTimeout(ep types.ImmutableEndpoint) *EventTimeout {
	return &EventTimeout{endpoint: ep}
}

func (p *EventTimeout) Type() string {
	return "endpoint/eventTimeout"
}

func (p *EventTimeout) Intercept(ctx context.Context, event *types.Event, next types.Processor) (*types.Event, error) {
	timeout := p.endpoint.ResponseTimeout()
	if timeout <= 0 {
		return next.Process(ctx, event)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := next.Process(ctx, event)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && types.ResolveErrorType(err) != types.ErrorTimeout {
		return nil, types.NewTypedError(types.ErrorTimeout, fmt.Errorf("no response from %s within %s: %w", p.endpoint.URI().Address(), timeout, err))
	}
	return out, err
}

func (p *EventTimeout) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	return p.Intercept(ctx, event, types.PassThrough)
}

// Timeout is the response timeout applied by p.
func (p *EventTimeout) Timeout() time.Duration {
	return p.endpoint.ResponseTimeout()
}

// TransactionalInterceptor runs the rest of the chain under the endpoint transaction config.
type TransactionalInterceptor struct {
	config   *types.TransactionConfig
	template *transaction.Template
}

func NewTransactionalInterceptor(config *types.TransactionConfig, logger types.Logger) *TransactionalInterceptor {
	return &TransactionalInterceptor{config: config, template: transaction.NewTemplate(logger)}
}

func (p *TransactionalInterceptor) Type() string {
	return "endpoint/transactional"
}

func (p *TransactionalInterceptor) Intercept(ctx context.Context, event *types.Event, next types.Processor) (*types.Event, error) {
	return p.template.Execute(ctx, p.config, func(ctx context.Context) (*types.Event, error) {
		return next.Process(ctx, event)
	})
}

func (p *TransactionalInterceptor) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	return p.Intercept(ctx, event, types.PassThrough)
}

// TransformerProcessor applies a Transformer to the event message.
type TransformerProcessor struct {
	Transformer types.Transformer
}

func NewTransformerProcessor(t types.Transformer) *TransformerProcessor {
	return &TransformerProcessor{Transformer: t}
}

func (p *TransformerProcessor) Type() string {
	return "endpoint/transformer"
}

func (p *TransformerProcessor) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	out, err := p.Transformer.Transform(ctx, event.Message)
	if err != nil {
		if types.ResolveErrorType(err) == types.ErrorUnknown {
			err = types.NewTypedError(types.ErrorTransformation, err)
		}
		return nil, err
	}
	if out != nil {
		if dt := p.Transformer.ReturnDataType(); dt.MimeType != "" {
			out.DataType.MimeType = dt.MimeType
			if dt.Encoding != "" {
				out.DataType.Encoding = dt.Encoding
			}
		}
		event.Message = out.EnsureProperties()
	}
	return event, nil
}

var (
	_ types.Processor             = (*MimeTypeCheck)(nil)
	_ types.InterceptingProcessor = (*OutboundResponseProperties)(nil)
	_ types.InterceptingProcessor = (*EventTimeout)(nil)
	_ types.InterceptingProcessor = (*TransactionalInterceptor)(nil)
)
