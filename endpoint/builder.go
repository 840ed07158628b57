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

// Package endpoint builds inbound and outbound endpoints and the processor chains that
// surround them.
package endpoint

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/endpoint/processor"
)

// URI parameters understood by the builder. Other parameters become endpoint properties.
const (
	ParamConnector       = "connector"
	ParamExchangePattern = "exchangePattern"
	ParamMimeType        = "mimeType"
	ParamEncoding        = "encoding"
	ParamResponseTimeout = "responseTimeout"
)

// ConnectorResolver finds connectors by name, and the default connector of a protocol.
type ConnectorResolver interface {
	Connector(name string) (types.Connector, bool)
	DefaultConnector(protocol string) (types.Connector, error)
}

// DefaultPatternProvider is implemented by connectors whose endpoints default to an
// exchange pattern other than one-way.
type DefaultPatternProvider interface {
	DefaultExchangePattern(inbound bool) types.ExchangePattern
}

// Option configures a Builder.
type Option func(*Builder) error

// WithName sets the endpoint name. It defaults to the address.
func WithName(name string) Option {
	return func(b *Builder) error {
		b.name = name
		return nil
	}
}

func WithConnector(c types.Connector) Option {
	return func(b *Builder) error {
		b.connector = c
		return nil
	}
}

// WithConnectorName selects a connector from the resolver by name.
func WithConnectorName(name string) Option {
	return func(b *Builder) error {
		b.connectorName = name
		return nil
	}
}

// WithConnectorResolver sets where connectors are looked up.
func WithConnectorResolver(r ConnectorResolver) Option {
	return func(b *Builder) error {
		b.resolver = r
		return nil
	}
}

func WithExchangePattern(p types.ExchangePattern) Option {
	return func(b *Builder) error {
		b.pattern = &p
		return nil
	}
}

func WithMimeType(mimeType string) Option {
	return func(b *Builder) error {
		b.mimeType = mimeType
		return nil
	}
}

func WithEncoding(encoding string) Option {
	return func(b *Builder) error {
		b.encoding = encoding
		return nil
	}
}

func WithProperty(key string, value interface{}) Option {
	return func(b *Builder) error {
		b.properties.Put(key, value)
		return nil
	}
}

// WithProperties merges properties into the endpoint properties.
func WithProperties(properties types.Properties) Option {
	return func(b *Builder) error {
		for k, v := range properties {
			b.properties.Put(k, v)
		}
		return nil
	}
}

func WithTransactionConfig(cfg *types.TransactionConfig) Option {
	return func(b *Builder) error {
		b.txConfig = cfg
		return nil
	}
}

// WithRetryPolicy sets the policy the connector uses to connect receivers and dispatchers.
func WithRetryPolicy(t types.RetryPolicyTemplate) Option {
	return func(b *Builder) error {
		b.retry = t
		return nil
	}
}

// WithRedeliveryPolicy wraps the inbound request chain after the default processors.
func WithRedeliveryPolicy(p types.InterceptingProcessor) Option {
	return func(b *Builder) error {
		b.redelivery = p
		return nil
	}
}

func WithResponseTimeout(timeout time.Duration) Option {
	return func(b *Builder) error {
		if timeout < 0 {
			return fmt.Errorf("negative response timeout %s", timeout)
		}
		b.responseTimeout = &timeout
		return nil
	}
}

// WithResponseProperties lists outbound request properties copied onto responses.
func WithResponseProperties(names ...string) Option {
	return func(b *Builder) error {
		b.responseProperties = append(b.responseProperties, names...)
		return nil
	}
}

func WithProcessors(processors ...types.Processor) Option {
	return func(b *Builder) error {
		b.processors = append(b.processors, processors...)
		return nil
	}
}

func WithResponseProcessors(processors ...types.Processor) Option {
	return func(b *Builder) error {
		b.responseProcessors = append(b.responseProcessors, processors...)
		return nil
	}
}

func WithTransformers(transformers ...types.Transformer) Option {
	return func(b *Builder) error {
		b.transformers = append(b.transformers, transformers...)
		return nil
	}
}

func WithResponseTransformers(transformers ...types.Transformer) Option {
	return func(b *Builder) error {
		b.responseTransformers = append(b.responseTransformers, transformers...)
		return nil
	}
}

func WithSecurityFilter(filter types.Processor) Option {
	return func(b *Builder) error {
		b.securityFilter = filter
		return nil
	}
}

func WithChainFactory(f ChainFactory) Option {
	return func(b *Builder) error {
		b.chainFactory = f
		return nil
	}
}

func WithConfig(config types.Config) Option {
	return func(b *Builder) error {
		b.config = config
		b.configSet = true
		return nil
	}
}

// Builder collects endpoint settings. One builder can build any number of endpoints.
type Builder struct {
	address              string
	name                 string
	connector            types.Connector
	connectorName        string
	resolver             ConnectorResolver
	pattern              *types.ExchangePattern
	mimeType             string
	encoding             string
	properties           types.Properties
	txConfig             *types.TransactionConfig
	retry                types.RetryPolicyTemplate
	redelivery           types.InterceptingProcessor
	responseTimeout      *time.Duration
	responseProperties   []string
	processors           []types.Processor
	responseProcessors   []types.Processor
	transformers         []types.Transformer
	responseTransformers []types.Transformer
	securityFilter       types.Processor
	chainFactory         ChainFactory
	config               types.Config
	configSet            bool
}

// NewBuilder creates a builder for address and applies opts.
func NewBuilder(address string, opts ...Option) (*Builder, error) {
	b := &Builder{address: address, properties: types.NewProperties()}
	if err := b.With(opts...); err != nil {
		return nil, err
	}
	return b, nil
}

// With applies more options.
func (b *Builder) With(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return fmt.Errorf("endpoint %s: %w", b.address, err)
		}
	}
	return nil
}

func (b *Builder) Address() string {
	return b.address
}

// Clone returns an independent copy, used to derive endpoints from a global definition.
func (b *Builder) Clone() *Builder {
	c := *b
	c.properties = b.properties.Copy()
	c.responseProperties = append([]string(nil), b.responseProperties...)
	c.processors = append([]types.Processor(nil), b.processors...)
	c.responseProcessors = append([]types.Processor(nil), b.responseProcessors...)
	c.transformers = append([]types.Transformer(nil), b.transformers...)
	c.responseTransformers = append([]types.Transformer(nil), b.responseTransformers...)
	if b.pattern != nil {
		p := *b.pattern
		c.pattern = &p
	}
	if b.responseTimeout != nil {
		d := *b.responseTimeout
		c.responseTimeout = &d
	}
	return &c
}

// BuildInbound creates an inbound endpoint. Its pattern must be supported by the connector.
func (b *Builder) BuildInbound() (*InboundEndpoint, error) {
	base, err := b.build(true)
	if err != nil {
		return nil, err
	}
	ep := &InboundEndpoint{base: base, state: types.NewLifecycleState("inbound endpoint " + base.name)}
	if err := ep.state.Transition(types.PhaseInitialised, nil); err != nil {
		return nil, err
	}
	return ep, nil
}

// BuildOutbound creates an outbound endpoint.
func (b *Builder) BuildOutbound() (*OutboundEndpoint, error) {
	base, err := b.build(false)
	if err != nil {
		return nil, err
	}
	return &OutboundEndpoint{base: base}, nil
}

func (b *Builder) build(inbound bool) (base, error) {
	uri, err := types.ParseEndpointURI(b.address)
	if err != nil {
		return base{}, err
	}
	config := b.config
	if !b.configSet {
		config = types.NewConfig()
	}
	connector, err := b.resolveConnector(uri)
	if err != nil {
		return base{}, err
	}
	ep := base{
		name:               b.name,
		uri:                uri,
		connector:          connector,
		mimeType:           b.mimeType,
		encoding:           b.encoding,
		properties:         types.NewProperties(),
		txConfig:           b.txConfig,
		retry:              b.retry,
		redelivery:         b.redelivery,
		securityFilter:     b.securityFilter,
		responseProperties: append([]string(nil), b.responseProperties...),
		config:             config,
		inbound:            inbound,
		chainFactory:       b.chainFactory,
	}
	if ep.name == "" {
		ep.name = uri.String()
	}
	for k, v := range b.properties {
		ep.properties.Put(k, v)
	}
	for k := range uri.Params {
		switch k {
		case ParamConnector, ParamExchangePattern, ParamMimeType, ParamEncoding, ParamResponseTimeout:
		default:
			ep.properties.PutIfAbsent(k, uri.Param(k))
		}
	}
	if ep.mimeType == "" {
		ep.mimeType = uri.Param(ParamMimeType)
	}
	if ep.encoding == "" {
		ep.encoding = uri.Param(ParamEncoding)
	}
	if ep.encoding == "" {
		ep.encoding = config.DefaultEncoding
	}
	if ep.pattern, err = b.resolvePattern(uri, connector, inbound); err != nil {
		return base{}, err
	}
	if !connector.SupportsExchangePattern(ep.pattern, inbound) {
		return base{}, fmt.Errorf("endpoint %s: connector %s does not support %s %s endpoints",
			ep.name, connector.Name(), ep.pattern, direction(inbound))
	}
	if ep.responseTimeout, err = b.resolveResponseTimeout(uri, config); err != nil {
		return base{}, err
	}
	if ep.chainFactory == nil {
		ep.chainFactory = &DefaultChainFactory{}
	}
	ep.processors = append(ep.processors, b.processors...)
	for _, t := range b.transformers {
		ep.processors = append(ep.processors, processor.NewTransformerProcessor(t))
	}
	ep.responseProcessors = append(ep.responseProcessors, b.responseProcessors...)
	for _, t := range b.responseTransformers {
		ep.responseProcessors = append(ep.responseProcessors, processor.NewTransformerProcessor(t))
	}
	return ep, nil
}

func (b *Builder) resolveConnector(uri types.EndpointURI) (types.Connector, error) {
	if b.connector != nil {
		return b.connector, nil
	}
	name := b.connectorName
	if name == "" {
		name = uri.Param(ParamConnector)
	}
	if b.resolver == nil {
		return nil, fmt.Errorf("endpoint %s: no connector and no connector registry: %w", uri, types.ErrConnectorNotFound)
	}
	if name != "" {
		c, ok := b.resolver.Connector(name)
		if !ok {
			return nil, fmt.Errorf("endpoint %s: connector %q: %w", uri, name, types.ErrConnectorNotFound)
		}
		if c.Protocol() != uri.Scheme {
			return nil, fmt.Errorf("endpoint %s: connector %q serves %s, not %s", uri, name, c.Protocol(), uri.Scheme)
		}
		return c, nil
	}
	c, err := b.resolver.DefaultConnector(uri.Scheme)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", uri, err)
	}
	return c, nil
}

func (b *Builder) resolvePattern(uri types.EndpointURI, c types.Connector, inbound bool) (types.ExchangePattern, error) {
	if b.pattern != nil {
		return *b.pattern, nil
	}
	if v := uri.Param(ParamExchangePattern); v != "" {
		return types.ParseExchangePattern(v)
	}
	if d, ok := c.(DefaultPatternProvider); ok {
		return d.DefaultExchangePattern(inbound), nil
	}
	return types.OneWay, nil
}

func (b *Builder) resolveResponseTimeout(uri types.EndpointURI, config types.Config) (time.Duration, error) {
	if b.responseTimeout != nil {
		return *b.responseTimeout, nil
	}
	if v := uri.Param(ParamResponseTimeout); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("endpoint %s: invalid responseTimeout %q: %w", uri, v, err)
		}
		return d, nil
	}
	return config.DefaultResponseTimeout, nil
}

func direction(inbound bool) string {
	if inbound {
		return "inbound"
	}
	return "outbound"
}
