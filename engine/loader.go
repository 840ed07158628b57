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

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/endpoint"
	"github.com/rulego/esb/flow"
	"github.com/rulego/esb/retry"
	"github.com/rulego/esb/transaction"
	"github.com/rulego/esb/utils/cast"
	"github.com/rulego/esb/utils/maps"
	"github.com/rulego/esb/utils/reflect"
)

// RedeliveryComponent is the component type built for an endpoint's redelivery settings.
const RedeliveryComponent = "redelivery/idempotent"

// MemoryTransactions selects local transactions in a TransactionDef.
const MemoryTransactions = "memory"

// LoadDefinition builds the connectors, global processors and endpoints, and flows of def.
// References are resolved when events reach them, so definitions may refer to each other
// in any order.
func (c *Context) LoadDefinition(def Definition) error {
	for _, cd := range def.Connectors {
		if cd.Name == "" || cd.Protocol == "" {
			return fmt.Errorf("connector definition needs a name and a protocol")
		}
		if _, err := c.connectors.Create(cd.Protocol, cd.Name, cd.Configuration); err != nil {
			return fmt.Errorf("connector %s: %w", cd.Name, err)
		}
	}
	for _, pd := range def.Processors {
		if pd.Id == "" {
			return fmt.Errorf("global processor of type %s needs an id", pd.Type)
		}
		if _, err := c.buildProcessor(pd); err != nil {
			return err
		}
	}
	for _, ed := range def.Endpoints {
		if ed.Name == "" {
			return fmt.Errorf("global endpoint %s needs a name", ed.Address)
		}
		b, err := c.endpointBuilder(ed)
		if err != nil {
			return err
		}
		if err := c.endpoints.Define(ed.Name, b); err != nil {
			return err
		}
	}
	for _, fd := range def.Flows {
		if _, err := c.buildFlow(fd); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.definition = &def
	c.mu.Unlock()
	return nil
}

func (c *Context) buildFlow(def FlowDef) (*flow.Flow, error) {
	var opts []flow.Option
	if def.Source != nil {
		b, err := c.endpointBuilder(*def.Source)
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", def.Name, err)
		}
		source, err := b.BuildInbound()
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", def.Name, err)
		}
		if def.Source.Name != "" {
			if err := c.endpoints.Register(source); err != nil {
				return nil, fmt.Errorf("flow %s: %w", def.Name, err)
			}
		}
		opts = append(opts, flow.WithSource(source))
	}
	processors, err := c.buildProcessors(def.Processors)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", def.Name, err)
	}
	opts = append(opts, flow.WithProcessors(processors...))
	if def.Async {
		opts = append(opts, flow.WithAsync(nil))
	}
	if def.ShutdownTimeout != "" {
		d, err := cast.ToDurationE(def.ShutdownTimeout)
		if err != nil {
			return nil, fmt.Errorf("flow %s: shutdownTimeout: %w", def.Name, err)
		}
		opts = append(opts, flow.WithShutdownTimeout(d))
	}
	if def.ExceptionStrategy != nil {
		h, err := c.buildStrategy(*def.ExceptionStrategy)
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", def.Name, err)
		}
		opts = append(opts, flow.WithExceptionHandler(h))
	}
	return c.NewFlow(def.Name, opts...)
}

func (c *Context) buildStrategy(def StrategyDef) (flow.MessagingExceptionStrategy, error) {
	typ := strings.ToLower(def.Type)
	if typ == "default" || typ == "" {
		return flow.NewDefaultExceptionStrategy(c.Logger()), nil
	}
	if typ == "choice" {
		strategies := make([]flow.MessagingExceptionStrategy, 0, len(def.Strategies))
		for _, sd := range def.Strategies {
			s, err := c.buildStrategy(sd)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, s)
		}
		return flow.NewChoiceExceptionStrategy(flow.NewDefaultExceptionStrategy(c.Logger()), strategies...), nil
	}
	processors, err := c.buildProcessors(def.Processors)
	if err != nil {
		return nil, fmt.Errorf("%s exception strategy: %w", typ, err)
	}
	opts := []flow.StrategyOption{flow.WithStrategyConfig(c.config), flow.WithStrategyLogger(c.Logger())}
	if def.When != "" {
		opts = append(opts, flow.When(def.When))
	}
	if len(def.ErrorTypes) > 0 {
		errorTypes := make([]types.ErrorType, 0, len(def.ErrorTypes))
		for _, name := range def.ErrorTypes {
			t, ok := types.LookupErrorType(name)
			if !ok {
				return nil, fmt.Errorf("%s exception strategy: unknown error type %s", typ, name)
			}
			errorTypes = append(errorTypes, t)
		}
		opts = append(opts, flow.ForErrorTypes(errorTypes...))
	}
	switch typ {
	case "catch":
		return flow.NewCatchExceptionStrategy(processors, opts...)
	case "rollback":
		return flow.NewRollbackExceptionStrategy(processors, opts...)
	}
	return nil, fmt.Errorf("unknown exception strategy type %q", def.Type)
}

func (c *Context) buildProcessors(defs []ProcessorDef) ([]types.Processor, error) {
	processors := make([]types.Processor, 0, len(defs))
	for _, pd := range defs {
		p, err := c.buildProcessor(pd)
		if err != nil {
			return nil, err
		}
		processors = append(processors, p)
	}
	return processors, nil
}

// buildProcessor creates the processor of def and registers it when it has an id.
func (c *Context) buildProcessor(def ProcessorDef) (types.Processor, error) {
	var p types.Processor
	switch {
	case def.Ref != "":
		p = &reference{name: def.Ref, ctx: c}
	case def.Outbound != nil:
		b, err := c.endpointBuilder(*def.Outbound)
		if err != nil {
			return nil, err
		}
		out, err := b.BuildOutbound()
		if err != nil {
			return nil, err
		}
		if def.Outbound.Name != "" {
			if err := c.endpoints.Register(out); err != nil {
				return nil, err
			}
		}
		p = out
	case def.Type != "":
		component, err := c.newComponent(def.Type, def.Configuration)
		if err != nil {
			return nil, err
		}
		p = component
	default:
		return nil, fmt.Errorf("processor %s needs a type, a ref or an outbound endpoint", def.Id)
	}
	if def.Id != "" {
		if err := c.RegisterProcessor(def.Id, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// newComponent creates and initialises a component. Configuration fields holding
// processors accept a reference name or an inline processor definition.
func (c *Context) newComponent(componentType string, configuration types.Configuration) (types.Component, error) {
	component, err := c.config.ComponentsRegistry.NewComponent(componentType)
	if err != nil {
		return nil, err
	}
	resolved, err := c.resolveRefs(component, configuration)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", componentType, err)
	}
	if err := component.Init(c.config, resolved); err != nil {
		return nil, err
	}
	return component, nil
}

func (c *Context) resolveRefs(component types.Component, configuration types.Configuration) (types.Configuration, error) {
	resolved := types.Configuration(maps.Copy(configuration))
	for _, field := range reflect.GetComponentForm(component).Fields {
		if field.Type != "ref" {
			continue
		}
		for key, value := range resolved {
			if !strings.EqualFold(key, field.Name) {
				continue
			}
			switch v := value.(type) {
			case string:
				resolved[key] = &reference{name: v, ctx: c}
			case map[string]interface{}:
				var pd ProcessorDef
				if err := maps.Map2Struct(v, &pd); err != nil {
					return nil, fmt.Errorf("%s: %w", key, err)
				}
				p, err := c.buildProcessor(pd)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", key, err)
				}
				resolved[key] = p
			case types.Processor, nil:
			default:
				return nil, fmt.Errorf("%s: unsupported reference %T", key, value)
			}
		}
	}
	return resolved, nil
}

func (c *Context) endpointBuilder(def EndpointDef) (*endpoint.Builder, error) {
	opts, err := c.endpointOptions(def)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", def.Name+def.Address, err)
	}
	if def.Ref == "" {
		if def.Address == "" {
			return nil, fmt.Errorf("endpoint %s needs an address or a ref", def.Name)
		}
		return c.EndpointBuilder(def.Address, opts...)
	}
	if def.Address != "" {
		return nil, fmt.Errorf("endpoint %s: ref %s and address %s are exclusive", def.Name, def.Ref, def.Address)
	}
	b, ok := c.endpoints.Lookup(def.Ref)
	if !ok {
		return nil, types.NewTypedError(types.ErrorRouting, fmt.Errorf("global endpoint %q not found", def.Ref))
	}
	if err := b.With(opts...); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *Context) endpointOptions(def EndpointDef) ([]endpoint.Option, error) {
	var opts []endpoint.Option
	if def.Name != "" {
		opts = append(opts, endpoint.WithName(def.Name))
	}
	if def.Connector != "" {
		opts = append(opts, endpoint.WithConnectorName(def.Connector))
	}
	if def.ExchangePattern != "" {
		p, err := types.ParseExchangePattern(def.ExchangePattern)
		if err != nil {
			return nil, err
		}
		opts = append(opts, endpoint.WithExchangePattern(p))
	}
	if def.MimeType != "" {
		opts = append(opts, endpoint.WithMimeType(def.MimeType))
	}
	if def.Encoding != "" {
		opts = append(opts, endpoint.WithEncoding(def.Encoding))
	}
	if def.ResponseTimeout != "" {
		d, err := cast.ToDurationE(def.ResponseTimeout)
		if err != nil {
			return nil, fmt.Errorf("responseTimeout: %w", err)
		}
		opts = append(opts, endpoint.WithResponseTimeout(d))
	}
	if len(def.Properties) > 0 {
		opts = append(opts, endpoint.WithProperties(types.Properties(def.Properties)))
	}
	if len(def.ResponseProperties) > 0 {
		opts = append(opts, endpoint.WithResponseProperties(def.ResponseProperties...))
	}
	if def.Transaction != nil {
		cfg, err := c.transactionConfig(*def.Transaction)
		if err != nil {
			return nil, err
		}
		opts = append(opts, endpoint.WithTransactionConfig(cfg))
	}
	if def.Retry != nil {
		t, err := c.retryTemplate(*def.Retry)
		if err != nil {
			return nil, err
		}
		opts = append(opts, endpoint.WithRetryPolicy(t))
	}
	if def.Redelivery != nil {
		component, err := c.newComponent(RedeliveryComponent, def.Redelivery)
		if err != nil {
			return nil, err
		}
		policy, ok := component.(types.InterceptingProcessor)
		if !ok {
			return nil, fmt.Errorf("%s is not an intercepting processor", RedeliveryComponent)
		}
		opts = append(opts, endpoint.WithRedeliveryPolicy(policy))
	}
	if def.SecurityFilter != nil {
		p, err := c.buildProcessor(*def.SecurityFilter)
		if err != nil {
			return nil, fmt.Errorf("securityFilter: %w", err)
		}
		opts = append(opts, endpoint.WithSecurityFilter(p))
	}
	if len(def.Processors) > 0 {
		processors, err := c.buildProcessors(def.Processors)
		if err != nil {
			return nil, err
		}
		opts = append(opts, endpoint.WithProcessors(processors...))
	}
	if len(def.ResponseProcessors) > 0 {
		processors, err := c.buildProcessors(def.ResponseProcessors)
		if err != nil {
			return nil, err
		}
		opts = append(opts, endpoint.WithResponseProcessors(processors...))
	}
	return opts, nil
}

type transactionProvider interface {
	TransactionFactory() types.TransactionFactory
}

func (c *Context) transactionConfig(def TransactionDef) (*types.TransactionConfig, error) {
	action, err := types.ParseTransactionAction(def.Action)
	if err != nil {
		return nil, err
	}
	cfg := &types.TransactionConfig{Action: action, InteractWithExternal: def.InteractWithExternal}
	if def.Timeout != "" {
		if cfg.Timeout, err = cast.ToDurationE(def.Timeout); err != nil {
			return nil, fmt.Errorf("transaction timeout: %w", err)
		}
	}
	switch def.Factory {
	case "", MemoryTransactions:
		cfg.Factory = transaction.MemoryFactory{}
	default:
		conn, ok := c.connectors.Connector(def.Factory)
		if !ok {
			return nil, fmt.Errorf("transaction factory %s: %w", def.Factory, types.ErrConnectorNotFound)
		}
		provider, ok := conn.(transactionProvider)
		if !ok {
			return nil, fmt.Errorf("connector %s does not provide transactions", def.Factory)
		}
		cfg.Factory = provider.TransactionFactory()
	}
	return cfg, nil
}

func (c *Context) retryTemplate(def RetryDef) (*retry.Template, error) {
	frequency, err := optionalDuration(def.Frequency)
	if err != nil {
		return nil, fmt.Errorf("retry frequency: %w", err)
	}
	maxFrequency, err := optionalDuration(def.MaxFrequency)
	if err != nil {
		return nil, fmt.Errorf("retry maxFrequency: %w", err)
	}
	var policy retry.Policy
	switch {
	case def.Forever:
		policy = retry.ForeverPolicy{Frequency: frequency, Multiplier: def.Multiplier, MaxFrequency: maxFrequency}
	case def.Count > 0:
		policy = retry.SimplePolicy{Count: def.Count, Frequency: frequency, Multiplier: def.Multiplier, MaxFrequency: maxFrequency}
	default:
		policy = retry.NoRetryPolicy{}
	}
	opts := []retry.Option{retry.WithLogger(c.Logger())}
	if def.Async {
		opts = append(opts, retry.WithAsync(c.config.Pool))
	}
	return retry.NewTemplate(policy, opts...), nil
}

func optionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return cast.ToDurationE(s)
}

// reference resolves its target through the context on every call, so it can point at
// flows and endpoints defined after it.
type reference struct {
	name string
	ctx  *Context
}

func (r *reference) Name() string {
	return r.name
}

func (r *reference) String() string {
	return "ref " + r.name
}

func (r *reference) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	target, ok := r.ctx.Lookup(r.name)
	if !ok {
		return nil, types.NewTypedError(types.ErrorRouting, fmt.Errorf("reference %q not found", r.name))
	}
	if _, isFlow := target.(*flow.Flow); !isFlow {
		return target.Process(ctx, event)
	}
	caller := event.FlowName
	out, err := target.Process(ctx, event)
	if out != nil {
		out.FlowName = caller
	}
	return out, err
}
