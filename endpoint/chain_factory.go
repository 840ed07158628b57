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

package endpoint

import (
	"fmt"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/chain"
	"github.com/rulego/esb/endpoint/processor"
)

// ChainFactory builds the processor chains of endpoints.
type ChainFactory interface {
	InboundChain(ep types.InboundEndpoint, flow types.FlowConstruct, listener types.Processor) (types.Processor, error)
	OutboundChain(ep types.OutboundEndpoint, dispatcher types.Processor) (types.Processor, error)
}

// DefaultChainFactory puts the standard endpoint steps around the configured processors.
// The optional fields are applied to every chain it builds.
type DefaultChainFactory struct {
	Interceptors       []chain.Interceptor
	InterceptorManager *chain.InterceptorManager
	// LifecycleCheck makes the chains refuse events while it returns false.
	LifecycleCheck func() bool
	Notifier       types.Notifier
}

func (f *DefaultChainFactory) InboundProcessors(ep types.InboundEndpoint) []types.Processor {
	return []types.Processor{
		processor.NewInboundMimeTypeCheck(ep),
		processor.NewInboundEndpointProperties(ep),
		processor.NewInboundNotification(ep),
		processor.NewLogging(ep, "inbound"),
	}
}

func (f *DefaultChainFactory) InboundResponseProcessors(ep types.InboundEndpoint) []types.Processor {
	return []types.Processor{
		processor.NewInboundExceptionDetails(ep),
		processor.NewResponseNotification(ep),
		processor.NewLogging(ep, "inbound response"),
	}
}

func (f *DefaultChainFactory) OutboundProcessors(ep types.OutboundEndpoint) []types.Processor {
	ps := []types.Processor{
		processor.NewOutboundSessionHandler(ep),
		processor.NewOutboundEndpointProperties(ep),
		processor.NewOutboundResponseProperties(ep),
		processor.NewOutboundMimeTypeCheck(ep),
		processor.NewOutboundTxRollback(ep),
		processor.NewOutboundNotification(ep),
		processor.NewLogging(ep, "outbound"),
	}
	if ep.ExchangePattern().HasResponse() {
		ps = append(ps, processor.NewEventTimeout(ep))
	}
	return ps
}

func (f *DefaultChainFactory) OutboundResponseProcessors(ep types.OutboundEndpoint) []types.Processor {
	return []types.Processor{processor.NewLogging(ep, "outbound response")}
}

// InboundChain composes the request chain ending in listener with the response chain.
func (f *DefaultChainFactory) InboundChain(ep types.InboundEndpoint, flow types.FlowConstruct, listener types.Processor) (types.Processor, error) {
	if listener == nil {
		return nil, fmt.Errorf("inbound endpoint %s: %w", ep.Name(), types.ErrNoListener)
	}
	uri := ep.URI().String()
	flowName := ""
	if flow != nil {
		flowName = flow.Name()
	}
	req := f.builder(fmt.Sprintf("InboundEndpoint '%s' request chain", uri), ep, flowName, "source/request").
		Chain(f.InboundProcessors(ep)...)
	if rp := ep.RedeliveryPolicy(); rp != nil {
		req.ChainIntercepting(rp)
	}
	if sf := ep.SecurityFilter(); sf != nil {
		req.Chain(sf)
	}
	req.Chain(ep.Processors()...).Chain(listener)

	resp := f.builder(fmt.Sprintf("InboundEndpoint '%s' response chain", uri), ep, flowName, "source/response").
		Chain(f.InboundResponseProcessors(ep)...).
		Chain(ep.ResponseProcessors()...)
	return f.compose(fmt.Sprintf("InboundEndpoint '%s' composite request/response chain", uri), req, resp)
}

// OutboundChain composes the request chain ending in dispatcher with the response chain.
func (f *DefaultChainFactory) OutboundChain(ep types.OutboundEndpoint, dispatcher types.Processor) (types.Processor, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("outbound endpoint %s: no dispatcher", ep.Name())
	}
	uri := ep.URI().String()
	req := f.builder(fmt.Sprintf("OutboundEndpoint '%s' request chain", uri), ep, "", "outbound/request").
		Chain(f.OutboundProcessors(ep)...)
	if tx := ep.TransactionConfig(); tx.IsTransacted() {
		req.ChainIntercepting(processor.NewTransactionalInterceptor(tx, ep.Config().Logger))
	}
	req.Chain(ep.Processors()...).Chain(dispatcher)

	resp := f.builder(fmt.Sprintf("OutboundEndpoint '%s' response chain", uri), ep, "", "outbound/response").
		Chain(f.OutboundResponseProcessors(ep)...).
		Chain(ep.ResponseProcessors()...)
	return f.compose(fmt.Sprintf("OutboundEndpoint '%s' composite request/response chain", uri), req, resp)
}

func (f *DefaultChainFactory) builder(name string, ep types.ImmutableEndpoint, flowName, path string) *chain.Builder {
	b := chain.NewBuilder(name).
		WithLocation(flowName, path).
		WithLogger(ep.Config().Logger)
	if len(f.Interceptors) > 0 {
		b.WithInterceptors(f.Interceptors...)
	}
	if f.InterceptorManager != nil {
		b.WithInterceptorManager(f.InterceptorManager)
	}
	if f.LifecycleCheck != nil {
		b.WithLifecycleCheck(f.LifecycleCheck)
	}
	if f.Notifier != nil {
		b.WithNotifier(f.Notifier)
	} else if n := ep.Config().Notifier; n != nil {
		b.WithNotifier(n)
	}
	return b
}

func (f *DefaultChainFactory) compose(name string, req, resp *chain.Builder) (types.Processor, error) {
	reqChain, err := req.Build()
	if err != nil {
		return nil, err
	}
	respChain, err := resp.Build()
	if err != nil {
		return nil, err
	}
	return chain.NewResponseComposite(name, reqChain, respChain), nil
}
