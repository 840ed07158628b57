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

package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"net/url"
	"strconv"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/connector"
)

// endpoint builder parameters that are not sent as query parameters
var reservedParams = map[string]bool{
	"connector":       true,
	"exchangePattern": true,
	"mimeType":        true,
	"encoding":        true,
	"responseTimeout": true,
	ParamMethod:       true,
	ParamTLS:          true,
}

type dispatcher struct {
	c        *Connector
	endpoint types.OutboundEndpoint
	url      string
	method   string
	user     string
	password string
}

func (c *Connector) CreateDispatcher(endpoint types.OutboundEndpoint) (types.Processor, error) {
	uri := endpoint.URI()
	if uri.Host == "" {
		return nil, fmt.Errorf("http address %s has no host", uri)
	}
	u := url.URL{Scheme: "http", Host: uri.Host, Path: uri.Path}
	if tls, _ := strconv.ParseBool(uri.Param(ParamTLS)); tls {
		u.Scheme = "https"
	}
	if uri.Port > 0 {
		u.Host = net.JoinHostPort(uri.Host, strconv.Itoa(uri.Port))
	}
	query := url.Values{}
	for k, v := range uri.Params {
		if !reservedParams[k] {
			query[k] = v
		}
	}
	u.RawQuery = query.Encode()
	return &dispatcher{
		c:        c,
		endpoint: endpoint,
		url:      u.String(),
		method:   method(uri, ""),
		user:     uri.User,
		password: uri.Password,
	}, nil
}

func (d *dispatcher) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	client, err := d.c.httpClient()
	if err != nil {
		return nil, err
	}
	msg := event.Message
	payload, err := msg.PayloadBytes()
	if err != nil {
		return nil, types.NewTypedError(types.ErrorTransformation, err)
	}
	m := d.method
	if m == "" {
		m = msg.OutboundProperties.GetString(PropertyMethod)
	}
	if m == "" {
		m = nethttp.MethodPost
	}
	if timeout := d.endpoint.ResponseTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := nethttp.NewRequestWithContext(ctx, m, d.url, body)
	if err != nil {
		return nil, err
	}
	writeHeaders(req.Header, msg.OutboundProperties)
	if ct := contentType(msg.DataType); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	if d.user != "" {
		req.SetBasicAuth(d.user, d.password)
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewTypedError(types.ErrorTimeout, err)
		}
		return nil, types.NewTypedError(types.ErrorConnectivity, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, types.NewTypedError(types.ErrorConnectivity,
			fmt.Errorf("%s %s returned %s", m, d.url, resp.Status))
	}
	if !d.endpoint.ExchangePattern().HasResponse() {
		return event, nil
	}
	return connector.ResponseEvent(event, ToResponseMessage(resp, respBody)), nil
}

// ToResponseMessage converts the response of an outbound request.
func ToResponseMessage(resp *nethttp.Response, body []byte) *types.Message {
	msg := types.NewMessage(body)
	msg.DataType = dataType(resp.Header.Get("Content-Type"))
	readHeaders(resp.Header, msg.InboundProperties)
	msg.InboundProperties.Put(PropertyStatus, resp.StatusCode)
	msg.InboundProperties.Put(PropertyReason, nethttp.StatusText(resp.StatusCode))
	return msg
}
