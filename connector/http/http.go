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

// Package http exposes inbound endpoints as HTTP routes and dispatches outbound endpoints
// as HTTP requests.
//
// Inbound: http://localhost:8081/orders/:id?method=PUT binds a server on localhost:8081 with
// an httprouter route. Request headers become inbound properties, path parameters become
// http.uri.params.<name>. The response status comes from the outbound property http.status,
// then MULE_EXCEPTION_STATUS, then 200.
//
// Outbound: the payload is sent with the method parameter (default POST). Outbound properties
// become request headers. Statuses outside 2xx fail with MULE:CONNECTIVITY.
package http

import (
	"context"
	"fmt"
	"mime"
	"net"
	nethttp "net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/connector"
	"github.com/rulego/esb/utils/maps"
)

const Protocol = "http"

// Message properties.
const (
	PropertyStatus        = "http.status"
	PropertyMethod        = "http.method"
	PropertyRequestPath   = "http.request.path"
	PropertyQueryString   = "http.query.string"
	PropertyQueryParams   = "http.query.params"
	PropertyRemoteAddress = "http.remote.address"
	PropertyReason        = "http.reason"
	// PropertyUriParamPrefix prefixes path parameters, e.g. http.uri.params.id.
	PropertyUriParamPrefix = "http.uri.params."
)

// URI parameters.
const (
	ParamMethod = "method"
	ParamTLS    = "tls"
)

func init() {
	_ = connector.Prototypes.Register(New())
}

// Config of the http connector.
type Config struct {
	// CertFile and CertKeyFile enable TLS on inbound servers.
	CertFile    string
	CertKeyFile string
	// ReadTimeout and WriteTimeout bound inbound requests.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ShutdownTimeout bounds the graceful shutdown of a server.
	ShutdownTimeout time.Duration
	// ProxyAddr is a SOCKS5 proxy, host:port, used by outbound requests.
	ProxyAddr     string
	ProxyUser     string
	ProxyPassword string
	// MaxIdleConns bounds idle outbound keep-alive connections.
	MaxIdleConns int
}

type Connector struct {
	*connector.BaseConnector
	Config Config

	mu      sync.Mutex
	client  *nethttp.Client
	servers map[string]*server
}

func New(opts ...connector.Option) *Connector {
	c := &Connector{
		Config: Config{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			MaxIdleConns:    100,
		},
		servers: make(map[string]*server),
	}
	c.BaseConnector = connector.NewBaseConnector(Protocol, c, opts...)
	return c
}

func (c *Connector) New() connector.Component {
	return New()
}

func (c *Connector) Init(name string, config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &c.Config); err != nil {
		return err
	}
	if (c.Config.CertFile == "") != (c.Config.CertKeyFile == "") {
		return fmt.Errorf("certFile and certKeyFile must be set together")
	}
	c.Configure(name, config)
	return nil
}

// DefaultExchangePattern makes http endpoints request-response unless configured otherwise.
func (c *Connector) DefaultExchangePattern(bool) types.ExchangePattern {
	return types.RequestResponse
}

// ExceptionStatusCode maps the error of a failed event to an HTTP status.
func (c *Connector) ExceptionStatusCode(err *types.Error) int {
	if err == nil {
		return nethttp.StatusOK
	}
	switch {
	case err.Type.IsA(types.ErrorSecurity):
		return nethttp.StatusUnauthorized
	case err.Type.IsA(types.ErrorMimeType):
		return nethttp.StatusUnsupportedMediaType
	case err.Type.IsA(types.ErrorTimeout):
		return nethttp.StatusGatewayTimeout
	case err.Type.IsA(types.ErrorOverload), err.Type.IsA(types.ErrorLifecycle):
		return nethttp.StatusServiceUnavailable
	case err.Type.IsA(types.ErrorConnectivity):
		return nethttp.StatusBadGateway
	}
	return nethttp.StatusInternalServerError
}

// DoConnect prepares the outbound client. Servers start with their first receiver.
func (c *Connector) DoConnect(context.Context) error {
	transport := nethttp.DefaultTransport.(*nethttp.Transport).Clone()
	transport.MaxIdleConns = c.Config.MaxIdleConns
	if c.Config.ProxyAddr != "" {
		var auth *proxy.Auth
		if c.Config.ProxyUser != "" {
			auth = &proxy.Auth{User: c.Config.ProxyUser, Password: c.Config.ProxyPassword}
		}
		dialer, err := proxy.SOCKS5("tcp", c.Config.ProxyAddr, auth, &net.Dialer{Timeout: 30 * time.Second})
		if err != nil {
			return fmt.Errorf("socks5 proxy %s: %w", c.Config.ProxyAddr, err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	}
	c.mu.Lock()
	c.client = &nethttp.Client{Transport: transport}
	c.mu.Unlock()
	return nil
}

// DoDisconnect closes idle client connections and every server left running.
func (c *Connector) DoDisconnect() error {
	c.mu.Lock()
	servers := make([]*server, 0, len(c.servers))
	for _, s := range c.servers {
		servers = append(servers, s)
	}
	c.servers = make(map[string]*server)
	client := c.client
	c.client = nil
	c.mu.Unlock()
	var firstErr error
	for _, s := range servers {
		if err := s.shutdown(c.Config.ShutdownTimeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if client != nil {
		client.CloseIdleConnections()
	}
	return firstErr
}

func (c *Connector) httpClient() (*nethttp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, fmt.Errorf("connector %s is not connected", c.Name()))
	}
	return c.client, nil
}

// ListenAddr returns the address a server bound for host:port, useful with port 0.
func (c *Connector) ListenAddr(hostPort string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[hostPort]
	if !ok || s.listener == nil {
		return "", false
	}
	return s.listener.Addr().String(), true
}

func method(uri types.EndpointURI, fallback string) string {
	if m := uri.Param(ParamMethod); m != "" {
		return strings.ToUpper(m)
	}
	return fallback
}

// dataType reads the mime type and charset of a Content-Type header.
func dataType(contentType string) types.DataType {
	if contentType == "" {
		return types.DataType{MimeType: types.MimeTypeAny}
	}
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return types.DataType{MimeType: types.MimeTypeAny}
	}
	return types.DataType{MimeType: mt, Encoding: strings.ToUpper(params["charset"])}
}

func contentType(dt types.DataType) string {
	if dt.MimeType == "" || dt.IsAny() {
		return ""
	}
	if dt.Encoding == "" {
		return dt.MimeType
	}
	return mime.FormatMediaType(dt.MimeType, map[string]string{"charset": strings.ToLower(dt.Encoding)})
}

// propertyName maps a header name to a message property. MULE_ headers keep their upper case name.
func propertyName(header string) string {
	if upper := strings.ToUpper(header); strings.HasPrefix(upper, "MULE_") {
		return upper
	}
	return nethttp.CanonicalHeaderKey(header)
}

func headerValue(v interface{}) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []string:
		return strings.Join(x, ","), true
	case fmt.Stringer:
		return x.String(), true
	case map[string]interface{}, []interface{}:
		return "", false
	default:
		return fmt.Sprint(x), true
	}
}

// writeHeaders copies message properties to h, skipping the http.* ones.
func writeHeaders(h nethttp.Header, props types.Properties) {
	for k, v := range props {
		if strings.HasPrefix(k, "http.") {
			continue
		}
		if s, ok := headerValue(v); ok {
			h.Set(k, s)
		}
	}
}

func readHeaders(h nethttp.Header, props types.Properties) {
	for k, v := range h {
		if len(v) == 1 {
			props.Put(propertyName(k), v[0])
		} else {
			props.Put(propertyName(k), strings.Join(v, ","))
		}
	}
}

var (
	_ connector.Component         = (*Connector)(nil)
	_ types.ExceptionStatusMapper = (*Connector)(nil)
)
