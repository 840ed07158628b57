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

// Package websocket receives and sends messages over websocket connections.
//
// Inbound: ws://localhost:9090/echo/:room upgrades GET requests on the route and routes every
// text or binary frame. A request-response endpoint writes the result back on the same
// connection with the frame type it received.
//
// Outbound: ws://host:port/path dials once per dispatcher and writes the payload. A
// request-response outbound endpoint waits for one reply frame, bounded by the endpoint
// response timeout.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/connector"
	"github.com/rulego/esb/utils/maps"
)

const Protocol = "ws"

// Message properties.
const (
	PropertyMessageType   = "ws.message.type"
	PropertyRequestPath   = "ws.request.path"
	PropertyRemoteAddress = "ws.remote.address"
	// PropertyUriParamPrefix prefixes path parameters, e.g. ws.uri.params.room.
	PropertyUriParamPrefix = "ws.uri.params."
)

func init() {
	_ = connector.Prototypes.Register(New())
}

type Config struct {
	CertFile    string
	CertKeyFile string
	// HandshakeTimeout bounds the upgrade of inbound and outbound connections.
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	// CheckOrigin rejects cross origin upgrades when true.
	CheckOrigin     bool
	ShutdownTimeout time.Duration
}

type Connector struct {
	*connector.BaseConnector
	Config Config

	mu       sync.Mutex
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	servers  map[string]*server
}

func New(opts ...connector.Option) *Connector {
	c := &Connector{
		Config: Config{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			ShutdownTimeout:  5 * time.Second,
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

// DefaultExchangePattern replies on inbound connections and fires and forgets outbound.
func (c *Connector) DefaultExchangePattern(inbound bool) types.ExchangePattern {
	if inbound {
		return types.RequestResponse
	}
	return types.OneWay
}

func (c *Connector) DoConnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upgrader = websocket.Upgrader{
		HandshakeTimeout: c.Config.HandshakeTimeout,
		ReadBufferSize:   c.Config.ReadBufferSize,
		WriteBufferSize:  c.Config.WriteBufferSize,
	}
	if !c.Config.CheckOrigin {
		c.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	c.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.Config.HandshakeTimeout,
		ReadBufferSize:   c.Config.ReadBufferSize,
		WriteBufferSize:  c.Config.WriteBufferSize,
	}
	return nil
}

func (c *Connector) DoDisconnect() error {
	c.mu.Lock()
	servers := c.servers
	c.servers = make(map[string]*server)
	c.mu.Unlock()
	var firstErr error
	for _, s := range servers {
		if err := s.shutdown(c.Config.ShutdownTimeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ListenAddr returns the address a server bound for host:port.
func (c *Connector) ListenAddr(hostPort string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[hostPort]
	if !ok {
		return "", false
	}
	return s.listener.Addr().String(), true
}

type server struct {
	router   *httprouter.Router
	srv      *http.Server
	listener net.Listener
	routes   map[string]*route
	active   int
}

func (s *server) shutdown(timeout time.Duration) error {
	for _, rt := range s.routes {
		rt.closeAll()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// route survives its receiver because httprouter routes can not be removed.
type route struct {
	mu       sync.Mutex
	receiver *receiver
	conns    map[*websocket.Conn]struct{}
}

func (rt *route) current() *receiver {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.receiver
}

func (rt *route) track(conn *websocket.Conn, add bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if add {
		rt.conns[conn] = struct{}{}
	} else {
		delete(rt.conns, conn)
	}
}

func (rt *route) closeAll() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for conn := range rt.conns {
		_ = conn.Close()
	}
	rt.conns = make(map[*websocket.Conn]struct{})
}

func (c *Connector) startServer(hostPort string) (*server, error) {
	listener, err := net.Listen("tcp", hostPort)
	if err != nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, err)
	}
	s := &server{router: httprouter.New(), listener: listener, routes: make(map[string]*route)}
	s.srv = &http.Server{Handler: s.router}
	logger := c.Logger()
	go func() {
		var err error
		if c.Config.CertFile != "" {
			err = s.srv.ServeTLS(listener, c.Config.CertFile, c.Config.CertKeyFile)
		} else {
			err = s.srv.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("websocket server on %s stopped: %v", hostPort, err)
		}
	}()
	return s, nil
}

type receiver struct {
	*connector.BaseReceiver
	c        *Connector
	hostPort string
	path     string
}

func (c *Connector) CreateReceiver(base *connector.BaseReceiver) (types.MessageReceiver, error) {
	uri := base.Endpoint().URI()
	path := uri.Path
	if path == "" {
		path = "/"
	}
	r := &receiver{BaseReceiver: base, c: c, hostPort: net.JoinHostPort(uri.Host, strconv.Itoa(uri.Port)), path: path}
	base.OnConnect = r.bind
	base.OnDisconnect = r.unbind
	return r, nil
}

func (r *receiver) bind(context.Context) (err error) {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[r.hostPort]
	if !ok {
		if s, err = c.startServer(r.hostPort); err != nil {
			return err
		}
		c.servers[r.hostPort] = s
	}
	rt, ok := s.routes[r.path]
	if !ok {
		rt = &route{conns: make(map[*websocket.Conn]struct{})}
		func() {
			defer func() {
				if e := recover(); e != nil {
					err = fmt.Errorf("route %s: %v", r.path, e)
				}
			}()
			s.router.GET(r.path, c.handler(rt))
		}()
		if err != nil {
			return err
		}
		s.routes[r.path] = rt
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.receiver != nil {
		return fmt.Errorf("%s on %s is already bound", r.path, r.hostPort)
	}
	rt.receiver = r
	s.active++
	return nil
}

func (r *receiver) unbind() error {
	c := r.c
	c.mu.Lock()
	s, ok := c.servers[r.hostPort]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if rt, ok := s.routes[r.path]; ok {
		rt.mu.Lock()
		if rt.receiver == r {
			rt.receiver = nil
			s.active--
		}
		rt.mu.Unlock()
		rt.closeAll()
	}
	idle := s.active == 0
	if idle {
		delete(c.servers, r.hostPort)
	}
	c.mu.Unlock()
	if idle {
		return s.shutdown(c.Config.ShutdownTimeout)
	}
	return nil
}

func (c *Connector) handler(rt *route) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		if rt.current() == nil {
			http.Error(w, "no listener for "+req.URL.Path, http.StatusServiceUnavailable)
			return
		}
		c.mu.Lock()
		upgrader := c.upgrader
		c.mu.Unlock()
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			c.Logger().Warnf("upgrade %s: %v", req.URL.Path, err)
			return
		}
		rt.track(conn, true)
		defer func() {
			rt.track(conn, false)
			_ = conn.Close()
		}()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			r := rt.current()
			if r == nil {
				return
			}
			out, err := r.RouteMessage(req.Context(), ToMessage(req, params, mt, data))
			if err != nil {
				r.Logger().Errorf("processing frame from %s failed: %v", req.RemoteAddr, err)
				continue
			}
			if out == nil {
				continue
			}
			payload, err := out.Message.PayloadBytes()
			if err != nil {
				r.Logger().Errorf("encoding reply: %v", err)
				continue
			}
			if err := conn.WriteMessage(mt, payload); err != nil {
				return
			}
		}
	}
}

// ToMessage converts a received frame.
func ToMessage(req *http.Request, params httprouter.Params, messageType int, data []byte) *types.Message {
	msg := types.NewMessage(data)
	if messageType == websocket.BinaryMessage {
		msg.DataType.MimeType = types.MimeTypeBinary
		msg.InboundProperties.Put(PropertyMessageType, "binary")
	} else {
		msg.DataType.MimeType = types.MimeTypeText
		msg.InboundProperties.Put(PropertyMessageType, "text")
	}
	msg.InboundProperties.Put(PropertyRequestPath, req.URL.Path)
	msg.InboundProperties.Put(PropertyRemoteAddress, req.RemoteAddr)
	for _, p := range params {
		msg.InboundProperties.Put(PropertyUriParamPrefix+p.Key, p.Value)
	}
	return msg
}

type dispatcher struct {
	c        *Connector
	endpoint types.OutboundEndpoint
	url      string

	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *Connector) CreateDispatcher(endpoint types.OutboundEndpoint) (types.Processor, error) {
	uri := endpoint.URI()
	if uri.Host == "" {
		return nil, fmt.Errorf("websocket address %s has no host", uri)
	}
	scheme := "ws"
	if tls, _ := strconv.ParseBool(uri.Param("tls")); tls {
		scheme = "wss"
	}
	host := uri.Host
	if uri.Port > 0 {
		host = net.JoinHostPort(uri.Host, strconv.Itoa(uri.Port))
	}
	return &dispatcher{c: c, endpoint: endpoint, url: scheme + "://" + host + uri.Path}, nil
}

func (d *dispatcher) connection(ctx context.Context) (*websocket.Conn, error) {
	if d.conn != nil {
		return d.conn, nil
	}
	d.c.mu.Lock()
	dialer := d.c.dialer
	d.c.mu.Unlock()
	if dialer == nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, fmt.Errorf("connector %s is not connected", d.c.Name()))
	}
	conn, _, err := dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, err)
	}
	d.conn = conn
	return conn, nil
}

func (d *dispatcher) drop() {
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}

func (d *dispatcher) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	payload, err := event.Message.PayloadBytes()
	if err != nil {
		return nil, types.NewTypedError(types.ErrorTransformation, err)
	}
	mt := websocket.TextMessage
	if event.Message.DataType.MimeType == types.MimeTypeBinary {
		mt = websocket.BinaryMessage
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	conn, err := d.connection(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(mt, payload); err != nil {
		d.drop()
		return nil, types.NewTypedError(types.ErrorConnectivity, err)
	}
	if !d.endpoint.ExchangePattern().HasResponse() {
		return event, nil
	}
	deadline := time.Time{}
	if timeout := d.endpoint.ResponseTimeout(); timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)
	rmt, data, err := conn.ReadMessage()
	if err != nil {
		d.drop()
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, types.NewTypedError(types.ErrorTimeout, err)
		}
		return nil, types.NewTypedError(types.ErrorConnectivity, err)
	}
	reply := types.NewMessage(data)
	reply.DataType.MimeType = types.MimeTypeText
	if rmt == websocket.BinaryMessage {
		reply.DataType.MimeType = types.MimeTypeBinary
	}
	return connector.ResponseEvent(event, reply), nil
}

var _ connector.Component = (*Connector)(nil)
