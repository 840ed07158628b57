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
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"strconv"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/connector"
	"github.com/rulego/esb/utils/cast"
)

// server is one listening address shared by the inbound endpoints bound to it.
// httprouter can not remove routes, so a route outlives its receiver and answers 503
// until a receiver binds to it again.
type server struct {
	hostPort string
	router   *httprouter.Router
	srv      *nethttp.Server
	listener net.Listener
	routes   map[string]*route
	active   int
}

type route struct {
	mu       sync.RWMutex
	receiver *receiver
}

func (rt *route) current() *receiver {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.receiver
}

func (rt *route) set(r *receiver) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.receiver = r
}

func (s *server) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (c *Connector) startServer(hostPort string) (*server, error) {
	listener, err := net.Listen("tcp", hostPort)
	if err != nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, err)
	}
	s := &server{hostPort: hostPort, router: httprouter.New(), listener: listener, routes: make(map[string]*route)}
	s.srv = &nethttp.Server{
		Handler:      s.router,
		ReadTimeout:  c.Config.ReadTimeout,
		WriteTimeout: c.Config.WriteTimeout,
	}
	logger := c.Logger()
	go func() {
		var err error
		if c.Config.CertFile != "" {
			err = s.srv.ServeTLS(listener, c.Config.CertFile, c.Config.CertKeyFile)
		} else {
			err = s.srv.Serve(listener)
		}
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Errorf("http server on %s stopped: %v", hostPort, err)
		}
	}()
	logger.Infof("http server listening on %s", listener.Addr())
	return s, nil
}

func (s *server) handle(method, path string, rt *route) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("route %s %s: %v", method, path, e)
		}
	}()
	s.router.Handle(method, path, func(w nethttp.ResponseWriter, req *nethttp.Request, params httprouter.Params) {
		r := rt.current()
		if r == nil {
			nethttp.Error(w, "no listener for "+req.URL.Path, nethttp.StatusServiceUnavailable)
			return
		}
		r.serve(w, req, params)
	})
	return nil
}

type receiver struct {
	*connector.BaseReceiver
	c        *Connector
	hostPort string
	method   string
	path     string
}

func (c *Connector) CreateReceiver(base *connector.BaseReceiver) (types.MessageReceiver, error) {
	uri := base.Endpoint().URI()
	path := uri.Path
	if path == "" {
		path = "/"
	}
	r := &receiver{
		BaseReceiver: base,
		c:            c,
		hostPort:     net.JoinHostPort(uri.Host, strconv.Itoa(uri.Port)),
		method:       method(uri, nethttp.MethodPost),
		path:         path,
	}
	base.OnConnect = r.bind
	base.OnDisconnect = r.unbind
	return r, nil
}

func (r *receiver) key() string {
	return r.method + " " + r.path
}

func (r *receiver) bind(context.Context) error {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[r.hostPort]
	if !ok {
		var err error
		if s, err = c.startServer(r.hostPort); err != nil {
			return err
		}
		c.servers[r.hostPort] = s
	}
	rt, ok := s.routes[r.key()]
	if !ok {
		rt = &route{}
		if err := s.handle(r.method, r.path, rt); err != nil {
			if s.active == 0 {
				delete(c.servers, r.hostPort)
				go func() { _ = s.shutdown(c.Config.ShutdownTimeout) }()
			}
			return err
		}
		s.routes[r.key()] = rt
	}
	if rt.current() != nil {
		return fmt.Errorf("%s on %s is already bound", r.key(), r.hostPort)
	}
	rt.set(r)
	s.active++
	return nil
}

// unbind detaches the route and stops the server once no route is bound.
func (r *receiver) unbind() error {
	c := r.c
	c.mu.Lock()
	s, ok := c.servers[r.hostPort]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if rt, ok := s.routes[r.key()]; ok && rt.current() == r {
		rt.set(nil)
		s.active--
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

// ToMessage converts an HTTP request.
func ToMessage(req *nethttp.Request, body []byte, params httprouter.Params) *types.Message {
	msg := types.NewMessage(body)
	msg.DataType = dataType(req.Header.Get("Content-Type"))
	readHeaders(req.Header, msg.InboundProperties)
	props := msg.InboundProperties
	props.Put(PropertyMethod, req.Method)
	props.Put(PropertyRequestPath, req.URL.Path)
	props.Put(PropertyQueryString, req.URL.RawQuery)
	query := make(map[string]interface{})
	for k, v := range req.URL.Query() {
		if len(v) == 1 {
			query[k] = v[0]
		} else {
			query[k] = v
		}
	}
	props.Put(PropertyQueryParams, query)
	props.Put(PropertyRemoteAddress, req.RemoteAddr)
	for _, p := range params {
		props.Put(PropertyUriParamPrefix+p.Key, p.Value)
	}
	return msg
}

func (r *receiver) serve(w nethttp.ResponseWriter, req *nethttp.Request, params httprouter.Params) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		nethttp.Error(w, err.Error(), nethttp.StatusBadRequest)
		return
	}
	out, err := r.RouteMessage(req.Context(), ToMessage(req, body, params))
	if err != nil {
		status := r.c.ExceptionStatusCode(&types.Error{Type: types.ResolveErrorType(err)})
		nethttp.Error(w, err.Error(), status)
		return
	}
	if out == nil {
		if r.Endpoint().ExchangePattern().HasResponse() {
			w.WriteHeader(nethttp.StatusNoContent)
		} else {
			w.WriteHeader(nethttp.StatusAccepted)
		}
		return
	}
	r.c.writeResponse(w, out)
}

func (c *Connector) writeResponse(w nethttp.ResponseWriter, out *types.Event) {
	msg := out.Message
	payload, err := msg.PayloadBytes()
	if err != nil {
		nethttp.Error(w, err.Error(), nethttp.StatusInternalServerError)
		return
	}
	writeHeaders(w.Header(), msg.OutboundProperties)
	if ct := contentType(msg.DataType); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(c.responseStatus(out))
	_, _ = w.Write(payload)
}

func (c *Connector) responseStatus(out *types.Event) int {
	props := out.Message.OutboundProperties
	for _, key := range []string{PropertyStatus, types.PropertyExceptionStatus} {
		if v := props.Get(key); v != nil {
			if status, err := cast.ToIntE(v); err == nil && status >= 100 && status < 600 {
				return status
			}
		}
	}
	if out.Error != nil {
		return c.ExceptionStatusCode(out.Error)
	}
	return nethttp.StatusOK
}
