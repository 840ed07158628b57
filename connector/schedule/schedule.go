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

// Package schedule fires inbound endpoints on a cron schedule.
//
// Address format: schedule://cleanup?cron=0+*/5+*+*+*+* (six fields, seconds first) or
// schedule://heartbeat?frequency=1500 (milliseconds, or a duration such as 30s). Every tick
// routes a message with an empty payload. A tick is skipped while the previous one is still
// running.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/connector"
	"github.com/rulego/esb/utils/cast"
	"github.com/rulego/esb/utils/maps"
)

const Protocol = "schedule"

// Message properties.
const (
	PropertyName     = "schedule.name"
	PropertyFireTime = "schedule.fire.time"
)

// URI parameters.
const (
	ParamCron      = "cron"
	ParamFrequency = "frequency"
)

func init() {
	_ = connector.Prototypes.Register(New())
}

type Config struct {
	// Location is the IANA time zone of cron expressions, local time when empty.
	Location string
}

type Connector struct {
	*connector.BaseConnector
	Config Config

	mu   sync.Mutex
	cron *cron.Cron
}

func New(opts ...connector.Option) *Connector {
	c := &Connector{}
	oneWay := []types.ExchangePattern{types.OneWay}
	opts = append([]connector.Option{connector.WithExchangePatterns(oneWay, nil)}, opts...)
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
	if c.Config.Location != "" {
		if _, err := time.LoadLocation(c.Config.Location); err != nil {
			return err
		}
	}
	c.Configure(name, config)
	return nil
}

func (c *Connector) DoConnect(context.Context) error {
	loc := time.Local
	if c.Config.Location != "" {
		var err error
		if loc, err = time.LoadLocation(c.Config.Location); err != nil {
			return err
		}
	}
	logger := cron.PrintfLogger(c.Logger())
	cr := cron.New(cron.WithSeconds(), cron.WithLocation(loc), cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	cr.Start()
	c.mu.Lock()
	c.cron = cr
	c.mu.Unlock()
	return nil
}

// DoDisconnect stops the scheduler and waits for running ticks.
func (c *Connector) DoDisconnect() error {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr != nil {
		<-cr.Stop().Done()
	}
	return nil
}

// Spec returns the cron spec of an endpoint address.
func Spec(uri types.EndpointURI) (string, error) {
	if expr := uri.Param(ParamCron); expr != "" {
		return expr, nil
	}
	if f := uri.Param(ParamFrequency); f != "" {
		d, err := cast.ToDurationE(f)
		if err != nil || d <= 0 {
			return "", fmt.Errorf("invalid frequency %q", f)
		}
		return "@every " + d.String(), nil
	}
	return "", fmt.Errorf("schedule address %s needs a cron or frequency parameter", uri)
}

type receiver struct {
	*connector.BaseReceiver
	c    *Connector
	spec string
	name string

	mu    sync.Mutex
	entry cron.EntryID
}

func (c *Connector) CreateReceiver(base *connector.BaseReceiver) (types.MessageReceiver, error) {
	uri := base.Endpoint().URI()
	spec, err := Spec(uri)
	if err != nil {
		return nil, err
	}
	if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	r := &receiver{BaseReceiver: base, c: c, spec: spec, name: uri.Resource()}
	base.OnConnect = r.schedule
	base.OnDisconnect = r.unschedule
	return r, nil
}

func (r *receiver) schedule(context.Context) error {
	r.c.mu.Lock()
	cr := r.c.cron
	r.c.mu.Unlock()
	if cr == nil {
		return types.NewTypedError(types.ErrorLifecycle, fmt.Errorf("connector %s is not connected", r.c.Name()))
	}
	id, err := cr.AddFunc(r.spec, r.fire)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.entry = id
	r.mu.Unlock()
	return nil
}

func (r *receiver) unschedule() error {
	r.c.mu.Lock()
	cr := r.c.cron
	r.c.mu.Unlock()
	r.mu.Lock()
	id := r.entry
	r.entry = 0
	r.mu.Unlock()
	if cr != nil && id != 0 {
		cr.Remove(id)
	}
	return nil
}

func (r *receiver) fire() {
	msg := types.NewMessage("")
	msg.DataType.MimeType = types.MimeTypeText
	msg.InboundProperties.Put(PropertyName, r.name)
	msg.InboundProperties.Put(PropertyFireTime, time.Now())
	if _, err := r.RouteMessage(context.Background(), msg); err != nil {
		r.Logger().Errorf("scheduled run of %s failed: %v", r.name, err)
	}
}

func (c *Connector) CreateDispatcher(types.OutboundEndpoint) (types.Processor, error) {
	return nil, fmt.Errorf("schedule endpoints are inbound only")
}

var _ connector.Component = (*Connector)(nil)
