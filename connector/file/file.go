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


// Package file reads and writes files in local directories.
//
// Address format: file:///var/spool/orders, or file://data/orders for a path relative to
// the working directory. Inbound endpoints poll the directory every pollingFrequency and
// route each regular file whose name matches the pattern parameter, oldest first. A routed
// file is moved to moveToDirectory when one is set and deleted otherwise. A file whose
// routing failed stays in place and is not read again until it changes.
//
// Outbound endpoints write the payload to a file named by outputPattern, which may refer
// to message properties, e.g. file:///var/out?outputPattern=${originalFilename}.done.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/connector"
	"github.com/rulego/esb/utils/cast"
	"github.com/rulego/esb/utils/maps"
	"github.com/rulego/esb/utils/str"
)

const Protocol = "file"

// Message properties.
const (
	PropertyOriginalFilename = "originalFilename"
	PropertyFilename         = "filename"
	PropertyDirectory        = "directory"
	PropertyFileSize         = "fileSize"
	PropertyTimestamp        = "timestamp"
)

// URI parameters, overriding the connector config per endpoint.
const (
	ParamPollingFrequency = "pollingFrequency"
	ParamFileAge          = "fileAge"
	ParamPattern          = "pattern"
	ParamMoveToDirectory  = "moveToDirectory"
	ParamMoveToPattern    = "moveToPattern"
	ParamOutputPattern    = "outputPattern"
	ParamOutputAppend     = "outputAppend"
)

const DefaultOutputPattern = "${id}.dat"

func init() {
	_ = connector.Prototypes.Register(New())
}

type Config struct {
	PollingFrequency time.Duration
	// FileAge is the minimum time since the last write before a file is read.
	FileAge time.Duration
	// Watch polls as soon as the directory changes instead of waiting for the next tick.
	Watch           bool
	MoveToDirectory string
	// MoveToPattern names moved files. ${originalFilename} and ${timestamp} are available.
	MoveToPattern string
	OutputPattern string
	OutputAppend  bool
}

type Connector struct {
	*connector.BaseConnector
	Config Config
}

func New(opts ...connector.Option) *Connector {
	c := &Connector{Config: Config{PollingFrequency: time.Second, OutputPattern: DefaultOutputPattern}}
	oneWay := []types.ExchangePattern{types.OneWay}
	opts = append([]connector.Option{connector.WithExchangePatterns(oneWay, oneWay)}, opts...)
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
	if c.Config.PollingFrequency <= 0 {
		c.Config.PollingFrequency = time.Second
	}
	if c.Config.OutputPattern == "" {
		c.Config.OutputPattern = DefaultOutputPattern
	}
	c.Configure(name, config)
	return nil
}

func (c *Connector) DoConnect(context.Context) error {
	return nil
}

func (c *Connector) DoDisconnect() error {
	return nil
}

// Dir returns the directory of an endpoint address.
func Dir(uri types.EndpointURI) string {
	if uri.Host != "" {
		return filepath.FromSlash(uri.Host + uri.Path)
	}
	return filepath.FromSlash(uri.Path)
}

func param(uri types.EndpointURI, key, fallback string) string {
	if v := uri.Param(key); v != "" {
		return v
	}
	return fallback
}

func durationParam(uri types.EndpointURI, key string, fallback time.Duration) (time.Duration, error) {
	v := uri.Param(key)
	if v == "" {
		return fallback, nil
	}
	d, err := cast.ToDurationE(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}

type receiver struct {
	*connector.BaseReceiver
	c         *Connector
	dir       string
	pattern   string
	moveTo    string
	movePat   string
	frequency time.Duration
	fileAge   time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	// failed remembers the modification time of files whose routing failed.
	failed map[string]time.Time
}

func (c *Connector) CreateReceiver(base *connector.BaseReceiver) (types.MessageReceiver, error) {
	uri := base.Endpoint().URI()
	dir := Dir(uri)
	if dir == "" {
		return nil, fmt.Errorf("file address %s has no directory", uri)
	}
	frequency, err := durationParam(uri, ParamPollingFrequency, c.Config.PollingFrequency)
	if err != nil {
		return nil, err
	}
	if frequency <= 0 {
		frequency = time.Second
	}
	fileAge, err := durationParam(uri, ParamFileAge, c.Config.FileAge)
	if err != nil {
		return nil, err
	}
	pattern := param(uri, ParamPattern, "*")
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
	}
	r := &receiver{
		BaseReceiver: base,
		c:            c,
		dir:          dir,
		pattern:      pattern,
		moveTo:       param(uri, ParamMoveToDirectory, c.Config.MoveToDirectory),
		movePat:      param(uri, ParamMoveToPattern, c.Config.MoveToPattern),
		frequency:    frequency,
		fileAge:      fileAge,
		failed:       make(map[string]time.Time),
	}
	base.OnConnect = r.start
	base.OnDisconnect = r.stop
	return r, nil
}

func (r *receiver) start(context.Context) error {
	info, err := os.Stat(r.dir)
	if err != nil {
		return types.NewTypedError(types.ErrorConnectivity, err)
	}
	if !info.IsDir() {
		return types.NewTypedError(types.ErrorConnectivity, fmt.Errorf("%s is not a directory", r.dir))
	}
	if r.moveTo != "" {
		if err := os.MkdirAll(r.moveTo, 0o755); err != nil {
			return types.NewTypedError(types.ErrorConnectivity, err)
		}
	}
	var changes chan fsnotify.Event
	var watcher *fsnotify.Watcher
	if r.c.Config.Watch {
		if watcher, err = fsnotify.NewWatcher(); err != nil {
			return err
		}
		if err = watcher.Add(r.dir); err != nil {
			_ = watcher.Close()
			return err
		}
		changes = watcher.Events
	}
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.loop(r.stopCh, watcher, changes)
	return nil
}

func (r *receiver) stop() error {
	if r.stopCh != nil {
		close(r.stopCh)
		r.wg.Wait()
		r.stopCh = nil
	}
	return nil
}

func (r *receiver) loop(stop chan struct{}, watcher *fsnotify.Watcher, changes chan fsnotify.Event) {
	defer r.wg.Done()
	if watcher != nil {
		defer watcher.Close()
	}
	ticker := time.NewTicker(r.frequency)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.poll(stop)
		case ev, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				r.poll(stop)
			}
		}
	}
}

type candidate struct {
	path string
	info os.FileInfo
}

// poll routes the files ready in the directory, oldest first.
func (r *receiver) poll(stop chan struct{}) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.Logger().Errorf("reading directory %s failed: %v", r.dir, err)
		return
	}
	now := time.Now()
	var ready []candidate
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if ok, _ := filepath.Match(r.pattern, e.Name()); !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if r.fileAge > 0 && now.Sub(info.ModTime()) < r.fileAge {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		if mod, ok := r.failed[path]; ok && mod.Equal(info.ModTime()) {
			continue
		}
		ready = append(ready, candidate{path: path, info: info})
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].info.ModTime().Before(ready[j].info.ModTime())
	})
	for _, f := range ready {
		select {
		case <-stop:
			return
		default:
		}
		r.process(f)
	}
}

func (r *receiver) process(f candidate) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.Logger().Errorf("reading %s failed: %v", f.path, err)
		}
		return
	}
	name := f.info.Name()
	msg := types.NewMessage(data)
	msg.DataType.MimeType = types.MimeTypeBinary
	msg.InboundProperties.Put(PropertyOriginalFilename, name)
	msg.InboundProperties.Put(PropertyFilename, name)
	msg.InboundProperties.Put(PropertyDirectory, r.dir)
	msg.InboundProperties.Put(PropertyFileSize, f.info.Size())
	msg.InboundProperties.Put(PropertyTimestamp, f.info.ModTime())

	if _, err := r.RouteMessage(context.Background(), msg); err != nil {
		if errors.Is(err, types.ErrLifecycle) {
			// not connected yet or stopping, the next poll picks it up
			return
		}
		r.failed[f.path] = f.info.ModTime()
		r.Logger().Errorf("processing file %s failed: %v", f.path, err)
		return
	}
	delete(r.failed, f.path)
	if err := r.dispose(f.path, name); err != nil {
		r.Logger().Errorf("disposing of %s failed: %v", f.path, err)
	}
}

// dispose moves a routed file to the move-to directory, or deletes it.
func (r *receiver) dispose(path, name string) error {
	if r.moveTo == "" {
		return os.Remove(path)
	}
	target := name
	if r.movePat != "" {
		target = str.ExecuteTemplate(r.movePat, map[string]interface{}{
			PropertyOriginalFilename: name,
			PropertyTimestamp:        time.Now().Format("20060102150405"),
		})
	}
	return os.Rename(path, filepath.Join(r.moveTo, filepath.Base(target)))
}

type dispatcher struct {
	c       *Connector
	dir     string
	pattern string
	append  bool
}

func (c *Connector) CreateDispatcher(endpoint types.OutboundEndpoint) (types.Processor, error) {
	uri := endpoint.URI()
	dir := Dir(uri)
	if dir == "" {
		return nil, fmt.Errorf("file address %s has no directory", uri)
	}
	appendMode := c.Config.OutputAppend
	if v := uri.Param(ParamOutputAppend); v != "" {
		var err error
		if appendMode, err = cast.ToBoolE(v); err != nil {
			return nil, fmt.Errorf("invalid %s %q", ParamOutputAppend, v)
		}
	}
	return &dispatcher{c: c, dir: dir, pattern: param(uri, ParamOutputPattern, c.Config.OutputPattern), append: appendMode}, nil
}

// Filename resolves the output pattern against the event. The outbound filename property
// takes precedence over the pattern.
func (d *dispatcher) Filename(event *types.Event) string {
	msg := event.Message
	if name := msg.OutboundProperties.GetString(PropertyFilename); name != "" {
		return filepath.Base(name)
	}
	dict := make(map[string]interface{}, len(msg.InboundProperties)+len(msg.OutboundProperties)+2)
	for k, v := range msg.InboundProperties {
		dict[k] = v
	}
	for k, v := range msg.OutboundProperties {
		dict[k] = v
	}
	dict["id"] = event.Id
	dict["correlationId"] = event.CorrelationId
	return filepath.Base(str.ExecuteTemplate(d.pattern, dict))
}

func (d *dispatcher) Process(_ context.Context, event *types.Event) (*types.Event, error) {
	data, err := event.Message.PayloadBytes()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, err)
	}
	path := filepath.Join(d.dir, d.Filename(event))
	if d.append {
		err = appendFile(path, data)
	} else {
		err = writeFile(path, data)
	}
	if err != nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, err)
	}
	event.Message.EnsureProperties().OutboundProperties.Put(PropertyFilename, filepath.Base(path))
	return event, nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeFile writes through a temporary file so pollers never see a partial file.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var _ connector.Component = (*Connector)(nil)
