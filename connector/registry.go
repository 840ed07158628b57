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

package connector

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rulego/esb/api/types"
)

// Prototypes is the default registry of connector prototypes, keyed by protocol.
var Prototypes = new(PrototypeRegistry)

// PrototypeRegistry creates connectors by protocol.
type PrototypeRegistry struct {
	components map[string]Component
	sync.RWMutex
}

// Register adds a prototype. A protocol can only be registered once.
func (r *PrototypeRegistry) Register(component Component) error {
	r.Lock()
	defer r.Unlock()
	if r.components == nil {
		r.components = make(map[string]Component)
	}
	if _, ok := r.components[component.Protocol()]; ok {
		return errors.New("the connector already exists. protocol=" + component.Protocol())
	}
	r.components[component.Protocol()] = component
	return nil
}

func (r *PrototypeRegistry) Unregister(protocol string) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.components[protocol]; !ok {
		return fmt.Errorf("connector not found. protocol=%s", protocol)
	}
	delete(r.components, protocol)
	return nil
}

func (r *PrototypeRegistry) Has(protocol string) bool {
	r.RLock()
	defer r.RUnlock()
	_, ok := r.components[protocol]
	return ok
}

// New creates and initialises a connector instance.
func (r *PrototypeRegistry) New(protocol, name string, config types.Config, configuration types.Configuration) (types.Connector, error) {
	r.RLock()
	proto, ok := r.components[protocol]
	r.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connector not found. protocol=%s: %w", protocol, types.ErrConnectorNotFound)
	}
	if configuration == nil {
		configuration = make(types.Configuration)
	}
	c := proto.New()
	if err := c.Init(name, config, configuration); err != nil {
		return nil, fmt.Errorf("connector %s: %w", name, err)
	}
	if err := c.Initialise(); err != nil {
		return nil, err
	}
	return c, nil
}

// Registry holds the connectors of a runtime context.
type Registry struct {
	config     types.Config
	prototypes *PrototypeRegistry

	mu         sync.RWMutex
	connectors map[string]types.Connector
	started    bool
}

// NewRegistry creates a registry that instantiates default connectors from prototypes.
// A nil prototypes uses Prototypes.
func NewRegistry(config types.Config, prototypes *PrototypeRegistry) *Registry {
	if prototypes == nil {
		prototypes = Prototypes
	}
	return &Registry{config: config, prototypes: prototypes, connectors: make(map[string]types.Connector)}
}

// Register adds a connector. It is started when the registry already is.
func (r *Registry) Register(c types.Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connectors[c.Name()]; ok {
		return fmt.Errorf("connector %q already registered", c.Name())
	}
	r.connectors[c.Name()] = c
	if r.started {
		return c.Start()
	}
	return nil
}

// Create instantiates a connector from its prototype and registers it.
func (r *Registry) Create(protocol, name string, configuration types.Configuration) (types.Connector, error) {
	c, err := r.prototypes.New(protocol, name, r.config, configuration)
	if err != nil {
		return nil, err
	}
	if err := r.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Registry) Connector(name string) (types.Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	return c, ok
}

// DefaultConnector returns the only connector of protocol, creating one from the
// prototype when there is none. Several connectors of the same protocol are ambiguous.
func (r *Registry) DefaultConnector(protocol string) (types.Connector, error) {
	var found []types.Connector
	for _, c := range r.Connectors() {
		if c.Protocol() == protocol {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		if !r.prototypes.Has(protocol) {
			return nil, fmt.Errorf("no connector for protocol %s: %w", protocol, types.ErrConnectorNotFound)
		}
		c, err := r.Create(protocol, protocol+".default", nil)
		if err != nil {
			// lost a race against another default creation
			if existing, ok := r.Connector(protocol + ".default"); ok {
				return existing, nil
			}
			return nil, err
		}
		return c, nil
	default:
		names := make([]string, 0, len(found))
		for _, c := range found {
			names = append(names, c.Name())
		}
		return nil, fmt.Errorf("several %s connectors %v, select one with the connector parameter", protocol, names)
	}
}

// Connectors returns the connectors ordered by name.
func (r *Registry) Connectors() []types.Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for n := range r.connectors {
		names = append(names, n)
	}
	sort.Strings(names)
	cs := make([]types.Connector, 0, len(names))
	for _, n := range names {
		cs = append(cs, r.connectors[n])
	}
	return cs
}

// StartAll starts every connector. Connectors registered later start on registration.
func (r *Registry) StartAll() error {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	for _, c := range r.Connectors() {
		if err := c.Start(); err != nil {
			return fmt.Errorf("start connector %s: %w", c.Name(), err)
		}
	}
	return nil
}

// StopAll stops every connector and returns the first error.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	r.started = false
	r.mu.Unlock()
	var firstErr error
	for _, c := range r.Connectors() {
		if err := c.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop connector %s: %w", c.Name(), err)
		}
	}
	return firstErr
}

func (r *Registry) DisposeAll() {
	for _, c := range r.Connectors() {
		c.Dispose()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors = make(map[string]types.Connector)
}
