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
	"sort"
	"sync"

	"github.com/rulego/esb/api/types"
)

// Registry holds global endpoint definitions, referenced by name from flows, and the
// endpoints built from them.
type Registry struct {
	mu        sync.RWMutex
	builders  map[string]*Builder
	endpoints map[string]types.ImmutableEndpoint
}

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]*Builder), endpoints: make(map[string]types.ImmutableEndpoint)}
}

// Define registers a global endpoint definition.
func (r *Registry) Define(name string, b *Builder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builders[name]; ok {
		return fmt.Errorf("endpoint %q already defined", name)
	}
	r.builders[name] = b
	return nil
}

// Lookup returns a copy of the named definition so callers can add options to it.
func (r *Registry) Lookup(name string) (*Builder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builders[name]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// Register records a built endpoint under its name.
func (r *Registry) Register(ep types.ImmutableEndpoint) error {
	return r.RegisterAs(ep.Name(), ep)
}

// RegisterAs records a built endpoint under name, e.g. the global definition it was built from.
func (r *Registry) RegisterAs(name string, ep types.ImmutableEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[name]; ok {
		return fmt.Errorf("endpoint %q already registered", name)
	}
	r.endpoints[name] = ep
	return nil
}

func (r *Registry) Get(name string) (types.ImmutableEndpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

func (r *Registry) Inbound(name string) (types.InboundEndpoint, bool) {
	ep, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	in, ok := ep.(types.InboundEndpoint)
	return in, ok
}

func (r *Registry) Outbound(name string) (types.OutboundEndpoint, bool) {
	ep, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	out, ok := ep.(types.OutboundEndpoint)
	return out, ok
}

func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, name)
	delete(r.builders, name)
}

// Endpoints returns the registered endpoints sorted by name.
func (r *Registry) Endpoints() []types.ImmutableEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	eps := make([]types.ImmutableEndpoint, 0, len(names))
	for _, name := range names {
		eps = append(eps, r.endpoints[name])
	}
	return eps
}
