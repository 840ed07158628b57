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

// Package components registers the built-in processor components.
package components

import (
	"errors"
	"fmt"
	"plugin"
	"sort"
	"sync"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/action"
	"github.com/rulego/esb/components/filter"
	"github.com/rulego/esb/components/flow"
	"github.com/rulego/esb/components/redelivery"
	"github.com/rulego/esb/components/security"
	"github.com/rulego/esb/components/transform"
)

// PluginSymbol is the symbol a component plugin must export.
const PluginSymbol = "Plugin"

// Registry is the default component registry, holding every built-in component.
var Registry = new(ComponentRegistry)

func init() {
	var all []types.Component
	all = append(all, action.Registry.Components()...)
	all = append(all, filter.Registry.Components()...)
	all = append(all, flow.Registry.Components()...)
	all = append(all, transform.Registry.Components()...)
	all = append(all, redelivery.Registry.Components()...)
	all = append(all, security.Registry.Components()...)
	for _, c := range all {
		_ = Registry.Register(c)
	}
}

// PluginRegistry is exported by component plugins built with -buildmode=plugin.
type PluginRegistry interface {
	Init() error
	Components() []types.Component
}

// ComponentRegistry creates components by type.
type ComponentRegistry struct {
	components map[string]types.Component
	plugins    map[string][]types.Component
	sync.RWMutex
}

var _ types.ComponentRegistry = (*ComponentRegistry)(nil)

func (r *ComponentRegistry) Register(component types.Component) error {
	r.Lock()
	defer r.Unlock()
	if r.components == nil {
		r.components = make(map[string]types.Component)
	}
	if _, ok := r.components[component.Type()]; ok {
		return errors.New("the component already exists. componentType=" + component.Type())
	}
	r.components[component.Type()] = component
	return nil
}

// RegisterPlugin loads a Go plugin and registers its components under name.
func (r *ComponentRegistry) RegisterPlugin(name string, file string) error {
	p, err := plugin.Open(file)
	if err != nil {
		return err
	}
	sym, err := p.Lookup(PluginSymbol)
	if err != nil {
		return err
	}
	pluginRegistry, ok := sym.(PluginRegistry)
	if !ok {
		return fmt.Errorf("plugin %s: symbol %s does not implement PluginRegistry", file, PluginSymbol)
	}
	return r.registerPlugin(name, pluginRegistry)
}

func (r *ComponentRegistry) registerPlugin(name string, pluginRegistry PluginRegistry) error {
	if err := pluginRegistry.Init(); err != nil {
		return err
	}
	components := pluginRegistry.Components()
	r.RLock()
	for _, c := range components {
		if _, ok := r.components[c.Type()]; ok {
			r.RUnlock()
			return errors.New("the component already exists. componentType=" + c.Type())
		}
	}
	r.RUnlock()
	for _, c := range components {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	r.Lock()
	defer r.Unlock()
	if r.plugins == nil {
		r.plugins = make(map[string][]types.Component)
	}
	r.plugins[name] = components
	return nil
}

// Unregister removes a component type, or every component of a plugin.
func (r *ComponentRegistry) Unregister(componentType string) error {
	r.Lock()
	defer r.Unlock()
	removed := false
	if components, ok := r.plugins[componentType]; ok {
		for _, c := range components {
			delete(r.components, c.Type())
		}
		delete(r.plugins, componentType)
		removed = true
	}
	if _, ok := r.components[componentType]; ok {
		delete(r.components, componentType)
		removed = true
	}
	if !removed {
		return fmt.Errorf("component not found.componentType=%s", componentType)
	}
	return nil
}

func (r *ComponentRegistry) NewComponent(componentType string) (types.Component, error) {
	r.RLock()
	defer r.RUnlock()
	c, ok := r.components[componentType]
	if !ok {
		return nil, fmt.Errorf("component not found.componentType=%s", componentType)
	}
	return c.New(), nil
}

func (r *ComponentRegistry) GetComponents() map[string]types.Component {
	r.RLock()
	defer r.RUnlock()
	components := make(map[string]types.Component, len(r.components))
	for k, v := range r.components {
		components[k] = v
	}
	return components
}

// Types lists the registered component types in order.
func (r *ComponentRegistry) Types() []string {
	r.RLock()
	defer r.RUnlock()
	names := make([]string, 0, len(r.components))
	for k := range r.components {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
