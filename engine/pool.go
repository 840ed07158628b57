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

package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/utils/fs"
)

// DefaultPool is the process wide pool of contexts.
var DefaultPool = NewPool()

// Callbacks observe the contexts of a Pool.
type Callbacks struct {
	OnNew     func(id string, dsl []byte)
	OnDeleted func(id string)
}

// Pool holds running contexts by id, for example one per DSL file.
type Pool struct {
	entries   sync.Map
	Callbacks Callbacks
	logger    types.Logger
}

func NewPool() *Pool {
	return &Pool{logger: types.DefaultLogger()}
}

// SetLogger sets the logger used to report files that fail to load.
func (g *Pool) SetLogger(logger types.Logger) {
	g.logger = types.NewLogger(logger)
}

// Load creates and starts a context for every *.json file in folderPath and its
// subfolders. A file that fails is logged and skipped. The context id is the DSL id,
// or the file path when the DSL has none.
func (g *Pool) Load(folderPath string, opts ...Option) error {
	if !strings.HasSuffix(folderPath, "*.json") && !strings.HasSuffix(folderPath, "*.JSON") {
		if strings.HasSuffix(folderPath, "/") || strings.HasSuffix(folderPath, "\\") {
			folderPath = folderPath + "*.json"
		} else if folderPath == "" {
			folderPath = "./*.json"
		} else {
			folderPath = folderPath + "/*.json"
		}
	}
	paths, err := fs.GetFilePaths(folderPath)
	if err != nil {
		return err
	}
	for _, path := range paths {
		b := fs.LoadFile(path)
		if b == nil {
			continue
		}
		if _, err := g.New(path, b, opts...); err != nil {
			g.logger.Errorf("load %s: %v", path, err)
		}
	}
	return nil
}

// New loads dsl into a new context and starts it. The DSL id takes precedence over id.
// An existing context with the same id is returned unchanged.
func (g *Pool) New(id string, dsl []byte, opts ...Option) (*Context, error) {
	def, id, err := g.decode(id, dsl, opts)
	if err != nil {
		return nil, err
	}
	return g.create(id, dsl, def, opts)
}

// Reload replaces the context with the same id, if any, by one built from dsl.
// The old context is disposed before the new one starts, so both can bind the same addresses.
func (g *Pool) Reload(id string, dsl []byte, opts ...Option) (*Context, error) {
	def, id, err := g.decode(id, dsl, opts)
	if err != nil {
		return nil, err
	}
	g.Del(id)
	return g.create(id, dsl, def, opts)
}

func (g *Pool) decode(id string, dsl []byte, opts []Option) (Definition, string, error) {
	parser := Parser(&JsonParser{})
	probe := &Context{}
	for _, opt := range opts {
		_ = opt(probe)
	}
	if probe.parser != nil {
		parser = probe.parser
	}
	def, err := parser.DecodeDefinition(dsl)
	if err != nil {
		return def, "", fmt.Errorf("parse %s: %w", id, err)
	}
	if def.Id != "" {
		id = def.Id
	}
	if id == "" {
		return def, "", fmt.Errorf("context id can not be empty")
	}
	return def, id, nil
}

func (g *Pool) create(id string, dsl []byte, def Definition, opts []Option) (*Context, error) {
	if v, ok := g.entries.Load(id); ok {
		return v.(*Context), nil
	}
	ctx, err := NewContext(id, opts...)
	if err != nil {
		return nil, err
	}
	if err := ctx.LoadDefinition(def); err != nil {
		ctx.Dispose()
		return nil, fmt.Errorf("context %s: %w", id, err)
	}
	if err := ctx.Start(); err != nil {
		ctx.Dispose()
		return nil, err
	}
	if actual, loaded := g.entries.LoadOrStore(id, ctx); loaded {
		ctx.Dispose()
		return actual.(*Context), nil
	}
	if g.Callbacks.OnNew != nil {
		g.Callbacks.OnNew(id, dsl)
	}
	return ctx, nil
}

func (g *Pool) Get(id string) (*Context, bool) {
	v, ok := g.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Context), true
}

// Del disposes the context and removes it.
func (g *Pool) Del(id string) {
	if v, ok := g.entries.LoadAndDelete(id); ok {
		v.(*Context).Dispose()
		if g.Callbacks.OnDeleted != nil {
			g.Callbacks.OnDeleted(id)
		}
	}
}

// Stop disposes every context.
func (g *Pool) Stop() {
	g.entries.Range(func(key, value any) bool {
		g.Del(key.(string))
		return true
	})
}

func (g *Pool) Range(f func(id string, ctx *Context) bool) {
	g.entries.Range(func(key, value any) bool {
		return f(key.(string), value.(*Context))
	})
}

// Load loads a folder of DSL files into DefaultPool.
func Load(folderPath string, opts ...Option) error {
	return DefaultPool.Load(folderPath, opts...)
}

// New creates a context in DefaultPool.
func New(id string, dsl []byte, opts ...Option) (*Context, error) {
	return DefaultPool.New(id, dsl, opts...)
}

func Get(id string) (*Context, bool) {
	return DefaultPool.Get(id)
}

func Del(id string) {
	DefaultPool.Del(id)
}

// Stop disposes every context of DefaultPool.
func Stop() {
	DefaultPool.Stop()
}
