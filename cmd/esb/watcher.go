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

package main

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/engine"
	"github.com/rulego/esb/utils/fs"
)

// defaultDebounce coalesces the burst of events an editor produces for one save.
const defaultDebounce = 500 * time.Millisecond

// appWatcher keeps the contexts of a flows folder in line with its *.json files.
// Writing a file reloads its context, removing it disposes the context.
type appWatcher struct {
	dir      string
	apps     *engine.Pool
	opts     []engine.Option
	logger   types.Logger
	debounce time.Duration

	mu     sync.Mutex
	ids    map[string]string
	timers map[string]*time.Timer

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
}

func newAppWatcher(dir string, apps *engine.Pool, logger types.Logger, opts []engine.Option) *appWatcher {
	return &appWatcher{
		dir:      dir,
		apps:     apps,
		opts:     opts,
		logger:   logger,
		debounce: defaultDebounce,
		ids:      make(map[string]string),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
}

// loadAll starts a context for every *.json file under dir. Failing files are logged and skipped.
func (w *appWatcher) loadAll() error {
	paths, err := fs.GetFilePaths(filepath.Join(w.dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		w.load(path, false)
	}
	return nil
}

func (w *appWatcher) load(path string, reload bool) {
	b := fs.LoadFile(path)
	if b == nil {
		w.logger.Warnf("can not read %s", path)
		return
	}
	var ctx *engine.Context
	var err error
	if reload {
		ctx, err = w.apps.Reload(path, b, w.opts...)
	} else {
		ctx, err = w.apps.New(path, b, w.opts...)
	}
	if err != nil {
		w.logger.Errorf("load %s: %v", path, err)
		return
	}
	w.mu.Lock()
	old, ok := w.ids[path]
	w.ids[path] = ctx.Id()
	w.mu.Unlock()
	if ok && old != ctx.Id() {
		w.apps.Del(old)
	}
	w.logger.Infof("started %s from %s", ctx.Id(), path)
}

func (w *appWatcher) remove(path string) {
	w.mu.Lock()
	id, ok := w.ids[path]
	delete(w.ids, path)
	w.mu.Unlock()
	if ok {
		w.apps.Del(id)
		w.logger.Infof("stopped %s, %s was removed", id, path)
	}
}

// id returns the context id loaded from path.
func (w *appWatcher) id(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.ids[path]
	return id, ok
}

// watch follows dir until stop is called.
func (w *appWatcher) watch() error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsWatcher.Add(w.dir); err != nil {
		_ = fsWatcher.Close()
		return err
	}
	w.fsWatcher = fsWatcher
	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *appWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				w.schedule(event.Name, func(path string) { w.load(path, true) })
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.schedule(event.Name, w.remove)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("flows watcher: %v", err)
		}
	}
}

// schedule runs fn for path once no other event for path arrived within the debounce window.
func (w *appWatcher) schedule(path string, fn func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		fn(path)
	})
}

func (w *appWatcher) stop() {
	select {
	case <-w.done:
		return
	default:
		close(w.done)
	}
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	w.wg.Wait()
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
}
