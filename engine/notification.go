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
	"sync"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/utils/runtime"
)

type listenerEntry struct {
	id       int
	listener types.NotificationListener
	actions  map[types.NotificationAction]struct{}
}

func (e listenerEntry) accepts(action types.NotificationAction) bool {
	if len(e.actions) == 0 {
		return true
	}
	_, ok := e.actions[action]
	return ok
}

// NotificationManager dispatches runtime notifications to listeners.
// With async set, listeners run on the config pool instead of the firing goroutine.
type NotificationManager struct {
	config    types.Config
	async     bool
	mu        sync.RWMutex
	listeners []listenerEntry
	seq       int
	disposed  bool
}

var _ types.Notifier = (*NotificationManager)(nil)

func NewNotificationManager(config types.Config) *NotificationManager {
	return &NotificationManager{config: config, async: config.NotificationsAsync}
}

// AddListener registers l for actions, or for every action when none are given.
// The returned id removes it again.
func (m *NotificationManager) AddListener(l types.NotificationListener, actions ...types.NotificationAction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	entry := listenerEntry{id: m.seq, listener: l}
	if len(actions) > 0 {
		entry.actions = make(map[types.NotificationAction]struct{}, len(actions))
		for _, a := range actions {
			entry.actions[a] = struct{}{}
		}
	}
	m.listeners = append(m.listeners, entry)
	return entry.id
}

// RemoveListener removes the listener registered under id.
func (m *NotificationManager) RemoveListener(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.listeners {
		if e.id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *NotificationManager) RemoveListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = nil
}

// Fire delivers n to every listener interested in its action.
func (m *NotificationManager) Fire(n types.Notification) {
	m.mu.RLock()
	if m.disposed {
		m.mu.RUnlock()
		return
	}
	var targets []types.NotificationListener
	for _, e := range m.listeners {
		if e.accepts(n.Action) {
			targets = append(targets, e.listener)
		}
	}
	m.mu.RUnlock()
	if len(targets) == 0 {
		return
	}
	if !m.async {
		m.deliver(targets, n)
		return
	}
	if err := m.config.Go(func() { m.deliver(targets, n) }); err != nil {
		types.NewLogger(m.config.Logger).Warnf("notification %s for %s dropped: %v", n.Action, n.Resource, err)
	}
}

func (m *NotificationManager) deliver(targets []types.NotificationListener, n types.Notification) {
	for _, l := range targets {
		m.safeCall(l, n)
	}
}

func (m *NotificationManager) safeCall(l types.NotificationListener, n types.Notification) {
	defer func() {
		if r := recover(); r != nil {
			types.NewLogger(m.config.Logger).Errorf("notification listener for %s panicked: %v\n%s", n.Action, r, runtime.CallerStack())
		}
	}()
	l(n)
}

// Dispose drops every listener. Later notifications are ignored.
func (m *NotificationManager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	m.listeners = nil
}
