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

package types

import (
	"fmt"
	"sync"
)

type Initialisable interface {
	Initialise() error
}

type Startable interface {
	Start() error
}

type Stoppable interface {
	Stop() error
}

type Disposable interface {
	Dispose()
}

// Phase is a lifecycle phase.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseInitialised
	PhaseStarted
	PhaseStopped
	PhaseDisposed
)

func (p Phase) String() string {
	switch p {
	case PhaseInitialised:
		return "initialised"
	case PhaseStarted:
		return "started"
	case PhaseStopped:
		return "stopped"
	case PhaseDisposed:
		return "disposed"
	default:
		return "none"
	}
}

// allowed transitions: none -> initialised -> started <-> stopped -> disposed
var phaseTransitions = map[Phase][]Phase{
	PhaseNone:        {PhaseInitialised, PhaseDisposed},
	PhaseInitialised: {PhaseStarted, PhaseStopped, PhaseDisposed},
	PhaseStarted:     {PhaseStopped},
	PhaseStopped:     {PhaseStarted, PhaseDisposed},
	PhaseDisposed:    {},
}

// LifecycleState tracks the phase of a component. It is safe for concurrent use.
type LifecycleState struct {
	name  string
	mu    sync.RWMutex
	phase Phase
}

func NewLifecycleState(name string) *LifecycleState {
	return &LifecycleState{name: name}
}

func (s *LifecycleState) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *LifecycleState) IsStarted() bool {
	return s.Phase() == PhaseStarted
}

func (s *LifecycleState) IsInitialised() bool {
	return s.Phase() != PhaseNone
}

func (s *LifecycleState) IsDisposed() bool {
	return s.Phase() == PhaseDisposed
}

// CanTransition reports whether moving to next is allowed.
func (s *LifecycleState) CanTransition(next Phase) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allowed(next)
}

func (s *LifecycleState) allowed(next Phase) bool {
	for _, p := range phaseTransitions[s.phase] {
		if p == next {
			return true
		}
	}
	return false
}

// Transition runs fn and moves to next when fn succeeds.
// Re-entering the current phase is a no-op.
func (s *LifecycleState) Transition(next Phase, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == next {
		return nil
	}
	if !s.allowed(next) {
		return fmt.Errorf("%s: cannot move from %s to %s: %w", s.name, s.phase, next, ErrLifecycle)
	}
	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	s.phase = next
	return nil
}
