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

// Package transaction coordinates transactions through context.Context.
//
// The current transaction travels in the context handed to processors. A Template
// applies a types.TransactionAction around a callback, beginning, joining or
// suspending the context transaction as the action requires.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/rulego/esb/api/types"
)

// ErrRollbackOnly is returned by Commit on a transaction marked rollback-only.
var ErrRollbackOnly = errors.New("transaction marked rollback-only")

// Resource is a transactional resource enlisted in a transaction. *sql.Tx is one.
type Resource interface {
	Commit() error
	Rollback() error
}

type ctxKey struct{}

type entry struct {
	tx       types.Transaction
	external bool
}

// NewContext returns a copy of ctx carrying tx.
func NewContext(ctx context.Context, tx types.Transaction) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry{tx: tx})
}

// NewExternalContext carries a transaction started outside the runtime.
// Templates only join it when the config allows interacting with external transactions.
func NewExternalContext(ctx context.Context, tx types.Transaction) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry{tx: tx, external: true})
}

// FromContext returns the transaction carried by ctx.
func FromContext(ctx context.Context) (types.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	e, ok := ctx.Value(ctxKey{}).(entry)
	if !ok || e.tx == nil {
		return nil, false
	}
	return e.tx, true
}

func isExternal(ctx context.Context) bool {
	e, _ := ctx.Value(ctxKey{}).(entry)
	return e.external
}

// Suspend returns a copy of ctx without a transaction. The parent ctx keeps it,
// so returning to the parent resumes the transaction.
func Suspend(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry{})
}

// SetRollbackOnly marks the context transaction, if any. It reports whether one was found.
func SetRollbackOnly(ctx context.Context) bool {
	if tx, ok := FromContext(ctx); ok {
		tx.SetRollbackOnly()
		return true
	}
	return false
}

// Tx is the transaction implementation used by the factories of this package.
// Bound resources implementing Resource are committed and rolled back with it.
type Tx struct {
	id        string
	mu        sync.Mutex
	status    types.TransactionStatus
	resources map[interface{}]interface{}
	order     []interface{}
	onFinish  []func(status types.TransactionStatus)
}

// NewTx creates an active transaction.
func NewTx() *Tx {
	id, _ := uuid.NewV4()
	return &Tx{id: id.String(), resources: make(map[interface{}]interface{})}
}

func (t *Tx) Id() string {
	return t.id
}

func (t *Tx) Status() types.TransactionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Tx) SetRollbackOnly() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == types.TxStatusActive {
		t.status = types.TxStatusMarkedRollback
	}
}

func (t *Tx) IsRollbackOnly() bool {
	return t.Status() == types.TxStatusMarkedRollback
}

// BindResource enlists resource under key. A key can only be bound once.
func (t *Tx) BindResource(key interface{}, resource interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != types.TxStatusActive && t.status != types.TxStatusMarkedRollback {
		return fmt.Errorf("bind resource to finished transaction %s: %w", t.id, types.ErrIllegalTransactionState)
	}
	if _, ok := t.resources[key]; ok {
		return fmt.Errorf("resource %v already bound to transaction %s: %w", key, t.id, types.ErrIllegalTransactionState)
	}
	t.resources[key] = resource
	t.order = append(t.order, key)
	return nil
}

func (t *Tx) Resource(key interface{}) interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resources[key]
}

func (t *Tx) HasResource(key interface{}) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.resources[key]
	return ok
}

// OnFinish registers fn to run after commit or rollback.
func (t *Tx) OnFinish(fn func(status types.TransactionStatus)) {
	t.mu.Lock()
	t.onFinish = append(t.onFinish, fn)
	t.mu.Unlock()
}

// Commit commits every bound resource. A rollback-only transaction is rolled back
// and ErrRollbackOnly returned.
func (t *Tx) Commit() error {
	t.mu.Lock()
	switch t.status {
	case types.TxStatusMarkedRollback:
		t.mu.Unlock()
		if err := t.Rollback(); err != nil {
			return err
		}
		return ErrRollbackOnly
	case types.TxStatusActive:
	default:
		t.mu.Unlock()
		return fmt.Errorf("commit transaction %s: %w", t.id, types.ErrIllegalTransactionState)
	}
	resources := t.resourceList()
	t.mu.Unlock()

	for i, r := range resources {
		if err := r.Commit(); err != nil {
			for _, rest := range resources[i+1:] {
				_ = rest.Rollback()
			}
			t.finish(types.TxStatusRolledBack)
			return fmt.Errorf("commit transaction %s: %w", t.id, err)
		}
	}
	t.finish(types.TxStatusCommitted)
	return nil
}

// Rollback rolls back every bound resource, returning the first error.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	if t.status != types.TxStatusActive && t.status != types.TxStatusMarkedRollback {
		t.mu.Unlock()
		return fmt.Errorf("rollback transaction %s: %w", t.id, types.ErrIllegalTransactionState)
	}
	resources := t.resourceList()
	t.mu.Unlock()

	var first error
	for _, r := range resources {
		if err := r.Rollback(); err != nil && first == nil {
			first = fmt.Errorf("rollback transaction %s: %w", t.id, err)
		}
	}
	t.finish(types.TxStatusRolledBack)
	return first
}

func (t *Tx) resourceList() []Resource {
	var list []Resource
	for _, k := range t.order {
		if r, ok := t.resources[k].(Resource); ok {
			list = append(list, r)
		}
	}
	return list
}

func (t *Tx) finish(status types.TransactionStatus) {
	t.mu.Lock()
	t.status = status
	callbacks := t.onFinish
	t.mu.Unlock()
	for _, fn := range callbacks {
		fn(status)
	}
}

var _ types.Transaction = (*Tx)(nil)
