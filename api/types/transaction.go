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
	"context"
	"fmt"
	"strings"
	"time"
)

// TransactionAction tells a transactional template what to do with the current transaction.
type TransactionAction int

const (
	TxIndifferent TransactionAction = iota
	TxNone
	TxAlwaysBegin
	TxBeginOrJoin
	TxAlwaysJoin
	TxJoinIfPossible
	TxNever
	TxNotSupported
)

var txActionNames = map[TransactionAction]string{
	TxIndifferent:    "INDIFFERENT",
	TxNone:           "NONE",
	TxAlwaysBegin:    "ALWAYS_BEGIN",
	TxBeginOrJoin:    "BEGIN_OR_JOIN",
	TxAlwaysJoin:     "ALWAYS_JOIN",
	TxJoinIfPossible: "JOIN_IF_POSSIBLE",
	TxNever:          "NEVER",
	TxNotSupported:   "NOT_SUPPORTED",
}

func (a TransactionAction) String() string {
	if s, ok := txActionNames[a]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseTransactionAction parses names such as ALWAYS_BEGIN or always-begin.
func ParseTransactionAction(s string) (TransactionAction, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	if norm == "" {
		return TxIndifferent, nil
	}
	for a, name := range txActionNames {
		if name == norm {
			return a, nil
		}
	}
	return TxIndifferent, fmt.Errorf("unknown transaction action %q", s)
}

// TransactionStatus is the state of a transaction.
type TransactionStatus int

const (
	TxStatusActive TransactionStatus = iota
	TxStatusMarkedRollback
	TxStatusCommitted
	TxStatusRolledBack
)

// Transaction is a unit of work across resources.
type Transaction interface {
	Id() string
	Commit() error
	Rollback() error
	SetRollbackOnly()
	IsRollbackOnly() bool
	Status() TransactionStatus
	BindResource(key interface{}, resource interface{}) error
	Resource(key interface{}) interface{}
	HasResource(key interface{}) bool
}

// TransactionFactory begins transactions.
type TransactionFactory interface {
	Begin(ctx context.Context) (Transaction, error)
	IsTransacted() bool
}

// TransactionConfig is the transactional behaviour of an endpoint.
type TransactionConfig struct {
	Action  TransactionAction
	Factory TransactionFactory
	// Timeout bounds the transaction, zero means no limit.
	Timeout time.Duration
	// InteractWithExternal allows joining transactions started outside the runtime.
	InteractWithExternal bool
}

// IsTransacted reports whether the config can begin or join transactions.
func (c *TransactionConfig) IsTransacted() bool {
	if c == nil {
		return false
	}
	if c.Factory != nil && !c.Factory.IsTransacted() {
		return false
	}
	switch c.Action {
	case TxIndifferent, TxNone, TxNever, TxNotSupported:
		return false
	default:
		return true
	}
}

// RetryCallback is the unit of work retried by a RetryPolicyTemplate.
type RetryCallback func(ctx context.Context) error

// RetryNotifier is told about every attempt outcome.
type RetryNotifier interface {
	OnSuccess(ctx context.Context, attempt int)
	OnFailure(ctx context.Context, attempt int, err error)
}

// RetryPolicyTemplate executes a callback according to a retry policy.
type RetryPolicyTemplate interface {
	Execute(ctx context.Context, callback RetryCallback) error
}
