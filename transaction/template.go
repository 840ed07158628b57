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

package transaction

import (
	"context"
	"fmt"

	"github.com/rulego/esb/api/types"
)

// Callback is the unit of work run by a Template.
type Callback func(ctx context.Context) (*types.Event, error)

// Template runs callbacks according to a transaction config:
//
//	action              tx present                        tx absent
//	NONE/NOT_SUPPORTED  run suspended                     run
//	ALWAYS_BEGIN        suspend, begin new, resume after  begin new
//	BEGIN_OR_JOIN       join                              begin new
//	ALWAYS_JOIN         join                              ErrIllegalTransactionState
//	JOIN_IF_POSSIBLE    join                              run
//	NEVER               ErrIllegalTransactionState        run
//	INDIFFERENT         join                              run
type Template struct {
	Logger types.Logger
}

func NewTemplate(logger types.Logger) *Template {
	return &Template{Logger: logger}
}

// Execute runs cb under cfg. A nil cfg runs cb as is.
func (t *Template) Execute(ctx context.Context, cfg *types.TransactionConfig, cb Callback) (*types.Event, error) {
	if cfg == nil {
		return cb(ctx)
	}
	current, present := FromContext(ctx)
	if present && isExternal(ctx) && !cfg.InteractWithExternal {
		present = false
		current = nil
	}

	switch cfg.Action {
	case types.TxNone, types.TxNotSupported:
		if present {
			return cb(Suspend(ctx))
		}
		return cb(ctx)
	case types.TxAlwaysBegin:
		if present {
			ctx = Suspend(ctx)
		}
		return t.runInNew(ctx, cfg, cb)
	case types.TxBeginOrJoin:
		if present {
			return cb(ctx)
		}
		return t.runInNew(ctx, cfg, cb)
	case types.TxAlwaysJoin:
		if !present {
			return nil, types.NewTypedError(types.ErrorTransaction,
				fmt.Errorf("action ALWAYS_JOIN requires a transaction: %w", types.ErrIllegalTransactionState))
		}
		return cb(ctx)
	case types.TxNever:
		if present {
			return nil, types.NewTypedError(types.ErrorTransaction,
				fmt.Errorf("action NEVER found transaction %s: %w", current.Id(), types.ErrIllegalTransactionState))
		}
		return cb(ctx)
	default:
		// JOIN_IF_POSSIBLE and INDIFFERENT join whatever is there
		return cb(ctx)
	}
}

func (t *Template) runInNew(ctx context.Context, cfg *types.TransactionConfig, cb Callback) (out *types.Event, err error) {
	factory := cfg.Factory
	if factory == nil {
		factory = MemoryFactory{}
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	tx, err := factory.Begin(ctx)
	if err != nil {
		return nil, types.NewTypedError(types.ErrorTransaction, fmt.Errorf("begin transaction: %w", err))
	}
	if t.Logger != nil {
		t.Logger.Debugf("began transaction %s (%s)", tx.Id(), cfg.Action)
	}

	defer func() {
		if r := recover(); r != nil {
			t.rollback(tx)
			panic(r)
		}
	}()

	out, err = cb(NewContext(ctx, tx))
	if err != nil || tx.IsRollbackOnly() {
		if rbErr := t.rollback(tx); rbErr != nil && err == nil {
			return nil, types.NewTypedError(types.ErrorTransaction, rbErr)
		}
		return out, err
	}
	if err := tx.Commit(); err != nil {
		return nil, types.NewTypedError(types.ErrorTransaction, err)
	}
	if t.Logger != nil {
		t.Logger.Debugf("committed transaction %s", tx.Id())
	}
	return out, nil
}

func (t *Template) rollback(tx types.Transaction) error {
	err := tx.Rollback()
	if t.Logger != nil {
		if err != nil {
			t.Logger.Warnf("rollback of transaction %s failed: %v", tx.Id(), err)
		} else {
			t.Logger.Debugf("rolled back transaction %s", tx.Id())
		}
	}
	return err
}
