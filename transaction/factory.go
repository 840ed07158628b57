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
	"database/sql"
	"fmt"

	"github.com/rulego/esb/api/types"
)

// MemoryFactory begins resource-less transactions. Resources bound later, such as a
// lazily started *sql.Tx, are committed with them.
type MemoryFactory struct{}

func (MemoryFactory) Begin(context.Context) (types.Transaction, error) {
	return NewTx(), nil
}

func (MemoryFactory) IsTransacted() bool {
	return true
}

// SQLFactory begins transactions with a database/sql transaction bound under the *sql.DB.
type SQLFactory struct {
	DB      *sql.DB
	Options *sql.TxOptions
}

func NewSQLFactory(db *sql.DB) *SQLFactory {
	return &SQLFactory{DB: db}
}

func (f *SQLFactory) Begin(ctx context.Context) (types.Transaction, error) {
	if f.DB == nil {
		return nil, fmt.Errorf("sql transaction factory has no database")
	}
	sqlTx, err := f.DB.BeginTx(ctx, f.Options)
	if err != nil {
		return nil, err
	}
	tx := NewTx()
	if err := tx.BindResource(f.DB, sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return nil, err
	}
	return tx, nil
}

func (f *SQLFactory) IsTransacted() bool {
	return true
}

// SQLTx returns the *sql.Tx bound to the context transaction for db. When the context
// transaction has none yet, one is started and enlisted. ok is false outside a transaction.
func SQLTx(ctx context.Context, db *sql.DB) (sqlTx *sql.Tx, ok bool, err error) {
	tx, present := FromContext(ctx)
	if !present {
		return nil, false, nil
	}
	if r, bound := tx.Resource(db).(*sql.Tx); bound {
		return r, true, nil
	}
	// the sql.Tx must outlive the step that enlisted it
	sqlTx, err = db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, true, err
	}
	if err := tx.BindResource(db, sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return nil, true, err
	}
	return sqlTx, true, nil
}

var _ types.TransactionFactory = MemoryFactory{}
var _ types.TransactionFactory = (*SQLFactory)(nil)
