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

// Package db runs SQL statements from outbound endpoints.
//
// Address format: db://findOrder?sql=select+*+from+orders+where+id=?&params=payload.id
// or db://findOrder with the statement configured under the connector's queries. The
// statement can also be overridden per event with the db.sql outbound property.
//
// params lists the statement arguments as dotted paths into payload, vars, inbound and
// outbound. Without params a slice payload is used as the argument list. Statements run in
// the context transaction when there is one.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/connector"
	"github.com/rulego/esb/transaction"
	"github.com/rulego/esb/utils/cast"
	"github.com/rulego/esb/utils/maps"
	"github.com/rulego/esb/utils/str"
)

const Protocol = "db"

// Message properties.
const (
	PropertySql          = "db.sql"
	PropertyRowsAffected = "db.rowsAffected"
	PropertyLastInsertId = "db.lastInsertId"
)

// Endpoint properties.
const (
	ParamSql    = "sql"
	ParamParams = "params"
	// ParamSingle returns the first row, or nil, instead of a list.
	ParamSingle = "single"
)

func init() {
	_ = connector.Prototypes.Register(New())
}

type Config struct {
	// DriverName is mysql or postgres.
	DriverName      string
	Dsn             string
	PoolSize        int
	ConnMaxLifetime time.Duration
	// Queries holds named statements, looked up by the endpoint resource.
	Queries map[string]string
}

type Connector struct {
	*connector.BaseConnector
	Config Config

	mu sync.RWMutex
	db *sql.DB
}

func New(opts ...connector.Option) *Connector {
	c := &Connector{Config: Config{DriverName: "mysql", PoolSize: 10}}
	both := []types.ExchangePattern{types.OneWay, types.RequestResponse}
	opts = append([]connector.Option{connector.WithExchangePatterns(nil, both)}, opts...)
	c.BaseConnector = connector.NewBaseConnector(Protocol, c, opts...)
	return c
}

func (c *Connector) New() connector.Component {
	return New()
}

func (c *Connector) Init(name string, config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &c.Config); err != nil {
		return err
	}
	if c.Config.Dsn == "" {
		return fmt.Errorf("dsn can not be empty")
	}
	if c.Config.DriverName == "" {
		c.Config.DriverName = "mysql"
	}
	c.Configure(name, config)
	return nil
}

// DefaultExchangePattern returns results unless the endpoint asks for one-way.
func (c *Connector) DefaultExchangePattern(bool) types.ExchangePattern {
	return types.RequestResponse
}

func (c *Connector) DoConnect(ctx context.Context) error {
	db, err := sql.Open(c.Config.DriverName, c.Config.Dsn)
	if err != nil {
		return types.NewTypedError(types.ErrorConnectivity, err)
	}
	if c.Config.PoolSize > 0 {
		db.SetMaxOpenConns(c.Config.PoolSize)
		db.SetMaxIdleConns(c.Config.PoolSize/2 + 1)
	}
	if c.Config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.Config.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return types.NewTypedError(types.ErrorConnectivity, err)
	}
	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
	return nil
}

func (c *Connector) DoDisconnect() error {
	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()
	if db != nil {
		return db.Close()
	}
	return nil
}

// DB returns the pool, nil while disconnected.
func (c *Connector) DB() *sql.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// TransactionFactory begins transactions on the connector's database, so statements of
// endpoints sharing the connector commit or roll back together.
func (c *Connector) TransactionFactory() types.TransactionFactory {
	return &lazyFactory{c: c}
}

type lazyFactory struct {
	c *Connector
}

func (f *lazyFactory) Begin(ctx context.Context) (types.Transaction, error) {
	if err := f.c.Connect(ctx); err != nil {
		return nil, err
	}
	return transaction.NewSQLFactory(f.c.DB()).Begin(ctx)
}

func (f *lazyFactory) IsTransacted() bool {
	return true
}

func (c *Connector) CreateReceiver(*connector.BaseReceiver) (types.MessageReceiver, error) {
	return nil, fmt.Errorf("db endpoints are outbound only")
}

type dispatcher struct {
	c        *Connector
	endpoint types.OutboundEndpoint
	sql      string
	params   []string
	single   bool
}

func (c *Connector) CreateDispatcher(endpoint types.OutboundEndpoint) (types.Processor, error) {
	props := endpoint.Properties()
	statement := props.GetString(ParamSql)
	if statement == "" {
		statement = c.Config.Queries[endpoint.URI().Resource()]
	}
	d := &dispatcher{c: c, endpoint: endpoint, sql: statement}
	if v := props.Get(ParamParams); v != nil {
		switch p := v.(type) {
		case []string:
			d.params = p
		case []interface{}:
			for _, item := range p {
				d.params = append(d.params, cast.ToString(item))
			}
		default:
			for _, item := range strings.Split(cast.ToString(p), ",") {
				if item = strings.TrimSpace(item); item != "" {
					d.params = append(d.params, item)
				}
			}
		}
	}
	if v := props.Get(ParamSingle); v != nil {
		d.single = cast.ToBool(v)
	}
	return d, nil
}

// Kind is "query" for statements returning rows and "exec" for the others.
func Kind(statement string) (string, error) {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty sql statement")
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW":
		return "query", nil
	case "INSERT", "UPDATE", "DELETE", "REPLACE", "MERGE":
		return "exec", nil
	}
	return "", fmt.Errorf("unsupported sql statement: %s", statement)
}

func env(event *types.Event) map[string]interface{} {
	msg := event.Message
	return map[string]interface{}{
		"payload":  msg.Payload,
		"vars":     event.Variables,
		"inbound":  map[string]interface{}(msg.InboundProperties),
		"outbound": map[string]interface{}(msg.OutboundProperties),
	}
}

func (d *dispatcher) args(event *types.Event, dict map[string]interface{}) []interface{} {
	if len(d.params) == 0 {
		if list, ok := event.Message.Payload.([]interface{}); ok {
			return list
		}
		return nil
	}
	args := make([]interface{}, len(d.params))
	for i, p := range d.params {
		args[i] = maps.Get(dict, p)
	}
	return args
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (d *dispatcher) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	db := d.c.DB()
	if db == nil {
		return nil, types.NewTypedError(types.ErrorConnectivity, fmt.Errorf("connector %s is not connected", d.c.Name()))
	}
	statement := d.sql
	if s := event.Message.OutboundProperties.GetString(PropertySql); s != "" {
		statement = s
	}
	dict := env(event)
	statement = str.ConvertDollarPlaceholder(str.ExecuteTemplate(statement, dict), d.c.Config.DriverName)
	kind, err := Kind(statement)
	if err != nil {
		return nil, types.NewTypedError(types.ErrorExpression, err)
	}
	var target execer = db
	sqlTx, inTx, err := transaction.SQLTx(ctx, db)
	if err != nil {
		return nil, types.NewTypedError(types.ErrorTransaction, err)
	}
	if inTx {
		target = sqlTx
	}
	if timeout := d.endpoint.ResponseTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	args := d.args(event, dict)
	res := types.NewMessage(nil)
	if kind == "query" {
		rows, err := query(ctx, target, statement, args)
		if err != nil {
			return nil, types.NewTypedError(types.ErrorConnectivity, err)
		}
		res.DataType.MimeType = types.MimeTypeJson
		if d.single {
			if len(rows) > 0 {
				res.Payload = rows[0]
			}
		} else {
			res.Payload = rows
		}
	} else {
		result, err := target.ExecContext(ctx, statement, args...)
		if err != nil {
			return nil, types.NewTypedError(types.ErrorConnectivity, err)
		}
		affected, _ := result.RowsAffected()
		res.Payload = affected
		res.InboundProperties.Put(PropertyRowsAffected, affected)
		if id, err := result.LastInsertId(); err == nil {
			res.InboundProperties.Put(PropertyLastInsertId, id)
		}
	}
	if !d.endpoint.ExchangePattern().HasResponse() {
		return event, nil
	}
	return connector.ResponseEvent(event, res), nil
}

// query scans every row into a column keyed map. Byte values become strings.
func query(ctx context.Context, target execer, statement string, args []interface{}) ([]map[string]interface{}, error) {
	rows, err := target.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := make([]map[string]interface{}, 0)
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

var _ connector.Component = (*Connector)(nil)
