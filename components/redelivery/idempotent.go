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

package redelivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
	"github.com/rulego/esb/utils/cache"
	"github.com/rulego/esb/utils/expr"
)

// DefaultMaxRedeliveryCount is used when the configuration leaves the count unset.
const DefaultMaxRedeliveryCount = 5

const lockStripes = 64

func init() {
	Registry.Add(&IdempotentPolicy{})
}

// IdempotentPolicyConfiguration configures IdempotentPolicy.
type IdempotentPolicyConfiguration struct {
	// MaxRedeliveryCount is how many failed deliveries of the same message are retried.
	MaxRedeliveryCount int
	// UseSecureHash identifies messages by the SHA-256 of their payload.
	UseSecureHash bool
	// IdExpression identifies messages by an expression, e.g. inbound.messageId.
	IdExpression string
	// DeadLetterQueue receives messages once redelivery is exhausted.
	DeadLetterQueue types.Processor
	// TTL bounds how long a failure counter is kept, e.g. "1h". Empty keeps it until success.
	TTL string
}

// IdempotentPolicy counts failed deliveries of the same message.
// Once a message failed more than MaxRedeliveryCount times it is no longer processed and
// goes to the dead letter queue with a REDELIVERY_EXHAUSTED error, or fails with that error.
type IdempotentPolicy struct {
	Config   IdempotentPolicyConfiguration
	config   types.Config
	counters *cache.NamespaceCache
	program  *expr.Program
	locks    [lockStripes]sync.Mutex
}

func (x *IdempotentPolicy) Type() string {
	return "redelivery/idempotent"
}

func (x *IdempotentPolicy) New() types.Component {
	return &IdempotentPolicy{Config: IdempotentPolicyConfiguration{
		MaxRedeliveryCount: DefaultMaxRedeliveryCount,
		UseSecureHash:      true,
	}}
}

func (x *IdempotentPolicy) Init(config types.Config, configuration types.Configuration) error {
	if err := base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.MaxRedeliveryCount < 0 {
		return fmt.Errorf("maxRedeliveryCount can not be negative: %d", x.Config.MaxRedeliveryCount)
	}
	if e := strings.TrimSpace(x.Config.IdExpression); e != "" {
		program, err := expr.Compile(e)
		if err != nil {
			return err
		}
		x.program = program
	}
	store := config.Cache
	if store == nil {
		store = cache.DefaultCache
	}
	x.config = config
	x.counters = cache.NewNamespaceCache(store, "redelivery:")
	return nil
}

// MessageId identifies the message of event across deliveries.
func (x *IdempotentPolicy) MessageId(event *types.Event) (string, error) {
	if x.program != nil {
		out, err := x.program.Eval(event, x.config.Properties)
		if err != nil {
			return "", err
		}
		if out == nil {
			return "", types.NewTypedError(types.ErrorExpression, fmt.Errorf("idExpression %q returned nil", x.Config.IdExpression))
		}
		return fmt.Sprint(out), nil
	}
	if x.Config.UseSecureHash {
		b, err := event.Message.PayloadBytes()
		if err != nil {
			return "", err
		}
		sum := sha256.Sum256(b)
		return hex.EncodeToString(sum[:]), nil
	}
	return event.CorrelationId, nil
}

func (x *IdempotentPolicy) key(event *types.Event, id string) string {
	return event.Message.InboundProperties.GetString(types.PropertyEndpoint) + ":" + id
}

func (x *IdempotentPolicy) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &x.locks[h.Sum32()%lockStripes]
}

// Count returns the failures recorded for the message of event.
func (x *IdempotentPolicy) Count(event *types.Event) int {
	id, err := x.MessageId(event)
	if err != nil {
		return 0
	}
	n, _ := x.counters.Get(x.key(event, id)).(int)
	return n
}

func (x *IdempotentPolicy) Intercept(ctx context.Context, event *types.Event, next types.Processor) (*types.Event, error) {
	id, err := x.MessageId(event)
	if err != nil {
		return nil, err
	}
	key := x.key(event, id)
	mu := x.lock(key)
	mu.Lock()
	count, _ := x.counters.Get(key).(int)
	if count > x.Config.MaxRedeliveryCount {
		_ = x.counters.Delete(key)
		mu.Unlock()
		return x.exhausted(ctx, event, id, count)
	}
	mu.Unlock()

	out, err := next.Process(ctx, event)

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		if _, incErr := x.counters.Increment(key, 1, x.Config.TTL); incErr != nil {
			base.Logger(ctx, x.config).Warnf("redelivery counter for %s not updated: %v", id, incErr)
		}
		return nil, err
	}
	_ = x.counters.Delete(key)
	return out, nil
}

func (x *IdempotentPolicy) exhausted(ctx context.Context, event *types.Event, id string, count int) (*types.Event, error) {
	cause := types.NewTypedError(types.ErrorRedeliveryExhausted,
		fmt.Errorf("message %s redelivered %d times, exceeding maxRedeliveryCount %d", id, count, x.Config.MaxRedeliveryCount))
	if x.Config.DeadLetterQueue == nil {
		return nil, cause
	}
	base.Logger(ctx, x.config).Warnf("%v, sending to dead letter queue", cause.Cause)
	dlq := event.Copy()
	dlq.Error = &types.Error{Type: types.ErrorRedeliveryExhausted, Description: cause.Error(), Cause: cause}
	return x.Config.DeadLetterQueue.Process(ctx, dlq)
}

func (x *IdempotentPolicy) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	return x.Intercept(ctx, event, types.PassThrough)
}

func (x *IdempotentPolicy) Parameters(_ *types.Event) map[string]interface{} {
	return map[string]interface{}{"maxRedeliveryCount": x.Config.MaxRedeliveryCount}
}

func (x *IdempotentPolicy) Destroy() {
}
