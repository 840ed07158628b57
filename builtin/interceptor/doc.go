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

// Package interceptor provides ready-made interception for flows.
//
// Reactive interceptors wrap every processor of a chain and are added with
// flow.WithInterceptors:
//
//   - ConcurrencyLimiter: bounds concurrent executions of each processor, failing with OVERLOAD
//   - RateLimiter: bounds the rate of executions of each processor
//
// Processor interceptors use the interception API and are added to the runtime's
// InterceptorManager through their factories:
//
//   - LoggingInterceptor: logs before and after each processor with its duration
//   - StatsInterceptor: counts invocations and failures per processor location
package interceptor
