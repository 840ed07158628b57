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

// Package maps decodes component configuration maps into structs.
package maps

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Map2Struct decodes input into output, a pointer to a map or struct.
// Strings convert to time.Duration and slices, and values are weakly typed,
// so "5s", "10" and 10.0 all decode into their declared field types.
func Map2Struct(input interface{}, output interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// Copy returns a shallow copy of m.
func Copy(m map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Get reads a dotted path such as "order.customer.id" from nested maps. Nil when a
// segment is missing.
func Get(m map[string]interface{}, path string) interface{} {
	var cur interface{} = m
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			cur = node[key]
		case map[string]string:
			v, ok := node[key]
			if !ok {
				return nil
			}
			cur = v
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}
