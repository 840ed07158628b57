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

// Package cast converts loosely typed property and configuration values.
package cast

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ToInt converts value to int, 0 when it can not.
func ToInt(value interface{}) int {
	v, _ := ToIntE(value)
	return v
}

// ToIntE converts numbers and numeric strings to int. Floats are truncated.
func ToIntE(value interface{}) (int, error) {
	v, err := ToInt64E(value)
	return int(v), err
}

// ToInt64E converts numbers and numeric strings to int64. Floats are truncated.
func ToInt64E(value interface{}) (int64, error) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("unable to cast %q to int", v)
		}
		return int64(f), nil
	case json.Number:
		return ToInt64E(string(v))
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float()), nil
	}
	return 0, fmt.Errorf("unable to cast %v of type %T to int", value, value)
}

// ToFloat64E converts numbers and numeric strings to float64.
func ToFloat64E(value interface{}) (float64, error) {
	if s, ok := value.(string); ok {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := ToInt64E(value)
		return float64(i), err
	}
	return 0, fmt.Errorf("unable to cast %v of type %T to float64", value, value)
}

// ToBool converts value to bool, false when it can not.
func ToBool(value interface{}) bool {
	v, _ := ToBoolE(value)
	return v
}

// ToBoolE accepts bools, strconv.ParseBool strings and numbers (non zero is true).
func ToBoolE(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("unable to cast %q to bool", v)
		}
		return b, nil
	}
	f, err := ToFloat64E(value)
	if err != nil {
		return false, fmt.Errorf("unable to cast %v of type %T to bool", value, value)
	}
	return f != 0, nil
}

// ToDurationE accepts durations, duration strings such as "250ms", and numbers of milliseconds.
func ToDurationE(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return time.ParseDuration(s)
	}
	ms, err := ToInt64E(value)
	if err != nil {
		return 0, fmt.Errorf("unable to cast %v of type %T to duration", value, value)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ToString converts value to string, "" when it can not.
func ToString(value interface{}) string {
	v, _ := ToStringE(value)
	return v
}

// ToStringE formats scalars; maps, slices and structs are encoded as JSON.
func ToStringE(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case error:
		return v.Error(), nil
	case fmt.Stringer:
		return v.String(), nil
	case map[interface{}]interface{}:
		converted := make(map[string]interface{}, len(v))
		for k, item := range v {
			converted[fmt.Sprint(k)] = item
		}
		return ToStringE(converted)
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprint(value), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
