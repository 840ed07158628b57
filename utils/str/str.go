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

// Package str expands ${name} placeholders and rewrites SQL parameter markers.
package str

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rulego/esb/utils/cast"
	"github.com/rulego/esb/utils/maps"
)

// matches ${name} or ${a.b}
var varRegex = regexp.MustCompile(`\$\{ *([^}]+?) *\}`)

// ExecuteTemplate replaces ${key} and ${key.sub} with values from dict. Unknown keys are
// left as they are.
func ExecuteTemplate(original string, dict map[string]interface{}) string {
	if !CheckHasVar(original) {
		return original
	}
	return varRegex.ReplaceAllStringFunc(original, func(s string) string {
		m := varRegex.FindStringSubmatch(s)
		v := maps.Get(dict, m[1])
		if v == nil {
			return s
		}
		return cast.ToString(v)
	})
}

// CheckHasVar reports whether s contains a ${} placeholder.
func CheckHasVar(s string) bool {
	return strings.Contains(s, "${") && strings.Contains(s, "}")
}

// ParseVars lists the distinct placeholder names in s, in order of appearance.
func ParseVars(s string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range varRegex.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// ConvertDollarPlaceholder rewrites ? markers as $1, $2... for postgres. Markers inside
// quoted literals are kept.
func ConvertDollarPlaceholder(sql, driverName string) string {
	if driverName != "postgres" {
		return sql
	}
	var b strings.Builder
	n := 1
	var quote rune
	for _, r := range sql {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			b.WriteString("$" + strconv.Itoa(n))
			n++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
