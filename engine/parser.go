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

package engine

import (
	"github.com/rulego/esb/utils/json"
)

// Parser decodes and encodes the flow DSL.
type Parser interface {
	DecodeDefinition(dsl []byte) (Definition, error)
	EncodeDefinition(def Definition) ([]byte, error)
}

// JsonParser reads and writes the DSL as JSON.
type JsonParser struct {
}

func (p *JsonParser) DecodeDefinition(dsl []byte) (Definition, error) {
	var def Definition
	err := json.Unmarshal(dsl, &def)
	return def, err
}

// EncodeDefinition writes def as indented JSON.
func (p *JsonParser) EncodeDefinition(def Definition) ([]byte, error) {
	if v, err := json.Marshal(def); err != nil {
		return nil, err
	} else {
		return json.Format(v)
	}
}
