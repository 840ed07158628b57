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

package transform

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/components/base"
)

func init() {
	Registry.Add(&ByteArrayToString{})
}

// ByteArrayToStringConfiguration configures ByteArrayToString.
type ByteArrayToStringConfiguration struct {
	// Encoding overrides the message encoding.
	Encoding string
}

// ByteArrayToString decodes a []byte payload into a string using the message charset.
type ByteArrayToString struct {
	Config ByteArrayToStringConfiguration
	config types.Config
}

func (x *ByteArrayToString) Type() string {
	return "transform/byteArrayToString"
}

func (x *ByteArrayToString) New() types.Component {
	return &ByteArrayToString{}
}

func (x *ByteArrayToString) Init(config types.Config, configuration types.Configuration) error {
	if err := base.Decode(x.Type(), configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Encoding != "" {
		if _, err := htmlindex.Get(x.Config.Encoding); err != nil {
			return fmt.Errorf("unsupported encoding %s: %w", x.Config.Encoding, err)
		}
	}
	x.config = config
	return nil
}

func (x *ByteArrayToString) Transform(_ context.Context, msg *types.Message) (*types.Message, error) {
	b, ok := msg.Payload.([]byte)
	if !ok {
		return msg, nil
	}
	charset := x.Config.Encoding
	if charset == "" {
		charset = msg.DataType.Encoding
	}
	if charset == "" {
		charset = x.config.DefaultEncoding
	}
	out := msg.Copy()
	if charset == "" || strings.EqualFold(charset, types.DefaultEncoding) {
		out.Payload = string(b)
	} else {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, types.NewTypedError(types.ErrorTransformation, err)
		}
		decoded, err := enc.NewDecoder().Bytes(b)
		if err != nil {
			return nil, types.NewTypedError(types.ErrorTransformation, err)
		}
		out.Payload = string(decoded)
	}
	out.DataType.Encoding = types.DefaultEncoding
	if out.DataType.IsAny() || out.DataType.MimeType == types.MimeTypeBinary {
		out.DataType.MimeType = types.MimeTypeText
	}
	return out, nil
}

func (x *ByteArrayToString) ReturnDataType() types.DataType {
	return types.DataType{MimeType: types.MimeTypeText, Encoding: types.DefaultEncoding}
}

func (x *ByteArrayToString) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	msg, err := x.Transform(ctx, event.Message)
	if err != nil {
		return nil, err
	}
	if msg == event.Message {
		return event, nil
	}
	out := event.Copy()
	out.Message = msg
	return out, nil
}

func (x *ByteArrayToString) Destroy() {
}
