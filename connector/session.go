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

package connector

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/rulego/esb/api/types"
	"github.com/rulego/esb/utils/aes"
)

// ErrInvalidSession is returned when a session header is malformed or its signature does
// not match.
var ErrInvalidSession = errors.New("invalid session")

// NullSessionHandler neither writes nor reads sessions.
type NullSessionHandler struct{}

func (NullSessionHandler) Store(*types.Event, *types.Message) error {
	return nil
}

func (NullSessionHandler) Retrieve(*types.Message) (*types.Session, error) {
	return nil, nil
}

// SignedSessionHandler serialises the session as JSON into the MULE_SESSION property,
// followed by a keyed BLAKE2b MAC.
type SignedSessionHandler struct {
	key []byte
}

// NewSignedSessionHandler creates a handler. Keys longer than 64 bytes are hashed first.
func NewSignedSessionHandler(key []byte) (*SignedSessionHandler, error) {
	if len(key) == 0 {
		return nil, errors.New("session key can not be empty")
	}
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &SignedSessionHandler{key: key}, nil
}

func (h *SignedSessionHandler) sign(data []byte) ([]byte, error) {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		return nil, err
	}
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (h *SignedSessionHandler) Store(event *types.Event, msg *types.Message) error {
	if event.Session == nil {
		return nil
	}
	data, err := json.Marshal(event.Session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	sig, err := h.sign(data)
	if err != nil {
		return err
	}
	enc := base64.RawURLEncoding
	msg.OutboundProperties.Put(types.PropertySession, enc.EncodeToString(data)+"."+enc.EncodeToString(sig))
	return nil
}

func (h *SignedSessionHandler) Retrieve(msg *types.Message) (*types.Session, error) {
	v := msg.InboundProperties.GetString(types.PropertySession)
	if v == "" {
		return nil, nil
	}
	enc := base64.RawURLEncoding
	rawData, rawSig, ok := strings.Cut(v, ".")
	if !ok {
		return nil, ErrInvalidSession
	}
	data, err := enc.DecodeString(rawData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	sig, err := enc.DecodeString(rawSig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	want, err := h.sign(data)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(sig, want) != 1 {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidSession)
	}
	var s types.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if s.Properties == nil {
		s.Properties = make(map[string]interface{})
	}
	return &s, nil
}

// EncryptedSessionHandler seals the JSON session into the MULE_SESSION property with AES-GCM,
// so downstream hops can neither read nor forge it.
type EncryptedSessionHandler struct {
	key []byte
}

// NewEncryptedSessionHandler derives a 256 bit key from secret.
func NewEncryptedSessionHandler(secret []byte) (*EncryptedSessionHandler, error) {
	if len(secret) == 0 {
		return nil, errors.New("session key can not be empty")
	}
	sum := blake2b.Sum256(secret)
	return &EncryptedSessionHandler{key: sum[:]}, nil
}

func (h *EncryptedSessionHandler) Store(event *types.Event, msg *types.Message) error {
	if event.Session == nil {
		return nil
	}
	data, err := json.Marshal(event.Session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	sealed, err := aes.Encrypt(data, h.key)
	if err != nil {
		return err
	}
	msg.OutboundProperties.Put(types.PropertySession, sealed)
	return nil
}

func (h *EncryptedSessionHandler) Retrieve(msg *types.Message) (*types.Session, error) {
	v := msg.InboundProperties.GetString(types.PropertySession)
	if v == "" {
		return nil, nil
	}
	data, err := aes.Decrypt(v, h.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	var s types.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if s.Properties == nil {
		s.Properties = make(map[string]interface{})
	}
	return &s, nil
}

var (
	_ types.SessionHandler = NullSessionHandler{}
	_ types.SessionHandler = (*SignedSessionHandler)(nil)
	_ types.SessionHandler = (*EncryptedSessionHandler)(nil)
)
