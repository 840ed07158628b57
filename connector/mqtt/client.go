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

package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofrs/uuid/v5"

	"github.com/rulego/esb/api/types"
)

// Handler receives the messages of one subscription.
type Handler struct {
	Topic  string
	Qos    byte
	Handle func(c paho.Client, msg paho.Message)
}

// ClientConfig configures the broker connection.
type ClientConfig struct {
	// Server is the broker address, e.g. tcp://127.0.0.1:1883.
	Server   string `required:"true"`
	Username string
	Password string
	// ClientID defaults to a random id.
	ClientID     string
	CleanSession bool
	// MaxReconnectInterval bounds the automatic reconnect backoff, default 60s.
	MaxReconnectInterval time.Duration
	// ConnectTimeout bounds a single connection attempt and broker acknowledgements, default 10s.
	ConnectTimeout time.Duration
	CAFile         string
	CertFile       string
	CertKeyFile    string
}

// Client is a broker connection that restores its subscriptions after a reconnect.
type Client struct {
	mu       sync.RWMutex
	client   paho.Client
	handlers map[string]Handler
	logger   types.Logger
	timeout  time.Duration
}

// NewClient connects to the broker. It gives up when ctx is done or the connect timeout elapses.
func NewClient(ctx context.Context, conf ClientConfig, logger types.Logger) (*Client, error) {
	timeout := conf.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxReconnect := conf.MaxReconnectInterval
	if maxReconnect <= 0 {
		maxReconnect = time.Minute
	}
	c := &Client{handlers: make(map[string]Handler), logger: types.NewLogger(logger), timeout: timeout}

	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Server)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetCleanSession(conf.CleanSession)
	if conf.ClientID == "" {
		opts.SetClientID("esb/" + uuid.Must(uuid.NewV4()).String()[:8])
	} else {
		opts.SetClientID(conf.ClientID)
	}
	opts.SetConnectTimeout(timeout)
	opts.SetMaxReconnectInterval(maxReconnect)
	opts.SetOnConnectHandler(c.onConnected)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	tlsConfig, err := newTLSConfig(conf.CAFile, conf.CertFile, conf.CertKeyFile)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", conf.Server, err)
	}
	return c, nil
}

// Subscribe registers handler and subscribes to its topic.
func (c *Client) Subscribe(handler Handler) error {
	c.mu.Lock()
	c.handlers[handler.Topic] = handler
	c.mu.Unlock()
	return c.subscribe(handler)
}

// Unsubscribe forgets the handler of topic.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.handlers, topic)
	c.mu.Unlock()
	return wait(c.client.Unsubscribe(topic), c.timeout)
}

// Publish sends payload and waits for the broker acknowledgement of qos 1 and 2.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(c.client.Publish(topic, qos, retained, payload), c.timeout)
}

// Close unsubscribes every handler and disconnects.
func (c *Client) Close() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.handlers = make(map[string]Handler)
	c.mu.Unlock()
	if len(topics) > 0 && c.client.IsConnectionOpen() {
		_ = wait(c.client.Unsubscribe(topics...), c.timeout)
	}
	c.client.Disconnect(250)
}

func (c *Client) subscribe(handler Handler) error {
	token, ok := c.client.Subscribe(handler.Topic, handler.Qos, handler.Handle).(*paho.SubscribeToken)
	if !ok {
		return fmt.Errorf("subscribe %s: unexpected token", handler.Topic)
	}
	if err := wait(token, c.timeout); err != nil {
		return fmt.Errorf("subscribe %s: %w", handler.Topic, err)
	}
	// 128 is the suback failure code, e.g. an ACL rejection
	if result, ok := token.Result()[handler.Topic]; ok && result == 128 {
		return fmt.Errorf("subscribe %s: rejected by broker", handler.Topic)
	}
	return nil
}

func (c *Client) onConnected(paho.Client) {
	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()
	for _, h := range handlers {
		if err := c.subscribe(h); err != nil {
			c.logger.Errorf("resubscribe after reconnect: %v", err)
		}
	}
}

func (c *Client) onConnectionLost(_ paho.Client, reason error) {
	c.logger.Warnf("mqtt connection lost: %v", reason)
}

func wait(token paho.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return types.NewTypedError(types.ErrorTimeout, fmt.Errorf("no broker response within %s", timeout))
	}
	return token.Error()
}

func newTLSConfig(caFile, certFile, certKeyFile string) (*tls.Config, error) {
	if caFile == "" && certFile == "" && certKeyFile == "" {
		return nil, nil
	}
	tlsConfig := &tls.Config{}
	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("load ca certificate: %w", err)
		}
		certPool := x509.NewCertPool()
		certPool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = certPool
	}
	if certFile != "" && certKeyFile != "" {
		kp, err := tls.LoadX509KeyPair(certFile, certKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{kp}
	}
	return tlsConfig, nil
}
