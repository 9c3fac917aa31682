// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package amqptransport

import (
	"context"
	"crypto/tls"

	amqp "github.com/interconnectedcloud/go-amqp"

	"github.com/device-amqp/amqpcore/messenger"
)

// DialOption configures Dial, mirroring the Username/Password/TLSConfig
// knobs the teacher's bridge/amqp.Config exposes for its AMQP 0.9.1
// connection.
type DialOption func(*dialConfig)

type dialConfig struct {
	connOpts []amqp.ConnOption
}

// WithSASLPlain authenticates the connection with a SASL PLAIN username and
// password, the device-to-IoT-Hub credential shape this core's callers use.
func WithSASLPlain(username, password string) DialOption {
	return func(c *dialConfig) {
		c.connOpts = append(c.connOpts, amqp.ConnSASLPlain(username, password))
	}
}

// WithTLSConfig sets the TLS configuration used to dial amqps:// addresses.
func WithTLSConfig(cfg *tls.Config) DialOption {
	return func(c *dialConfig) {
		c.connOpts = append(c.connOpts, amqp.ConnTLSConfig(cfg))
	}
}

// Client wraps an AMQP connection and mints sessions.
type Client struct {
	conn *amqp.Client
}

// Dial connects to addr (an amqps:// URL) and returns a Client.
func Dial(addr string, opts ...DialOption) (*Client, error) {
	cfg := &dialConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	conn, err := amqp.Dial(addr, cfg.connOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// NewSession opens a new AMQP session, returning the messenger.Session
// abstraction Messenger.Start expects.
func (c *Client) NewSession(ctx context.Context) (messenger.Session, error) {
	sess, err := c.conn.NewSession()
	if err != nil {
		return nil, err
	}
	return &session{sess: sess}, nil
}
