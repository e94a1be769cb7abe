package models

import (
	"fmt"
	"time"
)

// Encryption selects how the transport connection is secured.
type Encryption string

const (
	// EncryptionNone uses a plaintext connection.
	EncryptionNone Encryption = "none"
	// EncryptionTLS wraps the socket in TLS before the protocol handshake.
	EncryptionTLS Encryption = "tls"
	// EncryptionSTARTTLS upgrades a plaintext connection in-band after the
	// initial greeting.
	EncryptionSTARTTLS Encryption = "starttls"
)

// Endpoint describes one mail server plus the credentials used against it.
// It is an immutable value; handlers copy it, never mutate it.
type Endpoint struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Encryption  Encryption
	DialTimeout time.Duration
	MaxRetries  int
}

// Addr returns the host:port pair, which is also the connection pool key.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Timeout returns the configured dial timeout, defaulting to 30 seconds.
func (e Endpoint) Timeout() time.Duration {
	if e.DialTimeout <= 0 {
		return 30 * time.Second
	}
	return e.DialTimeout
}

// Retries returns the configured retry budget, defaulting to 3 attempts.
func (e Endpoint) Retries() int {
	if e.MaxRetries <= 0 {
		return 3
	}
	return e.MaxRetries
}
