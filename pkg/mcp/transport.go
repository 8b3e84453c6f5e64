package mcp

import (
	"context"
	"fmt"
)

// Transport is the capability set a Connection needs from a wire transport:
// open the push channel, submit one message, receive pushed messages, close.
// One implementation exists per TransportKind.
type Transport interface {
	// Open establishes the push channel. Messages is valid once Open returns.
	Open(ctx context.Context) error

	// Send submits one raw client-to-server message. A transport may deliver
	// a synchronous acknowledgment by injecting it into the push channel.
	Send(ctx context.Context, data []byte) error

	// Messages returns the push channel of raw server-to-client messages.
	// It is closed when the transport fails or is closed.
	Messages() <-chan []byte

	// Close tears down the transport. Safe to call multiple times.
	Close() error
}

// CredentialProvider supplies a bearer credential for outgoing requests.
// Refresh and expiry are the caller's concern; transports only attach
// whatever credential is current at send time.
type CredentialProvider interface {
	Credential(ctx context.Context) (string, error)
}

// CredentialFunc adapts a function to a CredentialProvider.
type CredentialFunc func(ctx context.Context) (string, error)

func (f CredentialFunc) Credential(ctx context.Context) (string, error) { return f(ctx) }

// StaticCredential returns a provider that always yields token.
func StaticCredential(token string) CredentialProvider {
	return CredentialFunc(func(context.Context) (string, error) { return token, nil })
}

// newTransport builds the concrete transport for a descriptor.
func newTransport(d ServerDescriptor) (Transport, error) {
	switch d.Transport {
	case TransportStream:
		return newStreamHTTPTransport(d)
	case TransportSocket:
		return newWebSocketTransport(d)
	case TransportCommand:
		return newStdioTransport(d)
	default:
		return nil, fmt.Errorf("unsupported transport kind: %q", d.Transport)
	}
}
