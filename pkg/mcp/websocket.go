package mcp

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// webSocketTransport reaches a server over a websocket. Messages travel as
// text frames containing JSON; the read side feeds the push channel.
type webSocketTransport struct {
	url     string
	headers map[string]string
	auth    AuthMode
	creds   CredentialProvider

	conn    *websocket.Conn
	connCtx context.Context
	cancel  context.CancelFunc

	msgs      chan []byte
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWebSocketTransport(d ServerDescriptor) (Transport, error) {
	if d.Endpoint == "" {
		return nil, fmt.Errorf("socket transport requires an endpoint")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &webSocketTransport{
		url:     d.Endpoint,
		headers: d.Headers,
		auth:    d.Auth,
		creds:   d.Credentials,
		connCtx: ctx,
		cancel:  cancel,
		msgs:    make(chan []byte, 64),
	}, nil
}

// Open dials the websocket. The bearer credential, when configured, is
// attached to the dial handshake; frames themselves carry no auth.
func (t *webSocketTransport) Open(ctx context.Context) error {
	header := http.Header{}
	for k, v := range t.headers {
		header.Set(k, v)
	}
	if t.auth != AuthNone && t.creds != nil {
		token, err := t.creds.Credential(ctx)
		if err != nil {
			return fmt.Errorf("credential: %w", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(1024 * 1024)

	t.conn = conn
	go t.readLoop()
	return nil
}

// readLoop feeds received frames into the push channel until the connection
// drops, then closes the channel.
func (t *webSocketTransport) readLoop() {
	defer close(t.msgs)

	for {
		_, data, err := t.conn.Read(t.connCtx)
		if err != nil {
			return
		}
		select {
		case t.msgs <- data:
		case <-t.connCtx.Done():
			return
		}
	}
}

// Send writes one message as a text frame.
func (t *webSocketTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.conn == nil {
		return ErrConnectionClosed
	}
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *webSocketTransport) Messages() <-chan []byte { return t.msgs }

// Close sends a close frame and cancels the reader. Safe to call multiple times.
func (t *webSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		if t.conn != nil {
			t.conn.Close(websocket.StatusNormalClosure, "")
		}
	})
	return nil
}
