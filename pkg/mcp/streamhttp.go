package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const sessionIDHeader = "Mcp-Session-Id"

// streamHTTPTransport reaches a server over streamable HTTP: a long-lived
// GET event stream carries server pushes, and each client message is an
// HTTP POST. POST responses that carry JSON-RPC payloads are injected into
// the push channel so all correlation happens in one place.
type streamHTTPTransport struct {
	url     string
	headers map[string]string
	auth    AuthMode
	creds   CredentialProvider
	client  *http.Client

	mu        sync.Mutex
	sessionID string

	msgs      chan []byte
	streamCtx context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newStreamHTTPTransport(d ServerDescriptor) (Transport, error) {
	if d.Endpoint == "" {
		return nil, fmt.Errorf("stream transport requires an endpoint")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &streamHTTPTransport{
		url:       d.Endpoint,
		headers:   d.Headers,
		auth:      d.Auth,
		creds:     d.Credentials,
		client:    &http.Client{},
		msgs:      make(chan []byte, 64),
		streamCtx: ctx,
		cancel:    cancel,
	}, nil
}

// Open dials the event stream. The GET uses the transport's own context so
// the stream outlives ctx; ctx only bounds the dial itself.
func (t *streamHTTPTransport) Open(ctx context.Context) error {
	type dialResult struct {
		resp *http.Response
		err  error
	}
	resultCh := make(chan dialResult, 1)

	go func() {
		req, err := http.NewRequestWithContext(t.streamCtx, http.MethodGet, t.url, nil)
		if err != nil {
			resultCh <- dialResult{err: err}
			return
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
		if err := t.applyHeaders(t.streamCtx, req); err != nil {
			resultCh <- dialResult{err: err}
			return
		}
		resp, err := t.client.Do(req)
		resultCh <- dialResult{resp: resp, err: err}
	}()

	var resp *http.Response
	select {
	case <-ctx.Done():
		t.cancel()
		return ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return fmt.Errorf("open stream: %w", r.err)
		}
		resp = r.resp
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return fmt.Errorf("open stream: http %d: %s", resp.StatusCode, body)
	}

	t.trackSession(resp)
	go t.readLoop(resp.Body)
	return nil
}

// readLoop parses SSE data lines from the stream into the push channel,
// closing it when the stream ends.
func (t *streamHTTPTransport) readLoop(body io.ReadCloser) {
	defer close(t.msgs)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		select {
		case t.msgs <- []byte(data):
		case <-t.streamCtx.Done():
			return
		}
	}
}

// Send POSTs one message. An immediate JSON body or inline event stream in
// the response is fed into the push channel.
func (t *streamHTTPTransport) Send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if err := t.applyHeaders(ctx, req); err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	t.trackSession(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		return nil // acknowledgment only; the real response arrives on the stream
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("http %d: %s", resp.StatusCode, body)
	}

	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "text/event-stream") {
		t.forwardEvents(resp.Body)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(body)) > 0 {
		t.inject(body)
	}
	return nil
}

// forwardEvents drains an inline SSE response body into the push channel.
func (t *streamHTTPTransport) forwardEvents(body io.Reader) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		t.inject([]byte(data))
	}
}

func (t *streamHTTPTransport) inject(data []byte) {
	select {
	case t.msgs <- data:
	case <-t.streamCtx.Done():
	}
}

func (t *streamHTTPTransport) Messages() <-chan []byte { return t.msgs }

// Close cancels the stream; readLoop closes the push channel on its way out.
func (t *streamHTTPTransport) Close() error {
	t.closeOnce.Do(t.cancel)
	return nil
}

// applyHeaders sets configured headers, the tracked session id, and the
// bearer credential on an outgoing request.
func (t *streamHTTPTransport) applyHeaders(ctx context.Context, req *http.Request) error {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set(sessionIDHeader, t.sessionID)
	}
	t.mu.Unlock()

	if t.auth != AuthNone && t.creds != nil {
		token, err := t.creds.Credential(ctx)
		if err != nil {
			return fmt.Errorf("credential: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return nil
}

func (t *streamHTTPTransport) trackSession(resp *http.Response) {
	if sid := resp.Header.Get(sessionIDHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
}
