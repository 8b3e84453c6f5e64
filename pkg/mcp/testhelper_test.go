package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// scriptedTransport implements Transport with pre-programmed responses.
// Requests sent through it are answered on the push channel, the way a real
// bidirectional transport delivers them.
type scriptedTransport struct {
	mu        sync.Mutex
	results   map[string]json.RawMessage   // method → result JSON
	queues    map[string][]json.RawMessage // method → successive results, consumed first
	errors    map[string]*JSONRPCError     // method → error response
	silent    map[string]bool              // methods that never answer
	openErr   error
	sendErr   error
	opened    bool
	closed    bool
	requests  []JSONRPCRequest
	notified  []string
	msgs      chan []byte
	closeOnce sync.Once
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		results: make(map[string]json.RawMessage),
		queues:  make(map[string][]json.RawMessage),
		errors:  make(map[string]*JSONRPCError),
		silent:  make(map[string]bool),
		msgs:    make(chan []byte, 64),
	}
}

// withInitialize configures the handshake response with the given capabilities.
func (m *scriptedTransport) withInitialize(caps ServerCapabilities) *scriptedTransport {
	return m.withResult(MethodInitialize, InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    caps,
		ServerInfo:      ServerInfo{Name: "mock-server", Version: "1.0"},
	})
}

// withTools configures the tools/list response.
func (m *scriptedTransport) withTools(tools []ToolDescriptor) *scriptedTransport {
	return m.withResult(MethodToolsList, ToolsListResult{Tools: tools})
}

// withToolCall configures the tools/call response.
func (m *scriptedTransport) withToolCall(result ToolResult) *scriptedTransport {
	return m.withResult(MethodToolsCall, result)
}

// withResult configures an arbitrary method's result.
func (m *scriptedTransport) withResult(method string, v any) *scriptedTransport {
	data, _ := json.Marshal(v)
	m.results[method] = data
	return m
}

// withResultQueue configures successive results for a method, consumed in
// order before any withResult fallback. Used for pagination.
func (m *scriptedTransport) withResultQueue(method string, vs ...any) *scriptedTransport {
	for _, v := range vs {
		data, _ := json.Marshal(v)
		m.queues[method] = append(m.queues[method], data)
	}
	return m
}

// withError configures a method to answer with a JSON-RPC error.
func (m *scriptedTransport) withError(method string, code int, message string) *scriptedTransport {
	m.errors[method] = &JSONRPCError{Code: code, Message: message}
	return m
}

// withSilence configures a method to never answer, for timeout paths.
func (m *scriptedTransport) withSilence(method string) *scriptedTransport {
	m.silent[method] = true
	return m
}

// failOpen makes Open fail.
func (m *scriptedTransport) failOpen(err error) *scriptedTransport {
	m.openErr = err
	return m
}

func (m *scriptedTransport) Open(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *scriptedTransport) Send(_ context.Context, data []byte) error {
	var req struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("transport closed")
	}
	if m.sendErr != nil {
		return m.sendErr
	}

	if req.ID == nil {
		m.notified = append(m.notified, req.Method)
		return nil
	}
	m.requests = append(m.requests, JSONRPCRequest{ID: req.ID, Method: req.Method})

	if m.silent[req.Method] {
		return nil
	}

	resp := JSONRPCResponse{JSONRPC: "2.0", ID: *req.ID}
	switch {
	case m.errors[req.Method] != nil:
		resp.Error = m.errors[req.Method]
	case len(m.queues[req.Method]) > 0:
		resp.Result = m.queues[req.Method][0]
		m.queues[req.Method] = m.queues[req.Method][1:]
	case m.results[req.Method] != nil:
		resp.Result = m.results[req.Method]
	case req.Method == MethodPing:
		resp.Result = json.RawMessage(`{}`)
	default:
		resp.Error = &JSONRPCError{Code: -32601, Message: "method not found: " + req.Method}
	}

	raw, _ := json.Marshal(resp)
	m.msgs <- raw
	return nil
}

func (m *scriptedTransport) Messages() <-chan []byte { return m.msgs }

func (m *scriptedTransport) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.msgs)
	})
	return nil
}

// push injects a raw server-to-client message.
func (m *scriptedTransport) push(raw []byte) {
	m.msgs <- raw
}

// pushNotification injects a notification by method name.
func (m *scriptedTransport) pushNotification(method string, params any) {
	raw, _ := json.Marshal(newNotification(method, params))
	m.push(raw)
}

// lastRequestID returns the id of the most recent request for method.
func (m *scriptedTransport) lastRequestID(method string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.requests) - 1; i >= 0; i-- {
		if m.requests[i].Method == method {
			return *m.requests[i].ID, true
		}
	}
	return 0, false
}

// sentNotifications returns the notification methods sent so far.
func (m *scriptedTransport) sentNotifications() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.notified...)
}

// testDescriptor returns a descriptor with short timeouts for tests.
func testDescriptor(id string) ServerDescriptor {
	return ServerDescriptor{
		ID:                   id,
		Transport:            TransportStream,
		Endpoint:             "https://example.test/mcp",
		HandshakeTimeout:     time.Second,
		HeartbeatInterval:    time.Hour, // heartbeat off unless a test opts in
		RequestTimeout:       time.Second,
		ReconnectInterval:    5 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}
}

// dialTo always dials the given transport.
func dialTo(t Transport) func(ServerDescriptor) (Transport, error) {
	return func(ServerDescriptor) (Transport, error) { return t, nil }
}

// dialScript hands out transports in sequence; once the script runs out, the
// last factory repeats.
type dialScript struct {
	mu        sync.Mutex
	factories []func() Transport
	calls     int
}

func newDialScript(factories ...func() Transport) *dialScript {
	return &dialScript{factories: factories}
}

func (d *dialScript) dial(ServerDescriptor) (Transport, error) {
	d.mu.Lock()
	i := d.calls
	d.calls++
	d.mu.Unlock()
	if i >= len(d.factories) {
		i = len(d.factories) - 1
	}
	return d.factories[i](), nil
}

func (d *dialScript) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// handshakeReady returns a mock that completes the handshake with the given
// capabilities.
func handshakeReady(caps ServerCapabilities) func() Transport {
	return func() Transport { return newScriptedTransport().withInitialize(caps) }
}

// openRefused returns mocks whose Open fails.
func openRefused(err error) func() Transport {
	return func() Transport { return newScriptedTransport().failOpen(err) }
}

// logContains reports whether any retained entry for serverID mentions substr.
func logContains(logs *LogRing, serverID, substr string) bool {
	for _, e := range logs.EntriesFor(serverID) {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// newTestConnection wires a connection to a fixed mock transport.
func newTestConnection(desc ServerDescriptor, mock Transport) *Connection {
	return newConnection(desc, newEventBus(), NewLogRing(256), dialTo(mock))
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
