package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// defaultExecutionHistory bounds the registry-wide execution log.
const defaultExecutionHistory = 200

// Manager owns a named collection of connections and presents a
// server-agnostic facade: add and remove servers, connect and disconnect,
// list and execute tools, and aggregate logs and events across servers.
type Manager struct {
	mu      sync.Mutex
	conns   map[string]*Connection
	execs   []*ToolExecution // most recent first
	maxExec int
	closed  bool

	events  *eventBus
	logs    *LogRing
	tracker *Tracker
	dial    func(ServerDescriptor) (Transport, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogCapacity bounds the shared log ring.
func WithLogCapacity(n int) Option {
	return func(m *Manager) { m.logs = NewLogRing(n) }
}

// WithExecutionHistory bounds how many finished executions are retained.
func WithExecutionHistory(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxExec = n
		}
	}
}

// WithTransportFactory overrides how transports are dialed. Used to inject
// in-memory transports in tests.
func WithTransportFactory(dial func(ServerDescriptor) (Transport, error)) Option {
	return func(m *Manager) { m.dial = dial }
}

// NewManager creates an empty registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		conns:   make(map[string]*Connection),
		maxExec: defaultExecutionHistory,
		events:  newEventBus(),
		dial:    newTransport,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logs == nil {
		m.logs = NewLogRing(DefaultLogCapacity)
	}
	m.tracker = newTracker(m.events)
	return m
}

// AddServer registers a server in the disconnected state. It does not dial;
// duplicate ids are rejected.
func (m *Manager) AddServer(desc ServerDescriptor) error {
	if desc.ID == "" {
		return fmt.Errorf("server descriptor requires an id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("manager closed")
	}
	if _, exists := m.conns[desc.ID]; exists {
		return fmt.Errorf("server %q already registered", desc.ID)
	}
	m.conns[desc.ID] = newConnection(desc, m.events, m.logs, m.dial)
	return nil
}

// RemoveServer disconnects (if needed) and removes a server. Callers that
// held the server as an active selection clear that selection themselves.
func (m *Manager) RemoveServer(id string) error {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown server: %q", id)
	}
	conn.Disconnect()
	return nil
}

// ConnectServer dials and handshakes the named server.
func (m *Manager) ConnectServer(ctx context.Context, id string) error {
	conn, err := m.connection(id)
	if err != nil {
		return err
	}
	return conn.Connect(ctx)
}

// DisconnectServer tears the named server's session down.
func (m *Manager) DisconnectServer(id string) error {
	conn, err := m.connection(id)
	if err != nil {
		return err
	}
	conn.Disconnect()
	return nil
}

// ListTools fetches and caches the named server's tool set. Fails with
// ErrNotConnected unless the server is connected.
func (m *Manager) ListTools(ctx context.Context, id string) ([]ToolDescriptor, error) {
	conn, err := m.connection(id)
	if err != nil {
		return nil, err
	}
	return conn.ListTools(ctx)
}

// ExecuteTool runs one tool call on the named server, records the execution
// in the registry-wide history, and returns the settled record. The record
// captures failure; the error mirrors it.
func (m *Manager) ExecuteTool(ctx context.Context, id, tool string, args map[string]any) (*ToolExecution, error) {
	conn, err := m.connection(id)
	if err != nil {
		return nil, err
	}

	rec, execErr := m.tracker.Execute(ctx, conn, tool, args)

	m.mu.Lock()
	m.execs = append([]*ToolExecution{rec}, m.execs...)
	if len(m.execs) > m.maxExec {
		m.execs = m.execs[:m.maxExec]
	}
	m.mu.Unlock()

	sev := SeverityInfo
	if rec.Status != ExecutionCompleted {
		sev = SeverityWarn
	}
	m.logs.appendf(id, sev, "", "tool %s %s in %s", tool, rec.Status, rec.Duration)

	return rec, execErr
}

// ListResources fetches the named server's resources.
func (m *Manager) ListResources(ctx context.Context, id string) ([]Resource, error) {
	conn, err := m.connection(id)
	if err != nil {
		return nil, err
	}
	return conn.ListResources(ctx)
}

// ReadResource reads one resource from the named server.
func (m *Manager) ReadResource(ctx context.Context, id, uri string) (*ResourceReadResult, error) {
	conn, err := m.connection(id)
	if err != nil {
		return nil, err
	}
	return conn.ReadResource(ctx, uri)
}

// ListPrompts fetches the named server's prompts.
func (m *Manager) ListPrompts(ctx context.Context, id string) ([]Prompt, error) {
	conn, err := m.connection(id)
	if err != nil {
		return nil, err
	}
	return conn.ListPrompts(ctx)
}

// GetPrompt resolves one prompt template on the named server.
func (m *Manager) GetPrompt(ctx context.Context, id, name string, args map[string]string) (*PromptGetResult, error) {
	conn, err := m.connection(id)
	if err != nil {
		return nil, err
	}
	return conn.GetPrompt(ctx, name, args)
}

// UpdateServerAuth replaces the named server's authentication block. It does
// not reconnect; the caller decides when the new credential takes effect.
func (m *Manager) UpdateServerAuth(id string, mode AuthMode, creds CredentialProvider) error {
	conn, err := m.connection(id)
	if err != nil {
		return err
	}
	conn.SetAuth(mode, creds)
	return nil
}

// Executions returns the retained execution records, most recent first.
func (m *Manager) Executions() []*ToolExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ToolExecution(nil), m.execs...)
}

// Logs returns retained log entries, oldest first, for one server or for all
// when id is empty.
func (m *Manager) Logs(id string) []LogEntry {
	if id == "" {
		return m.logs.Entries()
	}
	return m.logs.EntriesFor(id)
}

// ClearLogs removes ring entries for the given server, or all entries when
// id is empty.
func (m *Manager) ClearLogs(id string) {
	m.logs.Clear(id)
}

// Subscribe returns a channel of registry events and an unsubscribe func.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.subscribe(buffer)
}

// Status snapshots every registered server, ordered by id.
func (m *Manager) Status() []ServerStatus {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	out := make([]ServerStatus, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ServerStatus snapshots one server.
func (m *Manager) ServerStatus(id string) (*ServerStatus, error) {
	conn, err := m.connection(id)
	if err != nil {
		return nil, err
	}
	s := conn.Status()
	return &s, nil
}

// ApplyResult reports what an ApplyConfig call changed.
type ApplyResult struct {
	Added   []string
	Removed []string
	Errors  map[string]string
}

// ApplyConfig diffs the desired descriptor set against the registry: new
// servers are added and connected, servers absent from the set are removed,
// and unchanged ids are left alone. Per-server failures are collected, not
// fatal.
func (m *Manager) ApplyConfig(ctx context.Context, desired map[string]ServerDescriptor) *ApplyResult {
	result := &ApplyResult{Errors: make(map[string]string)}

	m.mu.Lock()
	existing := make(map[string]bool, len(m.conns))
	for id := range m.conns {
		existing[id] = true
	}
	m.mu.Unlock()

	for id := range existing {
		if _, keep := desired[id]; keep {
			continue
		}
		if err := m.RemoveServer(id); err != nil {
			result.Errors[id] = err.Error()
			continue
		}
		result.Removed = append(result.Removed, id)
	}

	for id, desc := range desired {
		if existing[id] {
			continue
		}
		desc.ID = id
		if err := m.AddServer(desc); err != nil {
			result.Errors[id] = err.Error()
			continue
		}
		result.Added = append(result.Added, id)
		if err := m.ConnectServer(ctx, id); err != nil {
			result.Errors[id] = err.Error()
		}
	}

	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	return result
}

// Close disconnects every server and shuts the event bus down. The manager
// is unusable afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect()
	}
	m.events.close()
}

func (m *Manager) connection(id string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("unknown server: %q", id)
	}
	return conn, nil
}
