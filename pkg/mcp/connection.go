package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	clientName    = "tether"
	clientVersion = "0.1.0"
)

// Connection drives one server: handshake, push-channel traffic, heartbeat,
// and reconnection. It exclusively owns its state, negotiated capabilities,
// and pending-request table; all transitions happen through its methods.
type Connection struct {
	id string // immutable copy of the descriptor id

	mu        sync.Mutex
	desc      ServerDescriptor
	state     ConnectionState
	transport Transport
	gen       int // session generation; bumped on every teardown

	serverInfo *ServerInfo
	caps       *ServerCapabilities
	tools      []ToolDescriptor
	resources  []Resource
	prompts    []Prompt

	attempts       int // reconnect attempts used since last success
	lastErr        error
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}

	pending *pendingTable
	nextID  atomic.Int64

	events *eventBus
	logs   *LogRing
	dial   func(ServerDescriptor) (Transport, error)
}

// newConnection creates a connection in the disconnected state. It does not dial.
func newConnection(desc ServerDescriptor, events *eventBus, logs *LogRing, dial func(ServerDescriptor) (Transport, error)) *Connection {
	desc = desc.withDefaults()
	if dial == nil {
		dial = newTransport
	}
	return &Connection{
		id:      desc.ID,
		desc:    desc,
		state:   StateDisconnected,
		pending: newPendingTable(),
		events:  events,
		logs:    logs,
		dial:    dial,
	}
}

// Connect opens the transport and runs the initialize handshake. It is a
// no-op when already connecting or connected. A manual Connect resets the
// reconnect budget, so it retries even after exhaustion.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateHandshaking, StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.stopReconnectTimerLocked()
	c.attempts = 0
	c.lastErr = nil

	t, err := c.dial(c.desc)
	if err != nil {
		c.lastErr = err
		c.setStateLocked(StateError)
		c.mu.Unlock()
		return err
	}
	c.transport = t
	gen := c.gen
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	return c.establish(ctx, t, gen)
}

// establish opens the push channel and runs the handshake on t. gen guards
// against the session being torn down concurrently.
func (c *Connection) establish(ctx context.Context, t Transport, gen int) error {
	d := c.descriptorSnapshot()

	openCtx, cancel := context.WithTimeout(ctx, d.HandshakeTimeout)
	err := t.Open(openCtx)
	cancel()
	if err != nil {
		return c.connectFailed(gen, &HandshakeError{
			Stage:   stageOpen,
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Cause:   err,
		})
	}

	go c.readLoop(t, gen)

	if !c.advance(gen, StateHandshaking) {
		return ErrConnectionClosed
	}

	initCtx, cancel := context.WithTimeout(ctx, d.HandshakeTimeout)
	resp, err := c.roundTrip(initCtx, t, MethodInitialize, InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      ClientInfo{Name: clientName, Version: clientVersion},
	}, d.HandshakeTimeout)
	cancel()
	if err != nil {
		var timedOut *RequestTimeoutError
		return c.connectFailed(gen, &HandshakeError{
			Stage:   stageInitialize,
			Timeout: errors.Is(err, context.DeadlineExceeded) || errors.As(err, &timedOut),
			Cause:   err,
		})
	}
	if resp.Error != nil {
		return c.connectFailed(gen, &HandshakeError{Stage: stageInitialize, Cause: resp.Error})
	}

	var init InitializeResult
	if err := json.Unmarshal(resp.Result, &init); err != nil {
		return c.connectFailed(gen, &HandshakeError{
			Stage: stageInitialize,
			Cause: fmt.Errorf("parse initialize result: %w", err),
		})
	}

	if err := c.sendNotification(t, NotificationInitialized, nil); err != nil {
		return c.connectFailed(gen, &HandshakeError{Stage: stageInitialize, Cause: err})
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.serverInfo = &init.ServerInfo
	caps := init.Capabilities
	c.caps = &caps
	c.attempts = 0
	c.lastErr = nil
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logs.appendf(c.id, SeverityInfo, "", "connected to %s %s (protocol %s)",
		init.ServerInfo.Name, init.ServerInfo.Version, init.ProtocolVersion)

	go c.heartbeatLoop(t, gen, stop)

	// Prime the tool cache when the server advertises tools. Best effort;
	// callers re-list on demand.
	if caps.Tools != nil {
		if _, err := c.ListTools(ctx); err != nil {
			c.logs.appendf(c.id, SeverityWarn, "", "initial tool listing failed: %v", err)
		}
	}

	return nil
}

// Disconnect tears the session down: cancels heartbeat and reconnect timers,
// fails every pending request with ErrConnectionClosed, and closes the
// transport. Idempotent and safe in any state.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected {
		return
	}
	c.teardownLocked()
	c.lastErr = nil
	c.attempts = 0
	c.setStateLocked(StateDisconnected)
}

// SendRequest issues a JSON-RPC request and suspends until the response
// arrives, the per-request deadline expires, ctx is cancelled, or the
// connection closes, whichever happens first. Requires the connected state.
func (c *Connection) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	t := c.transport
	timeout := c.desc.RequestTimeout
	c.mu.Unlock()

	resp, err := c.roundTrip(ctx, t, method, params, timeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// ListTools fetches the server's tools (following pagination cursors),
// applies the descriptor's tool filter, and refreshes the cached set.
// Servers that do not advertise the tools capability yield an empty list.
func (c *Connection) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	gated := c.caps.Tools == nil
	filter := c.desc.Tools
	c.mu.Unlock()

	if gated {
		return nil, nil
	}

	var all []ToolDescriptor
	cursor := ""
	for {
		raw, err := c.SendRequest(ctx, MethodToolsList, listParams(cursor))
		if err != nil {
			return nil, err
		}
		var page ToolsListResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("parse tools list: %w", err)
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	all = filter.apply(all)

	c.mu.Lock()
	c.tools = all
	c.mu.Unlock()
	return all, nil
}

// CallTool invokes one tool. The descriptor's filter applies: calls to
// filtered tools are rejected locally.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	c.mu.Lock()
	filter := c.desc.Tools
	c.mu.Unlock()

	if !filter.Allows(name) {
		return nil, fmt.Errorf("tool %q is not available on server %q", name, c.id)
	}

	raw, err := c.SendRequest(ctx, MethodToolsCall, ToolCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tool result: %w", err)
	}
	return &result, nil
}

// ListResources fetches the server's resources, refreshing the cached set.
// Empty when the server does not advertise the resources capability.
func (c *Connection) ListResources(ctx context.Context) ([]Resource, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	gated := c.caps.Resources == nil
	c.mu.Unlock()

	if gated {
		return nil, nil
	}

	var all []Resource
	cursor := ""
	for {
		raw, err := c.SendRequest(ctx, MethodResourcesList, listParams(cursor))
		if err != nil {
			return nil, err
		}
		var page ResourcesListResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("parse resources list: %w", err)
		}
		all = append(all, page.Resources...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	c.mu.Lock()
	c.resources = all
	c.mu.Unlock()
	return all, nil
}

// ReadResource reads one resource by URI.
func (c *Connection) ReadResource(ctx context.Context, uri string) (*ResourceReadResult, error) {
	raw, err := c.SendRequest(ctx, MethodResourcesRead, ResourceReadParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var result ResourceReadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse resource result: %w", err)
	}
	return &result, nil
}

// ListPrompts fetches the server's prompts, refreshing the cached set.
// Empty when the server does not advertise the prompts capability.
func (c *Connection) ListPrompts(ctx context.Context) ([]Prompt, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	gated := c.caps.Prompts == nil
	c.mu.Unlock()

	if gated {
		return nil, nil
	}

	var all []Prompt
	cursor := ""
	for {
		raw, err := c.SendRequest(ctx, MethodPromptsList, listParams(cursor))
		if err != nil {
			return nil, err
		}
		var page PromptsListResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("parse prompts list: %w", err)
		}
		all = append(all, page.Prompts...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	c.mu.Lock()
	c.prompts = all
	c.mu.Unlock()
	return all, nil
}

// GetPrompt resolves one prompt template with the given arguments.
func (c *Connection) GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptGetResult, error) {
	raw, err := c.SendRequest(ctx, MethodPromptsGet, PromptGetParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result PromptGetResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse prompt result: %w", err)
	}
	return &result, nil
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Descriptor returns the current server descriptor.
func (c *Connection) Descriptor() ServerDescriptor {
	return c.descriptorSnapshot()
}

// ServerInfo returns the negotiated server identity, nil unless connected.
func (c *Connection) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverInfo == nil {
		return nil
	}
	info := *c.serverInfo
	return &info
}

// Capabilities returns the negotiated capability set, nil unless connected.
func (c *Connection) Capabilities() *ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caps == nil {
		return nil
	}
	caps := *c.caps
	return &caps
}

// CachedTools returns the last fetched, filtered tool set without a round trip.
func (c *Connection) CachedTools() []ToolDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ToolDescriptor(nil), c.tools...)
}

// SetAuth replaces the descriptor's authentication block. The change takes
// effect on the next dial; it does not reconnect.
func (c *Connection) SetAuth(mode AuthMode, creds CredentialProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.desc
	d.Auth = mode
	d.Credentials = creds
	c.desc = d
}

// Status snapshots the connection for presentation.
func (c *Connection) Status() ServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := ServerStatus{
		ID:      c.id,
		Name:    c.desc.Name,
		State:   c.state,
		Attempt: c.attempts,
		Tools:   append([]ToolDescriptor(nil), c.tools...),
	}
	if c.serverInfo != nil {
		info := *c.serverInfo
		s.ServerInfo = &info
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	return s
}

// readLoop dispatches pushed messages until the transport's channel closes,
// then treats the closure as a transport failure for this session generation.
func (c *Connection) readLoop(t Transport, gen int) {
	for raw := range t.Messages() {
		c.handleMessage(raw)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return // deliberate teardown already handled this session
	}
	c.teardownLocked()
	c.lastErr = ErrTransportLost
	c.logs.appendf(c.id, SeverityError, "", "transport lost")
	c.scheduleReconnectLocked()
}

// handleMessage classifies one raw pushed message. Responses settle their
// pending request; unknown ids are logged and dropped, never surfaced.
func (c *Connection) handleMessage(raw []byte) {
	resp, note, err := decodeMessage(raw)
	switch {
	case err != nil:
		c.logs.appendf(c.id, SeverityWarn, DirectionReceived, "dropping malformed message: %v", err)
	case resp != nil:
		if !c.pending.resolve(resp.ID, *resp) {
			c.logs.appendf(c.id, SeverityWarn, DirectionReceived, "dropping response with unknown id %d", resp.ID)
		}
	default:
		c.handleNotification(note)
	}
}

// handleNotification dispatches a server push by method name. Unrecognized
// methods are logged and ignored, never fatal.
func (c *Connection) handleNotification(n *JSONRPCNotification) {
	switch n.Method {
	case NotificationToolsListChanged:
		c.mu.Lock()
		c.tools = nil
		c.mu.Unlock()
		c.events.publish(Event{Kind: EventToolsChanged, ServerID: c.id})

	case NotificationResourcesListChanged:
		c.mu.Lock()
		c.resources = nil
		c.mu.Unlock()
		c.events.publish(Event{Kind: EventResourcesChanged, ServerID: c.id})

	case NotificationResourcesUpdated:
		c.events.publish(Event{Kind: EventResourceUpdated, ServerID: c.id, Params: n.Params})

	case NotificationPromptsListChanged:
		c.mu.Lock()
		c.prompts = nil
		c.mu.Unlock()
		c.events.publish(Event{Kind: EventPromptsChanged, ServerID: c.id})

	case NotificationMessage:
		var p LogMessageParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			c.logs.appendf(c.id, SeverityWarn, DirectionReceived, "bad log notification: %v", err)
			return
		}
		c.logs.appendf(c.id, severityFromLevel(p.Level), DirectionReceived, "%s", p.Data)
		c.events.publish(Event{Kind: EventServerLog, ServerID: c.id, Params: n.Params})

	default:
		c.logs.appendf(c.id, SeverityWarn, DirectionReceived, "unrecognized notification %q", n.Method)
	}
}

// heartbeatLoop pings the server on the configured interval. A failed ping
// is treated identically to a detected transport failure.
func (c *Connection) heartbeatLoop(t Transport, gen int, stop <-chan struct{}) {
	interval := c.descriptorSnapshot().HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			timeout := c.descriptorSnapshot().RequestTimeout
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			_, err := c.roundTrip(ctx, t, MethodPing, nil, timeout)
			cancel()
			if err == nil {
				continue
			}

			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.teardownLocked()
			c.lastErr = fmt.Errorf("%w: heartbeat: %v", ErrTransportLost, err)
			c.logs.appendf(c.id, SeverityError, "", "heartbeat failed: %v", err)
			c.scheduleReconnectLocked()
			c.mu.Unlock()
			return
		}
	}
}

// roundTrip registers a pending request, submits it, and suspends until
// settlement, deadline expiry, or ctx cancellation.
func (c *Connection) roundTrip(ctx context.Context, t Transport, method string, params any, timeout time.Duration) (JSONRPCResponse, error) {
	id := c.nextID.Add(1)
	ch := c.pending.register(id, method, timeout)

	data, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		c.pending.reject(id, err)
		return JSONRPCResponse{}, err
	}

	c.logs.appendf(c.id, SeverityDebug, DirectionSent, "%s id=%d", method, id)
	if err := t.Send(ctx, data); err != nil {
		c.pending.reject(id, err)
		return JSONRPCResponse{}, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return JSONRPCResponse{}, res.err
		}
		return res.resp, nil
	case <-ctx.Done():
		c.pending.reject(id, ctx.Err())
		return JSONRPCResponse{}, ctx.Err()
	}
}

// sendNotification submits a notification; no response is expected.
func (c *Connection) sendNotification(t Transport, method string, params any) error {
	data, err := json.Marshal(newNotification(method, params))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.descriptorSnapshot().RequestTimeout)
	defer cancel()
	c.logs.appendf(c.id, SeverityDebug, DirectionSent, "%s", method)
	return t.Send(ctx, data)
}

// connectFailed tears down a failed session and engages the reconnect policy.
// Returns err for the caller. No-op if the session was already superseded.
func (c *Connection) connectFailed(gen int, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return err
	}
	c.teardownLocked()
	c.lastErr = err
	c.logs.appendf(c.id, SeverityError, "", "connect failed: %v", err)
	c.scheduleReconnectLocked()
	return err
}

// scheduleReconnectLocked arms the next reconnect attempt with exponential
// backoff, or transitions to the terminal error state when the budget is
// spent. Caller holds c.mu.
func (c *Connection) scheduleReconnectLocked() {
	if c.attempts >= c.desc.MaxReconnectAttempts {
		c.setStateLocked(StateError)
		c.logs.appendf(c.id, SeverityError, "", "reconnect attempts exhausted after %d tries", c.attempts)
		c.events.publish(Event{Kind: EventReconnectExhausted, ServerID: c.id, Err: ErrReconnectExhausted})
		return
	}

	c.attempts++
	delay := reconnectDelay(c.desc.ReconnectInterval, c.attempts)
	c.setStateLocked(StateReconnecting)
	c.logs.appendf(c.id, SeverityInfo, "", "reconnect attempt %d/%d in %s",
		c.attempts, c.desc.MaxReconnectAttempts, delay)

	gen := c.gen
	c.reconnectTimer = time.AfterFunc(delay, func() { c.retry(gen) })
}

// retry is the reconnect timer body. Stale timers (superseded generation or
// state) are no-ops.
func (c *Connection) retry(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil

	t, err := c.dial(c.desc)
	if err != nil {
		c.lastErr = err
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}
	c.transport = t
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	_ = c.establish(context.Background(), t, gen)
}

// teardownLocked releases everything the current session owns: timers,
// transport, negotiated state, and every pending request. Caller holds c.mu
// and sets the next state afterwards.
func (c *Connection) teardownLocked() {
	c.gen++
	c.stopReconnectTimerLocked()
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	c.serverInfo = nil
	c.caps = nil
	c.tools = nil
	c.resources = nil
	c.prompts = nil
	c.pending.drainAll(ErrConnectionClosed)
}

func (c *Connection) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// setStateLocked transitions the state and broadcasts the change. Caller
// holds c.mu.
func (c *Connection) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	c.events.publish(Event{
		Kind:     EventStateChanged,
		ServerID: c.id,
		State:    s,
		Attempt:  c.attempts,
		Err:      c.lastErr,
	})
}

// advance moves to state s if the session generation still matches.
func (c *Connection) advance(gen int, s ConnectionState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.setStateLocked(s)
	return true
}

func (c *Connection) descriptorSnapshot() ServerDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc
}

// reconnectDelay is the backoff before the given attempt (1-based): the base
// interval doubled per attempt, capped at maxReconnectDelay.
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d <= 0 || d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

// severityFromLevel maps protocol log levels onto ring severities.
func severityFromLevel(level string) Severity {
	switch level {
	case "debug":
		return SeverityDebug
	case "info", "notice":
		return SeverityInfo
	case "warning":
		return SeverityWarn
	case "error", "critical", "alert", "emergency":
		return SeverityError
	default:
		return SeverityInfo
	}
}

func listParams(cursor string) any {
	if cursor == "" {
		return nil
	}
	return ListParams{Cursor: cursor}
}
