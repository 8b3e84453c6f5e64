package mcp

import (
	"context"
	"testing"
	"time"
)

func connectedConn(t *testing.T, mock *scriptedTransport, bus *eventBus) *Connection {
	t.Helper()
	conn := newConnection(testDescriptor("s1"), bus, NewLogRing(256), dialTo(mock))
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(conn.Disconnect)
	return conn
}

func TestTracker_ExecuteCompleted(t *testing.T) {
	mock := newScriptedTransport().
		withInitialize(ServerCapabilities{}).
		withToolCall(ToolResult{Content: []ContentBlock{{Type: "text", Text: "hi there"}}})
	bus := newEventBus()
	events, unsub := bus.subscribe(16)
	defer unsub()

	conn := connectedConn(t, mock, bus)
	tracker := newTracker(bus)

	rec, err := tracker.Execute(context.Background(), conn, "echo", map[string]any{"msg": "hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if rec.Status != ExecutionCompleted {
		t.Errorf("status = %v, want %v", rec.Status, ExecutionCompleted)
	}
	if !rec.Status.Terminal() {
		t.Error("completed must be terminal")
	}
	if rec.ID == "" {
		t.Error("record id was not assigned")
	}
	if rec.Result == nil || len(rec.Result.Content) != 1 || rec.Result.Content[0].Text != "hi there" {
		t.Errorf("result = %+v", rec.Result)
	}
	if rec.EndedAt.Before(rec.StartedAt) {
		t.Errorf("ended %v before started %v", rec.EndedAt, rec.StartedAt)
	}
	if rec.Duration < 0 {
		t.Errorf("duration = %v", rec.Duration)
	}

	var started, finished *ToolExecution
	deadline := time.After(time.Second)
	for finished == nil {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventExecutionStarted:
				started = ev.Execution
			case EventExecutionFinished:
				finished = ev.Execution
			}
		case <-deadline:
			t.Fatal("execution events never arrived")
		}
	}
	if started == nil {
		t.Fatal("no started event")
	}
	if started.Status != ExecutionPending {
		t.Errorf("started status = %v, want %v", started.Status, ExecutionPending)
	}
	if finished.Status != ExecutionCompleted {
		t.Errorf("finished status = %v, want %v", finished.Status, ExecutionCompleted)
	}
	// Events carry copies; the started snapshot must not show the final state.
	if started == rec || finished == rec {
		t.Error("events must carry snapshots, not the live record")
	}
}

func TestTracker_ExecuteFailed(t *testing.T) {
	mock := newScriptedTransport().
		withInitialize(ServerCapabilities{}).
		withError(MethodToolsCall, -32602, "no such tool")
	bus := newEventBus()
	conn := connectedConn(t, mock, bus)
	tracker := newTracker(bus)

	rec, err := tracker.Execute(context.Background(), conn, "missing", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if rec.Status != ExecutionFailed {
		t.Errorf("status = %v, want %v", rec.Status, ExecutionFailed)
	}
	if rec.Error == "" {
		t.Error("record should carry the failure")
	}
	if rec.Result != nil {
		t.Errorf("failed execution has result %+v", rec.Result)
	}
}

func TestTracker_ExecuteCancelled(t *testing.T) {
	mock := newScriptedTransport().
		withInitialize(ServerCapabilities{}).
		withSilence(MethodToolsCall)
	bus := newEventBus()
	conn := connectedConn(t, mock, bus)
	tracker := newTracker(bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := tracker.Execute(ctx, conn, "slow", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if rec.Status != ExecutionCancelled {
		t.Errorf("status = %v, want %v", rec.Status, ExecutionCancelled)
	}
	if !rec.Status.Terminal() {
		t.Error("cancelled must be terminal")
	}
}

func TestExecutionStatusTerminal(t *testing.T) {
	cases := map[ExecutionStatus]bool{
		ExecutionPending:   false,
		ExecutionRunning:   false,
		ExecutionCompleted: true,
		ExecutionFailed:    true,
		ExecutionCancelled: true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%v.Terminal() = %v, want %v", status, got, want)
		}
	}
}
