package mcp

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeMessage_Response(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":7,"result":{"tools":[]}}`)

	resp, note, err := decodeMessage(raw)
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if note != nil {
		t.Fatalf("expected a response, got notification %q", note.Method)
	}
	if resp.ID != 7 {
		t.Errorf("id = %d, want 7", resp.ID)
	}
	if resp.Error != nil {
		t.Errorf("unexpected error object: %v", resp.Error)
	}
}

func TestDecodeMessage_ErrorResponse(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"method not found"}}`)

	resp, _, err := decodeMessage(raw)
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if resp == nil || resp.Error == nil {
		t.Fatal("expected a response carrying an error object")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("code = %d, want -32601", resp.Error.Code)
	}
	want := "server error -32601: method not found"
	if got := resp.Error.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestDecodeMessage_Notification(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`)

	resp, note, err := decodeMessage(raw)
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if resp != nil {
		t.Fatal("expected a notification, got a response")
	}
	if note.Method != NotificationToolsListChanged {
		t.Errorf("method = %q, want %q", note.Method, NotificationToolsListChanged)
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"jsonrpc":"2.0"}`,                       // neither id nor method
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`, // both id and method
	}
	for _, raw := range cases {
		if _, _, err := decodeMessage([]byte(raw)); err == nil {
			t.Errorf("decodeMessage(%s): expected error", raw)
		}
	}
}

func TestNewRequest_Shape(t *testing.T) {
	data, err := json.Marshal(newRequest(42, MethodToolsList, ListParams{Cursor: "abc"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v, want 2.0", decoded["jsonrpc"])
	}
	if decoded["id"] != float64(42) {
		t.Errorf("id = %v, want 42", decoded["id"])
	}
	if decoded["method"] != MethodToolsList {
		t.Errorf("method = %v, want %v", decoded["method"], MethodToolsList)
	}
}

func TestNewNotification_OmitsID(t *testing.T) {
	data, err := json.Marshal(newNotification(NotificationInitialized, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, has := decoded["id"]; has {
		t.Error("notification must not carry an id")
	}
}

func TestPendingTable_ResolveOnce(t *testing.T) {
	table := newPendingTable()
	ch := table.register(1, MethodPing, time.Second)

	if !table.resolve(1, JSONRPCResponse{ID: 1}) {
		t.Fatal("first resolve should settle the entry")
	}
	if table.resolve(1, JSONRPCResponse{ID: 1}) {
		t.Error("second resolve must be a no-op")
	}
	if table.reject(1, ErrConnectionClosed) {
		t.Error("reject after resolve must be a no-op")
	}

	res := <-ch
	if res.err != nil {
		t.Errorf("unexpected error: %v", res.err)
	}
	if res.resp.ID != 1 {
		t.Errorf("id = %d, want 1", res.resp.ID)
	}
	if table.size() != 0 {
		t.Errorf("size = %d, want 0", table.size())
	}
}

func TestPendingTable_UnknownID(t *testing.T) {
	table := newPendingTable()
	if table.resolve(99, JSONRPCResponse{ID: 99}) {
		t.Error("resolving an unregistered id must report false")
	}
}

func TestPendingTable_Expiry(t *testing.T) {
	table := newPendingTable()
	ch := table.register(1, MethodToolsCall, 10*time.Millisecond)

	select {
	case res := <-ch:
		var timedOut *RequestTimeoutError
		if !errors.As(res.err, &timedOut) {
			t.Fatalf("expected RequestTimeoutError, got %v", res.err)
		}
		if timedOut.Method != MethodToolsCall {
			t.Errorf("method = %q, want %q", timedOut.Method, MethodToolsCall)
		}
	case <-time.After(time.Second):
		t.Fatal("expiry never fired")
	}

	if table.resolve(1, JSONRPCResponse{ID: 1}) {
		t.Error("late response after expiry must be a no-op")
	}
}

func TestPendingTable_DrainAll(t *testing.T) {
	table := newPendingTable()
	var chans []<-chan pendingResult
	for id := int64(1); id <= 5; id++ {
		chans = append(chans, table.register(id, MethodToolsCall, time.Hour))
	}

	table.drainAll(ErrConnectionClosed)

	for i, ch := range chans {
		select {
		case res := <-ch:
			if res.err != ErrConnectionClosed {
				t.Errorf("entry %d: err = %v, want ErrConnectionClosed", i+1, res.err)
			}
		case <-time.After(time.Second):
			t.Fatalf("entry %d never settled", i+1)
		}
	}
	if table.size() != 0 {
		t.Errorf("size = %d, want 0", table.size())
	}
}

func TestPendingTable_OutOfOrderResolution(t *testing.T) {
	table := newPendingTable()
	ch1 := table.register(1, MethodToolsList, time.Hour)
	ch2 := table.register(2, MethodToolsCall, time.Hour)

	table.resolve(2, JSONRPCResponse{ID: 2})
	table.resolve(1, JSONRPCResponse{ID: 1})

	if res := <-ch2; res.resp.ID != 2 {
		t.Errorf("ch2 got id %d, want 2", res.resp.ID)
	}
	if res := <-ch1; res.resp.ID != 1 {
		t.Errorf("ch1 got id %d, want 1", res.resp.ID)
	}
}
