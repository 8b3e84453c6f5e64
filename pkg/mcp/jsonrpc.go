package mcp

import (
	"encoding/json"
	"fmt"
)

// JSONRPCRequest is a JSON-RPC 2.0 request message.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"` // nil for notifications
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response message.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCNotification is a JSON-RPC 2.0 notification (a method call with no id).
type JSONRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCError is the error object in a JSON-RPC 2.0 response. A non-nil
// JSONRPCError returned to a caller is the server's own rejection of that
// request; it never affects connection state.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// newRequest creates a JSON-RPC 2.0 request with the given ID, method, and params.
func newRequest(id int64, method string, params any) JSONRPCRequest {
	return JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  method,
		Params:  params,
	}
}

// newNotification creates a JSON-RPC 2.0 notification (no ID, no response expected).
func newNotification(method string, params any) JSONRPCRequest {
	return JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}
}

// decodeMessage classifies one raw pushed message as either a response
// (has an id and result or error) or a notification (has a method, no id).
// Anything else is malformed.
func decodeMessage(raw []byte) (*JSONRPCResponse, *JSONRPCNotification, error) {
	var envelope struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *int64          `json:"id"`
		Method  string          `json:"method"`
		Result  json.RawMessage `json:"result"`
		Error   *JSONRPCError   `json:"error"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, fmt.Errorf("decode message: %w", err)
	}

	switch {
	case envelope.ID != nil && envelope.Method == "":
		return &JSONRPCResponse{
			JSONRPC: envelope.JSONRPC,
			ID:      *envelope.ID,
			Result:  envelope.Result,
			Error:   envelope.Error,
		}, nil, nil
	case envelope.Method != "" && envelope.ID == nil:
		return nil, &JSONRPCNotification{
			JSONRPC: envelope.JSONRPC,
			Method:  envelope.Method,
			Params:  envelope.Params,
		}, nil
	default:
		return nil, nil, fmt.Errorf("message is neither a response nor a notification")
	}
}
