package pairing

import (
	"encoding/json"
	"fmt"
)

// MethodSendTransaction is the only call method that is decoded.
const MethodSendTransaction = "eth_sendTransaction"

// IncomingCall is a JSON-RPC call forwarded by the peer wallet.
type IncomingCall struct {
	ID      uint64            `json:"id"`
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// ParseIncomingCall decodes a call_request payload. Only eth_sendTransaction
// calls are held to the full shape; for any other method the id and params are
// kept when they parse and dropped otherwise.
func ParseIncomingCall(payload json.RawMessage) (IncomingCall, error) {
	var envelope struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return IncomingCall{}, decodeErr(StepParams, fmt.Errorf("malformed call request: %w", err))
	}

	var call IncomingCall
	if err := json.Unmarshal(payload, &call); err != nil {
		if envelope.Method == MethodSendTransaction {
			return IncomingCall{}, decodeErr(StepParams, fmt.Errorf("malformed call request: %w", err))
		}
		call = IncomingCall{JSONRPC: envelope.JSONRPC, Method: envelope.Method}
	}
	if call.Params == nil {
		call.Params = []json.RawMessage{}
	}
	return call, nil
}

// RawTransactionParams is the first parameter of an eth_sendTransaction call.
// Nonce and gas fields are passed through untouched.
type RawTransactionParams struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to" validate:"required,eth_addr"`
	Value    string `json:"value,omitempty"`
	Data     string `json:"data,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
}
