package rpc

import (
	"encoding/json"
	"fmt"
)

// errorParamKey is the Params key carrying an error message in responses and events.
const errorParamKey = "error"

var (
	ErrAlreadyConnected  = fmt.Errorf("already connected")
	ErrNotConnected      = fmt.Errorf("not connected to relay")
	ErrConnectionTimeout = fmt.Errorf("websocket connection timeout")
	ErrReadingMessage    = fmt.Errorf("error reading message")

	ErrNilRequest        = fmt.Errorf("nil request")
	ErrMarshalingRequest = fmt.Errorf("error marshaling request")
	ErrSendingRequest    = fmt.Errorf("error sending request")
	ErrNoResponse        = fmt.Errorf("no response received")
	ErrSendingPing       = fmt.Errorf("error sending ping")

	ErrDialingWebsocket = fmt.Errorf("error dialing websocket relay")
)

// Error is an error reported by the relay itself, as opposed to a local transport failure.
type Error struct {
	err error
}

// Errorf creates a relay-reported error.
func Errorf(format string, args ...any) Error {
	return Error{err: fmt.Errorf(format, args...)}
}

func (e Error) Error() string {
	return e.err.Error()
}

// NewErrorParams builds {"error": errMsg}.
func NewErrorParams(errMsg string) Params {
	raw, _ := json.Marshal(errMsg)
	return Params{errorParamKey: raw}
}
