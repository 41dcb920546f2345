package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMalformedPayload = errors.New("malformed payload")

// Payload is the unit carried by every relay frame. On the wire it is the
// compact array [request_id, method, params, ts].
type Payload struct {
	// RequestID pairs a response with its request. Events carry an id the relay
	// picked and never match a pending call.
	RequestID uint64
	// Method is a relay method or event name, e.g. "subscribe" or "call_request".
	Method string
	Params Params
	// Timestamp is the creation time in Unix milliseconds.
	Timestamp uint64
}

var payloadFields = [...]string{"request_id", "method", "params", "ts"}

// NewPayload stamps a payload with the current time.
func NewPayload(id uint64, method string, params Params) Payload {
	if params == nil {
		params = Params{}
	}

	return Payload{
		RequestID: id,
		Method:    method,
		Params:    params,
		Timestamp: uint64(time.Now().UnixMilli()),
	}
}

func (p *Payload) elements() [len(payloadFields)]any {
	return [...]any{&p.RequestID, &p.Method, &p.Params, &p.Timestamp}
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if len(raw) != len(payloadFields) {
		return fmt.Errorf("%w: got %d elements, want %d", ErrMalformedPayload, len(raw), len(payloadFields))
	}

	for i, dst := range p.elements() {
		if err := json.Unmarshal(raw[i], dst); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMalformedPayload, payloadFields[i], err)
		}
	}
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	params := p.Params
	if params == nil {
		params = Params{}
	}
	return json.Marshal([...]any{p.RequestID, p.Method, params, p.Timestamp})
}

// Params is a method body, kept as raw JSON per key until decoded.
type Params map[string]json.RawMessage

// NewParams flattens any value encoding to a JSON object into Params.
func NewParams(v any) (Params, error) {
	params := Params{}
	if v == nil {
		return params, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("params must encode to a JSON object: %w", err)
	}
	return params, nil
}

// Translate decodes the params into the struct v points to.
func (p Params) Translate(v any) error {
	data, err := p.Raw()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}

// Raw re-encodes the params as one JSON object; nil params encode as {}.
func (p Params) Raw() (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	return data, nil
}

// Error reports the relay error carried under the "error" key. Values that
// are not strings are ignored.
func (p Params) Error() error {
	var msg string
	if raw, ok := p[errorParamKey]; !ok || json.Unmarshal(raw, &msg) != nil {
		return nil
	}
	return Errorf("%s", msg)
}
