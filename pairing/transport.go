package pairing

import (
	"context"
	"encoding/json"
)

// Event is a transport event kind.
type Event string

const (
	EventSessionRequest Event = "session_request"
	EventCallRequest    Event = "call_request"
	EventDisconnect     Event = "disconnect"
)

// EventHandler handles one transport event. err is set when the relay reported
// an error for the event. A returned error is fatal to the transport.
type EventHandler func(ctx context.Context, err error, payload json.RawMessage) error

// SessionApproval answers a peer's session request.
type SessionApproval struct {
	Accounts []string
	ChainID  uint64
}

// Transport is a live relay connection bound to one pairing.
type Transport interface {
	// On subscribes handler to event and returns a func removing the subscription.
	On(event Event, handler EventHandler) (unsubscribe func())
	ApproveSession(ctx context.Context, approval SessionApproval) error
	// KillSession ends the pairing and clears its persisted copy.
	KillSession(ctx context.Context) error
	Close() error
}

// TransportOptions selects between restoring Session and pairing through URI.
type TransportOptions struct {
	Session *Session
	URI     string
	// HandleClosure is called once when the connection ends; err is nil for a
	// regular close.
	HandleClosure func(err error)
}

type TransportFactory func(ctx context.Context, opts TransportOptions) (Transport, error)

// SessionStore holds the single persisted pairing.
type SessionStore interface {
	// Load returns nil when nothing usable is persisted.
	Load(ctx context.Context) (*Session, error)
	Clear(ctx context.Context) error
}

// SessionWriter is the store as seen by the transport, the writer of record.
type SessionWriter interface {
	SessionStore
	Save(ctx context.Context, session Session) error
}

// AddressResolver validates addresses and resolves names on chain id 1.
type AddressResolver interface {
	IsAddress(s string) bool
	// ResolveName returns "" when name has no address.
	ResolveName(ctx context.Context, name string) (string, error)
}

// ABIRegistry looks up verified contract ABIs.
type ABIRegistry interface {
	ContractABI(ctx context.Context, address string) (json.RawMessage, error)
}

// ABIDecoder matches call data against an ABI.
type ABIDecoder interface {
	DecodeCall(abi json.RawMessage, call RawCall) (DecodedCall, error)
}
