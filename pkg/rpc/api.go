package rpc

// Method is a request the client sends to the relay.
type Method string

const (
	PingMethod  Method = "ping"
	PongMethod  Method = "pong"
	ErrorMethod Method = "error"

	// SubscribeMethod asks the relay to forward messages published on a topic.
	SubscribeMethod Method = "subscribe"
	// SessionApproveMethod answers a peer's session request with the bound accounts.
	SessionApproveMethod Method = "session_approve"
	// SessionKillMethod terminates an approved session.
	SessionKillMethod Method = "session_kill"
)

func (m Method) String() string {
	return string(m)
}

// Event is an unsolicited message the relay pushes to the client.
type Event string

const (
	// SessionRequestEvent carries a peer's pairing request on the handshake topic.
	SessionRequestEvent Event = "session_request"
	// CallRequestEvent carries a JSON-RPC call forwarded by the peer wallet.
	CallRequestEvent Event = "call_request"
	// DisconnectEvent reports that the peer ended the session.
	DisconnectEvent Event = "disconnect"
)

func (e Event) String() string {
	return string(e)
}

// PeerMeta describes a client application on either side of a session.
type PeerMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

type SubscribeRequest struct {
	Topic    string `json:"topic"`
	ClientID string `json:"client_id"`
}

type SessionApproveRequest struct {
	Topic      string   `json:"topic"`
	ClientID   string   `json:"client_id"`
	PeerID     string   `json:"peer_id"`
	Accounts   []string `json:"accounts"`
	ChainID    uint64   `json:"chain_id"`
	ClientMeta PeerMeta `json:"client_meta"`
}

type SessionKillRequest struct {
	Topic    string `json:"topic"`
	ClientID string `json:"client_id"`
	PeerID   string `json:"peer_id"`
}

// SessionRequestNotification is the body of a session_request event.
type SessionRequestNotification struct {
	HandshakeID uint64   `json:"handshake_id"`
	PeerID      string   `json:"peer_id"`
	PeerMeta    PeerMeta `json:"peer_meta"`
	ChainID     uint64   `json:"chain_id,omitempty"`
}

// DisconnectNotification is the body of a disconnect event.
type DisconnectNotification struct {
	Message string `json:"message"`
}
