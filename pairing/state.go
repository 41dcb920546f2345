package pairing

// ConnectionState is the controller's position in the pairing lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	// StateRestoring is only entered at startup while a persisted session is reattached.
	StateRestoring  ConnectionState = "restoring"
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
)

// State is the observable snapshot of a SessionController.
type State struct {
	Connection ConnectionState
	// Address is the account being paired, as typed until it resolves.
	Address string
	Loading bool
	// Connected is set once a peer approved the session and cleared on logout.
	Connected bool
	Session   Session
	// Proposal is the pending transaction request, nil when there is none.
	Proposal *TransactionProposal
	// Err is the last transport-fatal error.
	Err error
}
