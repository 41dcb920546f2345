package pairing

import "errors"

// ErrIncompleteSession is returned by Session.Validate for partially populated sessions.
var ErrIncompleteSession = errors.New("incomplete pairing session")

// PeerMeta describes one side of a pairing.
type PeerMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

// Session is the negotiated pairing with a remote wallet. Its JSON form is the
// persisted blob.
type Session struct {
	Accounts       []string `json:"accounts"`
	Bridge         string   `json:"bridge"`
	ChainID        uint64   `json:"chainId"`
	ClientID       string   `json:"clientId"`
	ClientMeta     PeerMeta `json:"clientMeta"`
	Connected      bool     `json:"connected"`
	HandshakeID    uint64   `json:"handshakeId"`
	HandshakeTopic string   `json:"handshakeTopic"`
	Key            string   `json:"key"`
	PeerID         string   `json:"peerId"`
	PeerMeta       PeerMeta `json:"peerMeta"`
}

// EmptySession returns the sentinel for "no pairing".
func EmptySession() Session {
	return Session{
		Accounts:   []string{},
		ClientMeta: PeerMeta{Icons: []string{}},
		PeerMeta:   PeerMeta{Icons: []string{}},
	}
}

// IsZero reports whether s carries no pairing data.
func (s Session) IsZero() bool {
	return len(s.Accounts) == 0 &&
		s.Bridge == "" &&
		s.ChainID == 0 &&
		s.ClientID == "" &&
		s.ClientMeta.isZero() &&
		!s.Connected &&
		s.HandshakeID == 0 &&
		s.HandshakeTopic == "" &&
		s.Key == "" &&
		s.PeerID == "" &&
		s.PeerMeta.isZero()
}

// Validate rejects sessions missing the fields needed to reattach a transport.
func (s Session) Validate() error {
	switch {
	case s.Bridge == "":
		return errors.Join(ErrIncompleteSession, errors.New("missing bridge"))
	case s.Key == "":
		return errors.Join(ErrIncompleteSession, errors.New("missing key"))
	case s.HandshakeTopic == "":
		return errors.Join(ErrIncompleteSession, errors.New("missing handshake topic"))
	case s.ClientID == "":
		return errors.Join(ErrIncompleteSession, errors.New("missing client id"))
	}
	return nil
}

// Account returns the first bound account, or "".
func (s Session) Account() string {
	if len(s.Accounts) == 0 {
		return ""
	}
	return s.Accounts[0]
}

func (m PeerMeta) isZero() bool {
	return m.Description == "" && m.URL == "" && len(m.Icons) == 0 && m.Name == ""
}
