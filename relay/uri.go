package relay

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	uriScheme       = "wc:"
	protocolVersion = "1"
	keyLength       = 32
)

var ErrInvalidURI = errors.New("invalid pairing uri")

// URI is a parsed pairing URI: wc:<handshakeTopic>@<version>?bridge=<url>&key=<hex>.
type URI struct {
	HandshakeTopic string
	Version        string
	Bridge         string
	Key            string
}

func ParseURI(raw string) (URI, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), uriScheme)
	if !ok {
		return URI{}, fmt.Errorf("%w: missing %q scheme", ErrInvalidURI, uriScheme)
	}

	path, query, _ := strings.Cut(rest, "?")
	topic, version, ok := strings.Cut(path, "@")
	if !ok || topic == "" {
		return URI{}, fmt.Errorf("%w: missing handshake topic", ErrInvalidURI)
	}
	if version != protocolVersion {
		return URI{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidURI, version)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}

	bridge := values.Get("bridge")
	if _, err := websocketURL(bridge); err != nil {
		return URI{}, err
	}

	key := strings.ToLower(values.Get("key"))
	if decoded, err := hex.DecodeString(key); err != nil || len(decoded) != keyLength {
		return URI{}, fmt.Errorf("%w: key must be %d hex bytes", ErrInvalidURI, keyLength)
	}

	return URI{
		HandshakeTopic: topic,
		Version:        version,
		Bridge:         bridge,
		Key:            key,
	}, nil
}

func (u URI) String() string {
	values := url.Values{}
	values.Set("bridge", u.Bridge)
	values.Set("key", u.Key)
	return fmt.Sprintf("%s%s@%s?%s", uriScheme, u.HandshakeTopic, u.Version, values.Encode())
}

// websocketURL maps a bridge URL onto the websocket scheme the dialer expects.
func websocketURL(bridge string) (string, error) {
	u, err := url.Parse(bridge)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid bridge %q", ErrInvalidURI, bridge)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported bridge scheme %q", ErrInvalidURI, u.Scheme)
	}
	return u.String(), nil
}
