package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erc7824/nitrolite/walletlink/pairing"
	"github.com/erc7824/nitrolite/walletlink/pkg/log"
	"github.com/erc7824/nitrolite/walletlink/pkg/rpc"
)

// DefaultApproveTimeout bounds the wait for the relay to acknowledge a session
// approval.
const DefaultApproveTimeout = 10 * time.Second

var (
	ErrNoSessionRequest = errors.New("no session request received")
	ErrMissingStore     = errors.New("session store is required")
)

// Config configures one relay transport. Exactly one of Session and URI is used:
// Session restores a persisted pairing, URI starts a new one.
type Config struct {
	Session    *pairing.Session
	URI        string
	ClientMeta pairing.PeerMeta
	Store      pairing.SessionWriter
	// NewDialer defaults to a websocket dialer with rpc.DefaultWebsocketDialerConfig.
	NewDialer     func() rpc.Dialer
	HandleClosure func(err error)
	// ApproveTimeout defaults to DefaultApproveTimeout.
	ApproveTimeout time.Duration
	Logger         log.Logger
}

type subscription struct {
	id      uint64
	handler pairing.EventHandler
}

var _ pairing.Transport = (*Transport)(nil)

// Transport is a pairing.Transport over the relay protocol. It is the writer of
// record for the persisted session while it is attached.
type Transport struct {
	client         *rpc.Client
	store          pairing.SessionWriter
	logger         log.Logger
	handleClosure  func(err error)
	approveTimeout time.Duration
	cancel         context.CancelFunc
	closeOnce      sync.Once

	mu            sync.Mutex // protects fields below
	session       pairing.Session
	peerRequested bool
	subscriptions map[pairing.Event][]subscription
	nextID        uint64
	fatalErr      error
}

// NewFactory adapts Dial to pairing.TransportFactory. Session, URI and
// HandleClosure of base are taken from the options of each call.
func NewFactory(base Config) pairing.TransportFactory {
	return func(ctx context.Context, opts pairing.TransportOptions) (pairing.Transport, error) {
		cfg := base
		cfg.Session = opts.Session
		cfg.URI = opts.URI
		cfg.HandleClosure = opts.HandleClosure
		return Dial(ctx, cfg)
	}
}

// Dial connects to the session's bridge and subscribes to its topics.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.Store == nil {
		return nil, ErrMissingStore
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoopLogger()
	}
	if cfg.ApproveTimeout <= 0 {
		cfg.ApproveTimeout = DefaultApproveTimeout
	}
	if cfg.NewDialer == nil {
		cfg.NewDialer = func() rpc.Dialer {
			return rpc.NewWebsocketDialer(rpc.DefaultWebsocketDialerConfig)
		}
	}

	session, pairingNew, err := initialSession(cfg)
	if err != nil {
		return nil, err
	}
	bridgeURL, err := websocketURL(session.Bridge)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		client:         rpc.NewClient(cfg.NewDialer()),
		store:          cfg.Store,
		logger:         cfg.Logger.WithName("relay").WithKV("clientID", session.ClientID),
		handleClosure:  cfg.HandleClosure,
		approveTimeout: cfg.ApproveTimeout,
		session:        session,
		subscriptions:  make(map[pairing.Event][]subscription),
	}
	for _, event := range []pairing.Event{pairing.EventSessionRequest, pairing.EventCallRequest, pairing.EventDisconnect} {
		t.client.HandleEvent(rpc.Event(event), t.dispatch(event))
	}

	connCtx, cancel := context.WithCancel(log.SetContextLogger(context.WithoutCancel(ctx), t.logger))
	t.cancel = cancel
	if err := t.client.Start(connCtx, bridgeURL, t.onClosure); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to bridge: %w", err)
	}

	topics := []string{session.ClientID}
	if pairingNew {
		topics = append(topics, session.HandshakeTopic)
	}
	for _, topic := range topics {
		req := rpc.SubscribeRequest{Topic: topic, ClientID: session.ClientID}
		if err := t.client.Subscribe(ctx, req); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
	}

	t.logger.Info("relay transport ready", "bridge", session.Bridge, "pairing", pairingNew)
	return t, nil
}

func initialSession(cfg Config) (pairing.Session, bool, error) {
	if cfg.Session != nil {
		if err := cfg.Session.Validate(); err != nil {
			return pairing.Session{}, false, err
		}
		session := *cfg.Session
		session.Accounts = slices.Clone(session.Accounts)
		return session, false, nil
	}

	uri, err := ParseURI(cfg.URI)
	if err != nil {
		return pairing.Session{}, false, err
	}

	session := pairing.EmptySession()
	session.Bridge = uri.Bridge
	session.Key = uri.Key
	session.HandshakeTopic = uri.HandshakeTopic
	session.ClientID = uuid.NewString()
	session.ClientMeta = cfg.ClientMeta
	if session.ClientMeta.Icons == nil {
		session.ClientMeta.Icons = []string{}
	}
	return session, true, nil
}

// On subscribes handler to event. Handlers run in subscription order on the
// relay event goroutine.
func (t *Transport) On(event pairing.Event, handler pairing.EventHandler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.subscriptions[event] = append(t.subscriptions[event], subscription{id: id, handler: handler})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		t.subscriptions[event] = slices.DeleteFunc(t.subscriptions[event], func(s subscription) bool {
			return s.id == id
		})
	}
}

// ApproveSession answers the received session request and persists the
// approved session. It runs on the event goroutine, so the relay
// acknowledgement is awaited for at most the approve timeout.
func (t *Transport) ApproveSession(ctx context.Context, approval pairing.SessionApproval) error {
	t.mu.Lock()
	if !t.peerRequested {
		t.mu.Unlock()
		return ErrNoSessionRequest
	}
	session := t.session
	t.mu.Unlock()

	req := rpc.SessionApproveRequest{
		Topic:      session.PeerID,
		ClientID:   session.ClientID,
		PeerID:     session.PeerID,
		Accounts:   approval.Accounts,
		ChainID:    approval.ChainID,
		ClientMeta: toWireMeta(session.ClientMeta),
	}
	approveCtx, cancel := context.WithTimeout(ctx, t.approveTimeout)
	defer cancel()
	if err := t.client.ApproveSession(approveCtx, req); err != nil {
		return fmt.Errorf("failed to approve session: %w", err)
	}

	t.mu.Lock()
	t.session.Accounts = slices.Clone(approval.Accounts)
	t.session.ChainID = approval.ChainID
	t.session.Connected = true
	session = t.session
	t.mu.Unlock()

	if err := t.store.Save(ctx, session); err != nil {
		return fmt.Errorf("failed to persist approved session: %w", err)
	}

	t.logger.Info("session approved", "peerID", session.PeerID, "accounts", session.Accounts)
	return nil
}

// KillSession ends a connected session and always clears the persisted copy.
func (t *Transport) KillSession(ctx context.Context) error {
	t.mu.Lock()
	session := t.session
	t.session.Connected = false
	t.mu.Unlock()

	var killErr error
	if session.Connected {
		req := rpc.SessionKillRequest{
			Topic:    session.PeerID,
			ClientID: session.ClientID,
			PeerID:   session.PeerID,
		}
		if err := t.client.KillSession(ctx, req); err != nil {
			killErr = fmt.Errorf("failed to kill session: %w", err)
		}
	}

	if err := t.store.Clear(ctx); err != nil {
		return errors.Join(killErr, fmt.Errorf("failed to clear session: %w", err))
	}
	return killErr
}

// Close drops the relay connection. The closure handler runs once the
// connection is down.
func (t *Transport) Close() error {
	t.cancel()
	return nil
}

// Session returns a copy of the current session.
func (t *Transport) Session() pairing.Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	session := t.session
	session.Accounts = slices.Clone(session.Accounts)
	return session
}

func (t *Transport) dispatch(event pairing.Event) rpc.EventHandler {
	return func(ctx context.Context, res *rpc.Response) {
		logger := t.logger.WithKV("event", event)

		relayErr := res.Res.Params.Error()
		payload, err := res.Res.Params.Raw()
		if err != nil {
			logger.Warn("failed to encode event payload", "error", err)
			payload = json.RawMessage("{}")
		}

		if relayErr == nil {
			t.observe(logger, event, res.Res.Params)
		}

		t.mu.Lock()
		subs := slices.Clone(t.subscriptions[event])
		t.mu.Unlock()

		if len(subs) == 0 {
			logger.Debug("no subscribers, dropping event")
			return
		}

		for _, sub := range subs {
			if err := sub.handler(ctx, relayErr, payload); err != nil {
				t.fail(err)
				return
			}
		}
	}
}

// observe updates the session from events before subscribers see them.
func (t *Transport) observe(logger log.Logger, event pairing.Event, params rpc.Params) {
	switch event {
	case pairing.EventSessionRequest:
		var notif rpc.SessionRequestNotification
		if err := params.Translate(&notif); err != nil {
			logger.Warn("malformed session request", "error", err)
			return
		}

		t.mu.Lock()
		t.peerRequested = true
		t.session.PeerID = notif.PeerID
		t.session.PeerMeta = fromWireMeta(notif.PeerMeta)
		t.session.HandshakeID = notif.HandshakeID
		t.mu.Unlock()
		logger.Info("session requested", "peerID", notif.PeerID, "peer", notif.PeerMeta.Name)

	case pairing.EventDisconnect:
		var notif rpc.DisconnectNotification
		_ = params.Translate(&notif)

		t.mu.Lock()
		t.session.Connected = false
		t.mu.Unlock()
		logger.Info("peer disconnected", "message", notif.Message)
	}
}

// fail closes the connection after a subscriber returned an error.
func (t *Transport) fail(err error) {
	t.logger.Error("event handler failed, closing relay connection", "error", err)

	t.mu.Lock()
	if t.fatalErr == nil {
		t.fatalErr = err
	}
	t.mu.Unlock()

	t.cancel()
}

func (t *Transport) onClosure(err error) {
	t.mu.Lock()
	if t.fatalErr != nil {
		err = t.fatalErr
	}
	t.mu.Unlock()

	t.closeOnce.Do(func() {
		if err != nil {
			t.logger.Warn("relay connection closed", "error", err)
		} else {
			t.logger.Debug("relay connection closed")
		}
		if t.handleClosure != nil {
			t.handleClosure(err)
		}
	})
}

func toWireMeta(m pairing.PeerMeta) rpc.PeerMeta {
	return rpc.PeerMeta{Description: m.Description, URL: m.URL, Icons: slices.Clone(m.Icons), Name: m.Name}
}

func fromWireMeta(m rpc.PeerMeta) pairing.PeerMeta {
	icons := slices.Clone(m.Icons)
	if icons == nil {
		icons = []string{}
	}
	return pairing.PeerMeta{Description: m.Description, URL: m.URL, Icons: icons, Name: m.Name}
}
