package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/erc7824/nitrolite/walletlink/pkg/log"
)

// DefaultChainID is the chain sessions are approved for and names are resolved on.
const DefaultChainID uint64 = 1

// Decoder turns a call request into a proposal. *CallDecoder implements it.
type Decoder interface {
	Decode(ctx context.Context, call IncomingCall) (*TransactionProposal, error)
}

type ControllerConfig struct {
	Store        SessionStore
	Decoder      Decoder
	Resolver     AddressResolver
	NewTransport TransportFactory
	// ChainID defaults to DefaultChainID.
	ChainID uint64
	Logger  log.Logger
	// Metrics defaults to a set registered with a private registry.
	Metrics *Metrics
}

// attachment is one transport together with the subscriptions made on it.
type attachment struct {
	generation  uint64
	transport   Transport
	unsubscribe []func()
}

// SessionController owns the pairing lifecycle: it restores or pairs a session,
// feeds call requests through the decoder and publishes the latest proposal.
//
// Only the most recently attached transport is listened to. Call requests are
// decoded concurrently and there is a single proposal slot, not a queue: each
// completed decode overwrites it, except that a proposal never replaces one
// decoded from a later call request. A decode that completes after its
// transport was replaced is dropped.
type SessionController struct {
	store        SessionStore
	decoder      Decoder
	resolver     AddressResolver
	newTransport TransportFactory
	chainID      uint64
	logger       log.Logger
	metrics      *Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	decodes sync.WaitGroup

	mu           sync.Mutex // protects all fields below
	state        State
	active       *attachment
	generation   uint64
	initialized  bool
	closed       bool
	callSeq      uint64 // call requests received, in delivery order
	publishedSeq uint64 // callSeq of the published proposal
	observers    map[uint64]func(State)
	nextObserver uint64
}

func NewSessionController(cfg ControllerConfig) (*SessionController, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("session store is required")
	case cfg.Decoder == nil:
		return nil, errors.New("call decoder is required")
	case cfg.Resolver == nil:
		return nil, errors.New("address resolver is required")
	case cfg.NewTransport == nil:
		return nil, errors.New("transport factory is required")
	}

	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetricsWithRegistry(prometheus.NewRegistry())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SessionController{
		store:        cfg.Store,
		decoder:      cfg.Decoder,
		resolver:     cfg.Resolver,
		newTransport: cfg.NewTransport,
		chainID:      cfg.ChainID,
		logger:       cfg.Logger.WithName("session-controller"),
		metrics:      cfg.Metrics,
		ctx:          ctx,
		cancel:       cancel,
		state: State{
			Connection: StateDisconnected,
			Session:    EmptySession(),
		},
		observers: make(map[uint64]func(State)),
	}, nil
}

// Initialize restores the persisted session, if any, and listens to its call
// requests. Only the first call has an effect. A malformed persisted session
// counts as no session.
func (c *SessionController) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = true
	c.mu.Unlock()

	session, err := c.store.Load(ctx)
	if err != nil {
		c.setDisconnected()
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		c.logger.Info("no persisted session found")
		c.setDisconnected()
		return nil
	}

	c.mu.Lock()
	c.state.Connection = StateRestoring
	c.state.Session = *session
	c.state.Address = session.Account()
	notify := c.snapshotLocked()
	c.mu.Unlock()
	notify()

	att, err := c.attach(ctx, TransportOptions{Session: session})
	if errors.Is(err, ErrSuperseded) {
		return nil
	}
	if err != nil {
		c.mu.Lock()
		c.state.Connection = StateDisconnected
		c.state.Session = EmptySession()
		c.state.Address = ""
		notify = c.snapshotLocked()
		c.mu.Unlock()
		notify()
		return fmt.Errorf("failed to restore session: %w", err)
	}

	c.listenToCallRequests(att)
	c.listenToDisconnect(att)

	c.mu.Lock()
	if c.active != att {
		c.mu.Unlock()
		return nil
	}
	c.state.Connection = StateConnected
	c.state.Connected = true
	notify = c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.setConnected(true)
	c.logger.Info("session restored", "account", session.Account(), "peer", session.PeerMeta.Name)
	notify()
	return nil
}

// Connect pairs accountOrName with the wallet behind pairingURI, replacing any
// current transport. A name that does not resolve aborts silently: nil is
// returned and the controller is left as it was, apart from the address.
// The pairing completes asynchronously when the peer sends its session request.
func (c *SessionController) Connect(ctx context.Context, accountOrName, pairingURI string) error {
	logger := c.logger.WithKV("account", accountOrName)

	c.mu.Lock()
	c.state.Address = accountOrName
	c.state.Loading = true
	notify := c.snapshotLocked()
	c.mu.Unlock()
	notify()

	address := accountOrName
	if !c.resolver.IsAddress(accountOrName) {
		resolved, err := c.resolver.ResolveName(ctx, accountOrName)
		if err != nil {
			logger.Warn("failed to resolve account name", "error", err)
			resolved = ""
		}
		address = resolved
	}
	if address == "" {
		logger.Info("account did not resolve to an address")
		c.metrics.ConnectAttempts.WithLabelValues("unresolved").Inc()

		c.mu.Lock()
		c.state.Address = ""
		c.state.Loading = false
		notify = c.snapshotLocked()
		c.mu.Unlock()
		notify()
		return nil
	}

	c.mu.Lock()
	c.state.Address = address
	c.state.Connection = StateConnecting
	c.state.Connected = false
	c.state.Err = nil
	notify = c.snapshotLocked()
	c.mu.Unlock()
	c.metrics.setConnected(false)
	notify()

	att, err := c.attach(ctx, TransportOptions{URI: pairingURI})
	if errors.Is(err, ErrSuperseded) {
		return nil
	}
	if err != nil {
		c.metrics.ConnectAttempts.WithLabelValues("failed").Inc()

		c.mu.Lock()
		c.state.Connection = StateDisconnected
		c.state.Loading = false
		notify = c.snapshotLocked()
		c.mu.Unlock()
		notify()
		return fmt.Errorf("failed to open transport: %w", err)
	}

	// Whatever was persisted under the storage key belongs to an older pairing.
	if err := att.transport.KillSession(ctx); err != nil {
		logger.Warn("failed to invalidate persisted session", "error", err)
	}

	c.on(att, EventSessionRequest, c.approveSessionRequest(att, address))
	c.listenToCallRequests(att)
	c.listenToDisconnect(att)

	logger.Info("waiting for session request", "address", address)
	return nil
}

// Logout ends the current session and abandons any connect or restore still
// opening its transport. Storage and the observable session are cleared even
// when the transport fails to kill the session.
func (c *SessionController) Logout(ctx context.Context) error {
	c.mu.Lock()
	current := c.active
	c.mu.Unlock()

	if current != nil {
		if err := current.transport.KillSession(ctx); err != nil {
			c.logger.Warn("failed to kill session", "error", err)
		}
	}

	c.mu.Lock()
	previous := c.detachLocked()
	// Pending attaches must not outlive the logout.
	c.generation++
	c.mu.Unlock()
	c.closeAttachment(previous)

	clearErr := c.store.Clear(ctx)

	c.mu.Lock()
	c.state.Session = EmptySession()
	c.state.Connection = StateDisconnected
	c.state.Connected = false
	c.state.Loading = false
	notify := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.setConnected(false)
	c.logger.Info("logged out")
	notify()

	if clearErr != nil {
		return fmt.Errorf("failed to clear session: %w", clearErr)
	}
	return nil
}

// State returns a snapshot of the observable state.
func (c *SessionController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Subscribe registers fn to receive every state change. Observers run outside
// the controller lock and must not block.
func (c *SessionController) Subscribe(fn func(State)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Close detaches the transport and waits for in-flight decodes.
func (c *SessionController) Close() {
	c.mu.Lock()
	c.closed = true
	previous := c.detachLocked()
	c.mu.Unlock()

	c.cancel()
	c.closeAttachment(previous)
	c.decodes.Wait()
}

// attach replaces the current transport with a new one built from opts.
func (c *SessionController) attach(ctx context.Context, opts TransportOptions) (*attachment, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	previous := c.detachLocked()
	c.generation++
	generation := c.generation
	c.mu.Unlock()
	c.closeAttachment(previous)

	opts.HandleClosure = func(err error) {
		c.handleClosure(generation, err)
	}
	transport, err := c.newTransport(ctx, opts)
	if err != nil {
		return nil, err
	}

	att := &attachment{generation: generation, transport: transport}

	c.mu.Lock()
	if c.closed || c.generation != generation {
		c.mu.Unlock()
		c.closeAttachment(att)
		return nil, ErrSuperseded
	}
	c.active = att
	c.mu.Unlock()

	return att, nil
}

// detachLocked removes the active transport's subscriptions and returns it.
func (c *SessionController) detachLocked() *attachment {
	att := c.active
	if att == nil {
		return nil
	}

	c.active = nil
	for _, unsubscribe := range att.unsubscribe {
		unsubscribe()
	}
	att.unsubscribe = nil
	return att
}

func (c *SessionController) closeAttachment(att *attachment) {
	if att == nil {
		return
	}
	if err := att.transport.Close(); err != nil {
		c.logger.Warn("failed to close transport", "error", err)
	}
}

// on subscribes handler while att is still the active transport.
func (c *SessionController) on(att *attachment, event Event, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != att {
		return
	}
	att.unsubscribe = append(att.unsubscribe, att.transport.On(event, handler))
}

func (c *SessionController) approveSessionRequest(att *attachment, address string) EventHandler {
	return func(ctx context.Context, err error, payload json.RawMessage) error {
		if err != nil {
			return err
		}

		approval := SessionApproval{Accounts: []string{address}, ChainID: c.chainID}
		if err := att.transport.ApproveSession(ctx, approval); err != nil {
			c.metrics.ConnectAttempts.WithLabelValues("failed").Inc()
			return fmt.Errorf("failed to approve session: %w", err)
		}

		session, err := c.store.Load(ctx)
		if err != nil {
			c.logger.Warn("failed to reload approved session", "error", err)
		}

		c.mu.Lock()
		if c.active != att {
			c.mu.Unlock()
			return nil
		}
		c.state.Connection = StateConnected
		c.state.Connected = true
		c.state.Loading = false
		if session != nil {
			c.state.Session = *session
		} else {
			c.state.Session = EmptySession()
		}
		notify := c.snapshotLocked()
		c.mu.Unlock()

		c.metrics.ConnectAttempts.WithLabelValues("approved").Inc()
		c.metrics.setConnected(true)
		c.logger.Info("session approved", "address", address, "chainID", c.chainID)
		notify()
		return nil
	}
}

func (c *SessionController) listenToDisconnect(att *attachment) {
	c.on(att, EventDisconnect, func(ctx context.Context, err error, payload json.RawMessage) error {
		if err != nil {
			return err
		}
		c.logger.Info("peer disconnected", "payload", string(payload))
		return nil
	})
}

// listenToCallRequests decodes every call request of att on its own goroutine.
func (c *SessionController) listenToCallRequests(att *attachment) {
	c.on(att, EventCallRequest, func(ctx context.Context, err error, payload json.RawMessage) error {
		if err != nil {
			return err
		}

		c.mu.Lock()
		if c.closed || c.active != att {
			c.mu.Unlock()
			return nil
		}
		c.callSeq++
		seq := c.callSeq
		c.decodes.Add(1)
		c.mu.Unlock()

		payload = slices.Clone(payload)
		go func() {
			defer c.decodes.Done()
			c.decodeCallRequest(att, seq, payload)
		}()
		return nil
	})
}

func (c *SessionController) decodeCallRequest(att *attachment, seq uint64, payload json.RawMessage) {
	call, err := ParseIncomingCall(payload)
	var proposal *TransactionProposal
	if err == nil {
		c.metrics.CallRequests.WithLabelValues(methodLabel(call.Method)).Inc()
		proposal, err = c.decoder.Decode(c.ctx, call)
	}
	if err != nil {
		var callErr *CallDecodeError
		if errors.As(err, &callErr) {
			c.metrics.DecodeFailures.WithLabelValues(string(callErr.Step)).Inc()
		}
		c.logger.Error("failed to decode call request", "method", call.Method, "error", err)
		return
	}
	if proposal == nil {
		c.logger.Debug("call request not handled", "method", call.Method)
		return
	}

	c.mu.Lock()
	if c.active != att {
		c.mu.Unlock()
		c.logger.Debug("dropping proposal of replaced transport", "method", proposal.Method)
		return
	}
	if seq < c.publishedSeq {
		c.mu.Unlock()
		c.logger.Debug("dropping proposal superseded by a later call request", "method", proposal.Method)
		return
	}
	c.publishedSeq = seq
	c.state.Proposal = proposal
	notify := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.ProposalsPublished.Inc()
	c.logger.Info("transaction proposal published", "to", proposal.To, "method", proposal.Method)
	notify()
}

// handleClosure marks the session unusable when its transport closes on its own.
func (c *SessionController) handleClosure(generation uint64, err error) {
	c.mu.Lock()
	if c.active == nil || c.active.generation != generation {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	c.state.Connection = StateDisconnected
	c.state.Connected = false
	c.state.Loading = false
	c.state.Err = err
	notify := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.setConnected(false)
	if err != nil {
		c.logger.Error("relay transport failed", "error", err)
	} else {
		c.logger.Info("relay transport closed")
	}
	notify()
}

func (c *SessionController) setDisconnected() {
	c.mu.Lock()
	c.state.Connection = StateDisconnected
	notify := c.snapshotLocked()
	c.mu.Unlock()
	notify()
}

// snapshotLocked captures the state and observers and returns a func that
// delivers the snapshot. Call it after releasing the lock.
func (c *SessionController) snapshotLocked() func() {
	snapshot := c.state
	observers := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}

	return func() {
		for _, fn := range observers {
			fn(snapshot)
		}
	}
}
