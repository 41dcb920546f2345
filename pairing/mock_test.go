package pairing_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/erc7824/nitrolite/walletlink/pairing"
)

var _ pairing.Transport = (*MockTransport)(nil)

// MockTransport records controller calls and lets tests emit events.
type MockTransport struct {
	mu        sync.Mutex
	opts      pairing.TransportOptions
	handlers  map[pairing.Event]map[int]pairing.EventHandler
	nextID    int
	approvals []pairing.SessionApproval
	kills     int
	killErr   error
	closed    bool
	onApprove func(approval pairing.SessionApproval)
}

func NewMockTransport(opts pairing.TransportOptions) *MockTransport {
	return &MockTransport{
		opts:     opts,
		handlers: make(map[pairing.Event]map[int]pairing.EventHandler),
	}
}

func (t *MockTransport) On(event pairing.Event, handler pairing.EventHandler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handlers[event] == nil {
		t.handlers[event] = make(map[int]pairing.EventHandler)
	}
	id := t.nextID
	t.nextID++
	t.handlers[event][id] = handler

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers[event], id)
	}
}

func (t *MockTransport) ApproveSession(ctx context.Context, approval pairing.SessionApproval) error {
	t.mu.Lock()
	t.approvals = append(t.approvals, approval)
	onApprove := t.onApprove
	t.mu.Unlock()

	if onApprove != nil {
		onApprove(approval)
	}
	return nil
}

func (t *MockTransport) KillSession(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.kills++
	return t.killErr
}

func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	return nil
}

// Emit delivers an event to every subscriber and returns the first handler error.
func (t *MockTransport) Emit(event pairing.Event, err error, payload string) error {
	t.mu.Lock()
	handlers := make([]pairing.EventHandler, 0, len(t.handlers[event]))
	for _, h := range t.handlers[event] {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	var first error
	for _, h := range handlers {
		if herr := h(context.Background(), err, json.RawMessage(payload)); herr != nil && first == nil {
			first = herr
		}
	}
	return first
}

func (t *MockTransport) HandlerCount(event pairing.Event) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers[event])
}

func (t *MockTransport) Kills() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kills
}

func (t *MockTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// MockFactory creates MockTransports and remembers them.
type MockFactory struct {
	mu         sync.Mutex
	transports []*MockTransport
	err        error
	setup      func(t *MockTransport)
	// When set, New signals dialing and blocks until release is closed.
	dialing chan struct{}
	release chan struct{}
}

func (f *MockFactory) New(ctx context.Context, opts pairing.TransportOptions) (pairing.Transport, error) {
	if f.release != nil {
		f.dialing <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	t := NewMockTransport(opts)
	if f.setup != nil {
		f.setup(t)
	}
	f.transports = append(f.transports, t)
	return t, nil
}

func (f *MockFactory) Transports() []*MockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockTransport(nil), f.transports...)
}

// MockStore keeps the session blob in memory.
type MockStore struct {
	mu       sync.Mutex
	session  *pairing.Session
	loadErr  error
	clearErr error
	clears   int
}

func (s *MockStore) Load(ctx context.Context) (*pairing.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.session == nil {
		return nil, nil
	}
	session := *s.session
	return &session, nil
}

func (s *MockStore) Save(ctx context.Context, session pairing.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = &session
	return nil
}

func (s *MockStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clears++
	s.session = nil
	return s.clearErr
}

func (s *MockStore) Stored() *pairing.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// MockResolver treats 0x-prefixed 42 character strings as addresses.
type MockResolver struct {
	names map[string]string
	err   error
}

func (r MockResolver) IsAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && len(s) == 42
}

func (r MockResolver) ResolveName(ctx context.Context, name string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.names[name], nil
}

// MockRegistry returns a fixed ABI and counts lookups.
type MockRegistry struct {
	mu    sync.Mutex
	abi   json.RawMessage
	err   error
	calls int
}

func (r *MockRegistry) ContractABI(ctx context.Context, address string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	return r.abi, r.err
}

func (r *MockRegistry) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// MockABIDecoder returns a fixed decoded call and records its input.
type MockABIDecoder struct {
	mu     sync.Mutex
	result pairing.DecodedCall
	err    error
	last   pairing.RawCall
}

func (d *MockABIDecoder) DecodeCall(abi json.RawMessage, call pairing.RawCall) (pairing.DecodedCall, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = call
	return d.result, d.err
}

// GatedDecoder blocks each call until its id is released and then proposes a
// transaction whose method is the call method.
type GatedDecoder struct {
	mu        sync.Mutex
	gates     map[uint64]chan struct{}
	completed int
}

func NewGatedDecoder() *GatedDecoder {
	return &GatedDecoder{gates: make(map[uint64]chan struct{})}
}

func (d *GatedDecoder) gate(id uint64) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.gates[id] == nil {
		d.gates[id] = make(chan struct{})
	}
	return d.gates[id]
}

func (d *GatedDecoder) Release(id uint64) {
	close(d.gate(id))
}

func (d *GatedDecoder) Completed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

func (d *GatedDecoder) Decode(ctx context.Context, call pairing.IncomingCall) (*pairing.TransactionProposal, error) {
	if call.Method == "fail" {
		return nil, &pairing.CallDecodeError{Step: pairing.StepResolveABI, Err: errors.New("registry down")}
	}
	if call.Method != pairing.MethodSendTransaction {
		return nil, nil
	}

	select {
	case <-d.gate(call.ID):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	d.mu.Lock()
	d.completed++
	d.mu.Unlock()
	return &pairing.TransactionProposal{
		Type:   pairing.ProposalTransactionRequest,
		Method: fmt.Sprintf("call-%d", call.ID),
	}, nil
}
