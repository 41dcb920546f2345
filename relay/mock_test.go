package relay_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/erc7824/nitrolite/walletlink/pairing"
	"github.com/erc7824/nitrolite/walletlink/pkg/rpc"
)

var _ rpc.Dialer = (*MockDialer)(nil)

// MockDialer answers every call with an empty response of the same method,
// unless an error is configured for it.
type MockDialer struct {
	mu       sync.Mutex
	url      string
	requests []rpc.Request
	errs     map[rpc.Method]string
	stalled  map[rpc.Method]bool
	eventCh  chan *rpc.Response
	ctx      context.Context
}

func NewMockDialer() *MockDialer {
	return &MockDialer{
		errs:    make(map[rpc.Method]string),
		stalled: make(map[rpc.Method]bool),
		eventCh: make(chan *rpc.Response, 10),
	}
}

func (d *MockDialer) Dial(ctx context.Context, url string, handleClosure func(err error)) error {
	d.mu.Lock()
	d.url = url
	d.ctx = ctx
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		handleClosure(nil)
	}()
	return nil
}

func (d *MockDialer) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx != nil && d.ctx.Err() == nil
}

func (d *MockDialer) Call(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, *req)
	if d.stalled[rpc.Method(req.Req.Method)] {
		d.mu.Unlock()
		<-ctx.Done()
		d.mu.Lock()
		return nil, fmt.Errorf("%w: %w", rpc.ErrNoResponse, ctx.Err())
	}
	if msg, ok := d.errs[rpc.Method(req.Req.Method)]; ok {
		res := rpc.NewErrorResponse(req.Req.RequestID, msg)
		return &res, nil
	}
	res := rpc.NewResponse(rpc.NewPayload(req.Req.RequestID, req.Req.Method, nil))
	return &res, nil
}

func (d *MockDialer) EventCh() <-chan *rpc.Response { return d.eventCh }

func (d *MockDialer) Publish(event rpc.Event, params rpc.Params) {
	res := rpc.NewResponse(rpc.NewPayload(0, event.String(), params))
	d.eventCh <- &res
}

func (d *MockDialer) FailMethod(method rpc.Method, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[method] = msg
}

// Stall makes calls of method wait for their context instead of answering.
func (d *MockDialer) Stall(method rpc.Method) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stalled[method] = true
}

// Requests returns the sent requests of method.
func (d *MockDialer) Requests(method rpc.Method) []rpc.Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []rpc.Request
	for _, req := range d.requests {
		if req.Req.Method == method.String() {
			out = append(out, req)
		}
	}
	return out
}

func (d *MockDialer) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// MockStore keeps the session in memory.
type MockStore struct {
	mu      sync.Mutex
	session *pairing.Session
	clears  int
}

func (s *MockStore) Load(ctx context.Context) (*pairing.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	return nil
}
