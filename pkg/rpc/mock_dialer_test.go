package rpc_test

import (
	"context"
	"sync"

	"github.com/erc7824/nitrolite/walletlink/pkg/rpc"
)

// MockCallHandler answers one relay method in MockDialer.
type MockCallHandler func(params rpc.Params) (*rpc.Response, error)

var _ rpc.Dialer = (*MockDialer)(nil)

// MockDialer routes calls to registered handlers and lets tests push events.
type MockDialer struct {
	mu       sync.Mutex
	handlers map[rpc.Method]MockCallHandler
	calls    []rpc.Request
	eventCh  chan *rpc.Response
}

func NewMockDialer() *MockDialer {
	return &MockDialer{
		handlers: make(map[rpc.Method]MockCallHandler),
		eventCh:  make(chan *rpc.Response, 10),
	}
}

func (d *MockDialer) RegisterHandler(method rpc.Method, handler MockCallHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = handler
}

func (d *MockDialer) Dial(ctx context.Context, url string, handleClosure func(err error)) error {
	go func() {
		<-ctx.Done()
		handleClosure(nil)
	}()
	return nil
}

func (d *MockDialer) IsConnected() bool { return true }

func (d *MockDialer) Call(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
	if req == nil {
		return nil, rpc.ErrNilRequest
	}

	d.mu.Lock()
	d.calls = append(d.calls, *req)
	handler, ok := d.handlers[rpc.Method(req.Req.Method)]
	d.mu.Unlock()

	if !ok {
		res := rpc.NewErrorResponse(req.Req.RequestID, "method not found")
		return &res, nil
	}
	return handler(req.Req.Params)
}

func (d *MockDialer) EventCh() <-chan *rpc.Response { return d.eventCh }

func (d *MockDialer) Publish(event rpc.Event, params rpc.Params) {
	res := rpc.NewResponse(rpc.NewPayload(0, event.String(), params))
	d.eventCh <- &res
}
