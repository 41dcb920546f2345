package rpc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erc7824/nitrolite/walletlink/pkg/log"
)

// EventHandler processes one relay event.
type EventHandler func(ctx context.Context, event *Response)

// Client speaks the relay protocol over a Dialer: typed calls out, events in.
// It is safe for concurrent use.
type Client struct {
	dialer Dialer
	lastID atomic.Uint64

	mu       sync.RWMutex // protects handlers
	handlers map[Event]EventHandler
}

func NewClient(dialer Dialer) *Client {
	c := &Client{
		dialer:   dialer,
		handlers: make(map[Event]EventHandler),
	}
	// Ids stay unique across restarts of the same client id.
	c.lastID.Store(uint64(time.Now().UnixMilli()) * 1000)
	return c
}

// Start dials the relay and dispatches events until ctx is cancelled or the
// connection ends. onClosure runs once, after event dispatch has stopped.
func (c *Client) Start(ctx context.Context, url string, onClosure func(err error)) error {
	connCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})

	closure := func(err error) {
		cancel()
		<-stopped
		onClosure(err)
	}
	if err := c.dialer.Dial(connCtx, url, closure); err != nil {
		cancel()
		return err
	}

	events := c.dialer.EventCh()
	go func() {
		defer close(stopped)
		c.dispatchEvents(connCtx, events)
	}()
	return nil
}

// HandleEvent sets the handler of event, replacing the previous one.
func (c *Client) HandleEvent(event Event, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[event] = handler
}

// dispatchEvents runs handlers one at a time, in arrival order.
func (c *Client) dispatchEvents(ctx context.Context, events <-chan *Response) {
	logger := log.FromContext(ctx)

	for {
		var event *Response
		var ok bool
		select {
		case <-ctx.Done():
			return
		case event, ok = <-events:
		}
		if !ok {
			return
		}
		if event == nil {
			continue
		}

		c.mu.RLock()
		handler := c.handlers[Event(event.Res.Method)]
		c.mu.RUnlock()
		if handler == nil {
			logger.Warn("no handler for relay event", "event", event.Res.Method)
			continue
		}
		handler(ctx, event)
	}
}

// Ping checks that the relay answers.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.Call(ctx, PingMethod, nil)
	if err != nil {
		return err
	}
	if res.Res.Method != PongMethod.String() {
		return fmt.Errorf("unexpected response method: %s", res.Res.Method)
	}
	return nil
}

// Subscribe asks the relay to forward what is published on req.Topic.
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) error {
	_, err := c.Call(ctx, SubscribeMethod, req)
	return err
}

// ApproveSession answers the peer's session request.
func (c *Client) ApproveSession(ctx context.Context, req SessionApproveRequest) error {
	_, err := c.Call(ctx, SessionApproveMethod, req)
	return err
}

// KillSession tells the peer the session is over.
func (c *Client) KillSession(ctx context.Context, req SessionKillRequest) error {
	_, err := c.Call(ctx, SessionKillMethod, req)
	return err
}

// Call sends method with params under a fresh request id. An "error" entry in
// the response params is returned as an Error.
func (c *Client) Call(ctx context.Context, method Method, params any) (*Response, error) {
	p, err := NewParams(params)
	if err != nil {
		return nil, err
	}

	req := NewRequest(NewPayload(c.lastID.Add(1), method.String(), p))
	res, err := c.dialer.Call(ctx, &req)
	if err != nil {
		return nil, err
	}
	if err := res.Res.Params.Error(); err != nil {
		return nil, err
	}
	return res, nil
}
