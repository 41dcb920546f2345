package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erc7824/nitrolite/walletlink/pkg/log"
)

// Dialer is a connection to the relay.
type Dialer interface {
	// Dial connects to url and returns once the connection is up. The connection
	// lives until ctx is cancelled or it fails; handleClosure then runs once with
	// the failure, or nil after a cancellation.
	Dial(ctx context.Context, url string, handleClosure func(err error)) error
	// IsConnected reports whether the connection is up.
	IsConnected() bool
	// Call sends req and waits for the frame carrying the same request id.
	Call(ctx context.Context, req *Request) (*Response, error)
	// EventCh delivers relay frames that answer no pending call. It is closed
	// when the connection ends.
	EventCh() <-chan *Response
}

// WebsocketDialerConfig tunes the websocket dialer.
type WebsocketDialerConfig struct {
	HandshakeTimeout time.Duration
	// KeepAlive is the websocket ping interval. The connection fails when nothing,
	// pongs included, is read for two intervals.
	KeepAlive time.Duration
	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration
	// EventBuffer bounds the events waiting to be consumed; further events are dropped.
	EventBuffer int
}

var DefaultWebsocketDialerConfig = WebsocketDialerConfig{
	HandshakeTimeout: 5 * time.Second,
	KeepAlive:        15 * time.Second,
	WriteTimeout:     5 * time.Second,
	EventBuffer:      100,
}

// WebsocketDialer implements Dialer over gorilla/websocket. It may be dialed
// again once its previous connection has ended.
type WebsocketDialer struct {
	cfg WebsocketDialerConfig

	mu   sync.RWMutex // protects conn
	conn *connection
}

var _ Dialer = (*WebsocketDialer)(nil)

func NewWebsocketDialer(cfg WebsocketDialerConfig) *WebsocketDialer {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultWebsocketDialerConfig.KeepAlive
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWebsocketDialerConfig.WriteTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultWebsocketDialerConfig.EventBuffer
	}

	return &WebsocketDialer{cfg: cfg}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string, handleClosure func(err error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil && d.conn.alive() {
		return ErrAlreadyConnected
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  d.cfg.HandshakeTimeout,
		EnableCompression: true,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDialingWebsocket, err)
	}

	logger := log.FromContext(ctx).WithName("ws-dialer").WithKV("url", url)
	d.conn = newConnection(ctx, ws, d.cfg, logger)
	go d.conn.run(handleClosure)

	return nil
}

func (d *WebsocketDialer) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.conn != nil && d.conn.alive()
}

// Call is safe for concurrent use. Request ids must be unique among in-flight calls.
func (d *WebsocketDialer) Call(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	d.mu.RLock()
	conn := d.conn
	d.mu.RUnlock()
	if conn == nil || !conn.alive() {
		return nil, ErrNotConnected
	}

	return conn.call(ctx, req)
}

// EventCh returns the event channel of the latest connection, nil before the
// first Dial.
func (d *WebsocketDialer) EventCh() <-chan *Response {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.conn == nil {
		return nil
	}
	return d.conn.events
}

// connection is one websocket session with the relay. Frames are read by
// readLoop and written by writeLoop only.
type connection struct {
	ctx    context.Context
	cancel context.CancelFunc
	ws     *websocket.Conn
	cfg    WebsocketDialerConfig
	logger log.Logger
	events chan *Response
	outbox chan outboundFrame

	mu      sync.Mutex // protects pending and failure
	pending map[uint64]chan *Response
	failure error
}

type outboundFrame struct {
	data []byte
	sent chan error
}

func newConnection(ctx context.Context, ws *websocket.Conn, cfg WebsocketDialerConfig, logger log.Logger) *connection {
	connCtx, cancel := context.WithCancel(ctx)
	return &connection{
		ctx:     connCtx,
		cancel:  cancel,
		ws:      ws,
		cfg:     cfg,
		logger:  logger,
		events:  make(chan *Response, cfg.EventBuffer),
		outbox:  make(chan outboundFrame),
		pending: make(map[uint64]chan *Response),
	}
}

func (c *connection) alive() bool {
	return c.ctx.Err() == nil
}

// run supervises the read and write loops and reports the closure once both
// have stopped.
func (c *connection) run(handleClosure func(err error)) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readLoop()
	}()
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	<-c.ctx.Done()
	if err := c.ws.Close(); err != nil {
		c.logger.Debug("error closing websocket", "error", err)
	}
	wg.Wait()
	close(c.events)

	c.mu.Lock()
	err := c.failure
	c.mu.Unlock()
	handleClosure(err)
}

// fail records the first failure and ends the connection.
func (c *connection) fail(err error) {
	c.mu.Lock()
	if c.failure == nil && c.alive() {
		c.failure = err
		c.logger.Error("relay connection failed", "error", err)
	}
	c.mu.Unlock()

	c.cancel()
}

func (c *connection) extendReadDeadline() error {
	return c.ws.SetReadDeadline(time.Now().Add(2 * c.cfg.KeepAlive))
}

func (c *connection) readLoop() {
	c.ws.SetPongHandler(func(string) error {
		return c.extendReadDeadline()
	})
	if err := c.extendReadDeadline(); err != nil {
		c.fail(fmt.Errorf("%w: %w", ErrReadingMessage, err))
		return
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case !c.alive():
			case errors.As(err, &netErr) && netErr.Timeout():
				c.fail(fmt.Errorf("%w: %w", ErrConnectionTimeout, err))
			default:
				c.fail(fmt.Errorf("%w: %w", ErrReadingMessage, err))
			}
			return
		}
		if err := c.extendReadDeadline(); err != nil {
			c.fail(fmt.Errorf("%w: %w", ErrReadingMessage, err))
			return
		}

		var msg Response
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("malformed relay frame", "frame", string(data), "error", err)
			continue
		}
		c.route(&msg)
	}
}

// route hands msg to the call waiting for its request id, or to the event
// channel when no call is.
func (c *connection) route(msg *Response) {
	c.mu.Lock()
	sink, pending := c.pending[msg.Res.RequestID]
	if pending {
		delete(c.pending, msg.Res.RequestID)
	}
	c.mu.Unlock()

	if pending {
		sink <- msg
		return
	}

	select {
	case c.events <- msg:
	default:
		c.logger.Warn("event buffer full, dropping event", "method", msg.Res.Method)
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case frame := <-c.outbox:
			err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err == nil {
				err = c.ws.WriteMessage(websocket.TextMessage, frame.data)
			}
			frame.sent <- err
			if err != nil {
				c.fail(fmt.Errorf("%w: %w", ErrSendingRequest, err))
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fail(fmt.Errorf("%w: %w", ErrSendingPing, err))
				return
			}
		}
	}
}

func (c *connection) call(ctx context.Context, req *Request) (*Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshalingRequest, err)
	}

	id := req.Req.RequestID
	sink := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = sink
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending[id] == sink {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	frame := outboundFrame{data: data, sent: make(chan error, 1)}
	select {
	case c.outbox <- frame:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrSendingRequest, ctx.Err())
	case <-c.ctx.Done():
		return nil, ErrNotConnected
	}

	select {
	case err := <-frame.sent:
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSendingRequest, err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrSendingRequest, ctx.Err())
	case <-c.ctx.Done():
		return nil, ErrNotConnected
	}

	select {
	case res := <-sink:
		return res, nil
	case <-ctx.Done():
	case <-c.ctx.Done():
	}
	return nil, fmt.Errorf("%w for request %d", ErrNoResponse, id)
}
