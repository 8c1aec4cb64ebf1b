package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrHubClosed is returned for calls on a connection that has shut down.
	ErrHubClosed = errors.New("chat: hub connection closed")
	// ErrInvocationFailed wraps an error completion returned by the hub.
	ErrInvocationFailed = errors.New("chat: hub invocation failed")
)

// EventHandler receives server-to-client invocations.
type EventHandler func(target string, args []json.RawMessage)

// HubConn is one live hub connection.
type HubConn interface {
	// Invoke calls a hub method and waits for its completion.
	Invoke(ctx context.Context, target string, args ...interface{}) error
	// Send calls a hub method without waiting for a result.
	Send(ctx context.Context, target string, args ...interface{}) error
	Close() error
	// Done is closed once the connection is gone for any reason.
	Done() <-chan struct{}
	// Err reports why the connection ended; nil after a local Close.
	Err() error
}

// Dialer opens hub connections. The token is supplied per connection.
type Dialer interface {
	Dial(ctx context.Context, token string, onEvent EventHandler) (HubConn, error)
}

// HubOptions tunes the websocket transport.
type HubOptions struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

func (o HubOptions) withDefaults() HubOptions {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 15 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * o.PingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// HubURL derives the websocket address of a hub from the API base URL.
func HubURL(apiBase, hubPath string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiBase, "/"))
	if err != nil {
		return "", fmt.Errorf("chat: parse api base: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("chat: unsupported scheme %q", u.Scheme)
	}
	if !strings.HasPrefix(hubPath, "/") {
		hubPath = "/" + hubPath
	}
	u.Path += hubPath
	return u.String(), nil
}

// WebSocketDialer speaks the JSON hub protocol over gorilla/websocket.
type WebSocketDialer struct {
	opts   HubOptions
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWebSocketDialer builds a dialer for opts.URL.
func NewWebSocketDialer(opts HubOptions, logger *zap.Logger) *WebSocketDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &WebSocketDialer{
		opts:   opts,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// Dial connects, performs the protocol handshake and starts the pumps.
func (d *WebSocketDialer) Dial(ctx context.Context, token string, onEvent EventHandler) (HubConn, error) {
	u, err := url.Parse(d.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("chat: parse hub url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.HandshakeTimeout)
	defer cancel()

	ws, resp, err := d.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("chat: dial hub: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("chat: dial hub: %w", err)
	}

	deadline, _ := ctx.Deadline()
	leftover, err := handshake(ws, deadline)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	conn := newHubConn(ws, d.opts, onEvent, d.logger)
	go conn.writePump()
	go conn.readPump(leftover)
	return conn, nil
}

func handshake(ws *websocket.Conn, deadline time.Time) ([][]byte, error) {
	request := append(append([]byte(nil), handshakeRequest...), recordSeparator)
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, request); err != nil {
		return nil, fmt.Errorf("chat: send handshake: %w", err)
	}
	_ = ws.SetReadDeadline(deadline)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("chat: read handshake: %w", err)
		}
		frames := splitFrames(data)
		if len(frames) == 0 {
			continue
		}
		var resp handshakeResponse
		if err := json.Unmarshal(frames[0], &resp); err != nil {
			return nil, fmt.Errorf("chat: malformed handshake response: %w", err)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("chat: handshake rejected: %s", resp.Error)
		}
		_ = ws.SetWriteDeadline(time.Time{})
		return frames[1:], nil
	}
}

type hubConn struct {
	ws      *websocket.Conn
	opts    HubOptions
	onEvent EventHandler
	logger  *zap.Logger
	send    chan []byte
	nextID  uint64

	mu        sync.Mutex
	pending   map[string]chan frame
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

func newHubConn(ws *websocket.Conn, opts HubOptions, onEvent EventHandler, logger *zap.Logger) *hubConn {
	if onEvent == nil {
		onEvent = func(string, []json.RawMessage) {}
	}
	return &hubConn{
		ws:      ws,
		opts:    opts,
		onEvent: onEvent,
		logger:  logger,
		send:    make(chan []byte, 16),
		pending: make(map[string]chan frame),
		done:    make(chan struct{}),
	}
}

func (c *hubConn) Invoke(ctx context.Context, target string, args ...interface{}) error {
	id := strconv.FormatUint(atomic.AddUint64(&c.nextID, 1), 10)
	payload, err := buildInvocation(id, target, args...)
	if err != nil {
		return err
	}

	result := make(chan frame, 1)
	c.mu.Lock()
	c.pending[id] = result
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.enqueue(ctx, payload); err != nil {
		return err
	}
	select {
	case f := <-result:
		if f.Error != "" {
			return fmt.Errorf("%w: %s: %s", ErrInvocationFailed, target, f.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	}
}

func (c *hubConn) Send(ctx context.Context, target string, args ...interface{}) error {
	payload, err := buildInvocation("", target, args...)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, payload)
}

func (c *hubConn) Close() error {
	deadline := time.Now().Add(c.opts.WriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.shutdown(nil)
	return nil
}

func (c *hubConn) Done() <-chan struct{} {
	return c.done
}

func (c *hubConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *hubConn) closedErr() error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrHubClosed, err)
	}
	return ErrHubClosed
}

func (c *hubConn) enqueue(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *hubConn) readPump(leftover [][]byte) {
	for _, data := range leftover {
		if !c.dispatch(data) {
			return
		}
	}
	c.ws.SetReadLimit(1024 * 1024)
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		for _, data := range splitFrames(message) {
			if !c.dispatch(data) {
				return
			}
		}
	}
}

// dispatch handles one inbound frame and reports whether reading should continue.
func (c *hubConn) dispatch(data []byte) bool {
	f, err := parseFrame(data)
	if err != nil {
		c.logger.Warn("ignoring hub frame", zap.Error(err))
		return true
	}
	switch f.Type {
	case frameInvocation:
		c.onEvent(f.Target, f.Arguments)
	case frameCompletion:
		c.mu.Lock()
		result, ok := c.pending[f.InvocationID]
		c.mu.Unlock()
		if ok {
			select {
			case result <- f:
			default:
			}
		}
	case framePing:
	case frameClose:
		if f.Error != "" {
			c.shutdown(fmt.Errorf("server closed connection: %s", f.Error))
		} else {
			c.shutdown(errors.New("server closed connection"))
		}
		return false
	default:
		c.logger.Debug("unsupported hub frame", zap.Int("type", f.Type))
	}
	return true
}

func (c *hubConn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	ping, _ := encodeFrame(frame{Type: framePing})
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			if err := c.write(ping); err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *hubConn) write(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *hubConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
		if err != nil {
			c.logger.Info("hub connection closed", zap.Error(err))
		}
	})
}
