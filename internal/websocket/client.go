package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"supportchat/internal/config"
	"supportchat/pkg/types"
)

const maxFrameBytes = 1 << 20

// FrameHandler consumes inbound push frames. *router.Router satisfies it.
type FrameHandler interface {
	DispatchRaw(data []byte) error
}

// Client is the push connection to the support backend. Writes are
// serialized through a single writer goroutine; reads are fed to the
// frame handler from a single reader goroutine.
type Client struct {
	conn      *websocket.Conn
	cfg       config.PushConfig
	handler   FrameHandler
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
	writeDone chan struct{}
	errMu     sync.Mutex
	readErr   error
	log       zerolog.Logger
}

// Dial opens the push connection and starts its read and write loops.
func Dial(ctx context.Context, cfg *config.PushConfig, handler FrameHandler, header http.Header, log zerolog.Logger) (*Client, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, ErrMissingURL
	}
	if handler == nil {
		return nil, ErrMissingHandler
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.WriteTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: status %d: %w", ErrDialFailed, cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, cfg.URL, err)
	}

	return newClient(conn, *cfg, handler, log), nil
}

func newClient(conn *websocket.Conn, cfg config.PushConfig, handler FrameHandler, log zerolog.Logger) *Client {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:      conn,
		cfg:       cfg,
		handler:   handler,
		writeCh:   make(chan []byte, cfg.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
		log:       log.With().Str("component", "push").Logger(),
	}

	go c.writeLoop()
	go c.readLoop()
	return c
}

// writeLoop owns the socket and closes it on exit.
func (c *Client) writeLoop() {
	defer close(c.writeDone)
	defer c.conn.Close()

	var pings <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}

		case <-pings:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fail(err)
				return
			}

		case <-c.ctx.Done():
			deadline := time.Now().Add(time.Second)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	c.conn.SetReadLimit(maxFrameBytes)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("Push connection lost")
			}
			c.fail(err)
			return
		}
		c.extendReadDeadline()

		if err := c.handler.DispatchRaw(data); err != nil {
			c.log.Debug().Err(err).Msg("Dropped push frame")
		}
	}
}

func (c *Client) extendReadDeadline() {
	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.readErr == nil && c.ctx.Err() == nil {
		c.readErr = err
	}
	c.errMu.Unlock()
	c.cancel()
}

// WriteJSON queues v for the writer goroutine.
func (c *Client) WriteJSON(ctx context.Context, v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// PublishTyping implements interfaces.TypingPublisher.
func (c *Client) PublishTyping(ctx context.Context, sessionID string, status types.TypingStatus) error {
	return c.WriteJSON(ctx, types.PushFrame{
		Type:      types.FrameTyping,
		SessionID: sessionID,
		Typing:    &types.TypingEvent{SessionID: sessionID, Status: status},
	})
}

// Done is closed once the connection stopped reading.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if it was not closed
// deliberately.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// Close sends a close frame, stops both loops and waits for them.
func (c *Client) Close() error {
	c.closeOnce.Do(c.cancel)
	<-c.writeDone
	<-c.done
	return nil
}
