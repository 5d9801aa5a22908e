// Package deriv speaks the Deriv JSON websocket API and implements venue.Client.
package deriv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"trading-loop/pkg/venue"
)

const DefaultEndpoint = "wss://ws.derivws.com/websockets/v3"

// Config configures the websocket client.
type Config struct {
	Endpoint     string
	AppID        string
	Token        string
	Currency     string
	RateLimit    float64 // requests per second
	PingInterval time.Duration
}

// Client multiplexes requests over one websocket connection, correlating responses by req_id.
// The connection is dialled lazily and re-dialled (and re-authorized) after a read failure.
type Client struct {
	cfg     Config
	url     string
	dialer  *websocket.Dialer
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]chan envelope
	writeMu sync.Mutex

	nextID atomic.Int64
	closed atomic.Bool
	done   chan struct{}
}

type envelope struct {
	ReqID   int64           `json:"req_id"`
	MsgType string          `json:"msg_type"`
	Error   *venue.APIError `json:"error"`
	raw     json.RawMessage
	err     error
}

// New builds a client; no connection is made until the first request.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if cfg.AppID != "" {
		q := u.Query()
		q.Set("app_id", cfg.AppID)
		u.RawQuery = q.Encode()
	}
	return &Client{
		cfg:     cfg,
		url:     u.String(),
		dialer:  websocket.DefaultDialer,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1),
		pending: make(map[int64]chan envelope),
		done:    make(chan struct{}),
	}, nil
}

// Close tears down the connection and fails every pending request.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial deriv ws: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		// Lost the race to another dialer.
		c.mu.Unlock()
		_ = conn.Close()
		return c.connection(ctx)
	}
	c.conn = conn
	token := c.cfg.Token
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.keepalive(conn)

	if token != "" {
		if _, err := c.authorizeOn(ctx, conn, token); err != nil {
			c.drop(conn, err)
			return nil, err
		}
	}
	log.WithField("endpoint", c.cfg.Endpoint).Info("🔌 Venue websocket connected")
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!strings.Contains(err.Error(), "use of closed network connection") {
				log.WithError(err).Warn("⚠️ Venue websocket read failed")
			}
			c.drop(conn, fmt.Errorf("%w: %v", venue.ErrClosed, err))
			return
		}

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			log.WithError(err).Warn("⚠️ Venue websocket parse error")
			continue
		}
		env.raw = msg
		if env.Error != nil {
			env.Error.MsgType = env.MsgType
		}

		c.mu.Lock()
		ch, ok := c.pending[env.ReqID]
		delete(c.pending, env.ReqID)
		c.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

func (c *Client) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()
			if current != conn {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PingInterval)
			err := c.roundTrip(ctx, conn, map[string]any{"ping": 1}, "", nil)
			cancel()
			if err != nil {
				log.WithError(err).Debug("venue ping failed")
			}
		}
	}
}

// drop forgets a broken connection and fails the requests waiting on it.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	waiting := c.pending
	c.pending = make(map[int64]chan envelope)
	c.mu.Unlock()

	_ = conn.Close()
	for _, ch := range waiting {
		ch <- envelope{err: cause}
	}
}

func (c *Client) call(ctx context.Context, req map[string]any, field string, out any) error {
	if c.closed.Load() {
		return venue.ErrClosed
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, conn, req, field, out)
}

func (c *Client) roundTrip(ctx context.Context, conn *websocket.Conn, req map[string]any, field string, out any) error {
	id := c.nextID.Add(1)
	req["req_id"] = id
	ch := make(chan envelope, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		c.drop(conn, err)
		return fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case env := <-ch:
		if env.err != nil {
			return env.err
		}
		if env.Error != nil {
			return env.Error
		}
		if out == nil {
			return nil
		}
		return decodeField(env.raw, field, out)
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func decodeField(raw json.RawMessage, field string, out any) error {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	payload, ok := body[field]
	if !ok {
		return fmt.Errorf("response missing %q", field)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", field, err)
	}
	return nil
}
