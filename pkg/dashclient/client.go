// Package dashclient is the operator-side runtime for the live call
// feed: a persistent websocket with exponential-backoff reconnect that
// degrades to pure polling after repeated failures.
package dashclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// LogEvent mirrors the normalized call record pushed on the wire.
type LogEvent struct {
	CallID             string    `json:"callId"`
	RequestFingerprint string    `json:"requestFingerprint"`
	Step               string    `json:"step"`
	ModelProvider      string    `json:"modelProvider"`
	ModelName          string    `json:"modelName"`
	Status             string    `json:"status"`
	DurationMs         int64     `json:"durationMs"`
	ErrorMessage       string    `json:"errorMessage,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

type serverMessage struct {
	Type       string    `json:"type"`
	ServerTime string    `json:"serverTime,omitempty"`
	Steps      []string  `json:"steps,omitempty"`
	Data       *LogEvent `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type clientMessage struct {
	Type  string   `json:"type"`
	Steps []string `json:"steps,omitempty"`
}

type Options struct {
	URL string
	// Steps is the initial subscription, replayed on every reconnect.
	Steps       []string
	BufferSize  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxRetries  int
	PingEvery   time.Duration
	Logger      *slog.Logger
	Dialer      *websocket.Dialer
	// OnEvent, when set, observes each pushed event after buffering.
	OnEvent func(LogEvent)
}

func (o Options) normalized() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 10
	}
	if o.PingEvery <= 0 {
		o.PingEvery = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

type Client struct {
	opts Options

	mu     sync.Mutex
	buffer []LogEvent // newest first, deduped by fingerprint
	steps  []string
	conn   *websocket.Conn

	// writeMu serializes frame writes; the websocket allows only one
	// concurrent writer and pings race with re-subscribes.
	writeMu sync.Mutex

	degraded atomic.Bool
}

func New(opts Options) *Client {
	opts = opts.normalized()
	return &Client{
		opts:   opts,
		steps:  append([]string(nil), opts.Steps...),
		buffer: make([]LogEvent, 0, opts.BufferSize),
	}
}

// Run keeps the connection alive until ctx is cancelled or the retry
// budget is spent. After the budget is gone the client marks itself
// permanently degraded and returns; callers keep polling the listing API.
func (c *Client) Run(ctx context.Context) {
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			failures++
			if failures > c.opts.MaxRetries {
				c.degraded.Store(true)
				c.opts.Logger.Warn("live feed permanently degraded, relying on polling",
					"failures", failures)
				return
			}
			wait := backoff(c.opts.BaseBackoff, c.opts.MaxBackoff, failures)
			c.opts.Logger.Debug("live feed reconnect scheduled", "wait", wait.String(), "failures", failures)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		failures = 0
		c.setConn(conn)
		// Subscriptions are per-connection server state; replay ours.
		c.sendSubscribe()

		c.readUntilClosed(ctx, conn)
		c.setConn(nil)
		_ = conn.Close()
	}
}

func (c *Client) readUntilClosed(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go c.pingLoop(ctx, stop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.opts.Logger.Debug("live feed connection lost", "error", err)
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ai_log_created":
			if msg.Data != nil {
				c.push(*msg.Data)
				if c.opts.OnEvent != nil {
					c.opts.OnEvent(*msg.Data)
				}
			}
		case "error":
			c.opts.Logger.Warn("live feed server error", "error", msg.Error)
		case "hello", "subscribed", "pong":
			// Control frames; nothing to track beyond liveness.
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.send(clientMessage{Type: "ping"})
		}
	}
}

// Subscribe replaces the step filter; the new set is pushed to the
// server immediately when connected and replayed on reconnect.
func (c *Client) Subscribe(steps []string) {
	c.mu.Lock()
	c.steps = append([]string(nil), steps...)
	c.mu.Unlock()
	c.sendSubscribe()
}

func (c *Client) sendSubscribe() {
	c.mu.Lock()
	steps := append([]string(nil), c.steps...)
	c.mu.Unlock()
	c.send(clientMessage{Type: "subscribe", Steps: steps})
}

func (c *Client) send(msg clientMessage) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(msg)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Degraded reports whether the retry budget is spent and only polling
// remains.
func (c *Client) Degraded() bool {
	return c.degraded.Load()
}

func backoff(base, max time.Duration, failures int) time.Duration {
	wait := base
	for i := 1; i < failures; i++ {
		wait *= 2
		if wait >= max {
			return max
		}
	}
	if wait > max {
		return max
	}
	return wait
}
