// Package client is a WebSocket client for the prediction server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"SignalServe/internal/domain/models"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("client closed")

// Option configures Client.
type Option func(*Client)

// WithHandshakeTimeout bounds the WebSocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.handshakeTimeout = d
	}
}

// WithHeader adds headers to the handshake request, e.g. Origin.
func WithHeader(h http.Header) Option {
	return func(c *Client) {
		c.header = h
	}
}

// Client sends one command at a time and waits for its response. It is safe
// for concurrent use; calls are serialized.
type Client struct {
	mu               sync.Mutex
	conn             *websocket.Conn
	closed           bool
	handshakeTimeout time.Duration
	header           http.Header
}

// Dial connects to the server at url (ws://host:port/ws).
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{handshakeTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, c.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.conn = conn
	return c, nil
}

// Do sends "<command>:<payload>" and returns the raw response. Server errors
// are returned as *models.CommandError. The connection is unusable after a
// call is cancelled.
func (c *Client) Do(ctx context.Context, command, payload string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(time.Time{})

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(command+":"+payload)); err != nil {
		return "", fmt.Errorf("send %s: %w", command, err)
	}

	// A cancelled ctx unblocks the read by expiring its deadline.
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("receive %s: %w", command, err)
	}
	resp := string(msg)
	if strings.HasPrefix(resp, models.ErrorPrefix) {
		return resp, parseServerError(resp)
	}
	return resp, nil
}

// parseServerError turns "error: <Kind>: <message>" into a CommandError.
func parseServerError(resp string) *models.CommandError {
	body := strings.TrimPrefix(resp, models.ErrorPrefix)
	kind, msg, ok := strings.Cut(body, ": ")
	if !ok {
		return &models.CommandError{Kind: models.KindRuntime, Message: body}
	}
	return &models.CommandError{Kind: models.ErrorKind(kind), Message: msg}
}

// Load loads the model at path into slot.
func (c *Client) Load(ctx context.Context, slot models.SlotName, path string) error {
	_, err := c.Do(ctx, string(slot)+"_load", path)
	return err
}

// Predict runs slot's model on one window, oldest timestep first.
func (c *Client) Predict(ctx context.Context, slot models.SlotName, rows [][]float64) (float64, error) {
	resp, err := c.Do(ctx, string(slot)+"_predict", EncodeRows(rows))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, fmt.Errorf("parse prediction %q: %w", resp, err)
	}
	return v, nil
}

// TrainInit starts a training session on csvPath.
func (c *Client) TrainInit(ctx context.Context, csvPath string, timesteps int) error {
	_, err := c.Do(ctx, "train_init", csvPath+","+strconv.Itoa(timesteps))
	return err
}

// TrainFit trains the session and returns the server's summary line.
func (c *Client) TrainFit(ctx context.Context, epochs, batchSize int) (string, error) {
	return c.Do(ctx, "train_fit", strconv.Itoa(epochs)+","+strconv.Itoa(batchSize))
}

// TrainSave exports the session model to path.
func (c *Client) TrainSave(ctx context.Context, path string) error {
	_, err := c.Do(ctx, "train_save", path)
	return err
}

// Close says bye, waits briefly for the server's close frame and closes the
// connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("bye")); err == nil {
		_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				break
			}
		}
	}
	return c.conn.Close()
}

// EncodeRows renders a window as the predict payload.
func EncodeRows(rows [][]float64) string {
	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('|')
		}
		for j, v := range r {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	return b.String()
}
