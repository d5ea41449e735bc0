// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package api is the websocket client for the storage service. It
// multiplexes request/response calls and machine notifications over
// one connection, correlating responses by request id, and redials a
// dropped connection with backoff. Commands in flight across a drop
// fail rather than replay; the caller decides whether to resubmit.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"

	"github.com/canonical/maasstorage/core/devicetree"
	"github.com/canonical/maasstorage/internal/command"
)

var logger = loggo.GetLogger("maasstorage.api")

const (
	msgRequest  = 0
	msgResponse = 1
	msgNotify   = 2

	rtypeSuccess = 0
	rtypeError   = 1
)

type wsRequest struct {
	Type      int         `json:"type"`
	RequestID uint64      `json:"request_id"`
	Method    string      `json:"method"`
	Params    interface{} `json:"params"`
}

type wsMessage struct {
	Type      int             `json:"type"`
	RequestID uint64          `json:"request_id,omitempty"`
	RType     int             `json:"rtype,omitempty"`
	Name      string          `json:"name,omitempty"`
	Action    string          `json:"action,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// Client talks to one storage service endpoint. It implements the
// reconciler's StorageService.
type Client struct {
	cfg   Config
	clock clock.Clock

	mu       sync.Mutex
	conn     *websocket.Conn
	nextID   uint64
	pending  map[uint64]chan wsMessage
	watchers map[string][]chan *devicetree.Tree
	closed   bool
}

// NewClient returns an unconnected client; the first call dials.
func NewClient(cfg Config, clk clock.Clock) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Client{
		cfg:      cfg,
		clock:    clk,
		pending:  make(map[uint64]chan wsMessage),
		watchers: make(map[string][]chan *devicetree.Tree),
	}, nil
}

// Close shuts the connection down and fails every waiting call.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.failPendingLocked(errors.New("client closed"))
	for _, chans := range c.watchers {
		for _, ch := range chans {
			close(ch)
		}
	}
	c.watchers = make(map[string][]chan *devicetree.Tree)
	c.mu.Unlock()
	if conn != nil {
		return errors.Trace(conn.Close())
	}
	return nil
}

// ensureConnected dials if no connection is live, retrying with the
// configured backoff.
func (c *Client) ensureConnected(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("client closed")
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	var conn *websocket.Conn
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			conn, err = c.dial(ctx)
			return errors.Trace(err)
		},
		Attempts: c.cfg.RetryAttempts,
		Delay:    c.cfg.RetryDelay,
		Clock:    c.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", c.cfg.Address)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil, errors.New("client closed")
	}
	if c.conn != nil {
		// Another caller dialled first; use their connection.
		existing := c.conn
		c.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn)
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
	}
	if c.cfg.Insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.Address, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	logger.Debugf("connected to %s", c.cfg.Address)
	return conn, nil
}

// readLoop owns reads on one connection. It exits when the connection
// drops, failing calls in flight; watchers stay registered and are
// served again after the next successful dial.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				if !c.closed {
					logger.Warningf("connection to %s lost: %v", c.cfg.Address, err)
				}
			}
			c.failPendingLocked(errors.Annotate(err, "connection lost"))
			c.mu.Unlock()
			return
		}
		switch msg.Type {
		case msgResponse:
			c.mu.Lock()
			ch, ok := c.pending[msg.RequestID]
			delete(c.pending, msg.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case msgNotify:
			c.dispatchNotify(msg)
		}
	}
}

// failPendingLocked answers every waiting call with the error. The
// response channels are buffered, so delivery never blocks.
func (c *Client) failPendingLocked(err error) {
	body, _ := json.Marshal(err.Error())
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- wsMessage{Type: msgResponse, RequestID: id, RType: rtypeError, Error: body}
	}
}

func (c *Client) dispatchNotify(msg wsMessage) {
	if msg.Name != "machine" {
		return
	}
	tree, err := decodeTree(msg.Data)
	if err != nil {
		logger.Warningf("discarding %s notification: %v", msg.Action, err)
		return
	}
	c.mu.Lock()
	for _, ch := range c.watchers[tree.SystemID] {
		sendLatest(ch, tree)
	}
	c.mu.Unlock()
}

// sendLatest delivers without blocking the read loop: a stale
// undelivered snapshot is dropped for the new one. Callers hold the
// client mutex, so two senders never race on the same channel.
func sendLatest(ch chan *devicetree.Tree, tree *devicetree.Tree) {
	for {
		select {
		case ch <- tree:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// emptyResult reports whether a success frame carried no payload. The
// service answers some mutations with a JSON null rather than omitting
// the result field.
func emptyResult(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

func decodeTree(data []byte) (*devicetree.Tree, error) {
	var tree devicetree.Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, errors.Annotate(err, "decoding tree")
	}
	if err := tree.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &tree, nil
}

// call performs one request/response exchange.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	conn, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan wsMessage, 1)
	c.pending[id] = ch
	req := wsRequest{Type: msgRequest, RequestID: id, Method: method, Params: params}
	err = conn.WriteJSON(req)
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, errors.Annotatef(err, "sending %s", method)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, errors.Trace(ctx.Err())
	case msg := <-ch:
		if msg.RType == rtypeError {
			return nil, decodeCallError(msg.Error)
		}
		return msg.Result, nil
	}
}

// decodeCallError recovers the structured validation rejection when
// the service sent one, and falls back to the raw message otherwise.
func decodeCallError(raw json.RawMessage) error {
	var verr command.ValidationError
	if err := json.Unmarshal(raw, &verr); err == nil && len(verr) > 0 {
		return verr
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return errors.New(text)
	}
	return errors.New(string(raw))
}

// Submit sends one mutation request and returns the machine's tree as
// it stands after the mutation, or nil when the service sent no tree
// back. A rejection is returned as-is so a command.ValidationError
// keeps its type.
func (c *Client) Submit(ctx context.Context, req command.Request) (*devicetree.Tree, error) {
	result, err := c.call(ctx, req.Method(), req)
	if err != nil {
		return nil, err
	}
	if emptyResult(result) {
		return nil, nil
	}
	tree, err := decodeTree(result)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return tree, nil
}

// Subscribe activates the machine on the service and returns a channel
// of tree snapshots: the current tree first, then one per change
// notification. The watcher is registered before activation, so a
// change racing the activation response is never lost; if one arrives
// first, it supersedes the activation snapshot. The channel closes
// when the returned stop function runs, ctx is cancelled, or the
// client closes. Stop is safe to call more than once.
func (c *Client) Subscribe(ctx context.Context, systemID string) (<-chan *devicetree.Tree, func(), error) {
	ch := make(chan *devicetree.Tree, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, errors.New("client closed")
	}
	c.watchers[systemID] = append(c.watchers[systemID], ch)
	c.mu.Unlock()

	result, err := c.call(ctx, "machine.set_active", map[string]string{"system_id": systemID})
	if err != nil {
		c.removeWatcher(systemID, ch)
		return nil, nil, errors.Trace(err)
	}
	initial, err := decodeTree(result)
	if err != nil {
		c.removeWatcher(systemID, ch)
		return nil, nil, errors.Trace(err)
	}
	c.mu.Lock()
	if len(ch) == 0 {
		sendLatest(ch, initial)
	}
	c.mu.Unlock()

	// The watcher goroutine exits on stop as well as on ctx, so a
	// subscription under a background context does not leak it.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		c.removeWatcher(systemID, ch)
	}()
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }
	return ch, stop, nil
}

func (c *Client) removeWatcher(systemID string, ch chan *devicetree.Tree) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	chans := c.watchers[systemID]
	for i, existing := range chans {
		if existing == ch {
			c.watchers[systemID] = append(chans[:i], chans[i+1:]...)
			close(ch)
			return
		}
	}
}
