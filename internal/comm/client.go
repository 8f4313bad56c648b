package comm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshfield/meshfield/pkg/types"
)

// DialOptions configures a non-zero rank's connection to rank 0.
type DialOptions struct {
	URL             string // ws://host:port/ws
	Rank            int
	Size            int
	Token           string
	Timeout         time.Duration // total time spent retrying; 0 means until ctx ends
	MaxMessageBytes int64
}

// Client is the Communicator of a rank other than 0. Every envelope goes
// through the coordinator's Hub.
type Client struct {
	rank int
	size int
	conn *websocket.Conn
	box  *mailbox

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error // read by writePump after send is closed
}

// Dial connects to the hub, retrying with exponential backoff until it
// succeeds, opts.Timeout passes, or the hub rejects the request outright.
func Dial(ctx context.Context, opts DialOptions) (*Client, error) {
	if opts.Rank < 1 || opts.Rank >= opts.Size {
		return nil, fmt.Errorf("comm: dial: rank %d outside [1,%d)", opts.Rank, opts.Size)
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("comm: dial: parse %q: %w", opts.URL, err)
	}
	q := u.Query()
	q.Set("rank", strconv.Itoa(opts.Rank))
	q.Set("size", strconv.Itoa(opts.Size))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if opts.Token != "" {
		header.Set(TokenHeader, opts.Token)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	bo := newBackoff()
	for attempt := 1; ; attempt++ {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
		if err == nil {
			return newClient(conn, opts), nil
		}
		if resp != nil && isPermanentStatus(resp.StatusCode) {
			return nil, types.NewCommunicationError(
				fmt.Errorf("hub rejected connection: %s", resp.Status), 0)
		}

		wait := bo.next()
		slog.Debug("dial failed, retrying", "url", opts.URL, "attempt", attempt, "retry_in", wait, "err", err)
		select {
		case <-ctx.Done():
			return nil, types.NewCommunicationError(
				fmt.Errorf("dial %s: %w", opts.URL, errors.Join(ctx.Err(), err)), 0)
		case <-time.After(wait):
		}
	}
}

// isPermanentStatus reports whether retrying the upgrade cannot succeed.
func isPermanentStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusBadRequest, http.StatusConflict:
		return true
	}
	return false
}

func newClient(conn *websocket.Conn, opts DialOptions) *Client {
	c := &Client{
		rank: opts.Rank,
		size: opts.Size,
		conn: conn,
		box:  newMailbox(),
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
	if opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(opts.MaxMessageBytes)
	}
	go c.writePump()
	go c.readPump()
	return c
}

func (c *Client) Rank() int { return c.rank }
func (c *Client) Size() int { return c.size }

func (c *Client) Send(ctx context.Context, dest int, tag Tag, body []byte) error {
	if err := checkDest(c, dest); err != nil {
		return err
	}
	e := Envelope{From: c.rank, To: dest, Tag: tag, Body: body}
	if dest == c.rank {
		c.box.put(e)
		return nil
	}
	data, err := encodeEnvelope(e)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return types.NewCommunicationError(errDisconnected, 0)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Receive(ctx context.Context, src int, tag Tag) (Envelope, error) {
	return c.box.take(ctx, src, tag)
}

func (c *Client) Barrier(ctx context.Context) error {
	return runBarrier(ctx, c)
}

// Close flushes queued envelopes and closes the connection normally. The hub
// takes a normal closure as a clean departure.
func (c *Client) Close() {
	c.CloseWithError(nil)
}

// CloseWithError is Close for a rank whose run failed. A non-nil err is sent
// as the close reason so the hub reports this rank as failed.
func (c *Client) CloseWithError(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.send)
	})
}

// readPump delivers envelopes into the mailbox. Losing the hub fails every
// pending Receive: all traffic is relayed through rank 0.
func (c *Client) readPump() {
	defer close(c.done)
	defer c.conn.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.box.close(types.NewCommunicationError(err, 0))
			return
		}
		e, err := decodeEnvelope(data)
		if err != nil {
			c.box.close(types.NewCommunicationError(err, 0))
			return
		}
		c.box.put(e)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, closeFrame(c.closeErr)) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// closeFrame encodes err as a close message. Reasons are truncated to fit a
// control frame.
func closeFrame(err error) []byte {
	if err == nil {
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	}
	reason := err.Error()
	if len(reason) > 120 {
		reason = reason[:120]
	}
	return websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reason)
}
