package comm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshfield/meshfield/pkg/types"
)

const (
	// writeTimeout is the deadline for a single frame write.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating a peer as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-peer outgoing envelope buffer depth.
	sendBufSize = 16
)

var (
	errNotConnected = errors.New("peer not connected")
	errDisconnected = errors.New("peer disconnected")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HubOptions configures the rank 0 endpoint.
type HubOptions struct {
	Size            int
	Token           string
	MaxMessageBytes int64
}

// Hub is rank 0's Communicator. Peers connect to it over websocket and it
// relays envelopes between them.
type Hub struct {
	size   int
	token  string
	maxMsg int64
	box    *mailbox

	mu      sync.RWMutex
	peers   map[int]*peer
	closing bool
	ready   chan struct{}
}

// peer is one connected rank.
type peer struct {
	rank int
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewHub creates the rank 0 endpoint of a world of opts.Size ranks.
func NewHub(opts HubOptions) *Hub {
	h := &Hub{
		size:   opts.Size,
		token:  opts.Token,
		maxMsg: opts.MaxMessageBytes,
		box:    newMailbox(),
		peers:  make(map[int]*peer),
		ready:  make(chan struct{}),
	}
	if h.size <= 1 {
		close(h.ready)
	}
	return h
}

func (h *Hub) Rank() int { return 0 }
func (h *Hub) Size() int { return h.size }

func (h *Hub) Send(ctx context.Context, dest int, tag Tag, body []byte) error {
	if err := checkDest(h, dest); err != nil {
		return err
	}
	e := Envelope{From: 0, To: dest, Tag: tag, Body: body}
	if dest == 0 {
		h.box.put(e)
		return nil
	}
	data, err := encodeEnvelope(e)
	if err != nil {
		return err
	}
	return h.forward(ctx, dest, data)
}

func (h *Hub) Receive(ctx context.Context, src int, tag Tag) (Envelope, error) {
	return h.box.take(ctx, src, tag)
}

func (h *Hub) Barrier(ctx context.Context) error {
	return runBarrier(ctx, h)
}

// WaitReady blocks until every rank 1..Size-1 has connected. On ctx expiry it
// returns a *types.CommunicationError naming the ranks still missing.
func (h *Hub) WaitReady(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	case <-ctx.Done():
		return types.NewCommunicationError(ctx.Err(), h.missing()...)
	}
}

// Connected returns the number of connected peers.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close flushes queued envelopes to every peer and closes the connections.
// Disconnects after Close are not treated as failures.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closing = true
	for r, p := range h.peers {
		close(p.send)
		delete(h.peers, r)
	}
}

// ServeHTTP upgrades a peer's connection. The peer names its rank and the
// world size it was launched with in the query string.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !authorized(r, h.token) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	rank, err := strconv.Atoi(r.URL.Query().Get("rank"))
	if err != nil || rank < 1 || rank >= h.size {
		http.Error(w, fmt.Sprintf("rank must be in [1,%d)", h.size), http.StatusBadRequest)
		return
	}
	if size, err := strconv.Atoi(r.URL.Query().Get("size")); err != nil || size != h.size {
		http.Error(w, fmt.Sprintf("world size mismatch: coordinator runs %d ranks", h.size), http.StatusBadRequest)
		return
	}

	p := &peer{
		rank: rank,
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
	if !h.reserve(p) {
		http.Error(w, fmt.Sprintf("rank %d already connected", rank), http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		h.release(p)
		return
	}
	go p.writePump(conn)

	h.mu.Lock()
	p.conn = conn
	h.mu.Unlock()
	slog.Debug("peer connected", "rank", rank, "remote", r.RemoteAddr)
	h.checkReady()

	err = h.readPump(p, conn) // blocks until the connection closes
	h.unregister(p, err)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) reserve(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	if _, ok := h.peers[p.rank]; ok {
		return false
	}
	h.peers[p.rank] = p
	return true
}

// release drops a reservation whose upgrade failed.
func (h *Hub) release(p *peer) {
	h.mu.Lock()
	if h.peers[p.rank] == p {
		delete(h.peers, p.rank)
	}
	h.mu.Unlock()
}

func (h *Hub) unregister(p *peer, err error) {
	close(p.done)

	h.mu.Lock()
	closing := h.closing
	if h.peers[p.rank] == p {
		delete(h.peers, p.rank)
		close(p.send)
	}
	h.mu.Unlock()

	if closing {
		return
	}
	if err == nil {
		// Normal closure: the peer finished its run.
		slog.Debug("peer left", "rank", p.rank)
		return
	}
	slog.Warn("peer lost", "rank", p.rank, "err", err)
	h.box.fail(p.rank, err)
}

func (h *Hub) checkReady() {
	h.mu.RLock()
	n := 0
	for _, p := range h.peers {
		if p.conn != nil {
			n++
		}
	}
	h.mu.RUnlock()
	if n != h.size-1 {
		return
	}
	select {
	case <-h.ready:
	default:
		close(h.ready)
	}
}

func (h *Hub) missing() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []int
	for r := 1; r < h.size; r++ {
		if p, ok := h.peers[r]; !ok || p.conn == nil {
			out = append(out, r)
		}
	}
	return out
}

// forward queues data for the peer at rank dest. The read lock is held
// until the envelope is queued so Close and unregister never close p.send
// under a pending send.
func (h *Hub) forward(ctx context.Context, dest int, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[dest]
	if !ok {
		return types.NewCommunicationError(errNotConnected, dest)
	}
	select {
	case p.send <- data:
		return nil
	case <-p.done:
		return types.NewCommunicationError(errDisconnected, dest)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump reads envelopes from p until the connection fails. The sender is
// taken from the connection, never from the envelope.
func (h *Hub) readPump(p *peer, conn *websocket.Conn) error {
	defer conn.Close()
	if h.maxMsg > 0 {
		conn.SetReadLimit(h.maxMsg)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		e, err := decodeEnvelope(data)
		if err != nil {
			return err
		}
		e.From = p.rank
		if e.To == 0 {
			h.box.put(e)
			continue
		}
		out, err := encodeEnvelope(e)
		if err != nil {
			return err
		}
		if err := h.forward(context.Background(), e.To, out); err != nil {
			slog.Warn("relay failed", "from", e.From, "to", e.To, "tag", e.Tag.String(), "err", err)
		}
	}
}

// writePump drains p.send onto the connection and sends periodic pings.
func (p *peer) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
