package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/tablesync/utils"
)

var ErrChannelFull = errors.New("hub: channel at capacity")

const writeWait = 10 * time.Second

// Conn is the subset of *websocket.Conn the hub writes to.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Broadcaster delivers to every socket of a channel, possibly across
// instances.
type Broadcaster interface {
	Broadcast(channel string, msg Message)
	CloseChannel(channel string, code int, reason string)
}

// Client is one registered socket. Writes are serialized per client.
type Client struct {
	conn    Conn
	channel string
	tag     string
	wait    time.Duration

	writeMu sync.Mutex
	pong    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (c *Client) Channel() string { return c.channel }

// Tag is the member pid for diner sockets, empty for admins.
func (c *Client) Tag() string { return c.tag }

// Send writes one JSON message to this socket only.
func (c *Client) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// SendText writes a raw text frame, e.g. the "pong" keepalive reply.
func (c *Client) SendText(text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

// Pong records a pong frame from the peer. Wire it to the conn's PongHandler.
func (c *Client) Pong() {
	select {
	case c.pong <- struct{}{}:
	default:
	}
}

// Done is closed once the client has been removed from its hub.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.wait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) control(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(messageType, data, time.Now().Add(c.wait))
}

// Hub is the in-process registry of live sockets grouped by channel. Diner
// and admin hubs are separate instances with independent caps.
type Hub struct {
	name     string
	capacity int

	// WriteWait bounds every socket write; a peer that stops reading is
	// evicted once it expires.
	WriteWait time.Duration

	mu       sync.Mutex
	channels map[string]map[*Client]struct{}
	byConn   map[Conn]*Client
}

func New(name string, capacity int) *Hub {
	return &Hub{
		name:      name,
		capacity:  capacity,
		WriteWait: writeWait,
		channels:  make(map[string]map[*Client]struct{}),
		byConn:    make(map[Conn]*Client),
	}
}

func (h *Hub) Name() string { return h.name }

// Connect registers conn on channel. It fails with ErrChannelFull once the
// channel already holds capacity sockets.
func (h *Hub) Connect(conn Conn, channel, tag string) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.byConn[conn]; ok {
		return existing, nil
	}
	set := h.channels[channel]
	if len(set) >= h.capacity {
		return nil, ErrChannelFull
	}
	if set == nil {
		set = make(map[*Client]struct{})
		h.channels[channel] = set
	}

	wait := h.WriteWait
	if wait <= 0 {
		wait = writeWait
	}
	client := &Client{
		conn:    conn,
		channel: channel,
		tag:     tag,
		wait:    wait,
		pong:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	set[client] = struct{}{}
	h.byConn[conn] = client

	h.log().WithFields(logrus.Fields{"channel": channel, "sockets": len(set)}).Debug("socket connected")
	return client, nil
}

// Disconnect removes conn and closes it. It reports whether the socket was
// registered; repeated calls are no-ops.
func (h *Hub) Disconnect(conn Conn) bool {
	h.mu.Lock()
	client, ok := h.byConn[conn]
	if ok {
		delete(h.byConn, conn)
		if set := h.channels[client.channel]; set != nil {
			delete(set, client)
			if len(set) == 0 {
				delete(h.channels, client.channel)
			}
		}
	}
	h.mu.Unlock()

	if !ok {
		return false
	}
	client.once.Do(func() { close(client.done) })
	_ = conn.Close()
	h.log().WithField("channel", client.channel).Debug("socket disconnected")
	return true
}

// Broadcast fans msg out to every socket on channel. A failed write evicts
// that socket only.
func (h *Hub) Broadcast(channel string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log().WithError(err).WithField("event", msg.Event).Error("marshal broadcast")
		return
	}
	h.BroadcastRaw(channel, data)
}

// BroadcastRaw sends a pre-encoded frame and returns how many sockets
// received it.
func (h *Hub) BroadcastRaw(channel string, data []byte) int {
	delivered := 0
	for _, client := range h.clients(channel) {
		if err := client.write(websocket.TextMessage, data); err != nil {
			h.log().WithError(err).WithField("channel", channel).Warn("evicting socket after failed send")
			h.Disconnect(client.conn)
			continue
		}
		delivered++
	}
	return delivered
}

// CloseChannel sends a close frame with code to every socket on channel and
// evicts them.
func (h *Hub) CloseChannel(channel string, code int, reason string) {
	frame := websocket.FormatCloseMessage(code, reason)
	for _, client := range h.clients(channel) {
		_ = client.control(websocket.CloseMessage, frame)
		h.Disconnect(client.conn)
	}
}

func (h *Hub) Count(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// HasTag reports whether any socket on channel carries tag.
func (h *Hub) HasTag(channel, tag string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.channels[channel] {
		if client.tag == tag {
			return true
		}
	}
	return false
}

// Tags returns the distinct non-empty tags present on channel.
func (h *Hub) Tags(channel string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[string]struct{})
	var tags []string
	for client := range h.channels[channel] {
		if client.tag == "" {
			continue
		}
		if _, ok := seen[client.tag]; ok {
			continue
		}
		seen[client.tag] = struct{}{}
		tags = append(tags, client.tag)
	}
	return tags
}

func (h *Hub) clients(channel string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.channels[channel]
	out := make([]*Client, 0, len(set))
	for client := range set {
		out = append(out, client)
	}
	return out
}

func (h *Hub) log() *logrus.Entry {
	return utils.InfoLogger.WithField("hub", h.name)
}
