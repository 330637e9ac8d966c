package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/manpreetbhatti/wordrush/internal/db"
	"github.com/manpreetbhatti/wordrush/internal/room"
	protocol "github.com/manpreetbhatti/wordrush/internal/sync"
)

var ErrRoomFull = errors.New("room is full")

// Registry is the room store the hub consults on first join and clears on
// teardown
type Registry interface {
	EnsureRoom(id, kind string, maxPlayers int) (*db.Room, error)
	TouchRoom(id string) error
	DeleteRoom(id string) error
}

type Config struct {
	TickInterval      time.Duration
	MaxRoomCapacity   int
	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultConfig() Config {
	return Config{
		TickInterval:      100 * time.Millisecond,
		MaxRoomCapacity:   8,
		MessagesPerSecond: 20,
		MessageBurst:      40,
	}
}

// Hub is the ordered-delivery channel. A single goroutine owns every room,
// so the order in which it stamps frames is the order every member sees.
type Hub struct {
	// Live rooms by id
	rooms map[string]*roomSession

	// Inbound events from clients
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	registry Registry
	config   Config
	done     chan struct{}

	mu sync.RWMutex
}

type Message struct {
	RoomID  string
	Topic   string
	Payload json.RawMessage
	Sender  *Client
}

type roomSession struct {
	id         string
	kind       string
	maxPlayers int
	settings   json.RawMessage
	opened     time.Time
	seq        uint64
	lastAt     int64
	// A push room's capacity is fixed by its first valid settings announcement
	settled bool
	// Members in join order
	clients []*Client
}

// Virtual time in milliseconds since the room opened, never decreasing
func (r *roomSession) now() int64 {
	at := time.Since(r.opened).Milliseconds()
	if at < r.lastAt {
		at = r.lastAt
	}
	r.lastAt = at
	return at
}

func (r *roomSession) nextSeq() uint64 {
	r.seq++
	return r.seq
}

func (r *roomSession) identities() []string {
	ids := make([]string, len(r.clients))
	for i, c := range r.clients {
		ids[i] = c.identity
	}
	return ids
}

func (r *roomSession) indexOf(c *Client) int {
	for i, member := range r.clients {
		if member == c {
			return i
		}
	}
	return -1
}

func NewHub(registry Registry, config Config) *Hub {
	return &Hub{
		rooms:      make(map[string]*roomSession),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		registry:   registry,
		config:     config,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.config.TickInterval)
	defer ticker.Stop()
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.join(client)

		case client := <-h.unregister:
			h.leave(client)

		case message := <-h.broadcast:
			h.relay(message)

		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Hub) join(client *Client) {
	rs, ok := h.rooms[client.roomID]
	if !ok {
		opened, err := h.openRoom(client.roomID)
		if err != nil {
			log.Error().Err(err).Str("room", client.roomID).Msg("open room")
			h.reject(client, err)
			return
		}
		rs = opened
	}

	if len(rs.clients) >= rs.maxPlayers {
		log.Warn().Str("room", rs.id).Int("max", rs.maxPlayers).Msg("join rejected, room full")
		h.reject(client, ErrRoomFull)
		return
	}

	client.identity = uuid.NewString()
	at := rs.now()

	welcome := protocol.Frame{
		Type: protocol.FrameWelcome,
		At:   at,
		Welcome: &protocol.Welcome{
			Identity:     client.identity,
			Room:         rs.id,
			Kind:         rs.kind,
			Participants: rs.identities(),
			Settings:     rs.settings,
		},
	}
	data, err := protocol.Encode(welcome)
	if err != nil {
		log.Error().Err(err).Msg("encode welcome")
		h.reject(client, err)
		return
	}
	client.send <- data

	h.mu.Lock()
	h.rooms[rs.id] = rs
	rs.clients = append(rs.clients, client)
	clientCount := len(rs.clients)
	h.mu.Unlock()

	h.touch(rs.id)
	log.Info().Str("room", rs.id).Str("identity", client.identity).Int("total", clientCount).Msg("client joined room")

	h.fanout(rs, protocol.Frame{
		Type:     protocol.FrameJoin,
		Seq:      rs.nextSeq(),
		At:       at,
		Identity: client.identity,
	})
}

func (h *Hub) openRoom(id string) (*roomSession, error) {
	rs := &roomSession{
		id:         id,
		kind:       room.KindPush,
		maxPlayers: h.config.MaxRoomCapacity,
		opened:     time.Now(),
	}
	if h.registry == nil {
		return rs, nil
	}

	rec, err := h.registry.EnsureRoom(id, room.KindPush, h.config.MaxRoomCapacity)
	if err != nil {
		return nil, err
	}
	rs.kind = rec.Kind
	rs.settings = rec.Settings
	if rec.MaxPlayers > 0 && rec.MaxPlayers < rs.maxPlayers {
		rs.maxPlayers = rec.MaxPlayers
	}
	return rs, nil
}

func (h *Hub) reject(client *Client, reason error) {
	data, err := protocol.Encode(protocol.Frame{Type: protocol.FrameError, Error: reason.Error()})
	if err == nil {
		client.send <- data
	}
	client.closeSend()
}

func (h *Hub) leave(client *Client) {
	rs, ok := h.rooms[client.roomID]
	if !ok || rs.indexOf(client) < 0 {
		client.closeSend()
		return
	}
	h.remove(rs, client)
}

// remove drops a member and tells the others, in order, that it left
func (h *Hub) remove(rs *roomSession, client *Client) {
	i := rs.indexOf(client)
	if i < 0 {
		return
	}

	h.mu.Lock()
	rs.clients = append(rs.clients[:i], rs.clients[i+1:]...)
	remaining := len(rs.clients)
	h.mu.Unlock()

	client.closeSend()

	if remaining == 0 {
		h.closeRoom(rs)
		return
	}

	log.Info().Str("room", rs.id).Str("identity", client.identity).Int("remaining", remaining).Msg("client left room")
	h.touch(rs.id)
	h.fanout(rs, protocol.Frame{
		Type:     protocol.FrameLeave,
		Seq:      rs.nextSeq(),
		At:       rs.now(),
		Identity: client.identity,
	})
}

// closeRoom tears the room down. Push rooms leave the registry with it;
// registry rooms keep their row, and their settings, until the reaper's TTL.
func (h *Hub) closeRoom(rs *roomSession) {
	h.mu.Lock()
	delete(h.rooms, rs.id)
	h.mu.Unlock()

	switch {
	case h.registry == nil:
	case rs.kind == room.KindRegistry:
		h.touch(rs.id)
	default:
		if err := h.registry.DeleteRoom(rs.id); err != nil {
			log.Error().Err(err).Str("room", rs.id).Msg("delete room from registry")
		}
	}
	log.Info().Str("room", rs.id).Str("kind", rs.kind).Msg("room closed (empty)")
}

func (h *Hub) relay(message *Message) {
	rs, ok := h.rooms[message.RoomID]
	if !ok || message.Sender == nil || rs.indexOf(message.Sender) < 0 {
		return
	}
	if message.Topic == room.TopicSyncSettings && rs.kind == room.KindPush && !rs.settled {
		h.settle(rs, message.Payload)
	}
	h.fanout(rs, protocol.Frame{
		Type:     protocol.FrameEvent,
		Seq:      rs.nextSeq(),
		At:       rs.now(),
		Identity: message.Sender.identity,
		Topic:    message.Topic,
		Payload:  message.Payload,
	})
}

// settle applies the replicas' settle-once rule to capacity: the first
// announcement that passes validation caps the room, later ones are ignored
func (h *Hub) settle(rs *roomSession, payload json.RawMessage) {
	var settings room.Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return
	}
	if err := room.DefaultLimits().ValidateSettings(settings); err != nil {
		return
	}
	rs.settled = true
	if settings.MaxPlayers < rs.maxPlayers {
		rs.maxPlayers = settings.MaxPlayers
	}
	log.Info().Str("room", rs.id).Int("max", rs.maxPlayers).Msg("room capacity settled")
}

func (h *Hub) tick() {
	for _, rs := range h.rooms {
		h.fanout(rs, protocol.Frame{Type: protocol.FrameTick, At: rs.now()})
	}
}

// fanout delivers a frame to every member, sender included. Members that
// cannot keep up are dropped and announced as having left.
func (h *Hub) fanout(rs *roomSession, frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		log.Error().Err(err).Msg("encode frame")
		return
	}

	var slow []*Client
	for _, client := range rs.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		log.Warn().Str("room", rs.id).Str("identity", client.identity).Msg("dropping slow client")
		h.remove(rs, client)
	}
}

func (h *Hub) touch(id string) {
	if h.registry == nil {
		return
	}
	if err := h.registry.TouchRoom(id); err != nil {
		log.Warn().Err(err).Str("room", id).Msg("touch room")
	}
}

func (h *Hub) shutdown() {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, rs := range h.rooms {
		for _, client := range rs.clients {
			client.closeSend()
		}
		delete(h.rooms, id)
	}
}

// Stats

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, rs := range h.rooms {
		count += len(rs.clients)
	}
	return count
}

// Member count per live room
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	active := make(map[string]int, len(h.rooms))
	for id, rs := range h.rooms {
		active[id] = len(rs.clients)
	}
	return active
}

func (h *Hub) HasRoom(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[id]
	return ok
}
