package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/manpreetbhatti/wordrush/internal/room"
	protocol "github.com/manpreetbhatti/wordrush/internal/sync"
	"github.com/manpreetbhatti/wordrush/internal/vclock"
)

var (
	ErrClosed   = errors.New("replica closed")
	ErrRejected = errors.New("rejected by relay")
)

const (
	writeWait         = 10 * time.Second
	defaultSendBuffer = 64
)

type Options struct {
	Room string
	// Settings the creator brings into the room; nil when joining
	Settings *room.Settings
	// nil means room.DefaultConfig with the global logger
	Config     *room.Config
	Dialer     *websocket.Dialer
	SendBuffer int
}

// Replica drives one room.Machine from a relay connection. Frames are
// applied by the goroutine calling Run; the machine's intents may be
// called from anywhere.
type Replica struct {
	conn    *websocket.Conn
	sched   *vclock.Scheduler
	machine *room.Machine
	welcome protocol.Welcome
	log     zerolog.Logger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastSeq   uint64
}

// Dial connects to the relay, waits for the welcome and initializes the
// local machine from it.
func Dial(ctx context.Context, rawURL string, opts Options) (*Replica, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if opts.Room != "" {
		q := u.Query()
		q.Set("room", opts.Room)
		u.RawQuery = q.Encode()
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	welcome, at, err := readWelcome(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	cfg := room.DefaultConfig()
	cfg.Logger = log.Logger
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}

	r := &Replica{
		conn:    conn,
		sched:   vclock.New(at),
		welcome: welcome,
		log:     cfg.Logger.With().Str("room", welcome.Room).Str("identity", welcome.Identity).Logger(),
		out:     make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
	}
	r.machine = room.NewMachine(room.Identity(welcome.Identity), r, room.NegotiatorFor(welcome.Kind), cfg)

	supplied := opts.Settings
	if welcome.Kind == room.KindRegistry {
		supplied = nil
		if len(welcome.Settings) > 0 {
			var canonical room.Settings
			if err := json.Unmarshal(welcome.Settings, &canonical); err != nil {
				r.log.Warn().Err(err).Msg("registry settings unreadable")
			} else {
				supplied = &canonical
			}
		}
	}

	participants := make([]room.Identity, len(welcome.Participants))
	for i, id := range welcome.Participants {
		participants[i] = room.Identity(id)
	}
	r.machine.Initialize(supplied, participants)

	go r.writePump()
	r.log.Info().Str("kind", welcome.Kind).Int("participants", len(participants)).Msg("joined room")
	return r, nil
}

func readWelcome(ctx context.Context, conn *websocket.Conn) (protocol.Welcome, int64, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		defer conn.SetReadDeadline(time.Time{})
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Welcome{}, 0, fmt.Errorf("read welcome: %w", err)
	}
	f, err := protocol.Decode(data)
	if err != nil {
		return protocol.Welcome{}, 0, err
	}
	switch {
	case f.Type == protocol.FrameError:
		return protocol.Welcome{}, 0, fmt.Errorf("%w: %s", ErrRejected, f.Error)
	case f.Type != protocol.FrameWelcome || f.Welcome == nil:
		return protocol.Welcome{}, 0, fmt.Errorf("expected welcome, got %q", f.Type)
	}
	return *f.Welcome, f.At, nil
}

func (r *Replica) Machine() *room.Machine {
	return r.machine
}

func (r *Replica) Identity() room.Identity {
	return room.Identity(r.welcome.Identity)
}

func (r *Replica) Room() string {
	return r.welcome.Room
}

// Run applies frames until the context ends, the relay drops the
// connection or Close is called. It returns nil after Close.
func (r *Replica) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, r.Close)
	defer stop()

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case <-r.done:
				return ctx.Err()
			default:
			}
			r.Close()
			return fmt.Errorf("read frame: %w", err)
		}

		f, err := protocol.Decode(data)
		if err != nil {
			r.log.Warn().Err(err).Msg("skipping undecodable frame")
			continue
		}
		if f.Type == protocol.FrameError {
			r.Close()
			return fmt.Errorf("%w: %s", ErrRejected, f.Error)
		}
		r.dispatch(f)
	}
}

func (r *Replica) dispatch(f protocol.Frame) {
	if f.Seq != 0 {
		if f.Seq <= r.lastSeq {
			return
		}
		r.lastSeq = f.Seq
	}

	// Timers due before this frame fire first
	r.sched.AdvanceTo(f.At)

	switch f.Type {
	case protocol.FrameJoin:
		r.machine.ParticipantJoined(room.Identity(f.Identity))
	case protocol.FrameLeave:
		r.machine.ParticipantLeft(room.Identity(f.Identity))
	case protocol.FrameEvent:
		r.machine.Apply(room.Event{
			Seq:     f.Seq,
			Topic:   f.Topic,
			Sender:  room.Identity(f.Identity),
			At:      f.At,
			Payload: f.Payload,
		})
	case protocol.FrameTick:
	default:
		r.log.Debug().Str("type", string(f.Type)).Msg("ignoring frame")
	}
}

// Publish queues an event for the relay. Safe for concurrent use.
func (r *Replica) Publish(topic string, payload []byte) error {
	frame := protocol.Frame{Type: protocol.FramePublish, Topic: topic, Payload: payload}
	if err := protocol.ValidatePublish(frame); err != nil {
		return err
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.out <- data:
		return nil
	case <-r.done:
		return ErrClosed
	}
}

// After and Now are only called from the goroutine running Run

func (r *Replica) After(delay time.Duration, fn func()) {
	r.sched.After(delay, fn)
}

func (r *Replica) Now() int64 {
	return r.sched.Now()
}

func (r *Replica) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		r.conn.Close()
		r.log.Info().Msg("left room")
	})
}

func (r *Replica) writePump() {
	for {
		select {
		case <-r.done:
			return
		case data := <-r.out:
			r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				r.log.Warn().Err(err).Msg("write frame")
				r.Close()
				return
			}
		}
	}
}
