package room

import (
	"slices"
	"testing"
	"time"

	"github.com/manpreetbhatti/wordrush/internal/vclock"
)

// loopback is an in-memory ordered channel: one total order, one virtual
// clock, every published event redelivered to every member including the
// publisher.
type loopback struct {
	t         *testing.T
	clock     int64
	step      int64
	seq       uint64
	queue     []Event
	members   []*peer
	delivered []Event
}

type peer struct {
	net   *loopback
	id    Identity
	sched *vclock.Scheduler
	m     *Machine
}

func newLoopback(t *testing.T) *loopback {
	t.Helper()
	return &loopback{t: t, step: 100}
}

func (p *peer) Publish(topic string, payload []byte) error {
	p.net.queue = append(p.net.queue, Event{Topic: topic, Sender: p.id, Payload: slices.Clone(payload)})
	return nil
}

func (p *peer) After(delay time.Duration, fn func()) {
	p.sched.After(delay, fn)
}

func (p *peer) Now() int64 {
	return p.sched.Now()
}

func (n *loopback) ids() []Identity {
	ids := make([]Identity, len(n.members))
	for i, p := range n.members {
		ids[i] = p.id
	}
	return ids
}

// join connects a replica, initializes it from the current member list and
// announces it to every member, itself included
func (n *loopback) join(id Identity, supplied *Settings) *peer {
	return n.joinWith(id, supplied, PushNegotiator{})
}

func (n *loopback) joinWith(id Identity, supplied *Settings, negotiator Negotiator) *peer {
	n.t.Helper()
	p := &peer{net: n, id: id, sched: vclock.New(n.clock)}
	p.m = NewMachine(id, p, negotiator, DefaultConfig())
	p.m.Initialize(supplied, n.ids())

	n.members = append(n.members, p)
	for _, member := range n.members {
		member.sched.AdvanceTo(n.clock)
		member.m.ParticipantJoined(id)
	}
	n.flush()
	return p
}

func (n *loopback) leave(id Identity) {
	n.t.Helper()
	n.members = slices.DeleteFunc(n.members, func(p *peer) bool { return p.id == id })
	for _, member := range n.members {
		member.sched.AdvanceTo(n.clock)
		member.m.ParticipantLeft(id)
	}
	n.flush()
}

// flush delivers queued events in order at the current virtual time
func (n *loopback) flush() {
	for len(n.queue) > 0 {
		ev := n.queue[0]
		n.queue = n.queue[1:]
		n.seq++
		ev.Seq = n.seq
		ev.At = n.clock
		n.delivered = append(n.delivered, ev)
		for _, member := range n.members {
			member.sched.AdvanceTo(n.clock)
			member.m.Apply(ev)
		}
	}
}

// advance moves the shared clock forward in relay-sized ticks
func (n *loopback) advance(d time.Duration) {
	until := n.clock + d.Milliseconds()
	for n.clock < until {
		n.clock = min(n.clock+n.step, until)
		for _, member := range n.members {
			member.sched.AdvanceTo(n.clock)
		}
		n.flush()
	}
}

func (n *loopback) deliveredOn(topic string) int {
	count := 0
	for _, ev := range n.delivered {
		if ev.Topic == topic {
			count++
		}
	}
	return count
}

// wordList returns n distinct words: a, b, ..., z, aa, ab, ...
func wordList(n int) []string {
	words := make([]string, n)
	for i := range words {
		if i < 26 {
			words[i] = string(rune('a' + i))
		} else {
			words[i] = string(rune('a'+i/26-1)) + string(rune('a'+i%26))
		}
	}
	return words
}

func spaceSettings() Settings {
	return Settings{
		Theme:            "space",
		TargetWordCount:  30,
		TimeLimitSeconds: 60,
		MaxPlayers:       4,
		Words:            wordList(30),
	}
}
