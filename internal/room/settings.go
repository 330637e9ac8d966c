package room

// Session is the part of a running machine a Negotiator works against
type Session interface {
	Settled() bool
	PlayerCount() int
	Current() Settings
	// Applies settings by value; settle marks them canonical
	Apply(settings Settings, settle bool)
	ScheduleBroadcast(delay Delay, settings Settings)
}

// Delay names one of the two announcement delays
type Delay int

const (
	DelayFirstAnnounce Delay = iota
	DelayCatchUp
)

// Negotiator decides how a room kind reaches one canonical settings value.
// Machine validates settings before handing them over.
type Negotiator interface {
	Init(s Session, supplied *Settings)
	OnCanonical(s Session, settings Settings)
	OnJoined(s Session, id Identity)
}

// Room kinds understood by NegotiatorFor
const (
	KindPush     = "push"
	KindRegistry = "registry"
)

// Returns the negotiator for a room kind; unknown kinds get push
func NegotiatorFor(kind string) Negotiator {
	switch kind {
	case KindRegistry:
		return RegistryNegotiator{}
	default:
		return PushNegotiator{}
	}
}

// PushNegotiator is first-write-wins with delayed re-announcement. The
// creator settles at once and announces after a short delay; any settled
// replica re-announces when someone joins, so the newcomer catches up
// without asking.
type PushNegotiator struct{}

func (PushNegotiator) Init(s Session, supplied *Settings) {
	if supplied == nil {
		s.Apply(DefaultSettings(), false)
		return
	}
	s.Apply(*supplied, true)
	s.ScheduleBroadcast(DelayFirstAnnounce, *supplied)
}

func (PushNegotiator) OnCanonical(s Session, settings Settings) {
	if s.Settled() {
		return
	}
	s.Apply(settings, true)
}

func (PushNegotiator) OnJoined(s Session, id Identity) {
	if s.Settled() && s.PlayerCount() > 1 {
		s.ScheduleBroadcast(DelayCatchUp, s.Current())
	}
}

// RegistryNegotiator serves rooms whose settings are held by the relay's
// registry and handed to every replica on connect. Nothing is announced.
type RegistryNegotiator struct{}

func (RegistryNegotiator) Init(s Session, supplied *Settings) {
	if supplied == nil {
		s.Apply(DefaultSettings(), false)
		return
	}
	s.Apply(*supplied, true)
}

func (RegistryNegotiator) OnCanonical(s Session, settings Settings) {
	if s.Settled() {
		return
	}
	s.Apply(settings, true)
}

func (RegistryNegotiator) OnJoined(Session, Identity) {}
