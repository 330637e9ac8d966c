package replica

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/wordrush/internal/db"
	"github.com/manpreetbhatti/wordrush/internal/room"
	"github.com/manpreetbhatti/wordrush/internal/ws"
)

const waitFor = 3 * time.Second

func fastConfig() *room.Config {
	cfg := room.DefaultConfig()
	cfg.Timing = room.Timing{
		FirstAnnounce: 60 * time.Millisecond,
		CatchUp:       30 * time.Millisecond,
		Countdown:     50 * time.Millisecond,
		TimerTick:     1000 * time.Millisecond,
	}
	return &cfg
}

func spaceSettings() room.Settings {
	return room.Settings{
		Theme:            "space",
		TargetWordCount:  10,
		TimeLimitSeconds: 30,
		MaxPlayers:       4,
		Words:            []string{"comet", "orbit", "nebula"},
	}
}

// startRelay serves the hub over a live websocket and returns its ws:// url
func startRelay(t *testing.T, registry ws.Registry) string {
	t.Helper()

	cfg := ws.DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	hub := ws.NewHub(registry, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func connect(t *testing.T, url string, opts Options) *Replica {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	r, err := Dial(ctx, url, opts)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()
	t.Cleanup(func() {
		r.Close()
		<-runErr
	})
	return r
}

func eventually(t *testing.T, r *Replica, cond func(room.State) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(r.Machine().Snapshot())
	}, waitFor, 5*time.Millisecond, msg)
}

func TestLateJoinerAdoptsCreatorSettings(t *testing.T) {
	url := startRelay(t, nil)
	settings := spaceSettings()

	creator := connect(t, url, Options{Room: "R1", Settings: &settings, Config: fastConfig()})
	guest := connect(t, url, Options{Room: "R1", Config: fastConfig()})

	eventually(t, guest, func(s room.State) bool {
		return s.SettingsSettled
	}, "guest never settled")

	for _, r := range []*Replica{creator, guest} {
		s := r.Machine().Snapshot()
		assert.Equal(t, settings, s.Settings())
		assert.Equal(t, []room.Identity{creator.Identity(), guest.Identity()}, identities(s))
	}
	host, ok := guest.Machine().Host()
	require.True(t, ok)
	assert.Equal(t, creator.Identity(), host)
}

func TestGameRunsToCompletion(t *testing.T) {
	url := startRelay(t, nil)
	settings := spaceSettings()

	creator := connect(t, url, Options{Room: "R2", Settings: &settings, Config: fastConfig()})
	guest := connect(t, url, Options{Room: "R2", Config: fastConfig()})
	eventually(t, guest, func(s room.State) bool { return s.SettingsSettled }, "guest never settled")

	require.NoError(t, creator.Machine().SubmitInitials("ABC"))
	require.NoError(t, creator.Machine().RequestStart())
	for _, r := range []*Replica{creator, guest} {
		eventually(t, r, func(s room.State) bool { return s.Phase == room.PhaseActive }, "game never started")
	}

	require.NoError(t, creator.Machine().SubmitProgress(3))
	require.NoError(t, guest.Machine().SubmitProgress(3))
	for _, r := range []*Replica{creator, guest} {
		eventually(t, r, func(s room.State) bool { return s.Phase == room.PhaseFinished }, "game never finished")
	}

	a, b := creator.Machine().Snapshot(), guest.Machine().Snapshot()
	assert.Equal(t, a.Roster, b.Roster)
	p, ok := b.Player(creator.Identity())
	require.True(t, ok)
	assert.Equal(t, "ABC", p.DisplayInitials)
}

func TestChatReachesEveryReplica(t *testing.T) {
	url := startRelay(t, nil)

	a := connect(t, url, Options{Room: "R3", Config: fastConfig()})
	b := connect(t, url, Options{Room: "R3", Config: fastConfig()})
	eventually(t, a, func(s room.State) bool { return len(s.Roster) == 2 }, "b never joined")

	require.NoError(t, b.Machine().SubmitChatMessage("  hello  "))
	for _, r := range []*Replica{a, b} {
		eventually(t, r, func(s room.State) bool { return len(s.ChatLog) == 1 }, "chat not delivered")
		msg := r.Machine().Snapshot().ChatLog[0]
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, b.Identity(), msg.SenderIdentity)
	}
	assert.Equal(t, a.Machine().Snapshot().ChatLog, b.Machine().Snapshot().ChatLog)
}

func TestLeaveIsObserved(t *testing.T) {
	url := startRelay(t, nil)

	a := connect(t, url, Options{Room: "R4", Config: fastConfig()})
	b := connect(t, url, Options{Room: "R4", Config: fastConfig()})
	eventually(t, a, func(s room.State) bool { return len(s.Roster) == 2 }, "b never joined")

	b.Close()
	eventually(t, a, func(s room.State) bool { return len(s.Roster) == 1 }, "leave not observed")
	host, _ := a.Machine().Host()
	assert.Equal(t, a.Identity(), host)
}

func TestRegistryRoomSettlesOnConnect(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()

	settings := spaceSettings()
	encoded, err := json.Marshal(settings)
	require.NoError(t, err)
	_, err = database.CreateRoom("REG", room.KindRegistry, settings.MaxPlayers, encoded)
	require.NoError(t, err)

	url := startRelay(t, database)
	ignored := room.DefaultSettings()
	r := connect(t, url, Options{Room: "REG", Settings: &ignored, Config: fastConfig()})

	s := r.Machine().Snapshot()
	assert.True(t, s.SettingsSettled)
	assert.Equal(t, settings, s.Settings())
}

func TestFullRoomIsRejected(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	_, err = database.CreateRoom("TINY", room.KindPush, 2, nil)
	require.NoError(t, err)

	url := startRelay(t, database)
	connect(t, url, Options{Room: "TINY"})
	connect(t, url, Options{Room: "TINY"})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = Dial(ctx, url, Options{Room: "TINY"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestSettledMaxPlayersCapsPushRoom(t *testing.T) {
	url := startRelay(t, nil)
	settings := spaceSettings()
	settings.MaxPlayers = 2

	connect(t, url, Options{Room: "DUO", Settings: &settings, Config: fastConfig()})
	guest := connect(t, url, Options{Room: "DUO", Config: fastConfig()})
	eventually(t, guest, func(s room.State) bool { return s.SettingsSettled }, "guest never settled")
	assert.Equal(t, 2, guest.Machine().Snapshot().MaxPlayers)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err := Dial(ctx, url, Options{Room: "DUO"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPublishAfterClose(t *testing.T) {
	url := startRelay(t, nil)
	r := connect(t, url, Options{Room: "R5"})

	r.Close()
	assert.ErrorIs(t, r.Publish("chat/message", []byte(`{"text":"late"}`)), ErrClosed)
}

func identities(s room.State) []room.Identity {
	ids := make([]room.Identity, len(s.Roster))
	for i, p := range s.Roster {
		ids[i] = p.Identity
	}
	return ids
}
