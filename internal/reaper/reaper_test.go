package reaper

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/wordrush/internal/db"
)

type liveRooms map[string]bool

func (l liveRooms) HasRoom(id string) bool { return l[id] }

type failingStore struct{}

func (failingStore) ListRoomsIdleSince(time.Time) ([]string, error) {
	return nil, errors.New("boom")
}

func (failingStore) DeleteRoomIdleSince(string, time.Time) (bool, error) { return false, nil }

// joinRaceStore lists a room as idle, then sees it touched by a joining
// member before the delete runs
type joinRaceStore struct {
	listCutoff   time.Time
	deleteCutoff time.Time
}

func (s *joinRaceStore) ListRoomsIdleSince(cutoff time.Time) ([]string, error) {
	s.listCutoff = cutoff
	return []string{"joining"}, nil
}

func (s *joinRaceStore) DeleteRoomIdleSince(id string, cutoff time.Time) (bool, error) {
	s.deleteCutoff = cutoff
	return false, nil
}

func setupTestDB(t *testing.T) *db.Database {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestSweepRemovesIdleRooms(t *testing.T) {
	database := setupTestDB(t)
	_, err := database.CreateRoom("idle", "push", 4, nil)
	require.NoError(t, err)
	_, err = database.CreateRoom("busy", "push", 4, nil)
	require.NoError(t, err)

	svc := New(database, liveRooms{"busy": true}, Config{Interval: time.Hour, TTL: time.Minute})
	svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	reaped, err := svc.SweepNow()
	require.NoError(t, err)
	assert.Equal(t, []string{"idle"}, reaped)

	_, err = database.GetRoom("idle")
	assert.ErrorIs(t, err, db.ErrRoomNotFound)
	_, err = database.GetRoom("busy")
	assert.NoError(t, err)
}

func TestSweepKeepsFreshRooms(t *testing.T) {
	database := setupTestDB(t)
	_, err := database.CreateRoom("fresh", "push", 4, nil)
	require.NoError(t, err)

	svc := New(database, nil, DefaultConfig())
	reaped, err := svc.SweepNow()
	require.NoError(t, err)
	assert.Empty(t, reaped)
}

func TestSweepReportsStoreErrors(t *testing.T) {
	svc := New(failingStore{}, nil, DefaultConfig())
	_, err := svc.SweepNow()
	assert.Error(t, err)
}

func TestSweepSparesRoomTouchedWhileJoining(t *testing.T) {
	store := &joinRaceStore{}
	svc := New(store, liveRooms{}, DefaultConfig())

	reaped, err := svc.SweepNow()
	require.NoError(t, err)
	assert.Empty(t, reaped)
	assert.Equal(t, store.listCutoff, store.deleteCutoff)
}

func TestNewFillsZeroConfig(t *testing.T) {
	svc := New(failingStore{}, nil, Config{})
	assert.Equal(t, DefaultConfig(), svc.config)

	svc = New(failingStore{}, nil, Config{TTL: time.Second})
	assert.Equal(t, time.Second, svc.config.TTL)
	assert.Equal(t, DefaultConfig().Interval, svc.config.Interval)
}

func TestStartStop(t *testing.T) {
	svc := New(setupTestDB(t), nil, Config{Interval: 10 * time.Millisecond, TTL: time.Minute})
	svc.Start()
	time.Sleep(30 * time.Millisecond)
	svc.Stop()
	svc.Stop()
}
