package db

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "wordrush-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestDatabaseCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Database should not be nil")
	}
}

func TestInMemoryDatabase(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.CreateRoom("mem", "push", 4, nil)
	require.NoError(t, err)
}

func TestRoomOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	settings := json.RawMessage(`{"theme":"space","target_word_count":30,"time_limit_seconds":60,"max_players":4,"words":["a"]}`)

	room, err := db.CreateRoom("test-room", "registry", 4, settings)
	require.NoError(t, err)
	assert.Equal(t, "test-room", room.ID)
	assert.Equal(t, "registry", room.Kind)
	assert.Equal(t, 4, room.MaxPlayers)
	assert.JSONEq(t, string(settings), string(room.Settings))

	_, err = db.CreateRoom("test-room", "push", 2, nil)
	assert.ErrorIs(t, err, ErrRoomExists)

	_, err = db.GetRoom("non-existent")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	require.NoError(t, db.DeleteRoom("test-room"))
	_, err = db.GetRoom("test-room")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestEnsureRoom(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	first, err := db.EnsureRoom("lobby", "push", 8)
	require.NoError(t, err)
	assert.Nil(t, first.Settings)

	again, err := db.EnsureRoom("lobby", "registry", 2)
	require.NoError(t, err)
	assert.Equal(t, "push", again.Kind)
	assert.Equal(t, 8, again.MaxPlayers)
}

func TestListRooms(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 5; i++ {
		_, err := db.CreateRoom("room-"+string(rune('a'+i)), "push", 4, nil)
		if err != nil {
			t.Fatalf("Failed to create room: %v", err)
		}
	}

	rooms, err := db.ListRooms(10, 0)
	if err != nil {
		t.Fatalf("Failed to list rooms: %v", err)
	}
	if len(rooms) != 5 {
		t.Errorf("Expected 5 rooms, got %d", len(rooms))
	}

	rooms, err = db.ListRooms(2, 0)
	if err != nil {
		t.Fatalf("Failed to list rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("Expected 2 rooms with limit, got %d", len(rooms))
	}

	rooms, err = db.ListRooms(2, 3)
	if err != nil {
		t.Fatalf("Failed to list rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("Expected 2 rooms with offset, got %d", len(rooms))
	}
}

func TestListRoomsIdleSince(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := db.CreateRoom("idle", "push", 4, nil)
	require.NoError(t, err)
	require.NoError(t, db.TouchRoom("idle"))

	ids, err := db.ListRoomsIdleSince(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = db.ListRoomsIdleSince(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"idle"}, ids)
}

func TestDeleteRoomIdleSinceSkipsTouchedRooms(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := db.CreateRoom("joining", "push", 4, nil)
	require.NoError(t, err)

	// touched after the sweep's cutoff
	removed, err := db.DeleteRoomIdleSince("joining", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, removed)
	_, err = db.GetRoom("joining")
	require.NoError(t, err)

	removed, err = db.DeleteRoomIdleSince("joining", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = db.GetRoom("joining")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestEnsureRoomKeepsExistingRoom(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	settings := json.RawMessage(`{"theme":"space"}`)
	_, err := db.CreateRoom("reg", "registry", 3, settings)
	require.NoError(t, err)

	room, err := db.EnsureRoom("reg", "push", 8)
	require.NoError(t, err)
	assert.Equal(t, "registry", room.Kind)
	assert.Equal(t, 3, room.MaxPlayers)
	assert.JSONEq(t, string(settings), string(room.Settings))

	removed, err := db.DeleteRoomIdleSince("reg", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestGetStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := db.CreateRoom("a", "push", 4, nil)
	require.NoError(t, err)
	_, err = db.CreateRoom("b", "registry", 4, json.RawMessage(`{}`))
	require.NoError(t, err)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Rooms)
	assert.Equal(t, 1, stats.RegistryRooms)
}
