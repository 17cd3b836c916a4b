package store_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pong-game-system/models"
	"pong-game-system/store"
)

func TestCreateIsIdempotent(t *testing.T) {
	s := store.NewRoomStore(nil)

	first := s.Create("room-1", true)
	require.NotNil(t, first)
	assert.True(t, first.Public)
	assert.True(t, first.State.Paused, "new rooms start paused")

	second := s.Create("room-1", false)
	assert.Same(t, first, second, "re-creating an existing id returns it untouched")
	assert.True(t, second.Public)
}

func TestCreateGeneratesID(t *testing.T) {
	s := store.NewRoomStore(nil)
	room := s.Create("", false)
	require.NotEmpty(t, room.ID)
	assert.Same(t, room, s.Get(room.ID))
}

func TestAddPlayerRoles(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("room-1", false)

	role, err := s.AddPlayer("room-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "left", role)

	role, err = s.AddPlayer("room-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "right", role)

	_, err = s.AddPlayer("room-1", "carol")
	assert.ErrorIs(t, err, store.ErrRoomFull)
}

func TestAddPlayerRejoinKeepsRole(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("room-1", false)

	_, err := s.AddPlayer("room-1", "alice")
	require.NoError(t, err)
	_, err = s.AddPlayer("room-1", "bob")
	require.NoError(t, err)

	// bob drops and rejoins; the room never considered him gone
	role, err := s.AddPlayer("room-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "right", role)
}

func TestRemovePlayerShiftsRoles(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("room-1", false)
	s.AddPlayer("room-1", "alice")
	s.AddPlayer("room-1", "bob")

	s.RemovePlayer("room-1", "alice")

	role, err := s.AddPlayer("room-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "left", role, "remaining player inherits the left slot")
}

func TestUpdateUnknownRoom(t *testing.T) {
	s := store.NewRoomStore(nil)
	err := s.Update("ghost", func(room *store.Room) error { return nil })
	assert.ErrorIs(t, err, store.ErrRoomNotFound)
}

func TestSnapshotCopies(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("room-1", false)
	s.AddPlayer("room-1", "alice")

	state, players, ok := s.Snapshot("room-1")
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, players)

	// mutating the snapshot must not leak into the live room
	state.Score.Left = 99
	players[0] = "mallory"
	live, _, _ := s.Snapshot("room-1")
	assert.Equal(t, 0, live.Score.Left)

	_, _, ok = s.Snapshot("ghost")
	assert.False(t, ok)
}

func TestDeleteRemovesRoom(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("room-1", false)
	s.Delete("room-1")
	assert.Nil(t, s.Get("room-1"))
	s.Delete("room-1") // second delete is a no-op
}

func TestListRoomsPublicFilter(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("pub", true)
	s.Create("priv", false)
	s.AddPlayer("pub", "alice")

	all := s.ListRooms(false)
	assert.Len(t, all, 2)

	public := s.ListRooms(true)
	require.Len(t, public, 1)
	assert.Equal(t, "pub", public[0].ID)
	assert.Equal(t, 1, public[0].PlayerCount)
}

func TestEphemeralRoomID(t *testing.T) {
	assert.True(t, models.IsEphemeralRoomID("local_abc"))
	assert.False(t, models.IsEphemeralRoomID("tournament-r1-m1"))
}

func TestUpdateReleasesLockAfterPanic(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("room-1", false)

	// the tick loop recovers per-room panics; the room must stay usable after
	func() {
		defer func() {
			require.NotNil(t, recover(), "expected the callback panic to propagate")
		}()
		_ = s.UpdateVolatile("room-1", func(room *store.Room) error {
			panic("boom")
		})
	}()

	done := make(chan struct{})
	go func() {
		_, _, _ = s.Snapshot("room-1")
		_ = s.UpdateVolatile("room-1", func(room *store.Room) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("room lock still held after a panic in the update callback")
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("room-1", false)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.UpdateVolatile("room-1", func(room *store.Room) error {
				room.State.Score.Left++
				return nil
			})
		}()
	}
	wg.Wait()

	state, _, ok := s.Snapshot("room-1")
	require.True(t, ok)
	assert.Equal(t, 100, state.Score.Left)
}
