package memory

import (
	"context"
	"testing"

	"jamlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestRoomRepository_SaveAndFind(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	room, err := domain.NewRoom("r1", "u1", domain.RoomRules{MaxPlayers: 4})
	assert.NoError(t, err)
	assert.NoError(t, repo.Save(ctx, room))

	found, err := repo.FindByID(ctx, "r1")
	assert.NoError(t, err)
	assert.Equal(t, domain.PeerID("u1"), found.OwnerID)
	assert.Equal(t, []domain.PeerID{"u1"}, found.Members)
}

func TestRoomRepository_FindByID_Missing(t *testing.T) {
	repo := NewMemoryRoomRepository()
	_, err := repo.FindByID(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownRoom)
}

func TestRoomRepository_ReadIsolation(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	room, _ := domain.NewRoom("r1", "u1", domain.RoomRules{MaxPlayers: 4})
	repo.Save(ctx, room)

	found, _ := repo.FindByID(ctx, "r1")
	found.Join("u2")

	again, _ := repo.FindByID(ctx, "r1")
	assert.Len(t, again.Members, 1)
}

func TestRoomRepository_FindByOwnerAndActive(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	r1, _ := domain.NewRoom("r1", "u1", domain.RoomRules{MaxPlayers: 4})
	r2, _ := domain.NewRoom("r2", "u1", domain.RoomRules{MaxPlayers: 4})
	r2.Close()
	r3, _ := domain.NewRoom("r3", "u2", domain.RoomRules{MaxPlayers: 4})
	for _, room := range []*domain.Room{r1, r2, r3} {
		repo.Save(ctx, room)
	}

	owned, err := repo.FindByOwnerID(ctx, "u1")
	assert.NoError(t, err)
	assert.Len(t, owned, 2)

	active, err := repo.FindActive(ctx)
	assert.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRoomRepository_Delete(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	room, _ := domain.NewRoom("r1", "u1", domain.RoomRules{MaxPlayers: 4})
	repo.Save(ctx, room)

	assert.NoError(t, repo.Delete(ctx, "r1"))
	_, err := repo.FindByID(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrUnknownRoom)

	assert.ErrorIs(t, repo.Delete(ctx, "r1"), domain.ErrUnknownRoom)
}

func TestConnectionRepository_SaveAndFind(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	ctx := context.Background()

	conn := domain.NewPeerConnection("r1", "a", "b")
	assert.NoError(t, repo.Save(ctx, conn))

	found, err := repo.FindByID(ctx, domain.NewConnectionID("a", "b"))
	assert.NoError(t, err)
	assert.Equal(t, domain.PeerID("a"), found.LocalPeer)

	_, err = repo.FindByID(ctx, domain.NewConnectionID("b", "a"))
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestConnectionRepository_FindByPeerID_EitherDirection(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	ctx := context.Background()

	repo.Save(ctx, domain.NewPeerConnection("r1", "a", "b"))
	repo.Save(ctx, domain.NewPeerConnection("r1", "b", "a"))
	repo.Save(ctx, domain.NewPeerConnection("r1", "c", "d"))

	conns, err := repo.FindByPeerID(ctx, "a")
	assert.NoError(t, err)
	assert.Len(t, conns, 2)

	conns, err = repo.FindByPeerID(ctx, "d")
	assert.NoError(t, err)
	assert.Len(t, conns, 1)
}

func TestConnectionRepository_FindByRoomID(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	ctx := context.Background()

	repo.Save(ctx, domain.NewPeerConnection("r1", "a", "b"))
	repo.Save(ctx, domain.NewPeerConnection("r2", "c", "d"))

	conns, err := repo.FindByRoomID(ctx, "r1")
	assert.NoError(t, err)
	assert.Len(t, conns, 1)
	assert.Equal(t, domain.RoomID("r1"), conns[0].RoomID)
}

func TestConnectionRepository_Delete(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	ctx := context.Background()

	conn := domain.NewPeerConnection("r1", "a", "b")
	repo.Save(ctx, conn)

	assert.NoError(t, repo.Delete(ctx, conn.ID))
	assert.ErrorIs(t, repo.Delete(ctx, conn.ID), domain.ErrConnectionNotFound)
}
