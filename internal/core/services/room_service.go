package services

import (
	"context"
	"fmt"

	"jamlink/internal/core/domain"
	"jamlink/internal/core/events"
	"jamlink/internal/core/ports"
	"jamlink/pkg/utils"

	"go.uber.org/zap"
)

type roomService struct {
	roomRepo  ports.RoomRepository
	publisher *events.Publisher
	logger    *zap.SugaredLogger
}

// NewRoomService wires the room lifecycle use-cases.
func NewRoomService(roomRepo ports.RoomRepository, publisher *events.Publisher, logger *zap.Logger) ports.RoomService {
	return &roomService{
		roomRepo:  roomRepo,
		publisher: publisher,
		logger:    logger.Sugar(),
	}
}

func (s *roomService) CreateRoom(ctx context.Context, ownerID domain.PeerID, rules domain.RoomRules) (*domain.Room, error) {
	room, err := domain.NewRoom(domain.RoomID(utils.GenerateRoomID()), ownerID, rules)
	if err != nil {
		return nil, err
	}

	if err := s.roomRepo.Save(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to save room: %w", err)
	}

	s.flushEvents(ctx, room)
	s.logger.Infow("room created", "room_id", room.ID, "owner_id", ownerID)
	return room, nil
}

func (s *roomService) GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	return s.roomRepo.FindByID(ctx, roomID)
}

func (s *roomService) JoinRoom(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) (*domain.Room, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if err := room.Join(peerID); err != nil {
		return nil, err
	}

	if err := s.roomRepo.Save(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to save room: %w", err)
	}

	s.flushEvents(ctx, room)
	return room, nil
}

func (s *roomService) LeaveRoom(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) (*domain.Room, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if err := room.Leave(peerID); err != nil {
		return nil, err
	}

	// A room that auto-closed on last leave is gone for good.
	if !room.Active && len(room.Members) == 0 {
		if err := s.roomRepo.Delete(ctx, roomID); err != nil {
			return nil, fmt.Errorf("failed to delete closed room: %w", err)
		}
	} else if err := s.roomRepo.Save(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to save room: %w", err)
	}

	s.flushEvents(ctx, room)
	return room, nil
}

func (s *roomService) UpdateRules(ctx context.Context, roomID domain.RoomID, ownerID domain.PeerID, rules domain.RoomRules) (*domain.Room, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if !room.IsOwner(ownerID) {
		return nil, domain.ErrNotRoomOwner
	}

	if err := room.UpdateRules(rules); err != nil {
		return nil, err
	}

	if err := s.roomRepo.Save(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to save room: %w", err)
	}

	s.flushEvents(ctx, room)
	return room, nil
}

func (s *roomService) CloseRoom(ctx context.Context, roomID domain.RoomID, ownerID domain.PeerID) error {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return err
	}

	if !room.IsOwner(ownerID) {
		return domain.ErrNotRoomOwner
	}

	if err := room.Close(); err != nil {
		return err
	}

	if len(room.Members) == 0 {
		if err := s.roomRepo.Delete(ctx, roomID); err != nil {
			return fmt.Errorf("failed to delete closed room: %w", err)
		}
	} else if err := s.roomRepo.Save(ctx, room); err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}

	s.flushEvents(ctx, room)
	s.logger.Infow("room closed", "room_id", roomID)
	return nil
}

func (s *roomService) flushEvents(ctx context.Context, room *domain.Room) {
	if err := s.publisher.PublishAll(ctx, room.PullDomainEvents()); err != nil {
		s.logger.Warnw("failed to publish room events", "room_id", room.ID, "error", err)
	}
}
