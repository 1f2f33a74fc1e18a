package domain

import "errors"

var (
	// Validation errors
	ErrInvalidRoomRules = errors.New("invalid room rules")
	ErrUnknownRoom      = errors.New("room not found")
	ErrUnknownPeer      = errors.New("peer not found")
	ErrNotRoomOwner     = errors.New("peer is not the room owner")

	// State errors
	ErrRoomInactive  = errors.New("room is not active")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyJoined = errors.New("peer already joined the room")
	ErrNotAMember    = errors.New("peer is not a member of the room")
	ErrAlreadyClosed = errors.New("room is already closed")

	ErrConnectionNotFound = errors.New("peer connection not found")
)
