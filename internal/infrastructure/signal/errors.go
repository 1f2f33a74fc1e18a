package signal

import "errors"

var (
	errMessageTypeRequired    = errors.New("message type is required")
	errUnknownMessageType     = errors.New("unknown message type")
	errPeerIDMismatch         = errors.New("peerId does not match the socket identity")
	errTargetPeerRequired     = errors.New("target peer is required")
	errUnknownConnectionState = errors.New("unknown connection state")
)
