// Package signaling relays WebRTC negotiation frames between two peers in
// a room. The relay is stateless: peers carry their own sub-protocol
// inside the payload and the server forwards the original frame verbatim.
package signaling

import (
	"go.uber.org/zap"

	"collabrelay/internal/protocol"
)

// Forwarder is the point-to-point send path of a room.
type Forwarder interface {
	ForwardToClient(targetID string, messageType int, data []byte)
}

// IsSignalingMessage reports whether t is one of the three WebRTC
// negotiation types.
func IsSignalingMessage(t string) bool {
	switch t {
	case protocol.TypeRTCOffer, protocol.TypeRTCAnswer, protocol.TypeRTCICECandidate:
		return true
	}
	return false
}

// Relay forwards the sender's original frame to the addressed peer.
// Signaling is strictly point-to-point: a frame without a target is
// dropped, never broadcast. A stale target is the room's concern and is
// silently skipped there.
func Relay(room Forwarder, senderID, targetID string, messageType int, rawFrame []byte) {
	if targetID == "" {
		zap.L().Debug("signaling.drop_untargeted", zap.String("sender", senderID))
		return
	}
	room.ForwardToClient(targetID, messageType, rawFrame)
}
