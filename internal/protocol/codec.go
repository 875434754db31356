// Package protocol implements the relay's own wire framing: a tagged
// binary frame carrying one message of the fixed type catalogue. Frames
// built here are sent as single websocket binary messages; pure relays
// (signaling, awareness) bypass the codec and forward the client's
// original frame untouched.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Message type catalogue. Binary-payload types carry opaque CRDT bytes;
// every other type carries a JSON document.
const (
	TypeSyncStep1       = "sync-step1"
	TypeSyncStep2       = "sync-step2"
	TypeSyncUpdate      = "sync-update"
	TypeAwarenessUpdate = "awareness-update"
	TypeRTCOffer        = "rtc-offer"
	TypeRTCAnswer       = "rtc-answer"
	TypeRTCICECandidate = "rtc-ice-candidate"
	TypeRoomJoined      = "room-joined"
	TypeRoomLeft        = "room-left"
	TypeRoomInfo        = "room-info"
	TypePeerJoined      = "peer-joined"
	TypeError           = "error"
)

var (
	ErrUnknownType = errors.New("protocol: unknown message type")
	ErrShortFrame  = errors.New("protocol: frame shorter than minimum")
)

// Message is the logical envelope of one relay frame. Payload holds raw
// bytes for binary types and marshaled JSON for the rest; the class is
// determined by Type alone, never by sniffing the payload.
type Message struct {
	Type     string
	RoomID   string
	SenderID string
	TargetID string
	Payload  []byte
}

var typeTags = map[string]byte{
	TypeSyncStep1:       1,
	TypeSyncStep2:       2,
	TypeSyncUpdate:      3,
	TypeAwarenessUpdate: 4,
	TypeRTCOffer:        5,
	TypeRTCAnswer:       6,
	TypeRTCICECandidate: 7,
	TypeRoomJoined:      8,
	TypeRoomLeft:        9,
	TypeRoomInfo:        10,
	TypePeerJoined:      11,
	TypeError:           12,
}

var tagTypes = func() map[byte]string {
	m := make(map[byte]string, len(typeTags))
	for t, tag := range typeTags {
		m[tag] = t
	}
	return m
}()

// BinaryPayload reports whether t's payload is opaque bytes rather than
// JSON. Unknown types report false.
func BinaryPayload(t string) bool {
	switch t {
	case TypeSyncStep1, TypeSyncStep2, TypeSyncUpdate, TypeAwarenessUpdate:
		return true
	}
	return false
}

// KnownType reports whether t is part of the catalogue.
func KnownType(t string) bool {
	_, ok := typeTags[t]
	return ok
}

const (
	flagSender = 1 << 0
	flagTarget = 1 << 1

	// type tag + one roomId length byte + flags byte
	minFrameSize = 3
)

// Encode serializes m. The frame is:
//
//	[type tag][uvarint roomId len][roomId][flags]
//	[uvarint senderId len][senderId]?  [uvarint targetId len][targetId]?
//	[payload...]
//
// Encoding an unknown type is a caller bug and returns ErrUnknownType.
func Encode(m Message) ([]byte, error) {
	tag, ok := typeTags[m.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}

	buf := make([]byte, 0, minFrameSize+len(m.RoomID)+len(m.SenderID)+len(m.TargetID)+len(m.Payload)+8)
	buf = append(buf, tag)
	buf = appendString(buf, m.RoomID)

	var flags byte
	if m.SenderID != "" {
		flags |= flagSender
	}
	if m.TargetID != "" {
		flags |= flagTarget
	}
	buf = append(buf, flags)
	if m.SenderID != "" {
		buf = appendString(buf, m.SenderID)
	}
	if m.TargetID != "" {
		buf = appendString(buf, m.TargetID)
	}
	return append(buf, m.Payload...), nil
}

// Decode parses a frame produced by Encode. A buffer below the minimum
// frame size returns ErrShortFrame.
func Decode(data []byte) (Message, error) {
	if len(data) < minFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}

	typ, ok := tagTypes[data[0]]
	if !ok {
		return Message{}, fmt.Errorf("%w: tag %d", ErrUnknownType, data[0])
	}
	rest := data[1:]

	roomID, rest, err := readString(rest)
	if err != nil {
		return Message{}, err
	}
	if len(rest) < 1 {
		return Message{}, fmt.Errorf("%w: missing flags", ErrShortFrame)
	}
	flags := rest[0]
	rest = rest[1:]

	m := Message{Type: typ, RoomID: roomID}
	if flags&flagSender != 0 {
		if m.SenderID, rest, err = readString(rest); err != nil {
			return Message{}, err
		}
	}
	if flags&flagTarget != 0 {
		if m.TargetID, rest, err = readString(rest); err != nil {
			return Message{}, err
		}
	}
	m.Payload = make([]byte, len(rest))
	copy(m.Payload, rest)
	return m, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readString(data []byte) (string, []byte, error) {
	size, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < size {
		return "", nil, fmt.Errorf("%w: truncated field", ErrShortFrame)
	}
	return string(data[n : n+int(size)]), data[n+int(size):], nil
}
