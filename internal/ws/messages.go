package ws

import "encoding/json"

// Envelope is the JSON frame clients send inbound. Binary payloads
// (document sync, awareness) arrive base64-encoded in Payload; signaling
// payloads stay opaque JSON and are relayed without inspection.
type Envelope struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// UserInfo is the public identity of one room member.
type UserInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}

// RoomInfoBody answers a fresh join with the current roster (everyone
// but the joiner) and the joiner's own assigned color.
type RoomInfoBody struct {
	Users         []UserInfo `json:"users"`
	AssignedColor string     `json:"assignedColor"`
}

// RoomJoinedBody announces a new member to everyone else.
type RoomJoinedBody struct {
	User UserInfo `json:"user"`
}

// RoomLeftBody announces a departure to the remaining members.
type RoomLeftBody struct {
	UserID string `json:"userId"`
}

// PeerJoinedBody lets signaling-mode clients discover existing peers.
type PeerJoinedBody struct {
	UserID string `json:"userId"`
}
