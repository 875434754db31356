package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabrelay/internal/document"
	"collabrelay/internal/protocol"
)

// palette is the fixed cycle of member colors. The cursor only ever
// advances, so colors collide only once a room has outlived a full cycle.
var palette = [...]string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F",
}

type member struct {
	userID        string
	displayName   string
	color         string
	signalingOnly bool
	transport     Transport
	joinedAt      time.Time
}

func (m *member) info() UserInfo {
	return UserInfo{ID: m.userID, DisplayName: m.displayName, Color: m.color}
}

// Room owns one collaboration session: the authoritative document, the
// member set and every broadcast/relay path. All member and document
// mutation is serialized by r.mu; apply-then-broadcast happens inside a
// single critical section so a joiner's snapshot and later broadcasts
// never overlap.
type Room struct {
	id string

	mu          sync.Mutex
	doc         document.Document
	clients     map[string]*member
	colorCursor int
}

func NewRoom(id string, doc document.Document) *Room {
	return &Room{
		id:      id,
		doc:     doc,
		clients: make(map[string]*member),
	}
}

func (r *Room) ID() string { return r.id }

// AddClient registers a member and brings it up to date: first the full
// document snapshot as sync-step2, then room-info with the roster and
// the member's assigned color. Everyone else hears room-joined.
// Signaling-mode clients additionally learn about each existing
// signaling-mode peer via peer-joined. Joining never fails; transport
// trouble surfaces later as a disconnect.
func (r *Room) AddClient(userID string, transport Transport, displayName string, signalingOnly bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A reconnect with the same id replaces the stale record.
	if old, ok := r.clients[userID]; ok {
		_ = old.transport.Close()
		delete(r.clients, userID)
	}

	if displayName == "" {
		displayName = "user-" + shortID(userID)
	}

	m := &member{
		userID:        userID,
		displayName:   displayName,
		color:         palette[r.colorCursor%len(palette)],
		signalingOnly: signalingOnly,
		transport:     transport,
		joinedAt:      time.Now(),
	}
	r.colorCursor++
	r.clients[userID] = m

	// First contact always gets the complete snapshot, never a diff.
	r.sendFramed(m, protocol.Message{
		Type:    protocol.TypeSyncStep2,
		RoomID:  r.id,
		Payload: r.doc.EncodeState(),
	})

	roster := make([]UserInfo, 0, len(r.clients)-1)
	for _, other := range r.clients {
		if other.userID != userID {
			roster = append(roster, other.info())
		}
	}
	r.sendJSONFramed(m, protocol.TypeRoomInfo, RoomInfoBody{
		Users:         roster,
		AssignedColor: m.color,
	})

	for _, other := range r.clients {
		if other.userID == userID {
			continue
		}
		r.sendJSONFramed(other, protocol.TypeRoomJoined, RoomJoinedBody{User: m.info()})
	}

	if signalingOnly {
		for _, other := range r.clients {
			if other.userID != userID && other.signalingOnly {
				r.sendJSONFramed(m, protocol.TypePeerJoined, PeerJoinedBody{UserID: other.userID})
			}
		}
	}
}

// RemoveClient drops the member and tells the remaining ones. Removing
// an absent id is a no-op so a racing disconnect and explicit leave
// don't double-fire room-left.
func (r *Room) RemoveClient(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[userID]; !ok {
		return
	}
	r.removeLocked(userID)
}

// RemoveClientIf removes userID only while its record still owns
// transport. A reader unwinding after its connection was replaced by a
// same-id reconnect must never evict its successor.
func (r *Room) RemoveClientIf(userID string, transport Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.clients[userID]
	if !ok || m.transport != transport {
		return false
	}
	r.removeLocked(userID)
	return true
}

// removeLocked deletes the record and broadcasts room-left. Caller holds
// r.mu and has verified the record exists.
func (r *Room) removeLocked(userID string) {
	delete(r.clients, userID)
	for _, other := range r.clients {
		r.sendJSONFramed(other, protocol.TypeRoomLeft, RoomLeftBody{UserID: userID})
	}
}

// HandleDocumentMessage routes one decoded document-sync payload.
// sync-step1 carries the sender's state vector and is answered with a
// diff, read-only. sync-step2/sync-update carry an update which is
// applied to the authoritative document and only then rebroadcast to
// everyone else, inside the same critical section.
func (r *Room) HandleDocumentMessage(senderID, msgType string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch msgType {
	case protocol.TypeSyncStep1:
		sender, ok := r.clients[senderID]
		if !ok {
			return
		}
		diff, err := r.doc.Diff(payload)
		if err != nil {
			zap.L().Warn("room.bad_state_vector",
				zap.String("room", r.id), zap.String("sender", senderID), zap.Error(err))
			diff = r.doc.EncodeState()
		}
		r.sendFramed(sender, protocol.Message{
			Type:    protocol.TypeSyncStep2,
			RoomID:  r.id,
			Payload: diff,
		})

	case protocol.TypeSyncStep2, protocol.TypeSyncUpdate:
		if err := r.doc.ApplyUpdate(payload); err != nil {
			zap.L().Warn("room.apply_update_failed",
				zap.String("room", r.id), zap.String("sender", senderID), zap.Error(err))
			return
		}
		for _, other := range r.clients {
			if other.userID == senderID {
				continue
			}
			r.sendFramed(other, protocol.Message{
				Type:     msgType,
				RoomID:   r.id,
				SenderID: senderID,
				Payload:  payload,
			})
		}
	}
}

// HandleAwarenessMessage fans the sender's original frame out verbatim.
// Awareness payloads are opaque here; the room never decodes them.
func (r *Room) HandleAwarenessMessage(senderID string, messageType int, rawFrame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, other := range r.clients {
		if other.userID == senderID {
			continue
		}
		r.sendRaw(other, messageType, rawFrame)
	}
}

// ForwardToClient sends data verbatim to one member. A missing or closed
// target is dropped silently; stale-target signaling is routine during
// connection churn.
func (r *Room) ForwardToClient(targetID string, messageType int, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.clients[targetID]
	if !ok {
		return
	}
	r.sendRaw(target, messageType, data)
}

func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients) == 0
}

func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Room) ClientIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// Destroy releases the document and every transport handle. Only the
// room manager calls this; lifecycle ownership stays single-directional.
func (r *Room) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.clients {
		_ = m.transport.Close()
	}
	r.clients = make(map[string]*member)
	r.doc.Close()
}

// sendFramed encodes one relay message and writes it as a binary frame.
// Caller holds r.mu.
func (r *Room) sendFramed(m *member, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		zap.L().Error("room.encode_failed", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	r.sendRaw(m, websocket.BinaryMessage, frame)
}

// sendJSONFramed marshals body and sends it framed under msgType.
// Caller holds r.mu.
func (r *Room) sendJSONFramed(m *member, msgType string, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		zap.L().Error("room.marshal_failed", zap.String("type", msgType), zap.Error(err))
		return
	}
	r.sendFramed(m, protocol.Message{Type: msgType, RoomID: r.id, Payload: payload})
}

// sendRaw writes with the open-socket guard: a closed transport is
// skipped, and a write error only logs since disconnect detection is the
// read side's job. Caller holds r.mu.
func (r *Room) sendRaw(m *member, messageType int, data []byte) {
	if !m.transport.Open() {
		return
	}
	if err := m.transport.Send(messageType, data); err != nil {
		zap.L().Debug("room.send_failed",
			zap.String("room", r.id), zap.String("user", m.userID), zap.Error(err))
	}
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
