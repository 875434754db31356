package ws

import (
	"sync"

	"go.uber.org/zap"

	"collabrelay/internal/document"
)

// RoomManager is the process-wide registry of live rooms. Rooms are
// created on first use and destroyed exactly once, synchronously, when
// their last client disconnects.
type RoomManager struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	newDoc document.Factory
}

func NewRoomManager(newDoc document.Factory) *RoomManager {
	if newDoc == nil {
		newDoc = document.NewUpdateLog
	}
	return &RoomManager{
		rooms:  make(map[string]*Room),
		newDoc: newDoc,
	}
}

// GetOrCreate returns the room for id, constructing it at most once even
// under concurrent joins for the same id.
func (rm *RoomManager) GetOrCreate(id string) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.getOrCreateLocked(id)
}

// Join registers a client with the room for id, creating it on first
// use. Lookup and AddClient happen under the registry lock so a join
// can never interleave with a concurrent DestroyIfEmpty and land in a
// room the registry has already forgotten.
func (rm *RoomManager) Join(id, userID string, transport Transport, displayName string, signalingOnly bool) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room := rm.getOrCreateLocked(id)
	room.AddClient(userID, transport, displayName, signalingOnly)
	return room
}

func (rm *RoomManager) getOrCreateLocked(id string) *Room {
	if room, ok := rm.rooms[id]; ok {
		return room
	}
	room := NewRoom(id, rm.newDoc())
	rm.rooms[id] = room
	zap.L().Info("room.created", zap.String("room", id))
	return room
}

// Get looks a room up without creating it.
func (rm *RoomManager) Get(id string) (*Room, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	room, ok := rm.rooms[id]
	return room, ok
}

// Destroy releases the room's document and transports and removes it.
// Destroying an absent id is a no-op.
func (rm *RoomManager) Destroy(id string) {
	rm.mu.Lock()
	room, ok := rm.rooms[id]
	if ok {
		delete(rm.rooms, id)
	}
	rm.mu.Unlock()

	if !ok {
		return
	}
	room.Destroy()
	zap.L().Info("room.destroyed", zap.String("room", id))
}

// DestroyIfEmpty destroys the room only if it still has no clients,
// re-checked under the registry lock. Disconnect handlers use this so a
// join that slipped in after their own empty observation survives.
func (rm *RoomManager) DestroyIfEmpty(id string) bool {
	rm.mu.Lock()
	room, ok := rm.rooms[id]
	if !ok || room.ClientCount() > 0 {
		rm.mu.Unlock()
		return false
	}
	delete(rm.rooms, id)
	rm.mu.Unlock()

	room.Destroy()
	zap.L().Info("room.destroyed", zap.String("room", id))
	return true
}

func (rm *RoomManager) Count() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.rooms)
}

func (rm *RoomManager) ListIDs() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ids := make([]string, 0, len(rm.rooms))
	for id := range rm.rooms {
		ids = append(ids, id)
	}
	return ids
}

// TotalClients sums the client count across rooms, for introspection.
func (rm *RoomManager) TotalClients() int {
	rm.mu.Lock()
	rooms := make([]*Room, 0, len(rm.rooms))
	for _, room := range rm.rooms {
		rooms = append(rooms, room)
	}
	rm.mu.Unlock()

	total := 0
	for _, room := range rooms {
		total += room.ClientCount()
	}
	return total
}

// CloseAll tears every room down; used on shutdown.
func (rm *RoomManager) CloseAll() {
	rm.mu.Lock()
	rooms := rm.rooms
	rm.rooms = make(map[string]*Room)
	rm.mu.Unlock()

	for _, room := range rooms {
		room.Destroy()
	}
}
