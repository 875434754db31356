// Package presence is the client-side roster and activity state machine
// that consumes the relay's room-joined / room-left / presence-update
// events. It lives server-side only so the wire contract stays in one
// module; the relay itself never imports it.
package presence

import (
	"sync"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
	StatusAway   Status = "away"
)

// User identifies one participant as announced by the relay.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}

// Record is the tracked presence of one remote user.
type Record struct {
	User            User
	Status          Status
	FocusedWindowID string
	JoinedAt        time.Time
}

// Tracker holds the local user's activity status and the remote roster.
// Idle/away detection timers belong to the embedding application; the
// tracker only stores transitions fed to it.
type Tracker struct {
	mu     sync.Mutex
	status Status
	roster map[string]*Record

	onStatusChange func(Status)
	joinSubs       map[int]func(Record)
	leaveSubs      map[int]func(string)
	nextSub        int
}

func NewTracker(onStatusChange func(Status)) *Tracker {
	return &Tracker{
		status:         StatusActive,
		roster:         make(map[string]*Record),
		onStatusChange: onStatusChange,
		joinSubs:       make(map[int]func(Record)),
		leaveSubs:      make(map[int]func(string)),
	}
}

// Status returns the local user's current status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus transitions the local status. Setting the current status
// again is a no-op and emits nothing, so redundant timer ticks never
// cause network chatter.
func (t *Tracker) SetStatus(s Status) {
	t.mu.Lock()
	if s == t.status {
		t.mu.Unlock()
		return
	}
	t.status = s
	cb := t.onStatusChange
	t.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}

// HandleUserJoined inserts a roster record for a newly announced user.
func (t *Tracker) HandleUserJoined(u User, joinedAt time.Time) {
	rec := Record{User: u, Status: StatusActive, JoinedAt: joinedAt}

	t.mu.Lock()
	t.roster[u.ID] = &rec
	subs := make([]func(Record), 0, len(t.joinSubs))
	for _, fn := range t.joinSubs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(rec)
	}
}

// HandleUserLeft drops the record. Unknown ids are ignored and emit
// nothing.
func (t *Tracker) HandleUserLeft(userID string) {
	t.mu.Lock()
	if _, ok := t.roster[userID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.roster, userID)
	subs := make([]func(string), 0, len(t.leaveSubs))
	for _, fn := range t.leaveSubs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(userID)
	}
}

// HandleRemotePresenceUpdate mutates a known record in place; updates for
// users that never joined are silently ignored.
func (t *Tracker) HandleRemotePresenceUpdate(userID string, status Status, focusedWindowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.roster[userID]
	if !ok {
		return
	}
	rec.Status = status
	rec.FocusedWindowID = focusedWindowID
}

// Get returns a copy of one remote user's record.
func (t *Tracker) Get(userID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.roster[userID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Roster returns a copy of every tracked record.
func (t *Tracker) Roster() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, 0, len(t.roster))
	for _, rec := range t.roster {
		out = append(out, *rec)
	}
	return out
}

// OnUserJoined subscribes to join events. The returned func removes
// exactly this listener.
func (t *Tracker) OnUserJoined(fn func(Record)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.joinSubs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.joinSubs, id)
		t.mu.Unlock()
	}
}

// OnUserLeft subscribes to leave events.
func (t *Tracker) OnUserLeft(fn func(string)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.leaveSubs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.leaveSubs, id)
		t.mu.Unlock()
	}
}
