// Package identity carries the authenticated principal and peer address of the
// exchange being processed.
//
// Each execution unit (a server worker goroutine) owns one Slots value and
// reuses it for every exchange it runs. The value reaches handlers through the
// request context, and the authenticating processor clears it when the
// exchange ends, so a reused worker never exposes a previous caller's identity.
package identity

import "sync"

// Slots holds the username and peer address of the current exchange.
//
// Both slots are optional. A nil *Slots behaves as a permanently empty store:
// reads report absent and writes are dropped.
type Slots struct {
	mu       sync.RWMutex
	username *string
	peer     *string
}

// NewSlots returns an empty slot set.
func NewSlots() *Slots {
	return &Slots{}
}

// SetUsername overwrites the username slot.
func (s *Slots) SetUsername(name string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.username = &name
	s.mu.Unlock()
}

// SetPeerAddress overwrites the peer address slot.
func (s *Slots) SetPeerAddress(addr string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.peer = &addr
	s.mu.Unlock()
}

// Username returns the username and whether it is set.
func (s *Slots) Username() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.username == nil {
		return "", false
	}
	return *s.username, true
}

// PeerAddress returns the peer IP address and whether it is set.
func (s *Slots) PeerAddress() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.peer == nil {
		return "", false
	}
	return *s.peer, true
}

// Clear empties both slots. Clearing an empty set is a no-op.
func (s *Slots) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.username = nil
	s.peer = nil
	s.mu.Unlock()
}

// IsEmpty reports whether neither slot is set.
func (s *Slots) IsEmpty() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username == nil && s.peer == nil
}

// Snapshot is a point-in-time copy of a slot set.
type Snapshot struct {
	Username    string
	HasUsername bool
	PeerAddress string
	HasPeer     bool
}

// Snapshot copies both slots under one lock.
func (s *Slots) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snap Snapshot
	if s.username != nil {
		snap.Username, snap.HasUsername = *s.username, true
	}
	if s.peer != nil {
		snap.PeerAddress, snap.HasPeer = *s.peer, true
	}
	return snap
}
