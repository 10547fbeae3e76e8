// Package lobby implements LobbyRegistry, the authoritative in-memory
// lobby state machine from spec.md §4.5. It is the direct generalization
// of the teacher's internal/lobby package (Lobby, LobbyStore) from a
// chat-and-rules lobby into the two-seat matchmaking state machine this
// spec requires: the per-lobby sync.Mutex and map-of-pointers LobbyStore
// shape are kept; the ready/countdown/broadcast logic that lived
// directly on the teacher's Lobby struct is decomposed into calls out to
// the broadcaster, countdown, and eventsink collaborators, since this
// spec requires those to be independently swappable.
package lobby

import (
	"sync"
	"time"

	"github.com/duomatch/lobby-coordinator/internal/core"
)

// member is one seated player. Exported via snapshotLocked(), never directly.
type member struct {
	deviceID string
	userName string
	isReady  bool
	joinedAt time.Time
}

// entry is the live, mutable lobby state. All reads and writes of a given
// entry's fields happen under entry.mu, per spec.md §5's per-lobby
// critical section rule.
type entry struct {
	mu sync.Mutex

	id             string
	code           string
	status         core.LobbyStatus
	maxPlayers     int
	members        []member // insertion order; tie-break for ordering, per spec.md §3
	countdownStart *time.Time
	createdAt      time.Time
	updatedAt      time.Time
}

// snapshotLocked builds the public core.Lobby view. Caller must hold the
// entry's lock (enforced by convention, not the type system, matching the
// teacher's Unsafe-suffix methods).
func (e *entry) snapshotLocked() core.Lobby {
	members := make([]core.Member, len(e.members))
	for i, m := range e.members {
		members[i] = core.Member{
			DeviceID: m.deviceID,
			UserName: m.userName,
			IsReady:  m.isReady,
			JoinedAt: m.joinedAt,
		}
	}
	var countdownStart *time.Time
	if e.countdownStart != nil {
		t := *e.countdownStart
		countdownStart = &t
	}
	return core.Lobby{
		ID:                 e.id,
		Code:               e.code,
		Status:             e.status,
		MaxPlayers:         e.maxPlayers,
		CurrentPlayers:     len(e.members),
		Members:            members,
		CountdownStartTime: countdownStart,
		CreatedAt:          e.createdAt,
		UpdatedAt:          e.updatedAt,
	}
}

func (e *entry) indexOfLocked(deviceID string) int {
	for i, m := range e.members {
		if m.deviceID == deviceID {
			return i
		}
	}
	return -1
}

func (e *entry) allReadyLocked() bool {
	if len(e.members) != e.maxPlayers {
		return false
	}
	for _, m := range e.members {
		if !m.isReady {
			return false
		}
	}
	return true
}

// resetReadyLocked clears every member's ready flag, per spec.md §4.5's
// "any membership change unconditionally resets readies".
func (e *entry) resetReadyLocked() {
	for i := range e.members {
		e.members[i].isReady = false
	}
}
