// Package matchmaking implements MatchmakingQueue, the FIFO pairing
// queue from spec.md §4.6. The teacher has no equivalent (cambia is
// invite-code only); this package is new, grounded on the general
// ordered-queue-entry shape of other_examples' ticket queue
// (UserID/JoinedAt/Position) adapted onto the teacher's lock-guarded-map
// idiom (internal/lobby/lobby_store.go), since this queue is in-memory
// only, never a durable table.
package matchmaking

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/duomatch/lobby-coordinator/internal/core"
)

// queueEntry is one waiting device, FIFO-ordered by joinedAt via its
// position in Queue.order.
type queueEntry struct {
	deviceID string
	userName string
	joinedAt time.Time
}

// Config bundles Queue's tunables, from spec.md §6's QUEUE_ETA_SECONDS.
type Config struct {
	ETASecondsPerPair int
}

// Queue is the process-wide FIFO matchmaking queue. Its own lock is never
// held while calling into LobbyRegistry: when find_match decides to pair
// two waiters it pops both under the lock, releases it, and only then
// calls Pair, which re-checks both devices under the registry's index
// lock (a failed Pair puts both back at the front). Registry.Create/Join
// remove a device from the queue as a fully sequential step outside
// their own lock, so the two locks never nest.
type Queue struct {
	log        *logrus.Logger
	directory  core.PlayerDirectory
	pairer     core.Pairer
	membership core.MembershipChecker
	sink       core.EventSink
	cfg        Config

	mu       sync.Mutex
	order    []*queueEntry
	byDevice map[string]*queueEntry
}

// New constructs a Queue. pairer and membership are typically both
// satisfied by the same *lobby.Registry.
func New(log *logrus.Logger, directory core.PlayerDirectory, pairer core.Pairer, membership core.MembershipChecker, sink core.EventSink, cfg Config) *Queue {
	return &Queue{
		log:        log,
		directory:  directory,
		pairer:     pairer,
		membership: membership,
		sink:       sink,
		cfg:        cfg,
		byDevice:   make(map[string]*queueEntry),
	}
}

var _ core.QueueLeaver = (*Queue)(nil)

// Join enqueues deviceID, per spec.md §4.6's find_match operation. If
// enqueuing immediately completes a pair (another device was already
// waiting), the newly formed lobby is returned and the device is never
// actually left sitting in the queue. Display names are resolved here,
// before any lock is taken, so a later pairing never blocks on a
// directory round-trip while holding q.mu (spec.md §5).
func (q *Queue) Join(ctx context.Context, deviceID string) (*core.Lobby, core.QueueStatus, error) {
	if q.membership != nil && q.membership.IsInLobby(deviceID) {
		return nil, core.QueueStatus{}, core.NewError(core.ErrAlreadyInLobby, "device already has an active lobby")
	}

	name, err := q.directory.ResolveName(ctx, deviceID)
	if err != nil {
		return nil, core.QueueStatus{}, core.Wrap(core.ErrInternal, "resolve display name", err)
	}

	q.mu.Lock()
	if _, exists := q.byDevice[deviceID]; exists {
		// Idempotent: calling find_match again while already queued
		// just reports the existing position, per spec.md §4.6.
		q.mu.Unlock()
		status, _ := q.QueueStatus(ctx, deviceID)
		return nil, status, nil
	}

	e := &queueEntry{deviceID: deviceID, userName: name, joinedAt: time.Now()}
	q.order = append(q.order, e)
	q.byDevice[deviceID] = e

	var a, b *queueEntry
	if len(q.order) >= 2 {
		a, b = q.order[0], q.order[1]
		q.order = q.order[2:]
		delete(q.byDevice, a.deviceID)
		delete(q.byDevice, b.deviceID)
	}
	q.mu.Unlock()

	if a == nil {
		q.sink.Record(ctx, core.EventMatchmakingQueueJoin, map[string]any{"device_id": deviceID})
		status, _ := q.QueueStatus(ctx, deviceID)
		return nil, status, nil
	}

	lobby, err := q.pairer.Pair(ctx, a.deviceID, a.userName, b.deviceID, b.userName)
	if err != nil {
		q.log.WithError(err).Warn("matchmaking: pairing failed, re-queueing both devices")
		q.requeueFront(a, b)
		status, _ := q.QueueStatus(ctx, deviceID)
		return nil, status, nil
	}

	q.sink.Record(ctx, core.EventMatchmakingMatchFound, map[string]any{"device_a": a.deviceID, "device_b": b.deviceID, "lobby_id": lobby.ID})
	return &lobby, core.QueueStatus{}, nil
}

// requeueFront restores a, b to the front of the queue in their
// original relative order, used when Pair fails after they were already
// popped.
func (q *Queue) requeueFront(a, b *queueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.order = append([]*queueEntry{a, b}, q.order...)
	q.byDevice[a.deviceID] = a
	q.byDevice[b.deviceID] = b
}

// Leave removes deviceID from the queue, per spec.md §4.6's leave_queue
// operation: idempotent, never an error when the device was not queued.
func (q *Queue) Leave(ctx context.Context, deviceID string) error {
	if q.RemoveIfPresent(deviceID) {
		q.sink.Record(ctx, core.EventMatchmakingQueueLeave, map[string]any{"device_id": deviceID})
	}
	return nil
}

// RemoveIfPresent implements core.QueueLeaver for LobbyRegistry, so
// create/join can silently drop a device out of the queue when it gets
// seated directly instead.
func (q *Queue) RemoveIfPresent(deviceID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byDevice[deviceID]; !ok {
		return false
	}
	delete(q.byDevice, deviceID)
	for i, e := range q.order {
		if e.deviceID == deviceID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// QueueStatus reports deviceID's current position, per spec.md §4.6's
// queue_status operation. Position is 1-indexed; ETA is a simple
// pairs-ahead heuristic since spec.md leaves the formula unspecified.
func (q *Queue) QueueStatus(ctx context.Context, deviceID string) (core.QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.order {
		if e.deviceID == deviceID {
			position := i + 1
			pairsAhead := (i / 2) + 1
			return core.QueueStatus{
				InQueue:       true,
				QueuePosition: position,
				ETASeconds:    pairsAhead * q.cfg.ETASecondsPerPair,
			}, nil
		}
	}
	return core.QueueStatus{InQueue: false}, nil
}

// PruneExpired removes queue entries older than maxAge, the in-memory
// equivalent of original_source/lobby/matchmaking.py's
// cleanup_expired_queue_entries maintenance routine: a device that
// joined and never returned (and never explicitly left) would otherwise
// sit in the queue forever, since spec.md's leave_queue is the only
// other way out. Returns the number of entries removed.
func (q *Queue) PruneExpired(ctx context.Context, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	q.mu.Lock()
	var kept, removed []*queueEntry
	for _, e := range q.order {
		if e.joinedAt.Before(cutoff) {
			removed = append(removed, e)
			delete(q.byDevice, e.deviceID)
			continue
		}
		kept = append(kept, e)
	}
	q.order = kept
	q.mu.Unlock()

	if len(removed) > 0 {
		ids := make([]string, len(removed))
		for i, e := range removed {
			ids[i] = e.deviceID
		}
		q.sink.Record(ctx, core.EventMatchmakingQueuePruned, map[string]any{"removed_count": len(removed), "device_ids": ids})
	}
	return len(removed)
}
