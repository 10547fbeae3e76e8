// internal/lobby/registry.go
package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/duomatch/lobby-coordinator/internal/codemint"
	"github.com/duomatch/lobby-coordinator/internal/core"
)

// Config bundles Registry's tunables, mirroring spec.md §6's environment
// variables (COUNTDOWN_SECONDS, POST_GAME_GRACE_SECONDS, CODE_LENGTH,
// MAX_PLAYERS).
type Config struct {
	CountdownSeconds int
	PostGameGrace    time.Duration
	CodeLength       int
	MaxPlayers       int
}

// Registry is the authoritative in-memory lobby state machine, the
// direct generalization of the teacher's LobbyStore+LobbyManager pair
// into the 2-seat matchmaking state machine this spec requires: a single
// map-of-pointers keyed two ways (by id, by code) plus a device index,
// guarded by one index lock, with each lobby's own fields guarded by its
// own per-lobby lock acquired only after the index lock (spec.md §5).
type Registry struct {
	log *logrus.Logger

	broadcaster core.Broadcaster
	countdown   core.Countdown
	sink        core.EventSink
	directory   core.PlayerDirectory
	persistence core.Persistence
	queue       core.QueueLeaver

	cfg Config

	idxMu       sync.Mutex
	byID        map[string]*entry
	byCode      map[string]*entry
	deviceLobby map[string]string
}

// New constructs a Registry. persistence may be persistence.Noop{} and
// queue may be nil (set later via SetQueue once the matchmaking queue
// exists, breaking the Registry<->Queue construction cycle).
func New(log *logrus.Logger, b core.Broadcaster, cd core.Countdown, sink core.EventSink, dir core.PlayerDirectory, persist core.Persistence, cfg Config) *Registry {
	return &Registry{
		log:         log,
		broadcaster: b,
		countdown:   cd,
		sink:        sink,
		directory:   dir,
		persistence: persist,
		cfg:         cfg,
		byID:        make(map[string]*entry),
		byCode:      make(map[string]*entry),
		deviceLobby: make(map[string]string),
	}
}

// SetQueue wires the matchmaking queue this registry removes devices
// from on direct create/join, the way spec.md §4.5 requires. Called once
// during startup wiring, after both Registry and the queue exist.
func (r *Registry) SetQueue(q core.QueueLeaver) { r.queue = q }

var _ core.Pairer = (*Registry)(nil)

// Create seats deviceID alone in a freshly minted lobby, per spec.md
// §4.5's create operation.
func (r *Registry) Create(ctx context.Context, deviceID string) (core.Lobby, error) {
	name, err := r.directory.ResolveName(ctx, deviceID)
	if err != nil {
		return core.Lobby{}, core.Wrap(core.ErrInternal, "resolve display name", err)
	}

	r.idxMu.Lock()
	if _, busy := r.deviceLobby[deviceID]; busy {
		r.idxMu.Unlock()
		return core.Lobby{}, core.NewError(core.ErrAlreadyInLobby, "device already has an active lobby")
	}
	existingCodes := make(map[string]struct{}, len(r.byCode))
	for code := range r.byCode {
		existingCodes[code] = struct{}{}
	}
	code, err := codemint.Mint(r.cfg.CodeLength, existingCodes)
	if err != nil {
		r.idxMu.Unlock()
		return core.Lobby{}, core.Wrap(core.ErrInternal, "mint invite code", err)
	}

	now := time.Now()
	e := &entry{
		id:         uuid.NewString(),
		code:       code,
		status:     core.StatusWaiting,
		maxPlayers: r.cfg.MaxPlayers,
		members:    []member{{deviceID: deviceID, userName: name, joinedAt: now}},
		createdAt:  now,
		updatedAt:  now,
	}
	r.byID[e.id] = e
	r.byCode[e.code] = e
	r.deviceLobby[deviceID] = e.id
	r.idxMu.Unlock()

	r.removeFromQueue(deviceID)

	e.mu.Lock()
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	r.sink.Record(ctx, core.EventLobbyCreated, map[string]any{"lobby_id": e.id, "code": e.code, "device_id": deviceID})
	r.mirror(snapshot)
	return snapshot, nil
}

// Join seats deviceID into the lobby identified by code, per spec.md
// §4.5's join operation.
func (r *Registry) Join(ctx context.Context, code, deviceID string) (core.Lobby, error) {
	name, err := r.directory.ResolveName(ctx, deviceID)
	if err != nil {
		return core.Lobby{}, core.Wrap(core.ErrInternal, "resolve display name", err)
	}

	r.idxMu.Lock()
	if _, busy := r.deviceLobby[deviceID]; busy {
		r.idxMu.Unlock()
		return core.Lobby{}, core.NewError(core.ErrAlreadyInLobby, "device already has an active lobby")
	}
	e, ok := r.byCode[code]
	if !ok {
		r.idxMu.Unlock()
		return core.Lobby{}, core.NewError(core.ErrNotFound, "no lobby with that code")
	}

	e.mu.Lock()
	if e.status != core.StatusWaiting {
		e.mu.Unlock()
		r.idxMu.Unlock()
		return core.Lobby{}, core.NewError(core.ErrNotJoinable, "lobby is not accepting new players")
	}
	if len(e.members) >= e.maxPlayers {
		e.mu.Unlock()
		r.idxMu.Unlock()
		return core.Lobby{}, core.NewError(core.ErrFull, "lobby is full")
	}

	now := time.Now()
	e.members = append(e.members, member{deviceID: deviceID, userName: name, joinedAt: now})
	// The joiner always starts unready, so the lobby can never become
	// all-ready here; status stays waiting per spec.md §4.5's transition
	// table ("waiting --join-> waiting").
	e.updatedAt = now
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	r.deviceLobby[deviceID] = e.id
	r.idxMu.Unlock()

	r.removeFromQueue(deviceID)

	r.broadcaster.Publish(e.id, core.Event{Type: core.EvtPlayerJoined, Data: snapshot, Timestamp: now})
	r.sink.Record(ctx, core.EventLobbyJoined, map[string]any{"lobby_id": e.id, "device_id": deviceID})
	r.mirror(snapshot)
	return snapshot, nil
}

// Pair implements core.Pairer for MatchmakingQueue.find_match: it seats
// two already-matched devices directly into a new lobby in waiting,
// skipping the invite-code join step. Names arrive pre-resolved (the
// queue resolves them at queue-join time, before taking its own lock),
// so Pair makes no directory round-trip of its own.
func (r *Registry) Pair(ctx context.Context, deviceA, nameA, deviceB, nameB string) (core.Lobby, error) {
	r.idxMu.Lock()
	if _, busy := r.deviceLobby[deviceA]; busy {
		r.idxMu.Unlock()
		return core.Lobby{}, core.NewError(core.ErrAlreadyInLobby, "device already has an active lobby")
	}
	if _, busy := r.deviceLobby[deviceB]; busy {
		r.idxMu.Unlock()
		return core.Lobby{}, core.NewError(core.ErrAlreadyInLobby, "device already has an active lobby")
	}
	existingCodes := make(map[string]struct{}, len(r.byCode))
	for code := range r.byCode {
		existingCodes[code] = struct{}{}
	}
	code, err := codemint.Mint(r.cfg.CodeLength, existingCodes)
	if err != nil {
		r.idxMu.Unlock()
		return core.Lobby{}, core.Wrap(core.ErrInternal, "mint invite code", err)
	}

	now := time.Now()
	// Both paired devices start unready, same as a fresh create, so the
	// lobby sits in waiting until set_ready drives it forward, per
	// spec.md §4.5's pair operation.
	e := &entry{
		id:         uuid.NewString(),
		code:       code,
		status:     core.StatusWaiting,
		maxPlayers: r.cfg.MaxPlayers,
		members: []member{
			{deviceID: deviceA, userName: nameA, joinedAt: now},
			{deviceID: deviceB, userName: nameB, joinedAt: now},
		},
		createdAt: now,
		updatedAt: now,
	}
	r.byID[e.id] = e
	r.byCode[e.code] = e
	r.deviceLobby[deviceA] = e.id
	r.deviceLobby[deviceB] = e.id
	r.idxMu.Unlock()

	e.mu.Lock()
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	r.sink.Record(ctx, core.EventMatchmakingMatchFound, map[string]any{"lobby_id": e.id, "device_a": deviceA, "device_b": deviceB})
	r.mirror(snapshot)
	return snapshot, nil
}

// SetReady toggles deviceID's ready flag and drives the waiting ->
// countdown transition (with ready_check collapsed into this same step,
// per spec.md §9) and the countdown -> waiting abort, per spec.md §4.5.
func (r *Registry) SetReady(ctx context.Context, deviceID string, ready bool) (core.Lobby, error) {
	e, err := r.lookupByDevice(deviceID)
	if err != nil {
		return core.Lobby{}, err
	}

	e.mu.Lock()
	idx := e.indexOfLocked(deviceID)
	if idx < 0 {
		e.mu.Unlock()
		return core.Lobby{}, core.NewError(core.ErrNotInLobby, "device is not a member of any lobby")
	}
	if e.status != core.StatusWaiting && e.status != core.StatusCountdown {
		e.mu.Unlock()
		return core.Lobby{}, core.NewError(core.ErrInvalidState, "lobby is not accepting ready changes in its current state")
	}
	e.members[idx].isReady = ready
	e.updatedAt = time.Now()

	var (
		startedCountdown bool
		abortedCountdown bool
	)
	switch {
	case ready && e.status == core.StatusWaiting && e.allReadyLocked():
		// Collapse ready_check into this same critical section: the
		// lobby is briefly "all ready" before the timer starts, but no
		// external read can observe that intermediate status, per
		// spec.md §4.5's note on ready_check being ephemeral.
		e.status = core.StatusCountdown
		start := time.Now()
		e.countdownStart = &start
		startedCountdown = true
	case !ready && e.status == core.StatusCountdown:
		e.status = core.StatusWaiting
		e.countdownStart = nil
		abortedCountdown = true
	}
	snapshot := e.snapshotLocked()

	if startedCountdown {
		r.countdown.Start(e.id, r.cfg.CountdownSeconds, r.tickFunc(e), r.completeFunc(e))
	}
	if abortedCountdown {
		r.countdown.Cancel(e.id)
	}
	e.mu.Unlock()

	r.broadcaster.Publish(e.id, core.Event{Type: core.EvtReadyStatusChanged, Data: snapshot, Timestamp: snapshot.UpdatedAt})
	r.sink.Record(ctx, core.EventReadyToggle, map[string]any{"lobby_id": e.id, "device_id": deviceID, "is_ready": ready})

	if startedCountdown {
		r.broadcaster.Publish(e.id, core.Event{Type: core.EvtCountdownStarted, Data: snapshot, Timestamp: snapshot.UpdatedAt})
		r.sink.Record(ctx, core.EventCountdownStarted, map[string]any{"lobby_id": e.id})
	}
	if abortedCountdown {
		r.broadcaster.Publish(e.id, core.Event{Type: core.EvtCountdownAborted, Data: snapshot, Timestamp: snapshot.UpdatedAt})
		r.sink.Record(ctx, core.EventCountdownAborted, map[string]any{"lobby_id": e.id})
	}
	r.mirror(snapshot)
	return snapshot, nil
}

// Status returns the current snapshot of the lobby deviceID belongs to.
func (r *Registry) Status(ctx context.Context, deviceID string) (core.Lobby, error) {
	e, err := r.lookupByDevice(deviceID)
	if err != nil {
		return core.Lobby{}, err
	}
	e.mu.Lock()
	snapshot := e.snapshotLocked()
	e.mu.Unlock()
	return snapshot, nil
}

// Leave removes deviceID from its lobby, per spec.md §4.5's leave
// operation: a no-op if the device has no active membership, never an
// error. disconnect distinguishes an explicit leave call from a socket
// drop, which ConnectionHub reports by calling Leave with
// disconnect=true so EventSink records the right event kind.
func (r *Registry) Leave(ctx context.Context, deviceID string, disconnect bool) error {
	r.idxMu.Lock()
	lobbyID, ok := r.deviceLobby[deviceID]
	if !ok {
		r.idxMu.Unlock()
		return nil
	}
	e := r.byID[lobbyID]
	delete(r.deviceLobby, deviceID)
	r.idxMu.Unlock()

	e.mu.Lock()
	idx := e.indexOfLocked(deviceID)
	if idx < 0 {
		// The index pointed at a lobby that no longer lists this device;
		// treat it the same as "never joined" rather than surfacing an
		// internal inconsistency to the caller.
		e.mu.Unlock()
		return nil
	}
	wasCountingDown := e.status == core.StatusCountdown
	e.members = append(e.members[:idx], e.members[idx+1:]...)
	if wasCountingDown {
		e.countdownStart = nil
	}
	if len(e.members) < e.maxPlayers && e.status != core.StatusGameStarted {
		e.status = core.StatusWaiting
	}
	e.resetReadyLocked()
	e.updatedAt = time.Now()
	snapshot := e.snapshotLocked()
	isEmpty := len(e.members) == 0
	e.mu.Unlock()

	if wasCountingDown {
		r.countdown.Cancel(e.id)
	}

	if isEmpty {
		r.idxMu.Lock()
		delete(r.byID, e.id)
		delete(r.byCode, e.code)
		r.idxMu.Unlock()
	}

	leftKind := core.EventLobbyLeft
	if disconnect {
		leftKind = core.EventLobbyLeftOnDisconnect
	}
	r.sink.Record(ctx, leftKind, map[string]any{"lobby_id": e.id, "device_id": deviceID})

	if isEmpty {
		r.broadcaster.Publish(e.id, core.Event{Type: core.EvtLobbyDeleted, Data: map[string]any{"reason": "empty", "lobby": snapshot}, Timestamp: snapshot.UpdatedAt})
		r.sink.Record(ctx, core.EventLobbyDeleted, map[string]any{"lobby_id": e.id, "reason": "empty"})
		go r.persistence.MirrorLobbyDeleted(context.Background(), e.id)
		return nil
	}

	if wasCountingDown {
		r.broadcaster.Publish(e.id, core.Event{Type: core.EvtCountdownAborted, Data: snapshot, Timestamp: snapshot.UpdatedAt})
		r.sink.Record(ctx, core.EventCountdownAborted, map[string]any{"lobby_id": e.id})
	}
	r.broadcaster.Publish(e.id, core.Event{Type: core.EvtPlayerLeft, Data: snapshot, Timestamp: snapshot.UpdatedAt})
	r.mirror(snapshot)
	return nil
}

// IsInLobby implements core.MembershipChecker for MatchmakingQueue.
func (r *Registry) IsInLobby(deviceID string) bool {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()
	_, ok := r.deviceLobby[deviceID]
	return ok
}

func (r *Registry) lookupByDevice(deviceID string) (*entry, error) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()
	lobbyID, ok := r.deviceLobby[deviceID]
	if !ok {
		return nil, core.NewError(core.ErrNotInLobby, "device is not a member of any lobby")
	}
	return r.byID[lobbyID], nil
}

func (r *Registry) removeFromQueue(deviceID string) {
	if r.queue == nil {
		return
	}
	if r.queue.RemoveIfPresent(deviceID) {
		r.log.WithField("device_id", deviceID).Debug("lobby: removed device from matchmaking queue on direct seating")
	}
}

// mirror fires the persistence round-trip in its own goroutine, carrying
// a value snapshot so it never touches the registry's locks, per
// spec.md §5's "no lock held across a persistence round-trip" rule.
func (r *Registry) mirror(snapshot core.Lobby) {
	go r.persistence.MirrorLobby(context.Background(), snapshot)
}

// tickFunc and completeFunc close over a specific *entry so the
// countdown package's callbacks never need to know about Registry's
// index maps, only the one lobby they were started for.
func (r *Registry) tickFunc(e *entry) func(int) {
	return func(secondsRemaining int) {
		e.mu.Lock()
		snapshot := e.snapshotLocked()
		e.mu.Unlock()

		r.broadcaster.Publish(e.id, core.Event{
			Type:      core.EvtCountdownTick,
			Data:      map[string]any{"seconds_remaining": secondsRemaining, "lobby": snapshot},
			Timestamp: time.Now(),
		})
	}
}

func (r *Registry) completeFunc(e *entry) func() {
	return func() {
		e.mu.Lock()
		if e.status != core.StatusCountdown {
			// A concurrent leave already aborted this countdown; the
			// generation counter should have suppressed this call, but
			// guard anyway since state may have moved on regardless.
			e.mu.Unlock()
			return
		}
		e.status = core.StatusGameStarted
		e.updatedAt = time.Now()
		snapshot := e.snapshotLocked()
		e.mu.Unlock()

		r.broadcaster.Publish(e.id, core.Event{Type: core.EvtGameStarted, Data: map[string]any{"lobby_code": e.code}, Timestamp: snapshot.UpdatedAt})
		r.sink.Record(context.Background(), core.EventGameStarted, map[string]any{"lobby_id": e.id})
		r.mirror(snapshot)

		if r.cfg.PostGameGrace > 0 {
			time.AfterFunc(r.cfg.PostGameGrace, func() { r.expireGameStarted(e.id) })
		}
	}
}

// expireGameStarted retires a lobby that has sat in game_started for
// longer than spec.md §6's POST_GAME_GRACE_SECONDS, on the assumption
// that every client has long since moved on to the game itself. A no-op
// if the lobby already left game_started or was already removed (e.g.
// a disconnect-triggered Leave emptied it first).
func (r *Registry) expireGameStarted(lobbyID string) {
	r.idxMu.Lock()
	e, ok := r.byID[lobbyID]
	if !ok {
		r.idxMu.Unlock()
		return
	}

	e.mu.Lock()
	if e.status != core.StatusGameStarted {
		e.mu.Unlock()
		r.idxMu.Unlock()
		return
	}
	snapshot := e.snapshotLocked()
	for _, m := range e.members {
		delete(r.deviceLobby, m.deviceID)
	}
	e.mu.Unlock()

	delete(r.byID, e.id)
	delete(r.byCode, e.code)
	r.idxMu.Unlock()

	r.broadcaster.Publish(e.id, core.Event{Type: core.EvtLobbyDeleted, Data: map[string]any{"reason": "game_started", "lobby": snapshot}, Timestamp: time.Now()})
	r.sink.Record(context.Background(), core.EventLobbyDeleted, map[string]any{"lobby_id": e.id, "reason": "game_started"})
	go r.persistence.MirrorLobbyDeleted(context.Background(), e.id)
}
