package lobby

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/duomatch/lobby-coordinator/internal/core"
)

// fakeDirectory resolves every device to a fixed name, or the device id
// itself if no name was registered, avoiding a real persistence round-trip.
type fakeDirectory struct {
	names map[string]string
}

func newFakeDirectory() *fakeDirectory { return &fakeDirectory{names: make(map[string]string)} }

func (d *fakeDirectory) ResolveName(ctx context.Context, deviceID string) (string, error) {
	if name, ok := d.names[deviceID]; ok {
		return name, nil
	}
	return deviceID, nil
}

// fakeBroadcaster records every publish in order instead of fanning out
// over real subscriber lanes, so a test can assert on the event sequence.
type fakeBroadcaster struct {
	mu        sync.Mutex
	published []core.Event
}

func newFakeBroadcaster() *fakeBroadcaster { return &fakeBroadcaster{} }

func (b *fakeBroadcaster) Subscribe(lobbyID string, sub core.Subscriber)   {}
func (b *fakeBroadcaster) Unsubscribe(lobbyID string, sub core.Subscriber) {}
func (b *fakeBroadcaster) PublishTo(sub core.Subscriber, evt core.Event)   {}

func (b *fakeBroadcaster) Publish(lobbyID string, evt core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, evt)
}

func (b *fakeBroadcaster) events() []core.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.Event, len(b.published))
	copy(out, b.published)
	return out
}

func (b *fakeBroadcaster) lastType() core.BroadcastEventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		return ""
	}
	return b.published[len(b.published)-1].Type
}

func (b *fakeBroadcaster) lastEvent() core.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		return core.Event{}
	}
	return b.published[len(b.published)-1]
}

// fakeSink records every event kind recorded against it.
type fakeSink struct {
	mu      sync.Mutex
	kinds   []core.EventKind
	lastOf  map[core.EventKind]map[string]any
}

func newFakeSink() *fakeSink {
	return &fakeSink{lastOf: make(map[core.EventKind]map[string]any)}
}

func (s *fakeSink) Record(ctx context.Context, kind core.EventKind, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
	s.lastOf[kind] = fields
}

func (s *fakeSink) count(kind core.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// fakePersistence records mirror calls without touching a real database.
type fakePersistence struct {
	mu        sync.Mutex
	mirrored  []core.Lobby
	deleted   []string
	done      chan struct{}
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{done: make(chan struct{}, 64)}
}

func (p *fakePersistence) MirrorLobby(ctx context.Context, lobby core.Lobby) {
	p.mu.Lock()
	p.mirrored = append(p.mirrored, lobby)
	p.mu.Unlock()
	p.done <- struct{}{}
}

func (p *fakePersistence) MirrorLobbyDeleted(ctx context.Context, lobbyID string) {
	p.mu.Lock()
	p.deleted = append(p.deleted, lobbyID)
	p.mu.Unlock()
	p.done <- struct{}{}
}

// waitMirror drains one async mirror call, since Registry always fires
// persistence from its own goroutine.
func (p *fakePersistence) waitMirror(t *testing.T) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async persistence mirror")
	}
}

// fakeCountdown is a synchronous stand-in for countdown.Timer: Start only
// marks the lobby active and never calls onTick; a test calls fire to run
// onComplete under its own control, rather than on a real per-second
// ticker, so registry tests can drive a countdown to completion or
// interrupt it deterministically.
type fakeCountdown struct {
	mu     sync.Mutex
	active map[string]bool
}

func newFakeCountdown() *fakeCountdown {
	return &fakeCountdown{active: make(map[string]bool)}
}

func (c *fakeCountdown) Start(lobbyID string, duration int, onTick func(int), onComplete func()) {
	c.mu.Lock()
	c.active[lobbyID] = true
	c.mu.Unlock()
}

func (c *fakeCountdown) Cancel(lobbyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, lobbyID)
}

func (c *fakeCountdown) Active(lobbyID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[lobbyID]
}

// fire invokes onComplete for a lobby still active under this fake,
// simulating the real timer reaching zero.
func (c *fakeCountdown) fire(lobbyID string, onComplete func()) {
	c.mu.Lock()
	ok := c.active[lobbyID]
	delete(c.active, lobbyID)
	c.mu.Unlock()
	if ok {
		onComplete()
	}
}

func newTestRegistry() (*Registry, *fakeBroadcaster, *fakeCountdown, *fakeSink, *fakePersistence) {
	b := newFakeBroadcaster()
	cd := newFakeCountdown()
	sink := newFakeSink()
	persist := newFakePersistence()
	dir := newFakeDirectory()
	r := New(testLogger(), b, cd, sink, dir, persist, Config{
		CountdownSeconds: 3,
		CodeLength:       6,
		MaxPlayers:       2,
	})
	return r, b, cd, sink, persist
}

func TestRegistryCreateSeatsLoneDevice(t *testing.T) {
	r, _, _, sink, persist := newTestRegistry()
	ctx := context.Background()

	lobby, err := r.Create(ctx, "device-a")
	require.NoError(t, err)
	require.Equal(t, core.StatusWaiting, lobby.Status)
	require.Equal(t, 1, lobby.CurrentPlayers)
	require.Len(t, lobby.Code, 6)
	require.Equal(t, 1, sink.count(core.EventLobbyCreated))
	persist.waitMirror(t)

	_, err = r.Create(ctx, "device-a")
	require.Equal(t, core.ErrAlreadyInLobby, core.KindOf(err))
}

func TestRegistryJoinFillsLobbyButStaysWaiting(t *testing.T) {
	r, b, _, sink, persist := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "device-a")
	require.NoError(t, err)
	persist.waitMirror(t)

	joined, err := r.Join(ctx, created.Code, "device-b")
	require.NoError(t, err)
	// The joiner always starts unready, so the lobby can never be
	// all-ready at join time; status stays waiting until set_ready.
	require.Equal(t, core.StatusWaiting, joined.Status)
	require.Equal(t, 2, joined.CurrentPlayers)
	require.Equal(t, core.EvtPlayerJoined, b.lastType())
	require.Equal(t, 1, sink.count(core.EventLobbyJoined))
	persist.waitMirror(t)

	_, err = r.Join(ctx, "ZZZZZZ", "device-c")
	require.Equal(t, core.ErrNotFound, core.KindOf(err))
}

func TestRegistryJoinRejectsFullLobby(t *testing.T) {
	r, _, _, _, persist := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "device-a")
	require.NoError(t, err)
	persist.waitMirror(t)

	_, err = r.Join(ctx, created.Code, "device-b")
	require.NoError(t, err)
	persist.waitMirror(t)

	_, err = r.Join(ctx, created.Code, "device-c")
	require.Equal(t, core.ErrFull, core.KindOf(err))
}

// TestRegistryFullReadyFlowStartsCountdownAndGame exercises spec.md §8
// scenario 1: create, join, both ready, countdown completes, game starts.
func TestRegistryFullReadyFlowStartsCountdownAndGame(t *testing.T) {
	r, b, cd, sink, persist := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "device-a")
	require.NoError(t, err)
	persist.waitMirror(t)
	_, err = r.Join(ctx, created.Code, "device-b")
	require.NoError(t, err)
	persist.waitMirror(t)

	lobby, err := r.SetReady(ctx, "device-a", true)
	require.NoError(t, err)
	require.Equal(t, core.StatusWaiting, lobby.Status) // device-b still unready; ready_check is never externally observable
	persist.waitMirror(t)

	lobby, err = r.SetReady(ctx, "device-b", true)
	require.NoError(t, err)
	require.Equal(t, core.StatusCountdown, lobby.Status)
	require.NotNil(t, lobby.CountdownStartTime)
	require.True(t, cd.Active(lobby.ID))
	require.Equal(t, core.EvtCountdownStarted, b.lastType())
	require.Equal(t, 1, sink.count(core.EventCountdownStarted))
	persist.waitMirror(t)

	cd.fire(lobby.ID, r.completeFunc(r.byID[lobby.ID]))
	persist.waitMirror(t)

	final, err := r.Status(ctx, "device-a")
	require.NoError(t, err)
	require.Equal(t, core.StatusGameStarted, final.Status)
	require.Equal(t, core.EvtGameStarted, b.lastType())
	require.Equal(t, 1, sink.count(core.EventGameStarted))

	// game_started carries lobby_code so a client can route the player into
	// the actual game session (spec.md §4.3, §8 scenario 1).
	gameStartedData, ok := b.lastEvent().Data.(map[string]any)
	require.True(t, ok, "game_started event data should be a map")
	require.Equal(t, lobby.Code, gameStartedData["lobby_code"])
}

// TestRegistryUnreadyAbortsCountdown exercises spec.md §8 scenario 2: one
// player un-readies mid-countdown, returning the lobby to waiting.
func TestRegistryUnreadyAbortsCountdown(t *testing.T) {
	r, b, cd, sink, persist := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "device-a")
	require.NoError(t, err)
	persist.waitMirror(t)
	_, err = r.Join(ctx, created.Code, "device-b")
	require.NoError(t, err)
	persist.waitMirror(t)

	_, err = r.SetReady(ctx, "device-a", true)
	require.NoError(t, err)
	persist.waitMirror(t)
	lobby, err := r.SetReady(ctx, "device-b", true)
	require.NoError(t, err)
	persist.waitMirror(t)
	require.True(t, cd.Active(lobby.ID))

	lobby, err = r.SetReady(ctx, "device-a", false)
	require.NoError(t, err)
	require.Equal(t, core.StatusWaiting, lobby.Status)
	require.Nil(t, lobby.CountdownStartTime)
	require.False(t, cd.Active(lobby.ID))
	require.Equal(t, core.EvtCountdownAborted, b.lastType())
	require.Equal(t, 1, sink.count(core.EventCountdownAborted))
	persist.waitMirror(t)
}

// TestRegistryDisconnectDuringCountdownAbortsAndResetsReadies exercises
// spec.md §8 scenario 3: the remaining player's ready flag is cleared too,
// per the "any membership change resets all readies" invariant.
func TestRegistryDisconnectDuringCountdownAbortsAndResetsReadies(t *testing.T) {
	r, b, cd, sink, persist := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "device-a")
	require.NoError(t, err)
	persist.waitMirror(t)
	_, err = r.Join(ctx, created.Code, "device-b")
	require.NoError(t, err)
	persist.waitMirror(t)
	_, err = r.SetReady(ctx, "device-a", true)
	require.NoError(t, err)
	persist.waitMirror(t)
	lobby, err := r.SetReady(ctx, "device-b", true)
	require.NoError(t, err)
	persist.waitMirror(t)
	require.True(t, cd.Active(lobby.ID))

	err = r.Leave(ctx, "device-b", true)
	require.NoError(t, err)
	require.False(t, cd.Active(lobby.ID))
	require.Equal(t, 1, sink.count(core.EventLobbyLeftOnDisconnect))
	require.Equal(t, 1, sink.count(core.EventCountdownAborted))
	persist.waitMirror(t)

	remaining, err := r.Status(ctx, "device-a")
	require.NoError(t, err)
	require.Equal(t, core.StatusWaiting, remaining.Status)
	require.Len(t, remaining.Members, 1)
	require.False(t, remaining.Members[0].IsReady)
	require.Equal(t, core.EvtPlayerLeft, b.lastType())
}

// TestRegistryLastLeaverDeletesLobby exercises spec.md §8 scenario 4.
func TestRegistryLastLeaverDeletesLobby(t *testing.T) {
	r, b, _, sink, persist := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "device-a")
	require.NoError(t, err)
	persist.waitMirror(t)

	err = r.Leave(ctx, "device-a", false)
	require.NoError(t, err)
	require.Equal(t, core.EvtLobbyDeleted, b.lastType())
	require.Equal(t, 1, sink.count(core.EventLobbyDeleted))

	// lobby_deleted must carry a reason distinguishing an empty-drain
	// deletion from a post-game one (spec.md §4.3, §8 scenario 4).
	deletedData, ok := b.lastEvent().Data.(map[string]any)
	require.True(t, ok, "lobby_deleted event data should be a map")
	require.Equal(t, "empty", deletedData["reason"])
	require.Equal(t, "empty", sink.lastOf[core.EventLobbyDeleted]["reason"])
	persist.waitMirror(t)

	_, err = r.Status(ctx, "device-a")
	require.Equal(t, core.ErrNotInLobby, core.KindOf(err))

	r.idxMu.Lock()
	_, stillByID := r.byID[created.ID]
	_, stillByCode := r.byCode[created.Code]
	r.idxMu.Unlock()
	require.False(t, stillByID)
	require.False(t, stillByCode)
}

// TestRegistryGameStartedGraceExpiryDeletesLobbyWithReason exercises the
// post-countdown grace-period cleanup: once game_started has sat for
// PostGameGrace, the lobby is deleted with reason "game_started", distinct
// from an empty-drain deletion's reason "empty" (spec.md §4.3).
func TestRegistryGameStartedGraceExpiryDeletesLobbyWithReason(t *testing.T) {
	r, b, cd, sink, persist := newTestRegistry()
	r.cfg.PostGameGrace = time.Millisecond
	ctx := context.Background()

	created, err := r.Create(ctx, "device-a")
	require.NoError(t, err)
	persist.waitMirror(t)
	_, err = r.Join(ctx, created.Code, "device-b")
	require.NoError(t, err)
	persist.waitMirror(t)
	_, err = r.SetReady(ctx, "device-a", true)
	require.NoError(t, err)
	persist.waitMirror(t)
	lobby, err := r.SetReady(ctx, "device-b", true)
	require.NoError(t, err)
	persist.waitMirror(t)

	cd.fire(lobby.ID, r.completeFunc(r.byID[lobby.ID]))
	persist.waitMirror(t)

	persist.waitMirror(t) // the grace-expiry path mirrors the delete too
	require.Equal(t, core.EvtLobbyDeleted, b.lastType())

	deletedData, ok := b.lastEvent().Data.(map[string]any)
	require.True(t, ok, "lobby_deleted event data should be a map")
	require.Equal(t, "game_started", deletedData["reason"])
	require.Equal(t, "game_started", sink.lastOf[core.EventLobbyDeleted]["reason"])

	_, err = r.Status(ctx, "device-a")
	require.Equal(t, core.ErrNotInLobby, core.KindOf(err))
}

func TestRegistryPairSeatsTwoDevicesDirectly(t *testing.T) {
	r, _, _, sink, persist := newTestRegistry()
	ctx := context.Background()

	lobby, err := r.Pair(ctx, "device-a", "Alice", "device-b", "Bob")
	require.NoError(t, err)
	require.Equal(t, core.StatusWaiting, lobby.Status) // both seats start unready
	require.Len(t, lobby.Members, 2)
	require.Equal(t, 1, sink.count(core.EventMatchmakingMatchFound))
	persist.waitMirror(t)

	_, err = r.Pair(ctx, "device-a", "Alice", "device-c", "Carol")
	require.Equal(t, core.ErrAlreadyInLobby, core.KindOf(err))
}

func TestRegistryCodesAreDistinctAcrossLobbies(t *testing.T) {
	r, _, _, _, persist := newTestRegistry()
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		lobby, err := r.Pair(ctx, uniqueDevice(i, "a"), "A", uniqueDevice(i, "b"), "B")
		require.NoError(t, err)
		persist.waitMirror(t)
		_, dup := seen[lobby.Code]
		require.False(t, dup, "code %q minted twice", lobby.Code)
		seen[lobby.Code] = struct{}{}
	}
}

func TestRegistrySetReadyIsIdempotent(t *testing.T) {
	r, _, _, _, persist := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "device-a")
	require.NoError(t, err)
	persist.waitMirror(t)

	first, err := r.SetReady(ctx, "device-a", true)
	require.NoError(t, err)
	persist.waitMirror(t)
	second, err := r.SetReady(ctx, "device-a", true)
	require.NoError(t, err)
	persist.waitMirror(t)

	require.Equal(t, first.Members[0].IsReady, second.Members[0].IsReady)
	require.Equal(t, created.Status, second.Status) // still waiting, never reached ready_check alone
}

func uniqueDevice(i int, suffix string) string {
	return "device-" + suffix + "-" + string(rune('A'+i))
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
