package core

import "context"

// PlayerDirectory resolves a device id to a display name. The core never
// validates devices beyond presence; per spec.md §3 it delegates entirely
// to this capability.
type PlayerDirectory interface {
	ResolveName(ctx context.Context, deviceID string) (string, error)
}

// Persistence mirrors in-memory lobby state for observability. Per
// spec.md §7, failures here are logged, never rolled back against, and
// never surfaced to the caller.
type Persistence interface {
	MirrorLobby(ctx context.Context, lobby Lobby)
	MirrorLobbyDeleted(ctx context.Context, lobbyID string)
}

// EventSink is the append-only structured log from spec.md §4.2. Best
// effort: a sink failure must never fail the calling core operation.
type EventSink interface {
	Record(ctx context.Context, kind EventKind, fields map[string]any)
}

// Subscriber is anything that can receive a per-lobby Event. Broadcaster
// holds only this capability, never a concrete socket type, so
// ConnectionHub's sockets and a test's fake subscriber satisfy it
// identically (spec.md §9's "dynamic-dispatch substitutes" design note).
type Subscriber interface {
	Send(evt Event) error
}

// Broadcaster is the per-lobby pub/sub fabric from spec.md §4.3.
type Broadcaster interface {
	Subscribe(lobbyID string, sub Subscriber)
	Unsubscribe(lobbyID string, sub Subscriber)
	Publish(lobbyID string, evt Event)
	// PublishTo delivers an event to a single subscriber only (used for
	// the "error" event type, which spec.md §4.3 scopes to the individual
	// subscriber rather than the whole lobby).
	PublishTo(sub Subscriber, evt Event)
}

// Countdown is the cancellable per-lobby timer from spec.md §4.4/§4.5. It
// knows nothing about Lobby snapshots or events directly; the caller
// (LobbyRegistry) supplies onTick/onComplete callbacks and remains
// responsible for building and publishing event payloads, since only the
// registry holds the lock needed to read consistent lobby state.
type Countdown interface {
	// Start begins a duration-second countdown for lobbyID. onTick fires
	// once per second with the remaining seconds, counting duration-1
	// down to 0. onComplete fires once, after the final tick, unless the
	// countdown is cancelled first.
	Start(lobbyID string, duration int, onTick func(secondsRemaining int), onComplete func())
	// Cancel stops any active countdown for lobbyID. Idempotent; safe to
	// call even if no countdown is running. After Cancel returns, no
	// further ticks or onComplete for the cancelled instance will fire.
	Cancel(lobbyID string)
	// Active reports whether a countdown is currently running for lobbyID.
	Active(lobbyID string) bool
}

// Pairer creates a lobby directly from two already-matched devices, the
// way LobbyRegistry.Pair services MatchmakingQueue's find_match without
// the queue depending on the concrete registry type.
type Pairer interface {
	Pair(ctx context.Context, deviceA, nameA, deviceB, nameB string) (Lobby, error)
}

// QueueLeaver lets LobbyRegistry remove a device from the matchmaking
// queue when create/join seats it directly, without the registry
// depending on the concrete queue type. Returns whether the device was
// actually queued.
type QueueLeaver interface {
	RemoveIfPresent(deviceID string) bool
}

// MembershipChecker lets MatchmakingQueue ask the registry whether a
// device already holds a lobby seat, so find_match can reject with
// AlreadyInLobby before ever touching the queue, per spec.md §4.6.
type MembershipChecker interface {
	IsInLobby(deviceID string) bool
}
