package core

import "time"

// LobbyStatus is the state-machine status from spec.md §3/§4.5.
type LobbyStatus string

const (
	StatusWaiting      LobbyStatus = "waiting"
	StatusReadyCheck    LobbyStatus = "ready_check"
	StatusCountdown     LobbyStatus = "countdown"
	StatusGameStarted   LobbyStatus = "game_started"
)

// Member is a single seated player in a Lobby.
type Member struct {
	DeviceID string    `json:"device_id"`
	UserName string    `json:"user_name"`
	IsReady  bool      `json:"is_ready"`
	JoinedAt time.Time `json:"joined_at"`
}

// Lobby is the read-only snapshot handed to Broadcaster, EventSink, and
// the HTTP layer. The registry is the only thing that mutates the live
// lobby state this snapshot is taken from.
type Lobby struct {
	ID                 string      `json:"id"`
	Code               string      `json:"code"`
	Status             LobbyStatus `json:"status"`
	MaxPlayers         int         `json:"max_players"`
	CurrentPlayers     int         `json:"current_players"`
	Members            []Member    `json:"players"`
	CountdownStartTime *time.Time  `json:"countdown_start_time"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// QueueStatus is the response shape for find_match/queue_status.
type QueueStatus struct {
	InQueue       bool
	QueuePosition int
	ETASeconds    int
}

// EventKind enumerates the structured log kinds from spec.md §4.2.
type EventKind string

const (
	EventLobbyCreated           EventKind = "lobby_created"
	EventLobbyJoined            EventKind = "lobby_joined"
	EventLobbyLeft              EventKind = "lobby_left"
	EventLobbyLeftOnDisconnect  EventKind = "lobby_left_on_disconnect"
	EventReadyToggle            EventKind = "ready_toggle"
	EventCountdownStarted       EventKind = "countdown_started"
	EventCountdownAborted       EventKind = "countdown_aborted"
	EventGameStarted            EventKind = "game_started"
	EventLobbyDeleted           EventKind = "lobby_deleted"
	EventMatchmakingQueueJoin   EventKind = "matchmaking_queue_join"
	EventMatchmakingQueueLeave  EventKind = "matchmaking_queue_leave"
	EventMatchmakingMatchFound  EventKind = "matchmaking_match_found"
	EventMatchmakingQueuePruned EventKind = "matchmaking_queue_pruned"
)

// BroadcastEventType enumerates the per-lobby pub/sub message types from
// spec.md §4.3.
type BroadcastEventType string

const (
	EvtPlayerJoined        BroadcastEventType = "player_joined"
	EvtPlayerLeft           BroadcastEventType = "player_left"
	EvtReadyStatusChanged   BroadcastEventType = "ready_status_changed"
	EvtCountdownStarted     BroadcastEventType = "countdown_started"
	EvtCountdownTick        BroadcastEventType = "countdown_tick"
	EvtCountdownAborted     BroadcastEventType = "countdown_aborted"
	EvtGameStarted          BroadcastEventType = "game_started"
	EvtLobbyDeleted         BroadcastEventType = "lobby_deleted"
	EvtError                BroadcastEventType = "error"
)

// Event is the wire shape clients receive over the WebSocket, per spec.md §4.3.
type Event struct {
	Type      BroadcastEventType `json:"type"`
	Data      any                `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}
