// Package connectionhub tracks live WebSocket subscribers per spec.md
// §4.7, generalizing the teacher's LobbyWSHandler/readPump/writePump
// trio (internal/handlers/lobby_ws.go) and LobbyConnection
// (internal/lobby/lobby.go) from a chat-lobby socket into a thin
// core.Subscriber leaf that only ever pushes Broadcaster events - all
// lobby mutations in this spec travel over the HTTP surface (§4.8), so
// unlike the teacher's readPump there is no client->server command
// dispatch here, only disconnect detection.
package connectionhub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/duomatch/lobby-coordinator/internal/core"
	"github.com/duomatch/lobby-coordinator/internal/middleware"
)

const (
	outboxSize   = 32
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
	pingTimeout  = 15 * time.Second
)

// LobbyService is the subset of *lobby.Registry ConnectionHub needs: a
// way to route a socket drop into the same Leave path an explicit
// leave_lobby call would take, tagged as a disconnect so EventSink
// records lobby_left_on_disconnect instead of lobby_left, per spec.md
// §4.2.
type LobbyService interface {
	Leave(ctx context.Context, deviceID string, disconnect bool) error
}

// socket adapts one accepted WebSocket connection to core.Subscriber.
type socket struct {
	deviceID string
	out      chan core.Event
	done     chan struct{}
}

func newSocket(deviceID string) *socket {
	return &socket{deviceID: deviceID, out: make(chan core.Event, outboxSize), done: make(chan struct{})}
}

// Send implements core.Subscriber. It never blocks: the Broadcaster's
// per-subscriber lane must not stall delivering to every other
// subscriber because one socket's outbox backed up, so a full outbox is
// treated as a dead subscriber and the send is dropped.
func (s *socket) Send(evt core.Event) error {
	select {
	case s.out <- evt:
		return nil
	case <-s.done:
		return errors.New("connectionhub: socket closed")
	default:
		return errors.New("connectionhub: socket outbox full, dropping delivery")
	}
}

func (s *socket) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

var _ core.Subscriber = (*socket)(nil)

// Hub wires accepted WebSocket connections to the Broadcaster and
// LobbyRegistry.
type Hub struct {
	log         *logrus.Logger
	broadcaster core.Broadcaster
	lobbies     LobbyService
}

// New constructs a Hub.
func New(log *logrus.Logger, broadcaster core.Broadcaster, lobbies LobbyService) *Hub {
	return &Hub{log: log, broadcaster: broadcaster, lobbies: lobbies}
}

// Serve upgrades r to a WebSocket and streams lobbyID's events to
// deviceID until the socket closes, then routes a disconnect-flavored
// Leave. The caller (httpapi) is responsible for having already
// verified deviceID actually belongs to lobbyID, and for everything
// about the HTTP-status mapping of that check - Serve only does socket
// mechanics.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, lobbyID, deviceID string) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.log.WithError(err).Warn("connectionhub: accept failed")
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	middleware.LogWebSocketConnect(h.log, r.RemoteAddr, r.URL.Path, lobbyID, deviceID)

	sock := newSocket(deviceID)
	h.broadcaster.Subscribe(lobbyID, sock)
	defer h.broadcaster.Unsubscribe(lobbyID, sock)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writePump(ctx, c, sock)
	readErr := h.readPump(ctx, c, deviceID, lobbyID)
	sock.close()
	middleware.LogWebSocketDisconnect(h.log, r.RemoteAddr, r.URL.Path, lobbyID, deviceID, readErr)

	if err := h.lobbies.Leave(context.Background(), deviceID, true); err != nil && core.KindOf(err) != core.ErrNotInLobby {
		h.log.WithError(err).WithField("device_id", deviceID).Warn("connectionhub: leave-on-disconnect failed")
	}
}

// readPump blocks until the socket closes or errors. Incoming frames are
// not interpreted - this spec's sockets are server-push only - but must
// still be read so the connection's control frames (close, ping) get
// processed by the underlying library.
func (h *Hub) readPump(ctx context.Context, c *websocket.Conn, deviceID, lobbyID string) error {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus != websocket.StatusNormalClosure && closeStatus != websocket.StatusGoingAway {
				h.log.WithError(err).WithFields(logrus.Fields{"device_id": deviceID, "lobby_id": lobbyID}).Debug("connectionhub: read pump exiting")
				return err
			}
			return nil
		}
	}
}

func (h *Hub) writePump(ctx context.Context, c *websocket.Conn, sock *socket) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sock.out:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				h.log.WithError(err).Warn("connectionhub: failed to marshal outgoing event")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.WithError(err).WithField("device_id", sock.deviceID).Warn("connectionhub: write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				h.log.WithError(err).WithField("device_id", sock.deviceID).Warn("connectionhub: ping failed, assuming disconnect")
				return
			}
		}
	}
}
