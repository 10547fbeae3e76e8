// Package httpapi implements RequestHandlers from spec.md §4.8,
// generalizing the teacher's internal/handlers/lobby.go "thin handler,
// extract identity, call into store, encode JSON" shape onto chi
// (SPEC_FULL.md §3's domain-stack router swap) and the X-Device-ID
// header spec.md §4.8 requires instead of the teacher's session cookie.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/duomatch/lobby-coordinator/internal/auth"
	"github.com/duomatch/lobby-coordinator/internal/connectionhub"
	"github.com/duomatch/lobby-coordinator/internal/core"
	"github.com/duomatch/lobby-coordinator/internal/middleware"
)

// Server is the outermost adaptor layer: it knows about every
// component's concrete wiring so handlers stay thin (extract identity,
// call into a collaborator, encode JSON), the way the teacher's
// internal/handlers package does.
type Server struct {
	log      *logrus.Logger
	registry registryService
	queue    queueService
	hub      *connectionhub.Hub
	verifier *auth.Verifier // optional; nil disables JWT verification
}

// registryService and queueService narrow *lobby.Registry and
// *matchmaking.Queue down to what httpapi actually calls, so this
// package's tests can substitute fakes without importing either
// concrete package.
type registryService interface {
	Create(ctx context.Context, deviceID string) (core.Lobby, error)
	Join(ctx context.Context, code, deviceID string) (core.Lobby, error)
	Leave(ctx context.Context, deviceID string, disconnect bool) error
	SetReady(ctx context.Context, deviceID string, ready bool) (core.Lobby, error)
	Status(ctx context.Context, deviceID string) (core.Lobby, error)
}

type queueService interface {
	Join(ctx context.Context, deviceID string) (*core.Lobby, core.QueueStatus, error)
	Leave(ctx context.Context, deviceID string) error
	QueueStatus(ctx context.Context, deviceID string) (core.QueueStatus, error)
}

// New constructs a Server. verifier may be nil to disable JWT handling.
func New(log *logrus.Logger, registry registryService, queue queueService, hub *connectionhub.Hub, verifier *auth.Verifier) *Server {
	return &Server{log: log, registry: registry, queue: queue, hub: hub, verifier: verifier}
}

// Routes builds the chi router for every endpoint spec.md §6 names.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.LogMiddleware(s.log))

	r.Post("/lobby/create", s.handleCreate)
	r.Post("/lobby/join", s.handleJoin)
	r.Post("/lobby/leave", s.handleLeave)
	r.Post("/lobby/ready", s.handleReady)
	r.Get("/lobby/status", s.handleStatus)
	r.Post("/lobby/find_match", s.handleFindMatch)
	r.Post("/lobby/leave_queue", s.handleLeaveQueue)
	r.Get("/lobby/queue_status", s.handleQueueStatus)
	r.Get("/ws/lobby/{code}", s.handleWS)
	return r
}

func (s *Server) deviceID(r *http.Request) (string, error) {
	raw := r.Header.Get("X-Device-ID")
	if raw == "" {
		return "", core.NewError(core.ErrUnauthenticated, "missing X-Device-ID header")
	}
	return s.resolveDeviceID(raw)
}

// wsDeviceID resolves the caller's identity for GET /ws/lobby/{code}. Spec.md
// §6 carries device identity in the device_id query parameter on the WS
// route specifically, since a browser WebSocket handshake cannot set custom
// headers; fall back to X-Device-ID first so a non-browser client that can
// set headers still works the same way every other endpoint does.
func (s *Server) wsDeviceID(r *http.Request) (string, error) {
	raw := r.Header.Get("X-Device-ID")
	if raw == "" {
		raw = r.URL.Query().Get("device_id")
	}
	if raw == "" {
		return "", core.NewError(core.ErrUnauthenticated, "missing device identity")
	}
	return s.resolveDeviceID(raw)
}

func (s *Server) resolveDeviceID(raw string) (string, error) {
	if s.verifier == nil {
		return raw, nil
	}
	deviceID, err := s.verifier.ResolveDeviceID(raw)
	if err != nil {
		return "", core.Wrap(core.ErrUnauthenticated, "invalid device token", err)
	}
	return deviceID, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	lobby, err := s.registry.Create(r.Context(), deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "lobby": lobby, "message": "lobby created"})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, core.Wrap(core.ErrInvalidState, "malformed request body", err))
		return
	}
	lobby, err := s.registry.Join(r.Context(), body.Code, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "lobby": lobby, "message": "joined lobby"})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.Leave(r.Context(), deviceID, false); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "left lobby"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		IsReady bool `json:"is_ready"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, core.Wrap(core.ErrInvalidState, "malformed request body", err))
		return
	}
	lobby, err := s.registry.SetReady(r.Context(), deviceID, body.IsReady)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "lobby": lobby})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	lobby, err := s.registry.Status(r.Context(), deviceID)
	if err != nil {
		if core.KindOf(err) == core.ErrNotInLobby {
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "lobby": lobby})
}

func (s *Server) handleFindMatch(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	lobby, status, err := s.queue.Join(r.Context(), deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if lobby != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "in_queue": false, "lobby": lobby, "message": "match found",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "in_queue": true,
		"queue_position": status.QueuePosition, "estimated_wait_time": status.ETASeconds,
		"message": "waiting for an opponent",
	})
}

func (s *Server) handleLeaveQueue(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.queue.Leave(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "left matchmaking queue"})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := s.queue.QueueStatus(r.Context(), deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !status.InQueue {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "in_queue": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "in_queue": true,
		"queue_position": status.QueuePosition, "estimated_wait_time": status.ETASeconds,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.wsDeviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	lobby, err := s.registry.Status(r.Context(), deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	code := chi.URLParam(r, "code")
	if code != "" && code != lobby.Code {
		writeError(w, core.NewError(core.ErrNotInLobby, "device does not belong to this lobby"))
		return
	}
	s.hub.Serve(w, r, lobby.ID, deviceID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	status := statusForKind(kind)
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   map[string]any{"kind": string(kind), "message": err.Error()},
		"status_code": status,
	})
}

func statusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.ErrUnauthenticated:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrAlreadyInLobby, core.ErrNotInLobby, core.ErrFull, core.ErrNotJoinable, core.ErrInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
