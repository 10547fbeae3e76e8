// internal/middleware/logging.go

package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LogMiddleware is an HTTP middleware that logs incoming requests using
// Logrus. Logs the method, path, device id, and duration of each request -
// every request into this service carries an X-Device-ID, so surfacing it
// here means a single device's request history can be grepped out of the
// log stream the way a lobby_id can out of EventSink's records.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := r.URL.Path
			method := r.Method
			deviceID := r.Header.Get("X-Device-ID")

			next.ServeHTTP(w, r)

			duration := time.Since(start)
			logger.WithFields(logrus.Fields{
				"method":    method,
				"path":      path,
				"duration":  duration,
				"remote":    r.RemoteAddr,
				"device_id": deviceID,
			}).Info("HTTP Request")
		})
	}
}

// LogWebSocketConnect logs a message when a WebSocket client connects to a
// lobby's event stream.
func LogWebSocketConnect(logger *logrus.Logger, remoteAddr, path, lobbyID, deviceID string) {
	logger.WithFields(logrus.Fields{
		"remote":    remoteAddr,
		"path":      path,
		"lobby_id":  lobbyID,
		"device_id": deviceID,
	}).Info("WebSocket connected")
}

// LogWebSocketDisconnect logs a message when a WebSocket client disconnects
// from a lobby's event stream.
func LogWebSocketDisconnect(logger *logrus.Logger, remoteAddr, path, lobbyID, deviceID string, err error) {
	fields := logrus.Fields{
		"remote":    remoteAddr,
		"path":      path,
		"lobby_id":  lobbyID,
		"device_id": deviceID,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("WebSocket disconnected")
}
