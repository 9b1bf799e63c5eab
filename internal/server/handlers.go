package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"poselink/internal/constants"
	"poselink/internal/protocol"
	"poselink/internal/registry"
	"poselink/internal/security"
)

func deadline() time.Time {
	return time.Now().Add(constants.WriteTimeout)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  constants.WSBufferSize,
	WriteBufferSize: constants.WSBufferSize,
	// Devices are native apps, not browsers; origin gating is not the
	// trust boundary here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleConnect upgrades a device connection at /ws/connect/{deviceId}
// and runs its read loop until the peer goes away or the server closes
// it.
func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	clientIP := security.GetClientIP(r)

	if !s.ConnLimiter.TryConnect(clientIP) {
		http.Error(w, constants.MsgConnLimitExceeded, http.StatusTooManyRequests)
		return
	}
	defer s.ConnLimiter.Disconnect(clientIP)

	deviceID := strings.TrimPrefix(r.URL.Path, constants.EndpointConnect)
	if deviceID == "" || strings.Contains(deviceID, "/") {
		http.Error(w, constants.MsgMissingDeviceID, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️  WebSocket upgrade failed for %s: %v", clientIP, err)
		return
	}

	// Pre-registration validation: a malformed identifier closes the
	// transport before the device ever reaches the registry.
	if !security.ValidateDeviceID(deviceID) {
		log.Printf("🚫 Rejected connection with invalid device id from %s", clientIP)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, constants.MsgInvalidDeviceID),
			deadline())
		conn.Close()
		return
	}

	conn.SetReadLimit(constants.MaxMessageSize)

	transport := registry.NewWSTransport(conn)
	c := s.Gateway.Attach(deviceID, transport)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("🔌 Read ended for %s: %v", deviceID, err)
			}
			break
		}
		c.HandleMessage(msg)
	}

	c.Close(websocket.CloseNormalClosure, "client disconnected")
	log.Printf("🔌 Device disconnected: %s", deviceID)
}

// HandleHealth is the fixed liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(constants.MsgRunning))
}

// HandleStatus reports live counts from the session store and the
// connection registry.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	resp := protocol.StatusResponse{
		Running:                  true,
		ActiveSessions:           s.Sessions.ActiveCount(),
		TotalConnections:         s.Registry.ConnectionCount(),
		AuthenticatedConnections: s.Registry.AuthenticatedCount(),
		Timestamp:                protocol.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
