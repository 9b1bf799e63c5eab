package registry

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"poselink/internal/metrics"
)

// ErrNotConnected is returned by SendTo when the target device has no
// live transport.
var ErrNotConnected = errors.New("device not connected")

// ConnectedClient is the registry's record for one live transport.
// Authenticated transitions false→true at most once per connection
// instance and never reverts except via removal.
type ConnectedClient struct {
	DeviceID       string
	Transport      Transport
	ConnectedAt    time.Time
	Authenticated  bool
	SessionID      string
	LastActivityAt time.Time
}

// Registry owns every live transport and its per-connection metadata,
// keyed by device id. A single mutex serializes all operations; no two
// mutations interleave. It never references the session store — the
// gateway is the only component correlating a device across both.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*ConnectedClient
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*ConnectedClient)}
}

// Add registers a transport for deviceID. A prior entry for the same
// device is overwritten — last connection wins — and its transport is
// closed so it does not leak.
func (r *Registry) Add(deviceID string, transport Transport) {
	r.mu.Lock()
	prev := r.clients[deviceID]
	now := time.Now()
	r.clients[deviceID] = &ConnectedClient{
		DeviceID:       deviceID,
		Transport:      transport,
		ConnectedAt:    now,
		LastActivityAt: now,
	}
	r.mu.Unlock()

	if prev != nil {
		log.Printf("🔁 Device reconnected, closing prior transport: %s", deviceID)
		prev.Transport.Close(websocket.CloseGoingAway, "superseded by new connection")
		if prev.Authenticated {
			metrics.AuthenticatedConnections.Dec()
		}
	} else {
		metrics.ActiveConnections.Inc()
	}
	metrics.TotalConnections.Inc()
}

// Remove drops the registry entry for deviceID. It does not close the
// transport; callers close before or after as their path requires.
// Absent devices are a no-op.
func (r *Registry) Remove(deviceID string) {
	r.mu.Lock()
	client, ok := r.clients[deviceID]
	if ok {
		delete(r.clients, deviceID)
	}
	r.mu.Unlock()

	if ok {
		metrics.ActiveConnections.Dec()
		if client.Authenticated {
			metrics.AuthenticatedConnections.Dec()
		}
	}
}

// RemoveTransport drops the entry for deviceID only if it still holds
// the given transport, and reports whether it did. A connection that
// was superseded by a reconnect must not clobber its replacement's
// entry during its own cleanup.
func (r *Registry) RemoveTransport(deviceID string, transport Transport) bool {
	r.mu.Lock()
	client, ok := r.clients[deviceID]
	if !ok || client.Transport != transport {
		r.mu.Unlock()
		return false
	}
	delete(r.clients, deviceID)
	r.mu.Unlock()

	metrics.ActiveConnections.Dec()
	if client.Authenticated {
		metrics.AuthenticatedConnections.Dec()
	}
	return true
}

// Authenticate flags deviceID as authenticated and records its session
// id. A device that is not present is a no-op; the gateway logs that
// case. Returns whether the device was present.
func (r *Registry) Authenticate(deviceID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[deviceID]
	if !ok {
		return false
	}
	if !client.Authenticated {
		metrics.AuthenticatedConnections.Inc()
	}
	client.Authenticated = true
	client.SessionID = sessionID
	client.LastActivityAt = time.Now()
	return true
}

// UpdateActivity stamps the connection's last-activity time.
func (r *Registry) UpdateActivity(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[deviceID]; ok {
		client.LastActivityAt = time.Now()
	}
}

// Get returns the transport for deviceID, if connected.
func (r *Registry) Get(deviceID string) (Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[deviceID]
	if !ok {
		return nil, false
	}
	return client.Transport, true
}

// IsConnected reports whether deviceID has a live transport.
func (r *Registry) IsConnected(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.clients[deviceID]
	return ok
}

// IsAuthenticated reports whether deviceID is connected and has
// completed the auth handshake.
func (r *Registry) IsAuthenticated(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[deviceID]
	return ok && client.Authenticated
}

// SessionID returns the session id recorded for deviceID at auth time.
func (r *Registry) SessionID(deviceID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[deviceID]
	if !ok || !client.Authenticated {
		return "", false
	}
	return client.SessionID, true
}

// ListDevices returns an unordered snapshot of connected device ids.
func (r *Registry) ListDevices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.clients))
	for id := range r.clients {
		out = append(out, id)
	}
	return out
}

// ConnectionCount returns the number of live transports.
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.clients)
}

// AuthenticatedCount returns the number of authenticated transports.
func (r *Registry) AuthenticatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, client := range r.clients {
		if client.Authenticated {
			count++
		}
	}
	return count
}

// SendTo delivers one payload to deviceID. Returns ErrNotConnected when
// the device has no live transport; on success the connection's
// activity time is refreshed.
func (r *Registry) SendTo(deviceID string, payload interface{}) error {
	r.mu.Lock()
	client, ok := r.clients[deviceID]
	r.mu.Unlock()

	if !ok {
		return ErrNotConnected
	}
	if err := client.Transport.WriteJSON(payload); err != nil {
		return err
	}
	r.UpdateActivity(deviceID)
	return nil
}

// Broadcast delivers payload to every connected device except
// excludeDeviceID (pass "" to exclude nobody). Delivery is best-effort
// over a point-in-time snapshot: per-recipient failures are logged and
// never abort the batch or reach the caller.
func (r *Registry) Broadcast(payload interface{}, excludeDeviceID string) {
	r.broadcast(payload, excludeDeviceID, false)
}

// BroadcastToAuthenticated is Broadcast restricted to connections whose
// authenticated flag is set at dispatch time.
func (r *Registry) BroadcastToAuthenticated(payload interface{}, excludeDeviceID string) {
	r.broadcast(payload, excludeDeviceID, true)
}

func (r *Registry) broadcast(payload interface{}, excludeDeviceID string, authOnly bool) {
	r.mu.Lock()
	targets := make([]*ConnectedClient, 0, len(r.clients))
	for id, client := range r.clients {
		if id == excludeDeviceID {
			continue
		}
		if authOnly && !client.Authenticated {
			continue
		}
		targets = append(targets, client)
	}
	r.mu.Unlock()

	for _, client := range targets {
		if err := client.Transport.WriteJSON(payload); err != nil {
			metrics.BroadcastFailures.Inc()
			log.Printf("⚠️  Broadcast send failed to %s: %v", client.DeviceID, err)
			continue
		}
		r.UpdateActivity(client.DeviceID)
	}
}

// CloseAll gracefully closes every transport and clears all state.
// Individual close errors are logged and ignored; shutdown never aborts
// part-way.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	targets := make([]*ConnectedClient, 0, len(r.clients))
	for _, client := range r.clients {
		targets = append(targets, client)
	}
	r.clients = make(map[string]*ConnectedClient)
	r.mu.Unlock()

	for _, client := range targets {
		if err := client.Transport.Close(websocket.CloseGoingAway, "server shutting down"); err != nil {
			log.Printf("⚠️  Close failed for %s: %v", client.DeviceID, err)
		}
		metrics.ActiveConnections.Dec()
		if client.Authenticated {
			metrics.AuthenticatedConnections.Dec()
		}
	}
	if len(targets) > 0 {
		log.Printf("🛑 Closed %d connection(s) on shutdown", len(targets))
	}
}

// CloseUnauthenticated force-closes and removes every connection that
// connected more than olderThan ago and still has not authenticated.
// Returns the number of connections closed.
func (r *Registry) CloseUnauthenticated(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	r.mu.Lock()
	stale := make([]*ConnectedClient, 0)
	for id, client := range r.clients {
		if !client.Authenticated && client.ConnectedAt.Before(cutoff) {
			stale = append(stale, client)
			delete(r.clients, id)
		}
	}
	r.mu.Unlock()

	for _, client := range stale {
		client.Transport.Close(websocket.ClosePolicyViolation, "authentication timeout")
		metrics.ActiveConnections.Dec()
		log.Printf("⏱  Reaped unauthenticated connection: %s", client.DeviceID)
	}
	return len(stale)
}
