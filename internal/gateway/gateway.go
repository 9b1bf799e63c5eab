package gateway

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"poselink/internal/auth"
	"poselink/internal/metrics"
	"poselink/internal/protocol"
	"poselink/internal/registry"
)

// FrameSink is the single hook into the pose pipeline. The gateway
// forwards authenticated camera frames through it and performs no frame
// processing itself.
type FrameSink func(deviceID string, env *protocol.Envelope) error

// Gateway routes inbound messages for every device connection and
// enforces the handshake deadline. One Gateway serves the whole
// process; per-connection state lives in Conn.
type Gateway struct {
	registry         *registry.Registry
	auth             *auth.Service
	frameSink        FrameSink
	handshakeTimeout time.Duration
}

// NewGateway wires a gateway. A nil frameSink drops frames with a log
// line, which keeps the server runnable before the pipeline exists.
func NewGateway(reg *registry.Registry, authSvc *auth.Service, sink FrameSink, handshakeTimeout time.Duration) *Gateway {
	if sink == nil {
		sink = func(deviceID string, env *protocol.Envelope) error {
			log.Printf("📷 Frame from %s dropped: no pipeline attached", deviceID)
			return nil
		}
	}
	return &Gateway{
		registry:         reg,
		auth:             authSvc,
		frameSink:        sink,
		handshakeTimeout: handshakeTimeout,
	}
}

// HandshakeTimeout returns the configured auth deadline, used by the
// reaper as its age cutoff.
func (g *Gateway) HandshakeTimeout() time.Duration {
	return g.handshakeTimeout
}

// Attach registers a new transport for deviceID and starts its
// handshake-timeout watch. The returned Conn handles every inbound
// message for the connection's lifetime.
func (g *Gateway) Attach(deviceID string, transport registry.Transport) *Conn {
	g.registry.Add(deviceID, transport)

	c := newConn(g, deviceID, transport)
	c.armHandshakeTimer(g.handshakeTimeout)

	log.Printf("🔌 Device connected: %s (%s)", deviceID, transport.RemoteAddr())
	return c
}

// dispatch routes one decoded envelope. The connection's activity stamp
// has already been refreshed by the caller.
func (g *Gateway) dispatch(c *Conn, env *protocol.Envelope) {
	metrics.MessagesReceived.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case protocol.TypeAuthRequest:
		g.handleAuthRequest(c, env)
	case protocol.TypeHeartbeat:
		g.handleHeartbeat(c)
	case protocol.TypeCameraFrame:
		g.handleCameraFrame(c, env)
	case protocol.TypeAuthResponse, protocol.TypePoseBroadcast:
		// Server-to-client kinds. A client sending them is a protocol
		// error but not a close-worthy one.
		log.Printf("⚠️  Protocol warning: %s sent server-only message %q", c.DeviceID, env.Type)
	default:
		g.sendError(c, "unknown message type: "+env.Type)
	}
}

func (g *Gateway) handleAuthRequest(c *Conn, env *protocol.Envelope) {
	var req protocol.AuthRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		g.sendError(c, "malformed authRequest payload")
		return
	}

	result := g.auth.HandleAuthRequest(&req, c.DeviceID)
	if result.Success {
		// Session creation happened first inside the auth service; the
		// registry flag follows so a connection never appears
		// authenticated without its session existing.
		if !g.registry.Authenticate(c.DeviceID, *result.SessionID) {
			log.Printf("⚠️  Auth succeeded for absent device %s", c.DeviceID)
		}
		c.markAuthenticated()
		log.Printf("✅ Device authenticated: %s", c.DeviceID)
	}

	resp, err := protocol.MarshalAuthResponse(protocol.AuthResponse{
		Success:   result.Success,
		SessionID: result.SessionID,
		Error:     result.Error,
	})
	if err != nil {
		log.Printf("⚠️  authResponse marshal failed for %s: %v", c.DeviceID, err)
		return
	}
	g.send(c, resp)
}

func (g *Gateway) handleHeartbeat(c *Conn) {
	// Valid in any state, answered immediately, no auth effect.
	g.send(c, protocol.NewEnvelope(protocol.TypeHeartbeat, nil))
}

func (g *Gateway) handleCameraFrame(c *Conn, env *protocol.Envelope) {
	if !c.IsAuthenticated() {
		metrics.AuthFailures.WithLabelValues("not_authenticated").Inc()
		log.Printf("🚫 Rejected cameraFrame from unauthenticated device: %s", c.DeviceID)
		return
	}
	if err := g.frameSink(c.DeviceID, env); err != nil {
		log.Printf("⚠️  Frame pipeline error for %s: %v", c.DeviceID, err)
	}
}

func (g *Gateway) sendError(c *Conn, msg string) {
	env, err := protocol.MarshalError(msg)
	if err != nil {
		log.Printf("⚠️  error envelope marshal failed: %v", err)
		return
	}
	g.send(c, env)
}

func (g *Gateway) send(c *Conn, env *protocol.Envelope) {
	if err := g.registry.SendTo(c.DeviceID, env); err != nil {
		log.Printf("⚠️  Send to %s failed: %v", c.DeviceID, err)
		return
	}
	metrics.MessagesSent.WithLabelValues(env.Type).Inc()
}

// onHandshakeTimeout fires once per connection if the auth deadline
// elapses. A connection that authenticated or closed first makes it a
// no-op.
func (g *Gateway) onHandshakeTimeout(c *Conn) {
	if c.IsAuthenticated() || c.IsClosed() {
		return
	}
	metrics.HandshakeTimeouts.Inc()
	log.Printf("⏱  Handshake timeout, closing: %s", c.DeviceID)
	c.Close(websocket.ClosePolicyViolation, "authentication timeout")
}
