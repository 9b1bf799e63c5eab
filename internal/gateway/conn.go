package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"poselink/internal/protocol"
	"poselink/internal/registry"
)

// Connection states. Initial is stateUnauthenticated, terminal is
// stateClosed; the only transitions are unauth→auth and any→closed.
const (
	stateUnauthenticated int32 = iota
	stateAuthenticated
	stateClosed
)

// Conn is the gateway's per-connection state: the device identity, the
// transport, the auth state machine, and the one-shot handshake timer.
type Conn struct {
	DeviceID string

	gw        *Gateway
	transport registry.Transport
	state     atomic.Int32
	closeOnce sync.Once
	authTimer *time.Timer
}

func newConn(gw *Gateway, deviceID string, transport registry.Transport) *Conn {
	return &Conn{
		DeviceID:  deviceID,
		gw:        gw,
		transport: transport,
	}
}

func (c *Conn) armHandshakeTimer(d time.Duration) {
	c.authTimer = time.AfterFunc(d, func() {
		c.gw.onHandshakeTimeout(c)
	})
}

// IsAuthenticated reports whether the connection completed the auth
// handshake.
func (c *Conn) IsAuthenticated() bool {
	return c.state.Load() == stateAuthenticated
}

// IsClosed reports whether the connection reached its terminal state.
func (c *Conn) IsClosed() bool {
	return c.state.Load() == stateClosed
}

// markAuthenticated moves unauth→auth and cancels the handshake timer
// so it cannot leak or fire late.
func (c *Conn) markAuthenticated() {
	if c.state.CompareAndSwap(stateUnauthenticated, stateAuthenticated) {
		if c.authTimer != nil {
			c.authTimer.Stop()
		}
	}
}

// HandleMessage processes one raw inbound frame. Every message, valid
// or not, refreshes the connection's activity stamp before dispatch.
// Malformed envelopes get an error reply; the connection stays open.
func (c *Conn) HandleMessage(data []byte) {
	if c.IsClosed() {
		return
	}
	c.gw.registry.UpdateActivity(c.DeviceID)

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.gw.sendError(c, "malformed message envelope")
		return
	}
	c.gw.dispatch(c, &env)
}

// Close is the idempotent cleanup path for every way a connection ends:
// peer close, handshake timeout, or server shutdown. It removes the
// registry entry, revokes the device's session, closes the transport
// and lands in the terminal state. Second and later calls are no-ops.
//
// The removal is guarded by transport identity: a connection superseded
// by a device reconnect finds someone else's entry under its device id
// and must leave both that entry and the fresh session alone.
func (c *Conn) Close(code int, text string) {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosed)
		if c.authTimer != nil {
			c.authTimer.Stop()
		}
		if c.gw.registry.RemoveTransport(c.DeviceID, c.transport) {
			c.gw.auth.RevokeDevice(c.DeviceID)
		}
		c.transport.Close(code, text)
	})
}
