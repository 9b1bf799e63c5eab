package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poselink/internal/auth"
	"poselink/internal/protocol"
	"poselink/internal/registry"
	"poselink/internal/session"
)

type fakeTransport struct {
	mu     sync.Mutex
	writes []*protocol.Envelope
	closed bool
	code   int
}

func (f *fakeTransport) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	env, ok := v.(*protocol.Envelope)
	if !ok {
		return errors.New("unexpected write type")
	}
	f.writes = append(f.writes, env)
	return nil
}

func (f *fakeTransport) Close(code int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "test:0" }

func (f *fakeTransport) lastWrite() *protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) closeState() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.code
}

// frameRecorder captures FrameSink calls.
type frameRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (fr *frameRecorder) sink(deviceID string, env *protocol.Envelope) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.calls = append(fr.calls, deviceID)
	return nil
}

func (fr *frameRecorder) count() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.calls)
}

type fixture struct {
	gw      *Gateway
	reg     *registry.Registry
	store   *session.Store
	authSvc *auth.Service
	frames  *frameRecorder
}

func newFixture(t *testing.T, handshakeTimeout time.Duration) *fixture {
	t.Helper()
	store := session.NewStore(time.Hour)
	reg := registry.NewRegistry()
	authSvc := auth.NewService(store, "test-secret")
	frames := &frameRecorder{}
	gw := NewGateway(reg, authSvc, frames.sink, handshakeTimeout)
	return &fixture{gw: gw, reg: reg, store: store, authSvc: authSvc, frames: frames}
}

func envelope(t *testing.T, msgType string, payload interface{}) []byte {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = data
	}
	data, err := json.Marshal(protocol.NewEnvelope(msgType, raw))
	require.NoError(t, err)
	return data
}

func authRequest(t *testing.T, fx *fixture, deviceID string) []byte {
	t.Helper()
	token, err := fx.authSvc.GenerateToken(deviceID)
	require.NoError(t, err)
	return envelope(t, protocol.TypeAuthRequest, protocol.AuthRequest{
		DeviceID: deviceID,
		Token:    token,
		DeviceInfo: protocol.DeviceInfo{
			Model: "iPhone 15 Pro", OSVersion: "17.4", HasLiDAR: true,
		},
	})
}

func decodeAuthResponse(t *testing.T, env *protocol.Envelope) protocol.AuthResponse {
	t.Helper()
	require.NotNil(t, env)
	require.Equal(t, protocol.TypeAuthResponse, env.Type)
	var resp protocol.AuthResponse
	require.NoError(t, json.Unmarshal(env.Payload, &resp))
	return resp
}

func TestHeartbeatBeforeAuth(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	c.HandleMessage(envelope(t, protocol.TypeHeartbeat, nil))

	reply := ft.lastWrite()
	require.NotNil(t, reply)
	assert.Equal(t, protocol.TypeHeartbeat, reply.Type)

	// Still unauthenticated, still open.
	assert.False(t, c.IsAuthenticated())
	assert.True(t, fx.reg.IsConnected("ipad-01"))
	closed, _ := ft.closeState()
	assert.False(t, closed)
}

func TestHeartbeatAfterAuth(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	c.HandleMessage(authRequest(t, fx, "ipad-01"))
	require.True(t, c.IsAuthenticated())

	c.HandleMessage(envelope(t, protocol.TypeHeartbeat, nil))
	assert.Equal(t, protocol.TypeHeartbeat, ft.lastWrite().Type)
}

func TestAuthRequestSuccess(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	c.HandleMessage(authRequest(t, fx, "ipad-01"))

	resp := decodeAuthResponse(t, ft.lastWrite())
	require.True(t, resp.Success)
	require.NotNil(t, resp.SessionID)
	assert.Nil(t, resp.Error)

	assert.True(t, c.IsAuthenticated())
	assert.True(t, fx.reg.IsAuthenticated("ipad-01"))

	sid, ok := fx.reg.SessionID("ipad-01")
	require.True(t, ok)
	assert.Equal(t, *resp.SessionID, sid)
}

func TestAuthRequestIdempotent(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	c.HandleMessage(authRequest(t, fx, "ipad-01"))
	first := decodeAuthResponse(t, ft.lastWrite())

	c.HandleMessage(authRequest(t, fx, "ipad-01"))
	second := decodeAuthResponse(t, ft.lastWrite())

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, *first.SessionID, *second.SessionID)
	assert.Equal(t, 1, fx.store.ActiveCount())
}

func TestAuthRequestInvalidToken(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	c.HandleMessage(envelope(t, protocol.TypeAuthRequest, protocol.AuthRequest{
		DeviceID: "ipad-01",
		Token:    "bad",
	}))

	resp := decodeAuthResponse(t, ft.lastWrite())
	assert.False(t, resp.Success)
	assert.Nil(t, resp.SessionID)
	require.NotNil(t, resp.Error)

	assert.False(t, c.IsAuthenticated())
	assert.True(t, fx.reg.IsConnected("ipad-01"), "failed auth keeps the connection open")
}

func TestMalformedEnvelope(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	c.HandleMessage([]byte("{not json"))

	reply := ft.lastWrite()
	require.NotNil(t, reply)
	assert.Equal(t, protocol.TypeError, reply.Type)

	closed, _ := ft.closeState()
	assert.False(t, closed, "malformed input never closes the connection")
	assert.True(t, fx.reg.IsConnected("ipad-01"))
}

func TestMalformedAuthPayload(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	data, err := json.Marshal(map[string]interface{}{
		"type":      protocol.TypeAuthRequest,
		"timestamp": protocol.Now(),
		"payload":   "not-an-object",
	})
	require.NoError(t, err)
	c.HandleMessage(data)

	reply := ft.lastWrite()
	require.NotNil(t, reply)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.False(t, c.IsAuthenticated())
}

func TestCameraFrameRequiresAuth(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	c.HandleMessage(envelope(t, protocol.TypeCameraFrame, map[string]string{"frame": "..."}))

	assert.Equal(t, 0, fx.frames.count(), "unauthenticated frames must not reach the pipeline")
	assert.True(t, fx.reg.IsConnected("ipad-01"))
}

func TestCameraFrameForwarded(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	c.HandleMessage(authRequest(t, fx, "ipad-01"))
	c.HandleMessage(envelope(t, protocol.TypeCameraFrame, map[string]string{"frame": "..."}))

	assert.Equal(t, 1, fx.frames.count())
}

func TestServerOnlyKindsIgnored(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	before := ft.writeCount()
	c.HandleMessage(envelope(t, protocol.TypeAuthResponse, protocol.AuthResponse{Success: true}))
	c.HandleMessage(envelope(t, protocol.TypePoseBroadcast, map[string]string{"pose": "..."}))

	assert.Equal(t, before, ft.writeCount(), "server-only kinds get no reply")
	assert.False(t, c.IsAuthenticated())
	assert.True(t, fx.reg.IsConnected("ipad-01"))
}

func TestHandshakeTimeoutClosesConnection(t *testing.T) {
	fx := newFixture(t, 40*time.Millisecond)
	ft := &fakeTransport{}
	fx.gw.Attach("ipad-01", ft)

	assert.Eventually(t, func() bool {
		closed, code := ft.closeState()
		return closed && code == websocket.ClosePolicyViolation
	}, time.Second, 5*time.Millisecond)

	assert.False(t, fx.reg.IsConnected("ipad-01"))
}

func TestHandshakeTimerNoOpAfterAuth(t *testing.T) {
	fx := newFixture(t, 40*time.Millisecond)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	c.HandleMessage(authRequest(t, fx, "ipad-01"))
	require.True(t, c.IsAuthenticated())

	time.Sleep(80 * time.Millisecond)

	closed, _ := ft.closeState()
	assert.False(t, closed, "the fired timer must be a no-op after auth")
	assert.True(t, fx.reg.IsConnected("ipad-01"))
}

func TestCloseIsIdempotentAndRevokesSession(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)

	c.HandleMessage(authRequest(t, fx, "ipad-01"))
	_, ok := fx.store.GetByDevice("ipad-01")
	require.True(t, ok)

	c.Close(websocket.CloseNormalClosure, "client disconnected")

	assert.False(t, fx.reg.IsConnected("ipad-01"))
	_, ok = fx.store.GetByDevice("ipad-01")
	assert.False(t, ok, "disconnect revokes the device's session")
	assert.True(t, c.IsClosed())

	// Second close is a no-op.
	c.Close(websocket.CloseNormalClosure, "again")
	assert.Equal(t, 0, fx.reg.ConnectionCount())
}

func TestReconnectSupersedesWithoutClobber(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft1 := &fakeTransport{}
	c1 := fx.gw.Attach("ipad-01", ft1)
	c1.HandleMessage(authRequest(t, fx, "ipad-01"))
	require.True(t, fx.reg.IsAuthenticated("ipad-01"))

	// Same device dials again; last connection wins and the old
	// transport is closed under it.
	ft2 := &fakeTransport{}
	c2 := fx.gw.Attach("ipad-01", ft2)

	closed, code := ft1.closeState()
	assert.True(t, closed)
	assert.Equal(t, websocket.CloseGoingAway, code)

	// The superseded connection's cleanup must not clobber the new
	// entry or revoke the device's still-valid session.
	c1.Close(websocket.CloseNormalClosure, "superseded")

	assert.True(t, fx.reg.IsConnected("ipad-01"))
	_, ok := fx.store.GetByDevice("ipad-01")
	assert.True(t, ok, "session survives the old connection's cleanup")

	// The new connection re-authenticates onto the same session.
	c2.HandleMessage(authRequest(t, fx, "ipad-01"))
	assert.True(t, c2.IsAuthenticated())
	assert.Equal(t, 1, fx.store.ActiveCount())
}

func TestMessagesAfterCloseDropped(t *testing.T) {
	fx := newFixture(t, time.Hour)
	ft := &fakeTransport{}
	c := fx.gw.Attach("ipad-01", ft)
	c.Close(websocket.CloseNormalClosure, "bye")

	before := ft.writeCount()
	c.HandleMessage(envelope(t, protocol.TypeHeartbeat, nil))
	assert.Equal(t, before, ft.writeCount())
}
