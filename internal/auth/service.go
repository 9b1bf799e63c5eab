package auth

import (
	"log"

	"poselink/internal/metrics"
	"poselink/internal/protocol"
	"poselink/internal/session"
)

// Service validates credentials and bridges the session store to the
// gateway. It owns the token-MAC key; nothing else touches the server
// secret.
type Service struct {
	store *session.Store
	key   []byte
}

// Result is the outcome of one authentication attempt. SessionID and
// Error are mutually exclusive and nil when absent.
type Result struct {
	Success   bool
	SessionID *string
	Error     *string
}

// NewService creates an auth service over the given session store.
func NewService(store *session.Store, secret string) *Service {
	return &Service{
		store: store,
		key:   tokenKey(secret),
	}
}

// GenerateToken mints an opaque credential for deviceID.
func (s *Service) GenerateToken(deviceID string) (string, error) {
	return mintToken(s.key, deviceID)
}

// HandleAuthRequest processes one auth attempt for the connection
// identified by deviceID. Re-authentication while a valid session
// exists is idempotent: the existing session id comes back and no new
// session is minted.
func (s *Service) HandleAuthRequest(req *protocol.AuthRequest, deviceID string) Result {
	if !ValidateToken(req.Token) {
		metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
		return failure("invalid token")
	}

	if existing, ok := s.store.GetByDevice(deviceID); ok {
		log.Printf("🔐 Re-auth for device %s, reusing session %s", deviceID, existing.ID)
		return success(existing.ID)
	}

	sess := s.store.Create(deviceID, req.Token)
	metrics.SessionsCreated.Inc()
	log.Printf("🔐 Session created for device %s (%s, LiDAR: %v): %s",
		deviceID, req.DeviceInfo.Model, req.DeviceInfo.HasLiDAR, sess.ID)
	return success(sess.ID)
}

// RevokeDevice drops any session held by deviceID. Used by the gateway
// on connection close; a device with no session is a no-op.
func (s *Service) RevokeDevice(deviceID string) {
	s.store.RevokeByDevice(deviceID)
}

// VerifySession reports whether sessionID is currently valid.
func (s *Service) VerifySession(sessionID string) bool {
	_, ok := s.store.Validate(sessionID, false)
	return ok
}

// ResolveDevice returns the device that owns sessionID, if it is valid.
func (s *Service) ResolveDevice(sessionID string) (string, bool) {
	sess, ok := s.store.Validate(sessionID, false)
	if !ok {
		return "", false
	}
	return sess.DeviceID, true
}

func success(sessionID string) Result {
	return Result{Success: true, SessionID: &sessionID}
}

func failure(msg string) Result {
	return Result{Success: false, Error: &msg}
}
