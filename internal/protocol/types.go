package protocol

import (
	"encoding/json"
	"time"
)

// Message kinds carried in the envelope Type field. AuthResponse and
// PoseBroadcast are server→client only; a client sending them gets a
// protocol warning in the log and no reply.
const (
	TypeAuthRequest   = "authRequest"
	TypeAuthResponse  = "authResponse"
	TypeCameraFrame   = "cameraFrame"
	TypeHeartbeat     = "heartbeat"
	TypePoseBroadcast = "poseBroadcast"
	TypeError         = "error"
)

// Envelope is the wire frame every message travels in. Timestamp is
// float seconds since epoch, matching the mobile clients.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp float64         `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope stamps an envelope with the current time. Payload must
// already be marshaled JSON.
func NewEnvelope(msgType string, payload json.RawMessage) *Envelope {
	return &Envelope{
		Type:      msgType,
		Timestamp: Now(),
		Payload:   payload,
	}
}

// Now returns the current time as float seconds since epoch.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// DeviceInfo describes the hardware a device reports during auth.
type DeviceInfo struct {
	Model     string `json:"model"`
	OSVersion string `json:"osVersion"`
	HasLiDAR  bool   `json:"hasLiDAR"`
}

// AuthRequest is the payload of a TypeAuthRequest envelope.
type AuthRequest struct {
	DeviceID   string     `json:"deviceId"`
	Token      string     `json:"token"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
}

// AuthResponse is the payload of a TypeAuthResponse envelope. SessionID
// and Error are pointers so absence is an explicit null on the wire,
// never an empty-string sentinel.
type AuthResponse struct {
	Success   bool    `json:"success"`
	SessionID *string `json:"sessionId"`
	Error     *string `json:"error"`
}

// ErrorPayload is the payload of a TypeError envelope sent back when an
// inbound message cannot be decoded or dispatched.
type ErrorPayload struct {
	Error string `json:"error"`
}

// StatusResponse is the body of the GET /status endpoint.
type StatusResponse struct {
	Running                  bool    `json:"running"`
	ActiveSessions           int     `json:"activeSessions"`
	TotalConnections         int     `json:"totalConnections"`
	AuthenticatedConnections int     `json:"authenticatedConnections"`
	Timestamp                float64 `json:"timestamp"`
}

// MarshalAuthResponse wraps an AuthResponse into a ready-to-send envelope.
func MarshalAuthResponse(resp AuthResponse) (*Envelope, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return NewEnvelope(TypeAuthResponse, data), nil
}

// MarshalError wraps a failure description into a ready-to-send envelope.
func MarshalError(msg string) (*Envelope, error) {
	data, err := json.Marshal(ErrorPayload{Error: msg})
	if err != nil {
		return nil, err
	}
	return NewEnvelope(TypeError, data), nil
}
