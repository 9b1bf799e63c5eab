package constants

import "time"

// Network defaults
const (
	DefaultHost  = "localhost"
	DefaultPort  = "8080"
	WSBufferSize = 8192
	DialTimeout  = 10 * time.Second
	WriteTimeout = 5 * time.Second
)

// Session settings
const (
	SessionTTL       = time.Hour
	HandshakeTimeout = 10 * time.Second
	SweepInterval    = 5 * time.Minute
	ReaperInterval   = 30 * time.Second
)

// Token format bounds. Tokens are hex-encoded blobs; anything outside
// these bounds is rejected before decoding.
const (
	TokenMinLen = 16
	TokenMaxLen = 256
)

// Connection limits
const (
	MaxConnectionsPerIP = 10
	MaxMessageSize      = 1 << 20 // camera frames are the largest envelope
)

// API endpoints
const (
	EndpointConnect = "/ws/connect/"
	EndpointHealth  = "/health"
	EndpointStatus  = "/status"
	EndpointMetrics = "/metrics"
)

// Environment variables
const (
	EnvHost             = "POSELINK_HOST"
	EnvPort             = "PORT"
	EnvSecret           = "POSELINK_SECRET"
	EnvHandshakeTimeout = "POSELINK_HANDSHAKE_TIMEOUT"
	EnvSessionTTL       = "POSELINK_SESSION_TTL"
	EnvSweepInterval    = "POSELINK_SWEEP_INTERVAL"
	EnvReaperInterval   = "POSELINK_REAPER_INTERVAL"
	EnvTrustedProxies   = "POSELINK_TRUSTED_PROXIES"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorRed    = "\033[31m"
)

// Messages
const (
	MsgMethodNotAllowed  = "Method not allowed"
	MsgMissingDeviceID   = "Missing device ID"
	MsgInvalidDeviceID   = "Invalid device ID format"
	MsgConnLimitExceeded = "Connection limit exceeded"
	MsgRunning           = "running"
)
