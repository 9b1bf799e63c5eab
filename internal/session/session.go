package session

import "time"

// Session is a time-limited authorization record binding a device to an
// opaque id. ExpiresAt is absolute from creation: activity refreshes
// touch LastActivityAt only and never extend the session's life.
type Session struct {
	ID             string
	DeviceID       string
	Token          string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

// IsExpired reports whether the session is past its absolute deadline.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
