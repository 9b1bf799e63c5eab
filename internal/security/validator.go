package security

import "regexp"

// Device ids arrive as a URL path segment; the format keeps them safe
// to log and to use as map keys: 1-64 chars of [A-Za-z0-9._-].
var deviceIDRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidateDeviceID checks the device identifier format.
func ValidateDeviceID(deviceID string) bool {
	return deviceIDRegex.MatchString(deviceID)
}
