package idgen

import "github.com/google/uuid"

// NewDeviceID returns a fresh ASCII-printable string intended to be unique
// across cases, as §3's DataSource.DeviceID requires.
func NewDeviceID() string {
	return uuid.NewString()
}
