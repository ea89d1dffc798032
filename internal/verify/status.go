// Package verify turns retrieval hits into evidence, scores it, and decides
// whether a product is verified, suspect, or unknown.
package verify

import "strings"

// Status is the closed interpretation of the registry's free-form status
// strings. Anything unrecognized parses to StatusUnknown rather than being
// guessed at.
type Status int

const (
	StatusUnknown Status = iota
	StatusValid
	StatusRegistered
	StatusActive
	StatusInvalid
	StatusRevoked
	StatusExpired
	StatusInactive
	StatusUnregistered
)

// ParseStatus maps a published status string to the closed set.
// Case-insensitive; Indonesian registry spellings included.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "valid":
		return StatusValid
	case "registered", "terdaftar":
		return StatusRegistered
	case "active", "aktif":
		return StatusActive
	case "invalid":
		return StatusInvalid
	case "revoked", "dicabut":
		return StatusRevoked
	case "expired", "kadaluarsa", "kedaluwarsa":
		return StatusExpired
	case "inactive", "nonaktif", "non-aktif":
		return StatusInactive
	case "not_registered", "not registered", "unregistered", "tidak terdaftar":
		return StatusUnregistered
	default:
		return StatusUnknown
	}
}

// Registered reports whether the status confirms an active registration.
func (s Status) Registered() bool {
	switch s {
	case StatusValid, StatusRegistered, StatusActive:
		return true
	}
	return false
}

// Deregistered reports whether the status positively denies registration.
func (s Status) Deregistered() bool {
	switch s {
	case StatusInvalid, StatusRevoked, StatusExpired, StatusInactive, StatusUnregistered:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusRegistered:
		return "registered"
	case StatusActive:
		return "active"
	case StatusInvalid:
		return "invalid"
	case StatusRevoked:
		return "revoked"
	case StatusExpired:
		return "expired"
	case StatusInactive:
		return "inactive"
	case StatusUnregistered:
		return "unregistered"
	default:
		return "unknown"
	}
}
