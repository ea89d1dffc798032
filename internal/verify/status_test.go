package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"valid", StatusValid},
		{"VALID", StatusValid},
		{"registered", StatusRegistered},
		{"Terdaftar", StatusRegistered},
		{"active", StatusActive},
		{"Aktif", StatusActive},
		{"invalid", StatusInvalid},
		{"revoked", StatusRevoked},
		{"dicabut", StatusRevoked},
		{"expired", StatusExpired},
		{"kadaluarsa", StatusExpired},
		{"nonaktif", StatusInactive},
		{"not_registered", StatusUnregistered},
		{"tidak terdaftar", StatusUnregistered},
		{"", StatusUnknown},
		{"something else", StatusUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseStatus(tt.in), "input %q", tt.in)
	}
}

func TestStatus_Groups(t *testing.T) {
	for _, s := range []Status{StatusValid, StatusRegistered, StatusActive} {
		assert.True(t, s.Registered(), s.String())
		assert.False(t, s.Deregistered(), s.String())
	}
	for _, s := range []Status{StatusInvalid, StatusRevoked, StatusExpired, StatusInactive, StatusUnregistered} {
		assert.True(t, s.Deregistered(), s.String())
		assert.False(t, s.Registered(), s.String())
	}
	assert.False(t, StatusUnknown.Registered())
	assert.False(t, StatusUnknown.Deregistered())
}
