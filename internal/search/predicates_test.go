package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeCode(t *testing.T) {
	tests := []struct {
		q    string
		want bool
	}{
		{"DKL1234567890A1", true},
		{"dkl1234567890a1", true},
		{"  ML123456789012  ", true},
		{"TR-123.456", true},
		{"AKL20903112345", true},
		{"paracetamol 500", false},
		{"DK", false},
		{"DKL12", true},
		{"obat batuk anak", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LooksLikeCode(tt.q), "query %q", tt.q)
	}
}

func TestIsNoisy(t *testing.T) {
	tests := []struct {
		name string
		q    string
		want bool
	}{
		{"short", "ab", true},
		{"blank", "   ", true},
		{"clean name", "paracetamol sirup", false},
		{"ocr garbage", "p@r@c3t/\\mol###", true},
		{"light punctuation", "paracetamol 500 mg, strip", false},
		{"mostly symbols", "!!!???", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNoisy(tt.q))
		})
	}
}
