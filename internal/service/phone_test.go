package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhoneNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{"912345678", "+351912345678"},
		{"351912345678", "+351912345678"},
		{"+351 912 345 678", "+351912345678"},
		{"(91) 234-5678", "+351912345678"},
		{"", "+351"},
		{"abc", "+351"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizePhoneNumber(tt.raw, "351"))
		})
	}
}

func TestNormalizePhoneNumberIsIdempotent(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"912345678", "351912345678", "+44 20 7946 0958", "00-351-912", "x"} {
		once := NormalizePhoneNumber(raw, "351")
		assert.Equal(t, once, NormalizePhoneNumber(once, "351"), raw)
	}
}
