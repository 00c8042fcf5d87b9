package base62

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		n    uint64
		want string
	}{
		{"one", 1, "1"},
		{"nine", 9, "9"},
		{"first letter", 10, "a"},
		{"last lowercase", 35, "z"},
		{"first uppercase", 36, "A"},
		{"last symbol", 61, "Z"},
		{"first two-digit code", 62, "10"},
		{"mixed digits", 125, "21"},
		{"large id", 62 * 62, "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.n))
		})
	}
}

func TestEncode_Deterministic(t *testing.T) {
	for i := uint64(1); i < 1000; i++ {
		assert.Equal(t, Encode(i), Encode(i))
	}
}

func TestEncode_Unique(t *testing.T) {
	seen := make(map[string]uint64, 10000)

	for i := uint64(1); i <= 10000; i++ {
		code := Encode(i)
		prev, ok := seen[code]
		assert.Falsef(t, ok, "code %q produced by both %d and %d", code, prev, i)
		seen[code] = i
	}
}

func TestDecode(t *testing.T) {
	t.Run("invalid character", func(t *testing.T) {
		n, err := Decode("abc-def")

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidCharacter)
		assert.Zero(t, n)
	})

	t.Run("round trip", func(t *testing.T) {
		for _, n := range []uint64{1, 61, 62, 125, 3843, 123456789} {
			got, err := Decode(Encode(n))

			assert.NoError(t, err)
			assert.Equal(t, n, got)
		}
	})
}
