// Package base62 implements the Base-62 encoding used to derive short codes
// from numeric database identifiers. The encoding is deterministic and stable:
// a given identifier always maps to the same code, so persisted codes and
// cache keys remain valid forever.
package base62

import "errors"

// The symbol order is part of the wire format. Changing it would break every
// code already persisted.
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const base = uint64(62)

// ErrInvalidCharacter is returned by Decode when the input contains a symbol
// outside the Base-62 alphabet.
var ErrInvalidCharacter = errors.New("invalid character in base62 string")

var charToValue = func() map[byte]uint64 {
	m := make(map[byte]uint64, len(alphabet))
	for i := 0; i < len(alphabet); i++ {
		m[alphabet[i]] = uint64(i)
	}
	return m
}()

// Encode converts a positive identifier to its Base-62 representation,
// most significant digit first. Identifiers start at 1; Encode(0) yields "0"
// but is never produced by the application.
func Encode(n uint64) string {
	if n == 0 {
		return "0"
	}

	buf := make([]byte, 0, 11)
	for n > 0 {
		buf = append(buf, alphabet[n%base])
		n /= base
	}

	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}

	return string(buf)
}

// Decode converts a Base-62 string back to its numeric value. Lookup in the
// application is by direct string match, so Decode exists for diagnostics
// and tests rather than the hot path.
func Decode(s string) (uint64, error) {
	var n uint64
	for i := 0; i < len(s); i++ {
		v, ok := charToValue[s[i]]
		if !ok {
			return 0, ErrInvalidCharacter
		}
		n = n*base + v
	}
	return n, nil
}
