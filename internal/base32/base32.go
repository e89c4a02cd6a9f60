// Package base32 implements the unpadded RFC 4648 base32 text form used for
// one-time-password secrets.
//
// Decoding is lenient by default: whitespace, lowercase and stray characters
// outside the alphabet are tolerated so that secrets pasted with formatting
// still work. Encoding never emits '=' padding, and the decoders never
// require it.
package base32

import (
	stdbase32 "encoding/base32"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Alphabet is the RFC 4648 base32 alphabet.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

var (
	ErrInvalidCharacter = errors.New("invalid base32 character")
	ErrInvalidLength    = errors.New("invalid base32 length")
)

var unpadded = stdbase32.StdEncoding.WithPadding(stdbase32.NoPadding)

// Normalize strips all whitespace and uppercases s.
func Normalize(s string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s))
}

// IsAlphabet reports whether c is a base32 alphabet character.
func IsAlphabet(c byte) bool {
	return value(c) >= 0
}

// Decode is the lenient decoder. Characters outside the alphabet are
// skipped, and trailing bits that do not fill a byte are dropped. It never
// fails: invalid or empty input yields a shorter or empty result.
func Decode(s string) []byte {
	s = Normalize(s)
	out := make([]byte, 0, len(s)*5/8)

	var acc uint32
	var bits uint
	for i := 0; i < len(s); i++ {
		v := value(s[i])
		if v < 0 {
			continue
		}
		acc = acc<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>bits))
			acc &= 1<<bits - 1
		}
	}
	return out
}

// DecodeStrict normalizes s like Decode but rejects characters outside the
// alphabet and lengths that cannot come from an encoder. Trailing '='
// padding is accepted.
func DecodeStrict(s string) ([]byte, error) {
	s = strings.TrimRight(Normalize(s), "=")
	for i := 0; i < len(s); i++ {
		if !IsAlphabet(s[i]) {
			return nil, fmt.Errorf("%w %q at offset %d", ErrInvalidCharacter, s[i], i)
		}
	}
	switch len(s) % 8 {
	case 1, 3, 6:
		return nil, fmt.Errorf("%w: %d characters", ErrInvalidLength, len(s))
	}
	return Decode(s), nil
}

// Encode returns the uppercase, unpadded base32 form of b. The final group
// is right-padded with zero bits.
func Encode(b []byte) string {
	return unpadded.EncodeToString(b)
}

func value(c byte) int {
	switch {
	case c >= 'A' && c <= 'Z':
		return int(c - 'A')
	case c >= '2' && c <= '7':
		return int(c-'2') + 26
	}
	return -1
}
