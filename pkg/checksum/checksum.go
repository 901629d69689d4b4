// Package checksum converts between the 32-byte binary SHA-256 digests that
// name objects and their 64-character lowercase hex renderings. The in-place
// variants exist for hot paths that cannot afford allocation.
package checksum

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	// Size is the length of a binary SHA-256 digest.
	Size = 32
	// HexSize is the length of the hex rendering of a digest.
	HexSize = 64
)

// ErrMalformedChecksum reports a hex checksum string of the wrong length or
// containing characters outside [0-9a-f].
var ErrMalformedChecksum = errors.New("malformed checksum")

const hexDigits = "0123456789abcdef"

// EncodeInto writes the hex rendering of the 32-byte digest csum into buf,
// which must be at least HexSize bytes.
func EncodeInto(buf []byte, csum []byte) {
	_ = buf[HexSize-1]
	for i, b := range csum[:Size] {
		buf[2*i] = hexDigits[b>>4]
		buf[2*i+1] = hexDigits[b&0xf]
	}
}

// FromBytes returns the hex rendering of a 32-byte binary digest.
func FromBytes(csum []byte) string {
	var buf [HexSize]byte
	EncodeInto(buf[:], csum)
	return string(buf[:])
}

// hexDigitValue returns the value of a lowercase hex digit, or -1. Uppercase
// digits are deliberately rejected: the canonical rendering is lowercase and
// accepting both would let two distinct strings name the same object.
func hexDigitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return -1
	}
}

// DecodeInto parses the 64-character lowercase hex string s into buf, which
// must be at least Size bytes. It never reads past HexSize input bytes and
// fails with ErrMalformedChecksum on any length or character violation.
func DecodeInto(buf []byte, s string) error {
	if len(s) != HexSize {
		return fmt.Errorf("%w: length %d, expected %d", ErrMalformedChecksum, len(s), HexSize)
	}
	_ = buf[Size-1]
	for i := 0; i < Size; i++ {
		hi := hexDigitValue(s[2*i])
		lo := hexDigitValue(s[2*i+1])
		if hi < 0 || lo < 0 {
			return fmt.Errorf("%w: invalid character at offset %d in %q", ErrMalformedChecksum, 2*i, s)
		}
		buf[i] = byte(hi<<4 | lo)
	}
	return nil
}

// ToBytes parses a 64-character lowercase hex checksum into a fresh 32-byte
// slice.
func ToBytes(s string) ([]byte, error) {
	buf := make([]byte, Size)
	if err := DecodeInto(buf, s); err != nil {
		return nil, err
	}
	return buf, nil
}

// Validate reports whether s is a well-formed hex checksum string.
func Validate(s string) error {
	var buf [Size]byte
	return DecodeInto(buf[:], s)
}

// Compare lexicographically compares two 32-byte binary digests, returning
// -1, 0, or 1. Checksums are not secret material, so no constant-time
// guarantee is needed.
func Compare(a, b []byte) int {
	return bytes.Compare(a[:Size], b[:Size])
}
