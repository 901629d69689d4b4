package checksum

import (
	"crypto/sha256"
	"errors"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	sum := sha256.Sum256([]byte("hello treestore"))
	hex := FromBytes(sum[:])
	if len(hex) != HexSize {
		t.Fatalf("FromBytes length = %d, want %d", len(hex), HexSize)
	}
	back, err := ToBytes(hex)
	if err != nil {
		t.Fatalf("ToBytes(%q): %v", hex, err)
	}
	if Compare(back, sum[:]) != 0 {
		t.Fatalf("round trip mismatch: %x != %x", back, sum[:])
	}
}

func TestFromBytesLowercase(t *testing.T) {
	raw := make([]byte, Size)
	for i := range raw {
		raw[i] = 0xab
	}
	hex := FromBytes(raw)
	if hex != strings.ToLower(hex) {
		t.Fatalf("FromBytes produced uppercase: %q", hex)
	}
	if want := strings.Repeat("ab", Size); hex != want {
		t.Fatalf("FromBytes = %q, want %q", hex, want)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid := strings.Repeat("ab", Size)
	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"short", valid[:HexSize-1]},
		{"long", valid + "a"},
		{"uppercase", strings.ToUpper(valid)},
		{"nonhex", "zz" + valid[2:]},
		{"space", " " + valid[1:]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.in); !errors.Is(err, ErrMalformedChecksum) {
				t.Fatalf("Validate(%q) = %v, want ErrMalformedChecksum", tc.in, err)
			}
		})
	}
	if err := Validate(valid); err != nil {
		t.Fatalf("Validate(%q) = %v, want nil", valid, err)
	}
}

func TestDecodeIntoNoOverread(t *testing.T) {
	// DecodeInto must never index past HexSize even with a longer string.
	buf := make([]byte, Size)
	long := strings.Repeat("ab", Size) + strings.Repeat("x", 100)
	if err := DecodeInto(buf, long); !errors.Is(err, ErrMalformedChecksum) {
		t.Fatalf("DecodeInto(long) = %v, want ErrMalformedChecksum", err)
	}
}

func TestCompare(t *testing.T) {
	a := make([]byte, Size)
	b := make([]byte, Size)
	if got := Compare(a, b); got != 0 {
		t.Fatalf("Compare(equal) = %d, want 0", got)
	}
	b[Size-1] = 1
	if got := Compare(a, b); got != -1 {
		t.Fatalf("Compare(a<b) = %d, want -1", got)
	}
	if got := Compare(b, a); got != 1 {
		t.Fatalf("Compare(b>a) = %d, want 1", got)
	}
}
