package object

import (
	"errors"
	"strings"
	"testing"

	"github.com/substratefs/treestore/pkg/checksum"
)

func TestObjectTypeStringRoundTrip(t *testing.T) {
	for _, typ := range []ObjectType{TypeFile, TypeDirTree, TypeDirMeta, TypeCommit} {
		back, err := ParseObjectType(typ.String())
		if err != nil {
			t.Fatalf("ParseObjectType(%q): %v", typ.String(), err)
		}
		if back != typ {
			t.Fatalf("ParseObjectType(%q) = %v, want %v", typ.String(), back, typ)
		}
	}
	if _, err := ParseObjectType("blob"); !errors.Is(err, ErrInvalidObjectType) {
		t.Fatalf("ParseObjectType(blob): %v, want ErrInvalidObjectType", err)
	}
}

func TestValidateType(t *testing.T) {
	for b := uint8(1); b <= 4; b++ {
		if _, err := ValidateType(b); err != nil {
			t.Fatalf("ValidateType(%d): %v", b, err)
		}
	}
	for _, b := range []uint8{0, 5, 255} {
		if _, err := ValidateType(b); !errors.Is(err, ErrInvalidObjectType) {
			t.Fatalf("ValidateType(%d): %v, want ErrInvalidObjectType", b, err)
		}
	}
}

func TestRelativePath(t *testing.T) {
	csum := strings.Repeat("ab", checksum.Size)
	cases := []struct {
		t          ObjectType
		compressed bool
		want       string
	}{
		{TypeCommit, false, "objects/ab/" + csum[2:] + ".commit"},
		{TypeDirTree, false, "objects/ab/" + csum[2:] + ".dirtree"},
		{TypeFile, false, "objects/ab/" + csum[2:] + ".file"},
		{TypeFile, true, "objects/ab/" + csum[2:] + ".filez"},
		// Metadata objects are never stored compressed.
		{TypeCommit, true, "objects/ab/" + csum[2:] + ".commit"},
	}
	for _, tc := range cases {
		got, err := RelativePath(csum, tc.t, tc.compressed)
		if err != nil {
			t.Fatalf("RelativePath(%v): %v", tc.t, err)
		}
		if got != tc.want {
			t.Fatalf("RelativePath(%v, %v) = %q, want %q", tc.t, tc.compressed, got, tc.want)
		}
	}

	if _, err := RelativePath("nothex", TypeFile, false); !errors.Is(err, checksum.ErrMalformedChecksum) {
		t.Fatalf("bad checksum: %v, want ErrMalformedChecksum", err)
	}
}
