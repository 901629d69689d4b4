package delta

import (
	"bytes"
	"errors"
	"testing"

	"github.com/substratefs/treestore/pkg/object"
)

func TestPatchRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		base   string
		target string
	}{
		{"identical", "hello world", "hello world"},
		{"small edit", "hello world", "hello wyrld"},
		{"target longer", "short", "short with a long literal tail appended"},
		{"target shorter", "a much longer base buffer", "a much"},
		{"empty base", "", "built from nothing"},
		{"empty target", "discarded entirely", ""},
		{"both empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			patch := MakePatch([]byte(tc.base), []byte(tc.target))
			got, err := ApplyPatch([]byte(tc.base), patch)
			if err != nil {
				t.Fatalf("ApplyPatch: %v", err)
			}
			if !bytes.Equal(got, []byte(tc.target)) {
				t.Fatalf("ApplyPatch = %q, want %q", got, tc.target)
			}
		})
	}
}

func TestPatchCompressesSimilarity(t *testing.T) {
	// Near-identical inputs must yield a diff block of almost all zeros.
	base := bytes.Repeat([]byte("abcdefgh"), 512)
	target := append([]byte(nil), base...)
	target[100] ^= 0xff

	patch := MakePatch(base, target)
	zeros := 0
	for _, b := range patch {
		if b == 0 {
			zeros++
		}
	}
	if zeros < len(patch)*9/10 {
		t.Fatalf("only %d of %d patch bytes are zero", zeros, len(patch))
	}
}

func TestApplyPatchRejectsWrongBase(t *testing.T) {
	patch := MakePatch([]byte("basebase"), []byte("target"))
	if _, err := ApplyPatch([]byte("short"), patch); !errors.Is(err, ErrProtocol) {
		t.Fatalf("wrong base: %v, want ErrProtocol", err)
	}
}

func TestApplyPatchRejectsTruncated(t *testing.T) {
	patch := MakePatch([]byte("base"), []byte("target"))
	if _, err := ApplyPatch([]byte("base"), patch[:len(patch)-2]); err == nil {
		t.Fatal("truncated patch applied cleanly")
	}
}

func TestApplyPatchRejectsBadSeek(t *testing.T) {
	var e object.Encoder
	e.PutUvarint(4) // base size
	e.PutUvarint(0) // target size
	e.PutUvarint(0) // diff len
	e.PutUvarint(0) // extra len
	e.PutUvarint(zigzag(-1))
	if _, err := ApplyPatch([]byte("base"), e.Bytes()); !errors.Is(err, ErrProtocol) {
		t.Fatalf("negative seek from zero: %v, want ErrProtocol", err)
	}
}

func TestZigzag(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, -64, 1 << 40, -(1 << 40)} {
		if got := unzigzag(zigzag(v)); got != v {
			t.Fatalf("unzigzag(zigzag(%d)) = %d", v, got)
		}
	}
}
