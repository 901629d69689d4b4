package object

import (
	"errors"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 14, 1<<32 - 1, 1<<63 - 1, ^uint64(0)}
	for _, v := range values {
		var e Encoder
		e.PutUvarint(v)
		d := NewDecoder(e.Bytes())
		got, err := d.Uvarint()
		if err != nil {
			t.Fatalf("Uvarint(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("Uvarint = %d, want %d", got, v)
		}
		if err := d.Finish(); err != nil {
			t.Fatalf("Finish after %d: %v", v, err)
		}
	}
}

func TestUvarintRejectsOverlong(t *testing.T) {
	// 0x80 0x00 is an overlong spelling of 0.
	d := NewDecoder([]byte{0x80, 0x00})
	if _, err := d.Uvarint(); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("overlong zero: %v, want ErrNonCanonical", err)
	}
	// 0xff 0x00 is an overlong spelling of 127.
	d = NewDecoder([]byte{0xff, 0x00})
	if _, err := d.Uvarint(); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("overlong 127: %v, want ErrNonCanonical", err)
	}
}

func TestUvarintRejectsOverflow(t *testing.T) {
	// Ten continuation bytes push past 64 bits.
	in := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}
	d := NewDecoder(in)
	if _, err := d.Uvarint(); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("overflow: %v, want ErrNonCanonical", err)
	}
}

func TestUvarintRejectsTruncated(t *testing.T) {
	d := NewDecoder([]byte{0x80})
	if _, err := d.Uvarint(); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("truncated: %v, want ErrNonCanonical", err)
	}
}

func TestFinishRejectsTrailingBytes(t *testing.T) {
	var e Encoder
	e.PutU32(7)
	data := append(e.Bytes(), 0x00)
	d := NewDecoder(data)
	if _, err := d.U32(); err != nil {
		t.Fatalf("U32: %v", err)
	}
	if err := d.Finish(); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("Finish with trailing byte: %v, want ErrNonCanonical", err)
	}
}

func TestBytesRejectsOversizedLength(t *testing.T) {
	var e Encoder
	e.PutUvarint(100) // claims 100 bytes, provides none
	d := NewDecoder(e.Bytes())
	if _, err := d.Bytes("field"); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("oversized length: %v, want ErrNonCanonical", err)
	}
}

func TestArrayLenBoundsCount(t *testing.T) {
	var e Encoder
	e.PutUvarint(1 << 40) // absurd element count
	d := NewDecoder(e.Bytes())
	if _, err := d.ArrayLen("entries", 2); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("hostile count: %v, want ErrNonCanonical", err)
	}
}

func TestXattrsEnforceSortedOrder(t *testing.T) {
	var e Encoder
	e.PutUvarint(2)
	e.PutBytes([]byte("user.b"))
	e.PutBytes([]byte("1"))
	e.PutBytes([]byte("user.a"))
	e.PutBytes([]byte("2"))
	d := NewDecoder(e.Bytes())
	if _, err := d.Xattrs(); !errors.Is(err, ErrNonCanonical) {
		t.Fatalf("unsorted xattrs: %v, want ErrNonCanonical", err)
	}
}
