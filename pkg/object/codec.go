package object

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Canonical encoding primitives, shared by the object schemas and the static
// delta container. Every multi-byte integer is big-endian. Variable-length
// quantities use base-128 varints restricted to their minimal form: a
// continuation chain whose final byte is zero (other than the single byte
// 0x00 for the value zero) is an alternate spelling of a shorter encoding
// and is rejected. Together with exact buffer consumption this makes the
// encoding of any logical value unique, which is what lets the checksum of
// the encoded bytes serve as the object's identity.

// Encoder accumulates a canonical encoding.
type Encoder struct {
	buf bytes.Buffer
}

// PutU8 appends a single byte.
func (e *Encoder) PutU8(v uint8) {
	e.buf.WriteByte(v)
}

// PutU32 appends a big-endian u32.
func (e *Encoder) PutU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

// PutU64 appends a big-endian u64.
func (e *Encoder) PutU64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// PutUvarint appends v in minimal base-128 form.
func (e *Encoder) PutUvarint(v uint64) {
	if v == 0 {
		e.buf.WriteByte(0)
		return
	}
	for v > 0 {
		b := byte(v & 0x7f)
		v >>= 7
		if v > 0 {
			b |= 0x80
		}
		e.buf.WriteByte(b)
	}
}

// PutBytes appends a length-prefixed byte string.
func (e *Encoder) PutBytes(p []byte) {
	e.PutUvarint(uint64(len(p)))
	e.buf.Write(p)
}

// PutString appends a length-prefixed string.
func (e *Encoder) PutString(s string) {
	e.PutUvarint(uint64(len(s)))
	e.buf.WriteString(s)
}

// PutXattrs appends an attribute array. The caller is responsible for
// canonical (sorted) order; see CanonicalizeXattrs.
func (e *Encoder) PutXattrs(xs []Xattr) {
	e.PutUvarint(uint64(len(xs)))
	for _, x := range xs {
		e.PutBytes(x.Name)
		e.PutBytes(x.Value)
	}
}

// Bytes returns the encoding accumulated so far.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Decoder consumes a canonical encoding, rejecting any non-minimal or
// truncated representation with ErrNonCanonical.
type Decoder struct {
	data []byte
	off  int
}

// NewDecoder wraps data for decoding. The decoder does not copy scalar
// fields but copies byte strings out of the buffer.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining reports the number of unconsumed bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.off
}

// Finish enforces normal form at the buffer level: a canonical encoding has
// no trailing bytes.
func (d *Decoder) Finish() error {
	if n := d.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d trailing bytes after value", ErrNonCanonical, n)
	}
	return nil
}

// U8 reads a single byte.
func (d *Decoder) U8() (uint8, error) {
	if d.Remaining() < 1 {
		return 0, fmt.Errorf("%w: truncated u8 at offset %d", ErrNonCanonical, d.off)
	}
	v := d.data[d.off]
	d.off++
	return v, nil
}

// U32 reads a big-endian u32.
func (d *Decoder) U32() (uint32, error) {
	if d.Remaining() < 4 {
		return 0, fmt.Errorf("%w: truncated u32 at offset %d", ErrNonCanonical, d.off)
	}
	v := binary.BigEndian.Uint32(d.data[d.off:])
	d.off += 4
	return v, nil
}

// U64 reads a big-endian u64.
func (d *Decoder) U64() (uint64, error) {
	if d.Remaining() < 8 {
		return 0, fmt.Errorf("%w: truncated u64 at offset %d", ErrNonCanonical, d.off)
	}
	v := binary.BigEndian.Uint64(d.data[d.off:])
	d.off += 8
	return v, nil
}

// Uvarint reads a minimal base-128 varint.
func (d *Decoder) Uvarint() (uint64, error) {
	var (
		value uint64
		shift uint
		n     int
	)
	start := d.off
	for {
		if d.Remaining() < 1 {
			return 0, fmt.Errorf("%w: truncated varint at offset %d", ErrNonCanonical, start)
		}
		b := d.data[d.off]
		d.off++
		n++
		if shift > 63 || (shift == 63 && b > 1) {
			return 0, fmt.Errorf("%w: varint overflow at offset %d", ErrNonCanonical, start)
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			// Minimal form: the final byte carries at least one bit unless
			// the whole value is the single byte 0x00.
			if b == 0 && n > 1 {
				return 0, fmt.Errorf("%w: oversized varint at offset %d", ErrNonCanonical, start)
			}
			return value, nil
		}
		shift += 7
	}
}

// Bytes reads a length-prefixed byte string. what names the field for error
// messages.
func (d *Decoder) Bytes(what string) ([]byte, error) {
	n, err := d.Uvarint()
	if err != nil {
		return nil, fmt.Errorf("%s length: %w", what, err)
	}
	if uint64(d.Remaining()) < n {
		return nil, fmt.Errorf("%w: %s claims %d bytes, %d remain", ErrNonCanonical, what, n, d.Remaining())
	}
	out := make([]byte, n)
	copy(out, d.data[d.off:d.off+int(n)])
	d.off += int(n)
	return out, nil
}

// String reads a length-prefixed string.
func (d *Decoder) String(what string) (string, error) {
	b, err := d.Bytes(what)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ArrayLen reads an element count and sanity-bounds it against the bytes
// remaining so a hostile count cannot drive a huge allocation. minElemSize
// is the smallest possible encoded size of one element.
func (d *Decoder) ArrayLen(what string, minElemSize int) (int, error) {
	n, err := d.Uvarint()
	if err != nil {
		return 0, fmt.Errorf("%s count: %w", what, err)
	}
	if n > uint64(d.Remaining()/minElemSize) {
		return 0, fmt.Errorf("%w: %s count %d exceeds remaining input", ErrNonCanonical, what, n)
	}
	return int(n), nil
}

// Xattrs reads an attribute array, enforcing canonical (sorted) order.
func (d *Decoder) Xattrs() ([]Xattr, error) {
	n, err := d.ArrayLen("xattrs", 2)
	if err != nil {
		return nil, err
	}
	out := make([]Xattr, 0, n)
	var prev []byte
	for i := 0; i < n; i++ {
		name, err := d.Bytes("xattr name")
		if err != nil {
			return nil, err
		}
		value, err := d.Bytes("xattr value")
		if err != nil {
			return nil, err
		}
		// Canonical xattr arrays are sorted by name; an unsorted array is
		// an alternate encoding of the same attribute set.
		if prev != nil && bytes.Compare(prev, name) > 0 {
			return nil, fmt.Errorf("%w: xattr %q out of order", ErrNonCanonical, name)
		}
		prev = name
		out = append(out, Xattr{Name: name, Value: value})
	}
	return out, nil
}
