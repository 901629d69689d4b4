package delta

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"

	"github.com/substratefs/treestore/pkg/object"
)

// Part compression tags, the first byte of a part's wire form.
const (
	CompressNone byte = 0
	CompressLZMA byte = 'x'
)

// Mode is one entry of a part's per-object mode table.
type Mode struct {
	UID  uint32
	GID  uint32
	Mode uint32
}

// Payload is a part's decompressed content: the tables the opcode stream
// indexes into, the raw data blob, and the operation stream itself.
type Payload struct {
	Modes  []Mode
	Xattrs [][]object.Xattr
	Raw    []byte
	Ops    []byte
}

// MarshalPayload serializes a payload:
// (modes a(u32,u32,u32), xattrs a(a(ay,ay)), raw ay, ops ay).
func MarshalPayload(p *Payload) []byte {
	var e object.Encoder
	e.PutUvarint(uint64(len(p.Modes)))
	for _, m := range p.Modes {
		e.PutU32(m.UID)
		e.PutU32(m.GID)
		e.PutU32(m.Mode)
	}
	e.PutUvarint(uint64(len(p.Xattrs)))
	for _, xs := range p.Xattrs {
		e.PutXattrs(object.CanonicalizeXattrs(xs))
	}
	e.PutBytes(p.Raw)
	e.PutBytes(p.Ops)
	return e.Bytes()
}

// UnmarshalPayload decodes a decompressed part payload.
func UnmarshalPayload(data []byte) (*Payload, error) {
	d := object.NewDecoder(data)
	p := &Payload{}

	nModes, err := d.ArrayLen("mode table", 12)
	if err != nil {
		return nil, fmt.Errorf("unmarshal part payload: %w", err)
	}
	p.Modes = make([]Mode, 0, nModes)
	for i := 0; i < nModes; i++ {
		var m Mode
		if m.UID, err = d.U32(); err != nil {
			return nil, fmt.Errorf("unmarshal part payload: %w", err)
		}
		if m.GID, err = d.U32(); err != nil {
			return nil, fmt.Errorf("unmarshal part payload: %w", err)
		}
		if m.Mode, err = d.U32(); err != nil {
			return nil, fmt.Errorf("unmarshal part payload: %w", err)
		}
		p.Modes = append(p.Modes, m)
	}

	nXattrs, err := d.ArrayLen("xattr table", 1)
	if err != nil {
		return nil, fmt.Errorf("unmarshal part payload: %w", err)
	}
	p.Xattrs = make([][]object.Xattr, 0, nXattrs)
	for i := 0; i < nXattrs; i++ {
		xs, err := d.Xattrs()
		if err != nil {
			return nil, fmt.Errorf("unmarshal part payload: xattr table entry %d: %w", i, err)
		}
		p.Xattrs = append(p.Xattrs, xs)
	}

	if p.Raw, err = d.Bytes("raw data"); err != nil {
		return nil, fmt.Errorf("unmarshal part payload: %w", err)
	}
	if p.Ops, err = d.Bytes("operation stream"); err != nil {
		return nil, fmt.Errorf("unmarshal part payload: %w", err)
	}
	if err := d.Finish(); err != nil {
		return nil, fmt.Errorf("unmarshal part payload: %w", err)
	}
	return p, nil
}

// EncodePart compresses an encoded payload under the given tag and returns
// the part's wire form.
func EncodePart(tag byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPartSize {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds part cap %d",
			ErrCorruptDelta, len(payload), MaxPartSize)
	}
	var buf bytes.Buffer
	buf.WriteByte(tag)
	switch tag {
	case CompressNone:
		buf.Write(payload)
	case CompressLZMA:
		zw, err := lzma.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("lzma writer: %w", err)
		}
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("lzma compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("lzma close: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown compression tag %#x", ErrCorruptDelta, tag)
	}
	return buf.Bytes(), nil
}

// decodePartPayload strips the compression tag and decompresses, refusing to
// inflate past the part size cap.
func decodePartPayload(wire []byte) ([]byte, error) {
	if len(wire) == 0 {
		return nil, fmt.Errorf("%w: empty part", ErrCorruptDelta)
	}
	tag, body := wire[0], wire[1:]
	switch tag {
	case CompressNone:
		if len(body) > MaxPartSize {
			return nil, fmt.Errorf("%w: part payload %d bytes exceeds cap %d",
				ErrCorruptDelta, len(body), MaxPartSize)
		}
		return body, nil
	case CompressLZMA:
		zr, err := lzma.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: lzma stream: %v", ErrCorruptDelta, err)
		}
		var out bytes.Buffer
		// +1 so an over-cap stream is detectable.
		if _, err := io.Copy(&out, io.LimitReader(zr, MaxPartSize+1)); err != nil {
			return nil, fmt.Errorf("%w: lzma decompress: %v", ErrCorruptDelta, err)
		}
		if out.Len() > MaxPartSize {
			return nil, fmt.Errorf("%w: part payload exceeds cap %d", ErrCorruptDelta, MaxPartSize)
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression tag %#x", ErrCorruptDelta, tag)
	}
}

// ValidatePart checks a part's wire bytes against its meta entry and returns
// the decoded payload. It must run before Execute: the declared checksum
// over the decompressed payload is the part's trust boundary.
func ValidatePart(meta *PartMeta, wire []byte) (*Payload, error) {
	if meta.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported part version %d", ErrCorruptDelta, meta.Version)
	}
	if len(meta.Objects) == 0 {
		return nil, fmt.Errorf("%w: part declares no objects", ErrCorruptDelta)
	}
	if meta.Size != uint64(len(wire)) {
		return nil, fmt.Errorf("%w: part is %d bytes on the wire, meta declares %d",
			ErrCorruptDelta, len(wire), meta.Size)
	}
	payloadBytes, err := decodePartPayload(wire)
	if err != nil {
		return nil, err
	}
	if meta.UncompressedSize != uint64(len(payloadBytes)) {
		return nil, fmt.Errorf("%w: payload is %d bytes, meta declares %d",
			ErrCorruptDelta, len(payloadBytes), meta.UncompressedSize)
	}
	sum := sha256.Sum256(payloadBytes)
	if !bytes.Equal(sum[:], meta.Checksum) {
		return nil, fmt.Errorf("%w: part payload checksum does not match declaration",
			ErrChecksumMismatch)
	}
	return UnmarshalPayload(payloadBytes)
}
