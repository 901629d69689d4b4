package delta

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/substratefs/treestore/pkg/checksum"
	"github.com/substratefs/treestore/pkg/object"
)

// PartBuilder assembles one delta part: objects are added in the order the
// interpreter will produce them, and Finish emits the wire bytes plus the
// matching meta entry.
type PartBuilder struct {
	payload Payload
	ops     object.Encoder
	objects []ObjectRef
}

func NewPartBuilder() *PartBuilder {
	return &PartBuilder{}
}

// appendRaw places data in the raw blob and returns its offset.
func (b *PartBuilder) appendRaw(data []byte) uint64 {
	off := uint64(len(b.payload.Raw))
	b.payload.Raw = append(b.payload.Raw, data...)
	return off
}

// internMeta adds the file metadata to the mode and xattr tables, reusing an
// existing identical entry.
func (b *PartBuilder) internMeta(meta *object.FileMeta) (modeIdx, xattrIdx uint64) {
	m := Mode{UID: meta.UID, GID: meta.GID, Mode: meta.Mode}
	modeIdx = uint64(len(b.payload.Modes))
	for i, have := range b.payload.Modes {
		if have == m {
			modeIdx = uint64(i)
			break
		}
	}
	if modeIdx == uint64(len(b.payload.Modes)) {
		b.payload.Modes = append(b.payload.Modes, m)
	}

	canon := object.CanonicalizeXattrs(meta.Xattrs)
	xattrIdx = uint64(len(b.payload.Xattrs))
	for i, have := range b.payload.Xattrs {
		if xattrsEqual(have, canon) {
			xattrIdx = uint64(i)
			break
		}
	}
	if xattrIdx == uint64(len(b.payload.Xattrs)) {
		b.payload.Xattrs = append(b.payload.Xattrs, canon)
	}
	return modeIdx, xattrIdx
}

func xattrsEqual(a, b []object.Xattr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i].Name, b[i].Name) || !bytes.Equal(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

// AddMetaObject emits an OPEN_SPLICE_AND_CLOSE for a metadata object's
// canonical encoding and returns its checksum.
func (b *PartBuilder) AddMetaObject(t object.ObjectType, encoded []byte) (string, error) {
	if !t.IsMeta() {
		return "", fmt.Errorf("%w: AddMetaObject with type %s", ErrProtocol, t)
	}
	csum := object.ComputeMetaChecksum(encoded)
	csumBytes, err := checksum.ToBytes(csum)
	if err != nil {
		return "", err
	}
	off := b.appendRaw(encoded)
	b.ops.PutU8(OpOpenSpliceAndClose)
	b.ops.PutUvarint(uint64(len(encoded)))
	b.ops.PutUvarint(off)
	b.objects = append(b.objects, ObjectRef{Type: t, Checksum: csumBytes})
	return csum, nil
}

// AddFileObject emits an OPEN_SPLICE_AND_CLOSE for a whole file object. For
// symlinks content must be nil; the target travels in the metadata and is
// spliced from raw data.
func (b *PartBuilder) AddFileObject(meta *object.FileMeta, content []byte) (string, error) {
	csum, csumBytes, err := fileRef(meta, content)
	if err != nil {
		return "", err
	}
	modeIdx, xattrIdx := b.internMeta(meta)
	splice := content
	if object.IsSymlinkMode(meta.Mode) {
		splice = []byte(meta.SymlinkTarget)
	}
	off := b.appendRaw(splice)
	b.ops.PutU8(OpOpenSpliceAndClose)
	b.ops.PutUvarint(modeIdx)
	b.ops.PutUvarint(xattrIdx)
	b.ops.PutUvarint(uint64(len(splice)))
	b.ops.PutUvarint(off)
	b.objects = append(b.objects, ObjectRef{Type: object.TypeFile, Checksum: csumBytes})
	return csum, nil
}

// AddFilePatch emits OPEN / SET_READ_SOURCE / BSPATCH / CLOSE producing a
// regular file object from a stored base object's content.
func (b *PartBuilder) AddFilePatch(meta *object.FileMeta, baseChecksum string, base, target []byte) (string, error) {
	if !object.IsRegularMode(meta.Mode) {
		return "", fmt.Errorf("%w: BSPATCH target must be a regular file", ErrProtocol)
	}
	csum, csumBytes, err := fileRef(meta, target)
	if err != nil {
		return "", err
	}
	baseBytes, err := checksum.ToBytes(baseChecksum)
	if err != nil {
		return "", err
	}
	modeIdx, xattrIdx := b.internMeta(meta)
	patch := MakePatch(base, target)
	patchOff := b.appendRaw(patch)
	srcOff := b.appendRaw(baseBytes)

	b.ops.PutU8(OpOpen)
	b.ops.PutUvarint(modeIdx)
	b.ops.PutUvarint(xattrIdx)
	b.ops.PutUvarint(uint64(len(target)))
	b.ops.PutU8(OpSetReadSource)
	b.ops.PutUvarint(srcOff)
	b.ops.PutU8(OpBSPatch)
	b.ops.PutUvarint(uint64(len(patch)))
	b.ops.PutUvarint(patchOff)
	b.ops.PutU8(OpClose)
	b.objects = append(b.objects, ObjectRef{Type: object.TypeFile, Checksum: csumBytes})
	return csum, nil
}

func fileRef(meta *object.FileMeta, content []byte) (string, []byte, error) {
	csum, err := object.ComputeFileChecksum(meta, bytes.NewReader(content))
	if err != nil {
		return "", nil, err
	}
	csumBytes, err := checksum.ToBytes(csum)
	if err != nil {
		return "", nil, err
	}
	return csum, csumBytes, nil
}

// Finish compresses the payload under tag and returns the wire bytes with
// the part's meta entry.
func (b *PartBuilder) Finish(tag byte) ([]byte, *PartMeta, error) {
	if len(b.objects) == 0 {
		return nil, nil, fmt.Errorf("%w: part has no objects", ErrCorruptDelta)
	}
	b.payload.Ops = b.ops.Bytes()
	payloadBytes := MarshalPayload(&b.payload)
	wire, err := EncodePart(tag, payloadBytes)
	if err != nil {
		return nil, nil, err
	}
	sum := sha256.Sum256(payloadBytes)
	meta := &PartMeta{
		Version:          FormatVersion,
		Checksum:         sum[:],
		Size:             uint64(len(wire)),
		UncompressedSize: uint64(len(payloadBytes)),
		Objects:          b.objects,
	}
	return wire, meta, nil
}
