package object

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/substratefs/treestore/pkg/checksum"
)

// A file object's byte stream is framed as:
//
//	[u32 BE header-length][4 zero bytes][header][content]
//
// The four zero bytes pad the header to an 8-byte boundary measured from
// stream start. Bare streams carry raw content and infer its length from the
// total stream length; archive (zlib) streams carry compressed content and
// the header's explicit size field is authoritative.

const fileStreamHeaderOffset = 8

// FramedFileHeader returns the framed bare header for meta: length prefix,
// padding, and the encoded header. Hashing this followed by the raw content
// yields the object's content address regardless of how the object is stored.
func FramedFileHeader(meta *FileMeta) []byte {
	return framedHeader(MarshalFileHeader(meta))
}

// framedHeader returns the length prefix, padding, and header as one buffer.
func framedHeader(header []byte) []byte {
	buf := make([]byte, fileStreamHeaderOffset+len(header))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(header)))
	copy(buf[fileStreamHeaderOffset:], header)
	return buf
}

// FileObjectSize returns the total bare-stream length for a file object with
// the given metadata and content length.
func FileObjectSize(meta *FileMeta, contentLen uint64) uint64 {
	return uint64(fileStreamHeaderOffset+len(MarshalFileHeader(meta))) + contentLen
}

// FileObjectReader converts raw file content into a bare file object stream,
// returning the stream and its total length. content may be nil for
// symlinks.
func FileObjectReader(meta *FileMeta, content io.Reader, contentLen uint64) (io.Reader, uint64, error) {
	if err := ValidateFileMode(meta.Mode); err != nil {
		return nil, 0, err
	}
	framed := framedHeader(MarshalFileHeader(meta))
	total := uint64(len(framed)) + contentLen
	if content == nil {
		return bytes.NewReader(framed), total, nil
	}
	return io.MultiReader(bytes.NewReader(framed), content), total, nil
}

// WriteZlibFileObject writes the archive representation of a file object:
// the framed zlib header (carrying the explicit content size) followed by
// the zlib-compressed content.
func WriteZlibFileObject(w io.Writer, meta *FileMeta, content io.Reader, contentLen uint64) error {
	if err := ValidateFileMode(meta.Mode); err != nil {
		return err
	}
	framed := framedHeader(MarshalZlibFileHeader(meta, contentLen))
	if _, err := w.Write(framed); err != nil {
		return fmt.Errorf("write file object header: %w", err)
	}
	zw := zlib.NewWriter(w)
	if content != nil {
		if _, err := io.Copy(zw, content); err != nil {
			_ = zw.Close()
			return fmt.Errorf("compress file content: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zlib stream: %w", err)
	}
	return nil
}

// ParseFileObject is the reverse of FileObjectReader/WriteZlibFileObject: it
// reads the framed header from r, validates it, and returns the metadata
// together with a reader positioned at the raw (decompressed) content and
// the content length. totalLen is the full stream length as stored.
func ParseFileObject(r io.Reader, totalLen uint64, compressed bool) (*FileMeta, io.Reader, uint64, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, nil, 0, fmt.Errorf("%w: reading header length: %w", ErrCorruptHeader, err)
	}
	headerLen := binary.BigEndian.Uint32(lenBuf[:])
	if headerLen == 0 {
		return nil, nil, 0, fmt.Errorf("%w: header length is zero", ErrCorruptHeader)
	}
	if uint64(headerLen)+fileStreamHeaderOffset > totalLen {
		return nil, nil, 0, fmt.Errorf("%w: header length %d exceeds stream length %d",
			ErrCorruptHeader, headerLen, totalLen)
	}

	var pad [4]byte
	if _, err := io.ReadFull(r, pad[:]); err != nil {
		return nil, nil, 0, fmt.Errorf("%w: reading padding: %w", ErrCorruptHeader, err)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, 0, fmt.Errorf("%w: reading header: %w", ErrCorruptHeader, err)
	}

	if compressed {
		meta, size, err := UnmarshalZlibFileHeader(header)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("%w: %w", ErrCorruptHeader, err)
		}
		if !IsRegularMode(meta.Mode) {
			return meta, nil, size, nil
		}
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("%w: zlib stream: %w", ErrCorruptHeader, err)
		}
		return meta, zr, size, nil
	}

	meta, err := UnmarshalFileHeader(header)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: %w", ErrCorruptHeader, err)
	}
	size := totalLen - uint64(headerLen) - fileStreamHeaderOffset
	if !IsRegularMode(meta.Mode) {
		return meta, nil, 0, nil
	}
	return meta, io.LimitReader(r, int64(size)), size, nil
}

// ComputeFileChecksum computes the content address of a file object by
// streaming the framed bare header and the raw content through SHA-256.
// Writing and checksumming share the framing so the object never has to be
// materialized in memory.
func ComputeFileChecksum(meta *FileMeta, content io.Reader) (string, error) {
	if err := ValidateFileMode(meta.Mode); err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(framedHeader(MarshalFileHeader(meta)))
	if content != nil {
		if _, err := io.Copy(h, content); err != nil {
			return "", fmt.Errorf("checksum file content: %w", err)
		}
	}
	return checksum.FromBytes(h.Sum(nil)), nil
}

// ComputeMetaChecksum hashes the canonical encoding of a metadata object.
func ComputeMetaChecksum(encoded []byte) string {
	sum := sha256.Sum256(encoded)
	return checksum.FromBytes(sum[:])
}
