// Package wire implements the primitive binary codec used by the Nix
// worker protocol: fixed-width little-endian integers and length-prefixed,
// null-padded byte strings. Every higher-level shape in pkg/daemon (lists,
// maps, store paths, derivations) is built out of these primitives.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxStringDefault is a conservative default cap used by callers that don't
// have a more specific limit in mind. Most callers in pkg/daemon pass their
// own limit explicitly.
const MaxStringDefault = 64 * 1024 * 1024

// WriteUint64 writes v as an 8-byte little-endian integer.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], v)

	_, err := w.Write(buf[:])

	return err
}

// ReadUint64 reads an 8-byte little-endian integer.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteBool writes b as a uint64: 1 for true, 0 for false.
func WriteBool(w io.Writer, b bool) error {
	var v uint64
	if b {
		v = 1
	}

	return WriteUint64(w, v)
}

// ReadBool reads a uint64 and reports whether it is non-zero.
func ReadBool(r io.Reader) (bool, error) {
	v, err := ReadUint64(r)
	if err != nil {
		return false, err
	}

	return v != 0, nil
}

// padLen returns the number of zero bytes needed to round n up to the next
// multiple of 8.
func padLen(n uint64) uint64 {
	return (8 - (n % 8)) % 8
}

// WriteBytes writes p as an 8-byte length, the raw bytes, then zero padding
// up to the next 8-byte boundary.
func WriteBytes(w io.Writer, p []byte) error {
	if err := WriteUint64(w, uint64(len(p))); err != nil {
		return err
	}

	if _, err := w.Write(p); err != nil {
		return err
	}

	pad := padLen(uint64(len(p)))
	if pad == 0 {
		return nil
	}

	var zero [8]byte

	_, err := w.Write(zero[:pad])

	return err
}

// ReadBytes reads a length-prefixed, padded byte string. maxBytes bounds the
// length field to guard against malformed or hostile input; a declared
// length greater than maxBytes is reported as an error without attempting
// to allocate or read it.
func ReadBytes(r io.Reader, maxBytes uint64) ([]byte, error) {
	length, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}

	if length > maxBytes {
		return nil, fmt.Errorf("wire: length %d exceeds limit %d", length, maxBytes)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	pad := padLen(length)
	if pad > 0 {
		var zero [8]byte

		if _, err := io.ReadFull(r, zero[:pad]); err != nil {
			return nil, err
		}

		for _, b := range zero[:pad] {
			if b != 0 {
				return nil, fmt.Errorf("wire: non-zero padding byte %#x", b)
			}
		}
	}

	return data, nil
}

// WriteString writes s as its UTF-8 bytes via WriteBytes.
func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads a length-prefixed string, bounded by maxBytes.
func ReadString(r io.Reader, maxBytes uint64) (string, error) {
	b, err := ReadBytes(r, maxBytes)
	if err != nil {
		return "", err
	}

	return string(b), nil
}
