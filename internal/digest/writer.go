package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Writer accumulates length-prefixed fields into a sha256 state.
//
// Each field is written as an 8-byte big-endian length followed by the raw
// bytes. Counts are written the same way so that list boundaries are
// unambiguous.
type Writer struct {
	h hash.Hash
}

// NewWriter returns a Writer with an empty sha256 state.
func NewWriter() *Writer {
	return &Writer{h: sha256.New()}
}

// Bytes writes one length-prefixed field.
func (w *Writer) Bytes(data []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(data)))
	w.h.Write(prefix[:])
	w.h.Write(data)
}

// String writes one length-prefixed string field.
func (w *Writer) String(s string) { w.Bytes([]byte(s)) }

// Count writes a list length as its own field.
func (w *Writer) Count(n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	w.Bytes(b[:])
}

// Sum returns the hex digest of everything written so far.
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Bytes returns the plain sha256 hex of data.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
