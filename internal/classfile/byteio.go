package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"fortio.org/safecast"
)

var (
	// ErrTruncated is returned when a class file ends before a structure it
	// declares.
	ErrTruncated = errors.New("truncated class file")

	// ErrTooLarge is returned when a re-encoded structure no longer fits the
	// width of the field that stores it.
	ErrTooLarge = errors.New("class file limit exceeded")
)

// reader is a big-endian cursor over a byte slice. The first out-of-range
// read latches ErrTruncated and every later read returns zero.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) fail(n int) bool {
	if r.err != nil {
		return true
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.pos, len(r.buf)-r.pos)
		return true
	}
	return false
}

func (r *reader) u8() uint8 {
	if r.fail(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *reader) u16() uint16 {
	if r.fail(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u32() uint32 {
	if r.fail(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if r.fail(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.fail(n) {
		return nil
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v
}

func (r *reader) skip(n int) {
	if !r.fail(n) {
		r.pos += n
	}
}

// writer accumulates a big-endian byte stream. Narrowing conversions go
// through safecast and the first overflow latches ErrTooLarge.
type writer struct {
	buf []byte
	err error
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *writer) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// count writes n as a u16, recording an error if it does not fit.
func (w *writer) count(n int, what string) {
	v, err := safecast.Conv[uint16](n)
	if err != nil && w.err == nil {
		w.err = fmt.Errorf("%w: %s count %d", ErrTooLarge, what, n)
	}
	w.u16(v)
}

// length writes n as a u32, recording an error if it does not fit.
func (w *writer) length(n int, what string) {
	v, err := safecast.Conv[uint32](n)
	if err != nil && w.err == nil {
		w.err = fmt.Errorf("%w: %s length %d", ErrTooLarge, what, n)
	}
	w.u32(v)
}

// attribute writes a complete attribute_info structure.
func (w *writer) attribute(nameIndex uint16, data []byte) {
	w.u16(nameIndex)
	w.length(len(data), "attribute")
	w.raw(data)
}
