// Package codec implements the primitive wire encoding rules of spec.md §6:
// fixed-width integers and floats, bool, decimal128, DateTime/TimeSpan
// ticks, Guid, short-form-tagged strings, and length-prefixed arrays.
//
// Grounded on the teacher's internal/rtmp/amf package, with every type in
// this one file: a Writer and a Reader wrap an io.Writer/io.Reader and
// expose one Write/Read method pair per type. Malformed input is reported
// through the taxonomy package; io.EOF and io.ErrUnexpectedEOF from a
// short input are returned bare.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"

	protoerr "github.com/veloxdb/rpc/internal/errors"
	"github.com/google/uuid"
)

// Writer is a thin cursor over an io.Writer exposing one method per
// built-in type named in spec.md §4.2/§6.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter wraps w for primitive encoding.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// Err returns the first error encountered by any Write* call, or nil.
func (w *Writer) Err() error { return w.err }

func (w *Writer) write(op string, buf []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write(buf); err != nil {
		w.err = protoerr.NewCodecError(op, err)
	}
}

func (w *Writer) WriteU8(v uint8)   { w.write("codec.write_u8", []byte{v}) }
func (w *Writer) WriteI8(v int8)    { w.WriteU8(uint8(v)) }
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

func (w *Writer) WriteU16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.write("codec.write_u16", buf[:])
}
func (w *Writer) WriteI16(v int16) { w.WriteU16(uint16(v)) }

func (w *Writer) WriteU32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.write("codec.write_u32", buf[:])
}
func (w *Writer) WriteI32(v int32) { w.WriteU32(uint32(v)) }

func (w *Writer) WriteU64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.write("codec.write_u64", buf[:])
}
func (w *Writer) WriteI64(v int64) { w.WriteU64(uint64(v)) }

func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}
func (w *Writer) WriteF64(v float64) {
	w.WriteU64(math.Float64bits(v))
}

// WriteDecimal writes a 128-bit decimal as its two raw 64-bit halves, high
// word first, matching the fixed 16-byte layout spec.md §6 assigns it.
func (w *Writer) WriteDecimal(hi, lo uint64) {
	w.WriteU64(hi)
	w.WriteU64(lo)
}

// WriteDateTime writes a DateTime as its i64 tick count.
func (w *Writer) WriteDateTime(ticks int64) { w.WriteI64(ticks) }

// WriteTimeSpan writes a TimeSpan as its i64 tick count.
func (w *Writer) WriteTimeSpan(ticks int64) { w.WriteI64(ticks) }

// WriteGuid writes a Guid as its raw 16 bytes.
func (w *Writer) WriteGuid(id uuid.UUID) {
	w.write("codec.write_guid", id[:])
}

// stringTagNull / stringTagExtended are the short-form tag-byte sentinels
// from spec.md §6: 0 means null, 1 means an extended u32 length follows,
// and 2..255 is the length of a string 0..253 code units long, inline.
const (
	stringTagNull     = 0
	stringTagExtended = 1
	stringTagBase     = 2
	stringTagMax      = 255
	shortFormMaxLen   = stringTagMax - stringTagBase
)

// WriteString writes s using the short-form/extended-form tag-byte rule: a
// nil pointer distinguishes "absent" (tag 0) from an empty string (tag 2,
// zero code units).
func (w *Writer) WriteString(s *string) {
	if s == nil {
		w.WriteU8(stringTagNull)
		return
	}
	units := utf16.Encode([]rune(*s))
	if len(units) <= shortFormMaxLen {
		w.WriteU8(uint8(stringTagBase + len(units)))
	} else {
		w.WriteU8(stringTagExtended)
		w.WriteU32(uint32(len(units)))
	}
	for _, u := range units {
		w.WriteU16(u)
	}
}

// WriteArrayLen writes a length prefix using the same short-form rule as
// strings (spec.md §4.2: "a one-byte length-tag encodes short arrays").
func (w *Writer) WriteArrayLen(n int) {
	if n <= shortFormMaxLen {
		w.WriteU8(uint8(stringTagBase + n))
	} else {
		w.WriteU8(stringTagExtended)
		w.WriteU32(uint32(n))
	}
}

// Reader is the decode-side counterpart of Writer.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for primitive decoding.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

func (r *Reader) read(op string, buf []byte) error {
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return err
		}
		return protoerr.NewCodecError(op, err)
	}
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	var buf [1]byte
	if err := r.read("codec.read_u8", buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *Reader) ReadU16() (uint16, error) {
	var buf [2]byte
	if err := r.read("codec.read_u16", buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}
func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Reader) ReadU32() (uint32, error) {
	var buf [4]byte
	if err := r.read("codec.read_u32", buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadU64() (uint64, error) {
	var buf [8]byte
	if err := r.read("codec.read_u64", buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}
func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadDecimal reads a 128-bit decimal's two raw 64-bit halves, high word first.
func (r *Reader) ReadDecimal() (hi, lo uint64, err error) {
	if hi, err = r.ReadU64(); err != nil {
		return 0, 0, err
	}
	if lo, err = r.ReadU64(); err != nil {
		return 0, 0, err
	}
	return hi, lo, nil
}

func (r *Reader) ReadDateTime() (int64, error) { return r.ReadI64() }
func (r *Reader) ReadTimeSpan() (int64, error) { return r.ReadI64() }

func (r *Reader) ReadGuid() (uuid.UUID, error) {
	var id uuid.UUID
	if err := r.read("codec.read_guid", id[:]); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ReadString decodes a string per the short-form/extended-form tag-byte
// rule. A nil return with a nil error represents the wire's null case.
func (r *Reader) ReadString() (*string, error) {
	n, err := r.readLengthTag("codec.read_string")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	units := make([]uint16, n)
	for i := range units {
		u, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		units[i] = u
	}
	s := string(utf16.Decode(units))
	return &s, nil
}

// ReadArrayLen decodes a length prefix using the short-form rule shared
// with strings.
func (r *Reader) ReadArrayLen() (int, error) {
	n, err := r.readLengthTag("codec.read_array_len")
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, protoerr.NewCodecError("codec.read_array_len", fmt.Errorf("null tag not valid for array length"))
	}
	return n, nil
}

// readLengthTag decodes the shared short-form/extended-form/null tag byte,
// returning -1 for the null case.
func (r *Reader) readLengthTag(op string) (int, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	switch {
	case tag == stringTagNull:
		return -1, nil
	case tag == stringTagExtended:
		n, err := r.ReadU32()
		if err != nil {
			return 0, err
		}
		return int(n), nil
	default:
		return int(tag) - stringTagBase, nil
	}
}
