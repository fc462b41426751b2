package codec

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestIntegerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteU8(0xAB)
	w.WriteI8(-1)
	w.WriteU16(0xBEEF)
	w.WriteI16(-2)
	w.WriteU32(0xDEADBEEF)
	w.WriteI32(-3)
	w.WriteU64(0x0102030405060708)
	w.WriteI64(-4)
	w.WriteBool(true)
	w.WriteBool(false)
	if err := w.Err(); err != nil {
		t.Fatalf("write error: %v", err)
	}

	r := NewReader(&buf)
	if v, err := r.ReadU8(); err != nil || v != 0xAB {
		t.Fatalf("ReadU8: %v %v", v, err)
	}
	if v, err := r.ReadI8(); err != nil || v != -1 {
		t.Fatalf("ReadI8: %v %v", v, err)
	}
	if v, err := r.ReadU16(); err != nil || v != 0xBEEF {
		t.Fatalf("ReadU16: %v %v", v, err)
	}
	if v, err := r.ReadI16(); err != nil || v != -2 {
		t.Fatalf("ReadI16: %v %v", v, err)
	}
	if v, err := r.ReadU32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("ReadU32: %v %v", v, err)
	}
	if v, err := r.ReadI32(); err != nil || v != -3 {
		t.Fatalf("ReadI32: %v %v", v, err)
	}
	if v, err := r.ReadU64(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("ReadU64: %v %v", v, err)
	}
	if v, err := r.ReadI64(); err != nil || v != -4 {
		t.Fatalf("ReadI64: %v %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != true {
		t.Fatalf("ReadBool true: %v %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != false {
		t.Fatalf("ReadBool false: %v %v", v, err)
	}
}

func TestFloatRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteF32(3.25)
	w.WriteF64(-12345.6789)
	r := NewReader(&buf)
	if v, err := r.ReadF32(); err != nil || v != 3.25 {
		t.Fatalf("ReadF32: %v %v", v, err)
	}
	if v, err := r.ReadF64(); err != nil || v != -12345.6789 {
		t.Fatalf("ReadF64: %v %v", v, err)
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteDecimal(0x1111111111111111, 0x2222222222222222)
	r := NewReader(&buf)
	hi, lo, err := r.ReadDecimal()
	if err != nil {
		t.Fatalf("ReadDecimal: %v", err)
	}
	if hi != 0x1111111111111111 || lo != 0x2222222222222222 {
		t.Fatalf("decimal mismatch: hi=%x lo=%x", hi, lo)
	}
}

func TestDateTimeAndTimeSpanRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteDateTime(638123456789)
	w.WriteTimeSpan(-98765)
	r := NewReader(&buf)
	if v, err := r.ReadDateTime(); err != nil || v != 638123456789 {
		t.Fatalf("ReadDateTime: %v %v", v, err)
	}
	if v, err := r.ReadTimeSpan(); err != nil || v != -98765 {
		t.Fatalf("ReadTimeSpan: %v %v", v, err)
	}
}

func TestGuidRoundTrip(t *testing.T) {
	id := uuid.New()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteGuid(id)
	r := NewReader(&buf)
	got, err := r.ReadGuid()
	if err != nil {
		t.Fatalf("ReadGuid: %v", err)
	}
	if got != id {
		t.Fatalf("guid mismatch: got %v want %v", got, id)
	}
}

func TestStringNullAndEmpty(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	empty := ""
	w.WriteString(nil)
	w.WriteString(&empty)
	r := NewReader(&buf)
	got, err := r.ReadString()
	if err != nil {
		t.Fatalf("ReadString null: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil string, got %v", *got)
	}
	got, err = r.ReadString()
	if err != nil {
		t.Fatalf("ReadString empty: %v", err)
	}
	if got == nil || *got != "" {
		t.Fatalf("expected empty string, got %v", got)
	}
}

func TestStringShortAndExtendedForm(t *testing.T) {
	short := "hello"
	long := strings.Repeat("x", 300)
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteString(&short)
	w.WriteString(&long)
	r := NewReader(&buf)
	got, err := r.ReadString()
	if err != nil || got == nil || *got != short {
		t.Fatalf("short string mismatch: %v %v", got, err)
	}
	got, err = r.ReadString()
	if err != nil || got == nil || *got != long {
		t.Fatalf("long string mismatch: %v", err)
	}
}

func TestArrayLenShortAndExtendedForm(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteArrayLen(3)
	w.WriteArrayLen(1000)
	r := NewReader(&buf)
	n, err := r.ReadArrayLen()
	if err != nil || n != 3 {
		t.Fatalf("short array len: %v %v", n, err)
	}
	n, err = r.ReadArrayLen()
	if err != nil || n != 1000 {
		t.Fatalf("extended array len: %v %v", n, err)
	}
}

func TestReadShortInputReturnsEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	if _, err := r.ReadU8(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestWriterStickyError(t *testing.T) {
	w := NewWriter(&failingWriter{})
	w.WriteU8(1)
	if w.Err() == nil {
		t.Fatalf("expected sticky write error")
	}
	// subsequent writes are no-ops once an error is latched
	w.WriteU64(99)
	if w.Err() == nil {
		t.Fatalf("expected error to remain latched")
	}
}

type failingWriter struct{}

func (f *failingWriter) Write(p []byte) (int, error) {
	return 0, io.ErrClosedPipe
}
