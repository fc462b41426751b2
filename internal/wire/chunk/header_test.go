package chunk

import (
	"bytes"
	"io"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Size: 0, IsFirst: true, IsLast: true, MessageID: 1},
		{Size: 4096, IsFirst: true, IsLast: false, MessageID: 0xFFFFFFFFFFFF},
		{Size: 17, IsFirst: false, IsLast: true, MessageID: 42},
	}
	for _, h := range cases {
		var buf [HeaderSize]byte
		h.Encode(buf[:])
		got, err := ReadHeader(bytes.NewReader(buf[:]))
		if err != nil {
			t.Fatalf("ReadHeader: %v", err)
		}
		if got != h {
			t.Fatalf("round-trip mismatch: got %+v want %+v", got, h)
		}
	}
}

func TestHeaderEncodeIsSixteenBytes(t *testing.T) {
	h := Header{Size: 10, IsFirst: true, IsLast: true, MessageID: 7}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)
	if len(buf) != 16 {
		t.Fatalf("expected 16 byte header, got %d", len(buf))
	}
}

func TestReadHeaderEOF(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadHeaderShortRead(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader([]byte{1, 2, 3}))
	if err == nil {
		t.Fatalf("expected error for short read")
	}
}

func TestValidateRejectsOversizedChunk(t *testing.T) {
	h := Header{Size: 100, MessageID: 1}
	if err := h.Validate(50); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := h.Validate(100); err != nil {
		t.Fatalf("unexpected error at boundary: %v", err)
	}
}
