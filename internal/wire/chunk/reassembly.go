package chunk

import (
	"fmt"
	"io"

	"github.com/veloxdb/rpc/internal/bufpool"
	protoerr "github.com/veloxdb/rpc/internal/errors"
)

// assembly tracks the in-progress byte buffer for one message id.
type assembly struct {
	buf []byte
}

// Reader reassembles complete messages from an interleaved stream of chunks.
// Not safe for concurrent use; a connection runs exactly one Reader in its
// dedicated receiver loop (spec.md §5).
type Reader struct {
	br        io.Reader
	maxChunk  uint32
	inflight  map[uint64]*assembly
}

// NewReader creates a Reader bounded to maxChunkSize bytes of payload per chunk.
func NewReader(r io.Reader, maxChunkSize uint32) *Reader {
	return &Reader{br: r, maxChunk: maxChunkSize, inflight: make(map[uint64]*assembly)}
}

// ReadMessage blocks until a complete message (all chunks sharing one
// MessageID, terminated by IsLast) has been reassembled, returning its id
// and payload. Chunks for distinct message ids may interleave arbitrarily;
// ReadMessage only returns once one of them completes.
func (r *Reader) ReadMessage() (messageID uint64, payload []byte, err error) {
	for {
		h, err := ReadHeader(r.br)
		if err != nil {
			return 0, nil, err
		}
		if err := h.Validate(r.maxChunk); err != nil {
			return 0, nil, err
		}

		scratch := bufpool.Get(int(h.Size))
		if h.Size > 0 {
			if _, err := io.ReadFull(r.br, scratch); err != nil {
				bufpool.Put(scratch)
				return 0, nil, protoerr.NewChunkError("reader.read_payload", err)
			}
		}

		a := r.inflight[h.MessageID]
		if a == nil {
			if !h.IsFirst {
				bufpool.Put(scratch)
				return 0, nil, protoerr.NewChunkError("reader.read_payload",
					fmt.Errorf("message %d: first chunk seen missing IsFirst flag", h.MessageID))
			}
			a = &assembly{buf: make([]byte, 0, h.Size)}
			r.inflight[h.MessageID] = a
		}
		a.buf = append(a.buf, scratch...)
		bufpool.Put(scratch)

		if h.IsLast {
			delete(r.inflight, h.MessageID)
			return h.MessageID, a.buf, nil
		}
	}
}

// Discard drops any partially-assembled state for messageID, used when a
// request is cancelled (spec.md §4.1, "Cancellation").
func (r *Reader) Discard(messageID uint64) {
	delete(r.inflight, messageID)
}

// Writer fragments outbound messages into chunks and writes them to w.
// A Writer holds no lock of its own. It writes each chunk (header and
// payload) with a single Write call, so chunks from Writers sharing one
// net.Conn stay contiguous through that connection's own per-Write
// locking; transport/conn relies on this and adds no lock of its own.
type Writer struct {
	w        io.Writer
	maxChunk uint32
}

// NewWriter creates a Writer bounded to maxChunkSize bytes of payload per chunk.
func NewWriter(w io.Writer, maxChunkSize uint32) *Writer {
	if maxChunkSize == 0 {
		maxChunkSize = 4096
	}
	return &Writer{w: w, maxChunk: maxChunkSize}
}

// WriteMessage fragments payload into one or more chunks tagged with
// messageID and writes them to the underlying writer in order.
func (w *Writer) WriteMessage(messageID uint64, payload []byte) error {
	total := len(payload)
	offset := 0
	first := true
	for {
		end := offset + int(w.maxChunk)
		if end > total {
			end = total
		}
		isLast := end == total
		slice := payload[offset:end]

		buf := make([]byte, HeaderSize+len(slice))
		h := Header{Size: uint32(len(slice)), IsFirst: first, IsLast: isLast, MessageID: messageID}
		h.Encode(buf[:HeaderSize])
		copy(buf[HeaderSize:], slice)

		if _, err := w.w.Write(buf); err != nil {
			return protoerr.NewChunkError("writer.write_chunk", err)
		}

		offset = end
		first = false
		if isLast {
			return nil
		}
	}
}
