package conn

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	protoerr "github.com/veloxdb/rpc/internal/errors"
)

func TestSendRequestDeliversToPeerHandler(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	cfg := DefaultConfig()
	cfg.InactivityInterval = 0 // disable watchdog noise in this test

	client := New(clientRaw, cfg)
	server := New(serverRaw, cfg)

	var mu sync.Mutex
	var gotID uint64
	var gotPayload []byte
	received := make(chan struct{})
	server.SetHandler(func(c *Connection, requestID uint64, payload []byte) {
		mu.Lock()
		gotID = requestID
		gotPayload = append([]byte(nil), payload...)
		mu.Unlock()
		close(received)
	})

	client.Start()
	server.Start()
	defer client.Close()
	defer server.Close()

	reqID := client.NextRequestID()
	if err := client.SendRequest(context.Background(), reqID, []byte("hello")); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotID != reqID {
		t.Fatalf("expected requestID %d, got %d", reqID, gotID)
	}
	if !bytes.Equal(gotPayload, []byte("hello")) {
		t.Fatalf("payload mismatch: got %q", gotPayload)
	}
}

func TestTagRoundTrip(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()
	c := New(clientRaw, DefaultConfig())
	defer serverRaw.Close()
	if c.Tag() != "" {
		t.Fatalf("expected empty tag initially")
	}
	c.SetTag("Echo")
	if c.Tag() != "Echo" {
		t.Fatalf("expected tag Echo, got %s", c.Tag())
	}
}

func TestSendAfterCloseFailsWithCommunicationError(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer serverRaw.Close()
	cfg := DefaultConfig()
	cfg.InactivityInterval = 0
	c := New(clientRaw, cfg)
	c.Start()
	_ = c.Close()
	c.Wait()

	err := c.SendRequest(context.Background(), 1, []byte("x"))
	var ce *protoerr.CommunicationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CommunicationError sending after close, got %v", err)
	}
}
