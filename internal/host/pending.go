package host

import "context"

// PendingRequest is a future for the response frame of one outstanding
// request, correlated by requestId. internal/client uses it to await
// host responses; the host Dispatcher writes its responses directly and
// does not construct one.
type PendingRequest struct {
	requestID uint64
	done      chan pendingResult
}

type pendingResult struct {
	frame []byte
}

// NewPendingRequest creates a future correlated to requestID.
func NewPendingRequest(requestID uint64) *PendingRequest {
	return &PendingRequest{requestID: requestID, done: make(chan pendingResult, 1)}
}

// RequestID returns the correlating requestId.
func (p *PendingRequest) RequestID() uint64 { return p.requestID }

// Resolve completes the future with an already-encoded response frame.
func (p *PendingRequest) Resolve(frame []byte) {
	select {
	case p.done <- pendingResult{frame: frame}:
	default:
	}
}

// Await blocks until Resolve is called or ctx is cancelled.
func (p *PendingRequest) Await(ctx context.Context) ([]byte, error) {
	select {
	case r := <-p.done:
		return r.frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
