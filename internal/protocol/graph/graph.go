// Package graph implements GraphContext (spec.md §4.5): a small,
// short-lived, per-message structure tracking the bidirectional
// reference<->instanceId map used by object-graph serialisation, plus a
// deferred work queue for graphs deeper than AbsoluteMaxGraphDepth.
//
// Grounded on the teacher's bufpool package for the recycle-on-release
// shape (a package-level sync.Pool behind Acquire/Release functions), since
// the teacher has no structure resembling a reference graph of its own.
package graph

import "sync"

// AbsoluteMaxGraphDepth bounds recursive descent into an object graph
// before the encoder/decoder must defer the remainder onto the resume
// queue (spec.md §3, §4.4 step 3).
const AbsoluteMaxGraphDepth = 32

// Resume is a deferred continuation enqueued when encoding or decoding
// would otherwise exceed AbsoluteMaxGraphDepth.
type Resume func() error

// Context is a per-message GraphContext (spec.md §4.5). It is not safe
// for concurrent use: exactly one goroutine owns a Context for the
// lifetime of one message's (de)serialisation.
type Context struct {
	refToID map[interface{}]uint32
	idToRef map[uint32]interface{}
	nextID  uint32
	depth   int
	resumes []Resume
}

var pool = sync.Pool{New: func() any { return &Context{refToID: make(map[interface{}]uint32), idToRef: make(map[uint32]interface{})} }}

// Acquire returns a Context from the shared pool, ready for a new message.
func Acquire() *Context {
	return pool.Get().(*Context)
}

// Release clears c and returns it to the shared pool. It MUST be called
// on every scope boundary whether (de)serialisation completed or
// aborted (spec.md §4.5 invariant): a failed partial graph must not leak
// registrations into the next message.
func Release(c *Context) {
	c.clear()
	pool.Put(c)
}

func (c *Context) clear() {
	for k := range c.refToID {
		delete(c.refToID, k)
	}
	for k := range c.idToRef {
		delete(c.idToRef, k)
	}
	c.nextID = 0
	c.depth = 0
	c.resumes = c.resumes[:0]
}

// AcquireInstanceId returns (isNew, id) for ref: if ref has already been
// seen in this message, its existing id is returned with isNew=false
// (the encoder should emit a back-reference); otherwise a fresh dense id
// is allocated in first-encounter order and isNew=true is returned.
func (c *Context) AcquireInstanceId(ref interface{}) (isNew bool, id uint32) {
	if existing, ok := c.refToID[ref]; ok {
		return false, existing
	}
	id = c.nextID
	c.nextID++
	c.refToID[ref] = id
	c.idToRef[id] = ref
	return true, id
}

// RegisterInstance associates id with ref directly, used by the decoder
// which must register a NEW instance under its wire instanceId *before*
// recursively decoding fields, so self-references resolve (spec.md
// §4.4 step 4).
func (c *Context) RegisterInstance(id uint32, ref interface{}) {
	c.idToRef[id] = ref
	if id >= c.nextID {
		c.nextID = id + 1
	}
}

// GetByInstanceId resolves a previously registered back-reference.
func (c *Context) GetByInstanceId(id uint32) (ref interface{}, ok bool) {
	ref, ok = c.idToRef[id]
	return ref, ok
}

// EnterDepth increments the current descent depth and reports whether
// the caller may proceed inline (true) or must defer via EnqueueResume
// (false, when depth would exceed AbsoluteMaxGraphDepth).
func (c *Context) EnterDepth() (proceed bool) {
	if c.depth >= AbsoluteMaxGraphDepth {
		return false
	}
	c.depth++
	return true
}

// ExitDepth undoes a prior successful EnterDepth.
func (c *Context) ExitDepth() {
	if c.depth > 0 {
		c.depth--
	}
}

// EnqueueResume defers a continuation to run after the current
// (de)serialisation stack unwinds, used when a descent would exceed
// AbsoluteMaxGraphDepth.
func (c *Context) EnqueueResume(r Resume) {
	c.resumes = append(c.resumes, r)
}

// DrainResumeQueue runs every deferred continuation in FIFO order,
// including ones enqueued by earlier continuations, stopping at the
// first error.
func (c *Context) DrainResumeQueue() error {
	for len(c.resumes) > 0 {
		r := c.resumes[0]
		c.resumes = c.resumes[1:]
		if err := r(); err != nil {
			return err
		}
	}
	return nil
}
