package graph

import "testing"

func TestAcquireInstanceIdAssignsDenseIdsInOrder(t *testing.T) {
	c := Acquire()
	defer Release(c)

	refA, refB := new(int), new(int)
	isNew, idA := c.AcquireInstanceId(refA)
	if !isNew || idA != 0 {
		t.Fatalf("expected first ref new with id 0, got isNew=%v id=%d", isNew, idA)
	}
	isNew, idB := c.AcquireInstanceId(refB)
	if !isNew || idB != 1 {
		t.Fatalf("expected second ref new with id 1, got isNew=%v id=%d", isNew, idB)
	}
	isNew, idAAgain := c.AcquireInstanceId(refA)
	if isNew || idAAgain != idA {
		t.Fatalf("expected repeat ref to report backreference to id %d, got isNew=%v id=%d", idA, isNew, idAAgain)
	}
}

func TestRegisterInstanceResolvesSelfReference(t *testing.T) {
	c := Acquire()
	defer Release(c)

	type node struct{ Next *node }
	n := &node{}
	c.RegisterInstance(0, n)
	n.Next = n // self-reference, would be a cycle on naive recursive encode

	ref, ok := c.GetByInstanceId(0)
	if !ok || ref.(*node) != n {
		t.Fatalf("expected to resolve self-reference via instance id 0")
	}
}

func TestReleaseClearsStateForReuse(t *testing.T) {
	c := Acquire()
	ref := new(int)
	c.AcquireInstanceId(ref)
	c.EnqueueResume(func() error { return nil })
	Release(c)

	c2 := Acquire()
	defer Release(c2)
	if _, ok := c2.GetByInstanceId(0); ok {
		t.Fatalf("expected cleared context to have no registrations")
	}
	isNew, id := c2.AcquireInstanceId(new(int))
	if !isNew || id != 0 {
		t.Fatalf("expected fresh id sequence starting at 0 after release, got isNew=%v id=%d", isNew, id)
	}
}

func TestDepthLimitAndResumeQueue(t *testing.T) {
	c := Acquire()
	defer Release(c)

	for i := 0; i < AbsoluteMaxGraphDepth; i++ {
		if !c.EnterDepth() {
			t.Fatalf("expected EnterDepth to succeed at depth %d", i)
		}
	}
	if c.EnterDepth() {
		t.Fatalf("expected EnterDepth to fail once AbsoluteMaxGraphDepth reached")
	}

	var ran []int
	c.EnqueueResume(func() error { ran = append(ran, 1); return nil })
	c.EnqueueResume(func() error { ran = append(ran, 2); return nil })
	if err := c.DrainResumeQueue(); err != nil {
		t.Fatalf("DrainResumeQueue: %v", err)
	}
	if len(ran) != 2 || ran[0] != 1 || ran[1] != 2 {
		t.Fatalf("expected FIFO resume order, got %v", ran)
	}
}

func TestDrainResumeQueueStopsOnFirstError(t *testing.T) {
	c := Acquire()
	defer Release(c)

	wantErr := errFake{}
	ranSecond := false
	c.EnqueueResume(func() error { return wantErr })
	c.EnqueueResume(func() error { ranSecond = true; return nil })

	if err := c.DrainResumeQueue(); err != wantErr {
		t.Fatalf("expected wantErr, got %v", err)
	}
	if ranSecond {
		t.Fatalf("expected draining to stop after first error")
	}
}

type errFake struct{}

func (errFake) Error() string { return "fake" }
