package queue

import (
	"sync"
	"testing"

	"stepcore.dev/move"
)

func TestPushTryPopOrder(t *testing.T) {
	q := New(4)
	for i := uint32(0); i < 3; i++ {
		q.Push(move.Move{TotalSteps: i})
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	for i := uint32(0); i < 3; i++ {
		mv, ok := q.TryPop()
		if !ok || mv.TotalSteps != i {
			t.Fatalf("TryPop() = %v, %v; want TotalSteps=%d", mv, ok, i)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Fatal("TryPop() on empty queue returned ok=true")
	}
}

func TestPushBlocksUntilSpace(t *testing.T) {
	q := New(2)
	q.Push(move.Move{TotalSteps: 1})
	q.Push(move.Move{TotalSteps: 2})

	var wg sync.WaitGroup
	wg.Add(1)
	pushed := make(chan struct{})
	go func() {
		defer wg.Done()
		q.Push(move.Move{TotalSteps: 3})
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("Push returned before a slot was freed")
	default:
	}

	if _, ok := q.TryPop(); !ok {
		t.Fatal("TryPop() on full queue returned ok=false")
	}
	wg.Wait()
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
}

func TestReset(t *testing.T) {
	q := New(4)
	q.Push(move.Move{TotalSteps: 1})
	q.Push(move.Move{TotalSteps: 2})
	q.Reset()
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after Reset, want 0", q.Len())
	}
	if _, ok := q.TryPop(); ok {
		t.Fatal("TryPop() after Reset returned ok=true")
	}
}
