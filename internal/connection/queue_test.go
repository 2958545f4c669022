package connection

import (
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := newQueue[int](2)

	for i := 0; i < 10; i++ {
		if !q.Send(i) {
			t.Fatalf("Send(%d) rejected", i)
		}
	}
	if q.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", q.Len())
	}

	for i := 0; i < 10; i++ {
		got, ok := q.Receive()
		if !ok {
			t.Fatalf("Receive %d: queue closed", i)
		}
		if got != i {
			t.Errorf("Receive %d = %d", i, got)
		}
	}
}

func TestQueue_GrowsAcrossWrap(t *testing.T) {
	q := newQueue[int](4)

	// Move head forward so the next growth has to unwrap.
	q.Send(0)
	q.Send(1)
	q.Receive()
	q.Receive()

	for i := 0; i < 20; i++ {
		q.Send(i)
	}
	for i := 0; i < 20; i++ {
		got, _ := q.Receive()
		if got != i {
			t.Fatalf("Receive %d = %d", i, got)
		}
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	q := newQueue[string](4)
	q.Send("a")
	q.Send("b")
	q.Close()

	if q.Send("c") {
		t.Error("Send after Close should be rejected")
	}

	for _, want := range []string{"a", "b"} {
		got, ok := q.Receive()
		if !ok || got != want {
			t.Errorf("Receive = %q, %v; want %q, true", got, ok, want)
		}
	}
	if _, ok := q.Receive(); ok {
		t.Error("Receive on drained closed queue should return false")
	}

	// Idempotent
	q.Close()
}

func TestQueue_ReceiveBlocksUntilSend(t *testing.T) {
	q := newQueue[int](1)

	var wg sync.WaitGroup
	wg.Add(1)
	var got int
	go func() {
		defer wg.Done()
		got, _ = q.Receive()
	}()

	q.Send(42)
	wg.Wait()

	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}
