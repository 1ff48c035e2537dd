package worker

import "testing"

func TestQueueFIFOOrder(t *testing.T) {
	q := NewOutgoingQueue()
	q.Enqueue("e1", "first")
	q.Enqueue("e2", "second")

	first, ok := q.Pop()
	if !ok || first.payload != "first" {
		t.Fatalf("expected first, got %+v ok=%v", first, ok)
	}
	second, ok := q.Pop()
	if !ok || second.payload != "second" {
		t.Fatalf("expected second, got %+v ok=%v", second, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQueueLenTracksPushAndPop(t *testing.T) {
	q := NewOutgoingQueue()
	q.Enqueue("e1", "a")
	q.Enqueue("e1", "b")
	if q.Len() != 2 {
		t.Fatalf("expected len 2, got %d", q.Len())
	}
	q.Pop()
	if q.Len() != 1 {
		t.Fatalf("expected len 1, got %d", q.Len())
	}
}
