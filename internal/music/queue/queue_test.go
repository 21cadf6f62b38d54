package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"jamroom/internal/music/track"
)

func entry(id, requester string) Entry {
	return Entry{
		Track:       &track.Track{ID: id, Title: id},
		RequesterID: requester,
		EnqueuedAt:  time.Now(),
	}
}

func TestEnqueueDequeueOrder(t *testing.T) {
	q := New()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := q.Enqueue(entry(id, "u1"), 0); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got.Track.ID != want {
			t.Errorf("dequeued %s, want %s", got.Track.ID, want)
		}
	}
}

func TestEnqueuePositions(t *testing.T) {
	q := New()
	for i, id := range []string{"a", "b", "c"} {
		pos, err := q.Enqueue(entry(id, "u1"), 0)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if pos != i+1 {
			t.Errorf("position = %d, want %d", pos, i+1)
		}
	}
}

func TestEnqueueFull(t *testing.T) {
	q := New()
	if _, err := q.Enqueue(entry("a", "u1"), 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := q.Enqueue(entry("b", "u1"), 1); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if q.Len() != 1 {
		t.Errorf("len = %d after rejected enqueue, want 1", q.Len())
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New()
	got := make(chan Entry, 1)

	go func() {
		e, err := q.Dequeue(context.Background())
		if err != nil {
			t.Errorf("dequeue: %v", err)
			return
		}
		got <- e
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := q.Enqueue(entry("late", "u1"), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case e := <-got:
		if e.Track.ID != "late" {
			t.Errorf("dequeued %s, want late", e.Track.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake after enqueue")
	}
}

func TestDequeueCancelled(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errs <- err
	}()

	cancel()
	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return after cancel")
	}
}

func TestRemoveLastBy(t *testing.T) {
	q := New()
	q.Enqueue(entry("a", "u1"), 0)
	q.Enqueue(entry("b", "u2"), 0)
	q.Enqueue(entry("c", "u1"), 0)

	removed, err := q.RemoveLastBy("u1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.Track.ID != "c" {
		t.Errorf("removed %s, want c (most recent for u1)", removed.Track.ID)
	}
	if q.Len() != 2 {
		t.Errorf("len = %d, want 2", q.Len())
	}

	if _, err := q.RemoveLastBy("stranger"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRemoveAt(t *testing.T) {
	q := New()
	q.Enqueue(entry("a", "u1"), 0)
	q.Enqueue(entry("b", "u1"), 0)

	removed, err := q.RemoveAt(2)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.Track.ID != "b" {
		t.Errorf("removed %s, want b", removed.Track.ID)
	}

	for _, pos := range []int{0, 5, -1} {
		if _, err := q.RemoveAt(pos); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("RemoveAt(%d) err = %v, want ErrOutOfRange", pos, err)
		}
	}
}

func TestRemoveByID(t *testing.T) {
	q := New()
	q.Enqueue(entry("a", "u1"), 0)
	q.Enqueue(entry("b", "u1"), 0)

	removed, err := q.RemoveByID("a")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.Track.ID != "a" {
		t.Errorf("removed %s, want a", removed.Track.ID)
	}

	if _, err := q.RemoveByID("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second removal err = %v, want ErrNotFound", err)
	}
}

func TestDrain(t *testing.T) {
	q := New()
	q.Enqueue(entry("a", "u1"), 0)
	q.Enqueue(entry("b", "u1"), 0)

	drained := q.Drain()
	if len(drained) != 2 || drained[0].Track.ID != "a" || drained[1].Track.ID != "b" {
		t.Errorf("drained wrong entries: %+v", drained)
	}
	if q.Len() != 0 {
		t.Errorf("len = %d after drain, want 0", q.Len())
	}
	if len(q.Drain()) != 0 {
		t.Error("second drain should be empty")
	}
}
