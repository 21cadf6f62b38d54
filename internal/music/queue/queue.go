// Package queue implements the per-room FIFO of pending tracks.
package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"jamroom/internal/music/track"
)

var (
	ErrQueueFull  = errors.New("the queue is full")
	ErrNotFound   = errors.New("no matching entry in the queue")
	ErrOutOfRange = errors.New("queue position out of range")
)

// Entry is a queued track plus who queued it and when.
type Entry struct {
	Track       *track.Track
	RequesterID string
	EnqueuedAt  time.Time
}

// Queue is a thread-safe FIFO. Enqueue and the removal operations may be
// called from any goroutine; Dequeue is intended for a single consumer
// (the room scheduler loop).
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	signal  chan struct{}
}

func New() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an entry and returns its 1-based position. When max > 0
// and the queue already holds max entries the entry is rejected with
// ErrQueueFull and the queue is left untouched.
func (q *Queue) Enqueue(e Entry, max int) (int, error) {
	q.mu.Lock()
	if max > 0 && len(q.entries) >= max {
		q.mu.Unlock()
		return 0, ErrQueueFull
	}
	q.entries = append(q.entries, e)
	pos := len(q.entries)
	q.mu.Unlock()

	q.wake()
	return pos, nil
}

// Dequeue removes and returns the oldest entry, blocking until one is
// available or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		if len(q.entries) > 0 {
			e := q.entries[0]
			q.entries = q.entries[1:]
			q.mu.Unlock()
			return e, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// Entries returns a snapshot of the queue in order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.entries)
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// RemoveLastBy removes the most recently enqueued entry queued by userID.
func (q *Queue) RemoveLastBy(userID string) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := len(q.entries) - 1; i >= 0; i-- {
		if q.entries[i].RequesterID == userID {
			e := q.entries[i]
			q.entries = slices.Delete(q.entries, i, i+1)
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// RemoveAt removes the entry at the given 1-based position.
func (q *Queue) RemoveAt(pos int) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if pos < 1 || pos > len(q.entries) {
		return Entry{}, ErrOutOfRange
	}
	e := q.entries[pos-1]
	q.entries = slices.Delete(q.entries, pos-1, pos)
	return e, nil
}

// RemoveByID removes the entry whose track carries the given ID. Used by the
// scheduler so an ownership check done on a snapshot cannot remove a
// different entry that raced into the same position.
func (q *Queue) RemoveByID(trackID string) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.Track.ID == trackID {
			q.entries = slices.Delete(q.entries, i, i+1)
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// Drain atomically empties the queue and returns everything removed in order.
func (q *Queue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.entries
	q.entries = nil
	return drained
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
