// Package votes counts skip votes for the currently playing track.
package votes

import (
	"errors"
	"math"
	"sync"
)

var ErrAlreadyVoted = errors.New("you have already voted to skip this track")

// skipFraction is the share of listeners (excluding the bot itself) that
// must vote before the current track is skipped.
const skipFraction = 0.34

// Tracker holds the distinct voters for exactly one track. It must be Reset
// on every track transition.
type Tracker struct {
	mu     sync.Mutex
	voters map[string]struct{}
}

func New() *Tracker {
	return &Tracker{voters: make(map[string]struct{})}
}

// Register records a vote and returns the new vote count. A second vote from
// the same voter returns ErrAlreadyVoted and leaves the count unchanged.
func (t *Tracker) Register(voterID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.voters[voterID]; ok {
		return len(t.voters), ErrAlreadyVoted
	}
	t.voters[voterID] = struct{}{}
	return len(t.voters), nil
}

// Reset clears all recorded votes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.voters = make(map[string]struct{})
}

// Count returns the number of distinct voters so far.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voters)
}

// Required returns how many votes are needed to skip given the number of
// users in the voice channel, bot included. The bot's own presence does not
// count as a listener, and fractions round up, so four users (three
// listeners) need two votes. An empty channel needs zero.
func (t *Tracker) Required(eligible int) int {
	listeners := eligible - 1
	if listeners < 0 {
		listeners = 0
	}
	return int(math.Ceil(skipFraction * float64(listeners)))
}

// HasThreshold reports whether the current vote count meets Required.
func (t *Tracker) HasThreshold(eligible int) bool {
	return t.Count() >= t.Required(eligible)
}
