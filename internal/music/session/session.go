// Package session drives a single bound track through an external audio sink.
package session

import (
	"errors"
	"sync"
	"time"

	"jamroom/internal/music/queue"
	"jamroom/internal/music/track"
)

// State of the session. Terminal outcomes are not states of their own: the
// session releases the item and returns to idle in the same transition, and
// the outcome travels in the End event instead.
type State int

const (
	StateIdle State = iota
	StateStarting
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	default:
		return "idle"
	}
}

// EndReason says how a bound track ended.
type EndReason int

const (
	ReasonCompleted EndReason = iota
	ReasonStopped
	ReasonFailed
)

func (r EndReason) String() string {
	switch r {
	case ReasonStopped:
		return "stopped"
	case ReasonFailed:
		return "failed"
	default:
		return "completed"
	}
}

// End is emitted exactly once per bound track.
type End struct {
	Entry  queue.Entry
	Reason EndReason
	Err    error // cause when Reason is ReasonFailed
}

// Handle is live playback inside a sink.
type Handle interface {
	// Done yields at most one value: nil on natural completion or the sink
	// error. After Stop it may yield nothing at all.
	Done() <-chan error
	// Stop halts output. Idempotent.
	Stop()
	SetVolume(v float64) error
}

// Sink renders a local audio resource. Play returns once output has started.
type Sink interface {
	Play(t *track.Track, volume float64) (Handle, error)
}

// DefaultVolume is applied to every freshly bound track; volume changes are
// not carried over between tracks.
const DefaultVolume = 0.5

var (
	ErrTooLong          = errors.New("track is longer than this server allows")
	ErrBusy             = errors.New("a track is already bound")
	ErrNothingPlaying   = errors.New("no track is currently playing")
	ErrVolumeOutOfRange = errors.New("volume must be between 0.0 and 2.0")
)

// Session owns the currently playing track. A termination signal arriving
// when nothing is bound, or for a previously bound track, is a no-op; that
// makes a vote-skip racing natural completion harmless.
type Session struct {
	sink   Sink
	events chan End

	mu     sync.Mutex
	state  State
	entry  queue.Entry
	handle Handle
	quit   chan struct{} // closed by finish; unparks the Done waiter
	gen    uint64        // bind generation, guards against stale sink callbacks
}

func New(sink Sink) *Session {
	return &Session{
		sink:   sink,
		events: make(chan End, 1),
	}
}

// Events delivers exactly one End per successfully bound track.
func (s *Session) Events() <-chan End {
	return s.events
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the bound entry, if any.
func (s *Session) Current() (queue.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry, s.state != StateIdle
}

// Bind validates the entry against maxLen (0 = unlimited) and hands it to
// the sink. ErrTooLong is returned before the sink ever sees the track; a
// sink rejection instead surfaces as an End event with ReasonFailed, so the
// caller's wait-for-end path stays uniform.
func (s *Session) Bind(e queue.Entry, maxLen time.Duration) error {
	if maxLen > 0 && e.Track.Duration > maxLen.Seconds() {
		return ErrTooLong
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.gen++
	gen := s.gen
	s.state = StateStarting
	s.entry = e
	quit := make(chan struct{})
	s.quit = quit
	s.mu.Unlock()

	h, err := s.sink.Play(e.Track, DefaultVolume)
	if err != nil {
		s.finish(gen, ReasonFailed, err)
		return nil
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateStarting {
		// stopped while the sink was starting; finish already ran
		s.mu.Unlock()
		h.Stop()
		return nil
	}
	s.state = StatePlaying
	s.handle = h
	s.mu.Unlock()

	go func() {
		select {
		case err := <-h.Done():
			if err != nil {
				s.finish(gen, ReasonFailed, err)
			} else {
				s.finish(gen, ReasonCompleted, nil)
			}
		case <-quit:
			// stopped elsewhere; the handle may never signal Done
		}
	}()
	return nil
}

// Stop force-ends the bound track. Returns false when nothing was bound.
func (s *Session) Stop() bool {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return false
	}
	gen := s.gen
	s.mu.Unlock()

	return s.finish(gen, ReasonStopped, nil)
}

// SetVolume adjusts the live sink output. Valid range is 0.0 to 2.0.
func (s *Session) SetVolume(v float64) error {
	if v < 0 || v > 2 {
		return ErrVolumeOutOfRange
	}

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		return ErrNothingPlaying
	}
	return h.SetVolume(v)
}

// finish performs the single terminal transition for generation gen. Only
// the first caller wins; everyone else is a no-op.
func (s *Session) finish(gen uint64, reason EndReason, cause error) bool {
	s.mu.Lock()
	if s.gen != gen || s.state == StateIdle {
		s.mu.Unlock()
		return false
	}
	e := s.entry
	h := s.handle
	q := s.quit
	s.state = StateIdle
	s.entry = queue.Entry{}
	s.handle = nil
	s.quit = nil
	s.mu.Unlock()

	if q != nil {
		close(q)
	}
	if h != nil {
		h.Stop()
	}
	e.Track.Release()
	s.events <- End{Entry: e, Reason: reason, Err: cause}
	return true
}
