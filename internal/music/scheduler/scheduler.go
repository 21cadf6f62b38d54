// Package scheduler runs the per-room playback loop: dequeue, play, await
// completion, advance. Command operations are safe to call concurrently with
// the loop and never block behind its suspensions.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"jamroom/internal/music/queue"
	"jamroom/internal/music/session"
	"jamroom/internal/music/track"
	"jamroom/internal/music/votes"
	"jamroom/internal/storage"
)

var (
	ErrUserLocked     = errors.New("you are locked from using the player on this server")
	ErrNothingPlaying = errors.New("no track is currently playing")
	ErrNotYours       = errors.New("you can only remove tracks you queued yourself")
)

// ConfigSource provides the room policy. Implemented by storage.Storage.
type ConfigSource interface {
	RoomConfigFor(guildID string) (storage.RoomConfig, error)
}

// Notifier receives the scheduler's user-facing notifications. The scheduler
// never formats chat messages itself; the adapter renders these.
type Notifier interface {
	NowPlaying(e queue.Entry)
	SkippedTooLong(e queue.Entry, limit time.Duration)
	PlaybackFailed(e queue.Entry, err error)
	Idle()
}

// SkipOutcome reports the state of a skip vote after registering it.
type SkipOutcome struct {
	Votes    int
	Required int
	Skipped  bool
}

// Snapshot is a point-in-time view for "now playing" / queue listings.
type Snapshot struct {
	Current *queue.Entry
	Queue   []queue.Entry
}

// Scheduler coordinates one room. Create via the registry, which also owns
// the lifetime of the Run goroutine.
type Scheduler struct {
	guildID string
	queue   *queue.Queue
	votes   *votes.Tracker
	session *session.Session
	store   ConfigSource
	notify  Notifier

	// bumped by StopAll so the loop drops an entry it dequeued before the
	// reset but has not bound yet
	stops atomic.Uint64

	mu      sync.Mutex
	lastCfg storage.RoomConfig
}

func New(guildID string, sink session.Sink, store ConfigSource, notify Notifier) *Scheduler {
	return &Scheduler{
		guildID: guildID,
		queue:   queue.New(),
		votes:   votes.New(),
		session: session.New(sink),
		store:   store,
		notify:  notify,
	}
}

// Run is the room loop. It exits only when ctx is cancelled; an in-flight
// track is stopped before returning. Remaining queue entries are left for
// the registry to drain.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Str("guild", s.guildID).Msg("room scheduler started")
	defer log.Info().Str("guild", s.guildID).Msg("room scheduler stopped")

	for {
		stops := s.stops.Load()
		entry, err := s.queue.Dequeue(ctx)
		if err != nil {
			return
		}

		s.votes.Reset()
		cfg := s.config()
		maxLen := time.Duration(cfg.LengthMax) * time.Second

		// A hard reset may have raced the dequeue: the entry was already out
		// of the queue when StopAll drained, so it must be dropped here.
		if s.stops.Load() != stops {
			entry.Track.Release()
			continue
		}

		if err := s.session.Bind(entry, maxLen); err != nil {
			// Policy rejection: the sink never saw the track.
			log.Info().Str("guild", s.guildID).Str("title", entry.Track.Title).
				Float64("duration", entry.Track.Duration).Msg("track skipped by length limit")
			s.notify.SkippedTooLong(entry, maxLen)
			entry.Track.Release()
			continue
		}
		s.notify.NowPlaying(entry)

		select {
		case end := <-s.session.Events():
			if end.Reason == session.ReasonFailed {
				log.Warn().Err(end.Err).Str("guild", s.guildID).
					Str("title", end.Entry.Track.Title).Msg("playback failed, advancing")
				s.notify.PlaybackFailed(end.Entry, end.Err)
			}
			s.votes.Reset()
			if s.queue.Len() == 0 {
				s.notify.Idle()
			}
		case <-ctx.Done():
			s.session.Stop()
			<-s.session.Events()
			return
		}
	}
}

// Enqueue admits a track to the queue and returns its 1-based position.
func (s *Scheduler) Enqueue(t *track.Track) (int, error) {
	cfg := s.config()
	if cfg.IsLocked(t.RequesterID) {
		return 0, ErrUserLocked
	}

	pos, err := s.queue.Enqueue(queue.Entry{
		Track:       t,
		RequesterID: t.RequesterID,
		EnqueuedAt:  time.Now(),
	}, cfg.SongsMax)
	if err != nil {
		return 0, err
	}

	log.Debug().Str("guild", s.guildID).Str("title", t.Title).Int("position", pos).Msg("track queued")
	return pos, nil
}

// VoteSkip registers a skip vote for the current track. eligible is the
// number of users in the voice channel, bot included. When the threshold is
// reached the current track is force-stopped; the loop advances exactly once
// even if natural completion races the stop.
func (s *Scheduler) VoteSkip(voterID string, eligible int) (SkipOutcome, error) {
	if _, ok := s.session.Current(); !ok {
		return SkipOutcome{}, ErrNothingPlaying
	}

	count, err := s.votes.Register(voterID)
	out := SkipOutcome{Votes: count, Required: s.votes.Required(eligible)}
	if err != nil {
		return out, err
	}

	if count >= out.Required {
		out.Skipped = s.session.Stop()
	}
	return out, nil
}

// StopAll is the admin hard reset: drains the whole queue and force-stops
// the current track. An entry the loop has dequeued but not yet bound is
// covered too, via the stop counter.
func (s *Scheduler) StopAll() error {
	s.stops.Add(1)
	drained := s.queue.Drain()
	for _, e := range drained {
		e.Track.Release()
	}

	stopped := s.session.Stop()
	if !stopped && len(drained) == 0 {
		return ErrNothingPlaying
	}

	log.Info().Str("guild", s.guildID).Int("drained", len(drained)).Msg("playback stopped, queue cleared")
	return nil
}

// Remove deletes the entry at the 1-based queue position. Non-masters may
// only remove their own entries. The removed track's resource is released.
func (s *Scheduler) Remove(pos int, callerID string, isMaster bool) (queue.Entry, error) {
	entries := s.queue.Entries()
	if pos < 1 || pos > len(entries) {
		return queue.Entry{}, queue.ErrOutOfRange
	}

	e := entries[pos-1]
	if !isMaster && e.RequesterID != callerID {
		return queue.Entry{}, ErrNotYours
	}

	// Remove by identity so a concurrent dequeue cannot shift a different
	// entry into the checked position.
	removed, err := s.queue.RemoveByID(e.Track.ID)
	if err != nil {
		return queue.Entry{}, err
	}
	removed.Track.Release()
	return removed, nil
}

// RemoveLastBy removes the caller's most recently queued entry.
func (s *Scheduler) RemoveLastBy(callerID string) (queue.Entry, error) {
	removed, err := s.queue.RemoveLastBy(callerID)
	if err != nil {
		return queue.Entry{}, err
	}
	removed.Track.Release()
	return removed, nil
}

// Report returns a snapshot of the current track and queue. Pure read.
func (s *Scheduler) Report() Snapshot {
	var snap Snapshot
	if e, ok := s.session.Current(); ok {
		snap.Current = &e
	}
	snap.Queue = s.queue.Entries()
	return snap
}

// SetVolume adjusts the live playback volume (0.0 to 2.0).
func (s *Scheduler) SetVolume(v float64) error {
	return s.session.SetVolume(v)
}

// IsPlaying reports whether a track is currently bound.
func (s *Scheduler) IsPlaying() bool {
	_, ok := s.session.Current()
	return ok
}

// Queue exposes the room queue for registry teardown.
func (s *Scheduler) Queue() *queue.Queue {
	return s.queue
}

// config fetches the room policy, falling back to the last good copy when
// the store misbehaves. Store errors never block playback.
func (s *Scheduler) config() storage.RoomConfig {
	cfg, err := s.store.RoomConfigFor(s.guildID)
	if err != nil {
		log.Warn().Err(err).Str("guild", s.guildID).Msg("config store error, using cached room config")
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.lastCfg
	}

	s.mu.Lock()
	s.lastCfg = cfg
	s.mu.Unlock()
	return cfg
}
