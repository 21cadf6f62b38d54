// Package registry maps guild IDs to their room schedulers and owns the
// lifecycle of each room's background loop.
package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"jamroom/internal/music/scheduler"
	"jamroom/internal/music/session"
)

// SinkFactory builds the audio sink for a guild's room.
type SinkFactory func(guildID string) session.Sink

// NotifierFactory builds the notification renderer for a guild's room.
type NotifierFactory func(guildID string) scheduler.Notifier

type room struct {
	sched  *scheduler.Scheduler
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry creates rooms lazily on first use and tears them down
// deterministically. Rooms are fully independent of each other.
type Registry struct {
	store       scheduler.ConfigSource
	newSink     SinkFactory
	newNotifier NotifierFactory

	mu    sync.Mutex
	rooms map[string]*room
}

func New(store scheduler.ConfigSource, newSink SinkFactory, newNotifier NotifierFactory) *Registry {
	return &Registry{
		store:       store,
		newSink:     newSink,
		newNotifier: newNotifier,
		rooms:       make(map[string]*room),
	}
}

// GetOrCreate returns the guild's scheduler, starting its loop on first use.
func (r *Registry) GetOrCreate(guildID string) *scheduler.Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[guildID]; ok {
		return rm.sched
	}

	sched := scheduler.New(guildID, r.newSink(guildID), r.store, r.newNotifier(guildID))
	ctx, cancel := context.WithCancel(context.Background())
	rm := &room{sched: sched, cancel: cancel, done: make(chan struct{})}
	r.rooms[guildID] = rm

	go func() {
		defer close(rm.done)
		sched.Run(ctx)
	}()

	log.Info().Str("guild", guildID).Msg("room created")
	return sched
}

// Get returns the guild's scheduler without creating one.
func (r *Registry) Get(guildID string) (*scheduler.Scheduler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[guildID]
	if !ok {
		return nil, false
	}
	return rm.sched, true
}

// Teardown cancels the room's loop, waits for it to exit and releases every
// queued resource. A no-op for unknown guilds.
func (r *Registry) Teardown(guildID string) {
	r.mu.Lock()
	rm, ok := r.rooms[guildID]
	if ok {
		delete(r.rooms, guildID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	rm.cancel()
	<-rm.done

	for _, e := range rm.sched.Queue().Drain() {
		e.Track.Release()
	}
	log.Info().Str("guild", guildID).Msg("room torn down")
}

// Shutdown tears down every room. Used on process exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Teardown(id)
	}
}
