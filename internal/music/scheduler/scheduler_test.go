package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"jamroom/internal/music/queue"
	"jamroom/internal/music/session"
	"jamroom/internal/music/track"
	"jamroom/internal/storage"
)

type stubHandle struct {
	done    chan error
	stopped chan struct{}
	once    sync.Once
}

func (h *stubHandle) Done() <-chan error        { return h.done }
func (h *stubHandle) Stop()                     { h.once.Do(func() { close(h.stopped) }) }
func (h *stubHandle) SetVolume(v float64) error { return nil }

type stubSink struct {
	mu      sync.Mutex
	started chan *track.Track
	handles []*stubHandle
}

func newStubSink() *stubSink {
	return &stubSink{started: make(chan *track.Track, 16)}
}

func (s *stubSink) Play(t *track.Track, volume float64) (session.Handle, error) {
	h := &stubHandle{done: make(chan error, 1), stopped: make(chan struct{})}
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	s.started <- t
	return h, nil
}

func (s *stubSink) last() *stubHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[len(s.handles)-1]
}

type stubConfig struct {
	mu  sync.Mutex
	cfg storage.RoomConfig
	err error
}

func (c *stubConfig) RoomConfigFor(guildID string) (storage.RoomConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.err
}

type stubNotifier struct {
	nowPlaying chan queue.Entry
	skipped    chan queue.Entry
	failed     chan queue.Entry
	idle       chan struct{}
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{
		nowPlaying: make(chan queue.Entry, 16),
		skipped:    make(chan queue.Entry, 16),
		failed:     make(chan queue.Entry, 16),
		idle:       make(chan struct{}, 16),
	}
}

func (n *stubNotifier) NowPlaying(e queue.Entry)                          { n.nowPlaying <- e }
func (n *stubNotifier) SkippedTooLong(e queue.Entry, limit time.Duration) { n.skipped <- e }
func (n *stubNotifier) PlaybackFailed(e queue.Entry, err error)           { n.failed <- e }
func (n *stubNotifier) Idle()                                             { n.idle <- struct{}{} }

func newTrack(id, requester string) *track.Track {
	return &track.Track{ID: id, Title: id, RequesterID: requester, RequesterName: requester}
}

type fixture struct {
	sched  *Scheduler
	sink   *stubSink
	cfg    *stubConfig
	notify *stubNotifier
	cancel context.CancelFunc
	done   chan struct{}
}

func startRoom(t *testing.T, cfg storage.RoomConfig) *fixture {
	t.Helper()

	f := &fixture{
		sink:   newStubSink(),
		cfg:    &stubConfig{cfg: cfg},
		notify: newStubNotifier(),
		done:   make(chan struct{}),
	}
	f.sched = New("guild-1", f.sink, f.cfg, f.notify)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() {
		defer close(f.done)
		f.sched.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Error("room loop did not exit")
		}
	})
	return f
}

func waitStarted(t *testing.T, sink *stubSink) *track.Track {
	t.Helper()
	select {
	case tr := <-sink.started:
		return tr
	case <-time.After(time.Second):
		t.Fatal("no track started")
		return nil
	}
}

func TestRunPlaysQueueInOrder(t *testing.T) {
	f := startRoom(t, storage.RoomConfig{})

	for _, id := range []string{"a", "b"} {
		if _, err := f.sched.Enqueue(newTrack(id, "u1")); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	if got := waitStarted(t, f.sink); got.ID != "a" {
		t.Fatalf("first started track = %s, want a", got.ID)
	}
	<-f.notify.nowPlaying
	f.sink.last().done <- nil

	if got := waitStarted(t, f.sink); got.ID != "b" {
		t.Fatalf("second started track = %s, want b", got.ID)
	}
	<-f.notify.nowPlaying
	f.sink.last().done <- nil

	select {
	case <-f.notify.idle:
	case <-time.After(time.Second):
		t.Error("no idle notification after the queue drained")
	}
}

func TestEnqueueLockedUser(t *testing.T) {
	f := startRoom(t, storage.RoomConfig{Locked: []string{"u1"}})

	if _, err := f.sched.Enqueue(newTrack("a", "u1")); !errors.Is(err, ErrUserLocked) {
		t.Fatalf("err = %v, want ErrUserLocked", err)
	}
	if _, err := f.sched.Enqueue(newTrack("b", "u2")); err != nil {
		t.Fatalf("unlocked user rejected: %v", err)
	}
}

func TestEnqueueSongsMax(t *testing.T) {
	cfg := &stubConfig{cfg: storage.RoomConfig{SongsMax: 1}}
	sched := New("guild-1", newStubSink(), cfg, newStubNotifier())

	if _, err := sched.Enqueue(newTrack("a", "u1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := sched.Enqueue(newTrack("b", "u1")); !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestTooLongTrackIsSkipped(t *testing.T) {
	f := startRoom(t, storage.RoomConfig{LengthMax: 10})

	long := newTrack("long", "u1")
	long.Duration = 30
	short := newTrack("short", "u1")
	short.Duration = 5

	f.sched.Enqueue(long)
	f.sched.Enqueue(short)

	select {
	case e := <-f.notify.skipped:
		if e.Track.ID != "long" {
			t.Errorf("skipped %s, want long", e.Track.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no skip notification")
	}

	if got := waitStarted(t, f.sink); got.ID != "short" {
		t.Fatalf("started %s, want short", got.ID)
	}
	<-f.notify.nowPlaying
	f.sink.last().done <- nil
}

func TestVoteSkip(t *testing.T) {
	f := startRoom(t, storage.RoomConfig{})

	f.sched.Enqueue(newTrack("a", "u1"))
	f.sched.Enqueue(newTrack("b", "u1"))
	waitStarted(t, f.sink)
	<-f.notify.nowPlaying

	// four in the voice channel: two votes needed
	out, err := f.sched.VoteSkip("u1", 4)
	if err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if out.Votes != 1 || out.Required != 2 || out.Skipped {
		t.Fatalf("first vote outcome = %+v", out)
	}

	if _, err := f.sched.VoteSkip("u1", 4); err == nil {
		t.Fatal("duplicate vote accepted")
	}

	out, err = f.sched.VoteSkip("u2", 4)
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if !out.Skipped {
		t.Fatalf("threshold met but not skipped: %+v", out)
	}

	if got := waitStarted(t, f.sink); got.ID != "b" {
		t.Fatalf("after skip started %s, want b", got.ID)
	}
	<-f.notify.nowPlaying
	f.sink.last().done <- nil
}

func TestVoteSkipLoneListener(t *testing.T) {
	f := startRoom(t, storage.RoomConfig{})

	f.sched.Enqueue(newTrack("a", "u1"))
	waitStarted(t, f.sink)
	<-f.notify.nowPlaying

	// bot alone in the channel: zero votes required, one vote skips instantly
	out, err := f.sched.VoteSkip("u1", 1)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if out.Required != 0 || !out.Skipped {
		t.Fatalf("outcome = %+v, want required 0 and skipped", out)
	}
}

func TestVoteSkipNothingPlaying(t *testing.T) {
	sched := New("guild-1", newStubSink(), &stubConfig{}, newStubNotifier())
	if _, err := sched.VoteSkip("u1", 4); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("err = %v, want ErrNothingPlaying", err)
	}
}

func TestVotesResetBetweenTracks(t *testing.T) {
	f := startRoom(t, storage.RoomConfig{})

	f.sched.Enqueue(newTrack("a", "u1"))
	f.sched.Enqueue(newTrack("b", "u1"))
	waitStarted(t, f.sink)
	<-f.notify.nowPlaying

	if _, err := f.sched.VoteSkip("u1", 10); err != nil {
		t.Fatalf("vote: %v", err)
	}
	f.sink.last().done <- nil

	waitStarted(t, f.sink)
	<-f.notify.nowPlaying

	// same voter again on the next track
	out, err := f.sched.VoteSkip("u1", 10)
	if err != nil {
		t.Fatalf("vote on next track: %v", err)
	}
	if out.Votes != 1 {
		t.Errorf("votes = %d on fresh track, want 1", out.Votes)
	}
	f.sink.last().done <- nil
}

func TestStopAll(t *testing.T) {
	f := startRoom(t, storage.RoomConfig{})

	for _, id := range []string{"a", "b", "c"} {
		f.sched.Enqueue(newTrack(id, "u1"))
	}
	waitStarted(t, f.sink)
	<-f.notify.nowPlaying

	if err := f.sched.StopAll(); err != nil {
		t.Fatalf("stop all: %v", err)
	}

	deadline := time.After(time.Second)
	for f.sched.IsPlaying() {
		select {
		case <-deadline:
			t.Fatal("still playing after StopAll")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if n := len(f.sched.Report().Queue); n != 0 {
		t.Errorf("queue len = %d after StopAll, want 0", n)
	}

	select {
	case tr := <-f.sink.started:
		t.Errorf("track %s started after StopAll", tr.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

// gatedConfig blocks the second policy fetch, which is the loop's fetch
// between dequeue and bind, until the test releases it.
type gatedConfig struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (c *gatedConfig) RoomConfigFor(guildID string) (storage.RoomConfig, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()

	if n == 2 {
		c.entered <- struct{}{}
		<-c.release
	}
	return storage.RoomConfig{}, nil
}

func TestStopAllDropsDequeuedUnboundTrack(t *testing.T) {
	sink := newStubSink()
	cfg := &gatedConfig{entered: make(chan struct{}), release: make(chan struct{})}
	sched := New("guild-1", sink, cfg, newStubNotifier())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	path := filepath.Join(t.TempDir(), "a.audio")
	if err := os.WriteFile(path, []byte("pcm"), 0o644); err != nil {
		t.Fatal(err)
	}
	tr := newTrack("a", "u1")
	tr.FilePath = path

	if _, err := sched.Enqueue(tr); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// loop has dequeued the entry and is stuck on the policy fetch
	<-cfg.entered

	if err := sched.StopAll(); err != nil && !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("stop all: %v", err)
	}
	close(cfg.release)

	select {
	case got := <-sink.started:
		t.Fatalf("track %s played through a hard reset", got.ID)
	case <-time.After(100 * time.Millisecond):
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dropped track's file was not released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopAllNothingPlaying(t *testing.T) {
	sched := New("guild-1", newStubSink(), &stubConfig{}, newStubNotifier())
	if err := sched.StopAll(); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("err = %v, want ErrNothingPlaying", err)
	}
}

func TestRemoveOwnership(t *testing.T) {
	sched := New("guild-1", newStubSink(), &stubConfig{}, newStubNotifier())

	sched.Enqueue(newTrack("a", "u1"))
	sched.Enqueue(newTrack("b", "u2"))

	if _, err := sched.Remove(2, "u1", false); !errors.Is(err, ErrNotYours) {
		t.Fatalf("err = %v, want ErrNotYours", err)
	}

	removed, err := sched.Remove(2, "u1", true)
	if err != nil {
		t.Fatalf("master remove: %v", err)
	}
	if removed.Track.ID != "b" {
		t.Errorf("removed %s, want b", removed.Track.ID)
	}

	removed, err = sched.Remove(1, "u1", false)
	if err != nil {
		t.Fatalf("owner remove: %v", err)
	}
	if removed.Track.ID != "a" {
		t.Errorf("removed %s, want a", removed.Track.ID)
	}

	if _, err := sched.Remove(1, "u1", true); !errors.Is(err, queue.ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}

func TestRemoveLastBy(t *testing.T) {
	sched := New("guild-1", newStubSink(), &stubConfig{}, newStubNotifier())

	sched.Enqueue(newTrack("a", "u1"))
	sched.Enqueue(newTrack("b", "u1"))

	removed, err := sched.RemoveLastBy("u1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.Track.ID != "b" {
		t.Errorf("removed %s, want b", removed.Track.ID)
	}
}

func TestReport(t *testing.T) {
	f := startRoom(t, storage.RoomConfig{})

	f.sched.Enqueue(newTrack("a", "u1"))
	f.sched.Enqueue(newTrack("b", "u2"))
	waitStarted(t, f.sink)
	<-f.notify.nowPlaying

	snap := f.sched.Report()
	if snap.Current == nil || snap.Current.Track.ID != "a" {
		t.Fatalf("current = %+v, want track a", snap.Current)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].Track.ID != "b" {
		t.Fatalf("queue = %+v, want [b]", snap.Queue)
	}
	f.sink.last().done <- nil
}

func TestConfigErrorFallsBackToLastGood(t *testing.T) {
	cfg := &stubConfig{cfg: storage.RoomConfig{SongsMax: 1}}
	sched := New("guild-1", newStubSink(), cfg, newStubNotifier())

	if _, err := sched.Enqueue(newTrack("a", "u1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cfg.mu.Lock()
	cfg.err = errors.New("disk on fire")
	cfg.mu.Unlock()

	// cached policy still enforces the cap
	if _, err := sched.Enqueue(newTrack("b", "u1")); !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull from cached config", err)
	}
}
