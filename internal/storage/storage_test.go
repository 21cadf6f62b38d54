package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "datastore.json"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close storage: %v", err)
		}
	})
	return s
}

func TestRoomConfigDefaults(t *testing.T) {
	s := newTestStorage(t)

	cfg, err := s.RoomConfigFor("guild-1")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.MasterRoleID != "" || cfg.SongsMax != 0 || cfg.LengthMax != 0 || len(cfg.Locked) != 0 {
		t.Errorf("fresh guild config not empty: %+v", cfg)
	}
}

func TestSetMasterRole(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SetMasterRole("guild-1", "role-9"); err != nil {
		t.Fatalf("set master: %v", err)
	}
	cfg, err := s.RoomConfigFor("guild-1")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.MasterRoleID != "role-9" {
		t.Errorf("master role = %q, want role-9", cfg.MasterRoleID)
	}
}

func TestSetLimit(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SetLimit("guild-1", "songs_max", 5); err != nil {
		t.Fatalf("set songs_max: %v", err)
	}
	if err := s.SetLimit("guild-1", "length_max", 300); err != nil {
		t.Fatalf("set length_max: %v", err)
	}

	cfg, _ := s.RoomConfigFor("guild-1")
	if cfg.SongsMax != 5 || cfg.LengthMax != 300 {
		t.Errorf("limits = %+v, want songs 5 length 300", cfg)
	}

	if err := s.SetLimit("guild-1", "volume_max", 1); !errors.Is(err, ErrUnknownLimit) {
		t.Errorf("err = %v, want ErrUnknownLimit", err)
	}
}

func TestLockUnlock(t *testing.T) {
	s := newTestStorage(t)

	if err := s.LockUser("guild-1", "u1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	// locking twice stays a single entry
	if err := s.LockUser("guild-1", "u1"); err != nil {
		t.Fatalf("second lock: %v", err)
	}

	cfg, _ := s.RoomConfigFor("guild-1")
	if !cfg.IsLocked("u1") {
		t.Error("u1 not locked")
	}
	if cfg.IsLocked("u2") {
		t.Error("u2 reported locked")
	}
	if len(cfg.Locked) != 1 {
		t.Errorf("locked list = %v, want one entry", cfg.Locked)
	}

	if err := s.UnlockUser("guild-1", "u1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	cfg, _ = s.RoomConfigFor("guild-1")
	if cfg.IsLocked("u1") {
		t.Error("u1 still locked after unlock")
	}

	if err := s.UnlockUser("guild-1", "u1"); err == nil {
		t.Error("unlocking an unlocked user succeeded")
	}
}

func TestLocksAreScopedPerGuild(t *testing.T) {
	s := newTestStorage(t)

	if err := s.LockUser("guild-1", "u1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	cfg, _ := s.RoomConfigFor("guild-2")
	if cfg.IsLocked("u1") {
		t.Error("lock leaked into another guild")
	}
}

func TestCommandHistory(t *testing.T) {
	s := newTestStorage(t)

	for i := 0; i < commandHistoryLimit+5; i++ {
		rec := CommandHistoryRecord{
			UserID:   "u1",
			Username: "user",
			Command:  "music",
			Param:    "play",
			Datetime: time.Now(),
		}
		if err := s.AppendCommandToHistory("guild-1", rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := s.FetchCommandHistory("guild-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) > commandHistoryLimit+1 {
		t.Errorf("history len = %d, want at most %d", len(records), commandHistoryLimit+1)
	}
}
