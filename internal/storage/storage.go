// Package storage persists per-guild room settings and command history in a
// JSON-file datastore.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/keshon/datastore"
)

const commandHistoryLimit int = 20

// ErrUnknownLimit is returned by SetLimit for keys other than songs_max and
// length_max.
var ErrUnknownLimit = errors.New("unknown limit")

// RoomConfig holds the playback policy for one guild. The scheduler treats
// it as read-only; only the admin commands mutate it.
type RoomConfig struct {
	MasterRoleID string   `json:"role_id"`
	SongsMax     int      `json:"songs_max"`  // 0 = unlimited
	LengthMax    int      `json:"length_max"` // seconds, 0 = unlimited
	Locked       []string `json:"locked"`     // user IDs barred from the player
}

// IsLocked reports whether the user is barred from using the player.
func (c RoomConfig) IsLocked(userID string) bool {
	return slices.Contains(c.Locked, userID)
}

type CommandHistoryRecord struct {
	ChannelID string    `json:"channel_id"`
	GuildName string    `json:"guild_name"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Command   string    `json:"command"`
	Param     string    `json:"param"`
	Datetime  time.Time `json:"datetime"`
}

// Record is everything stored per guild.
type Record struct {
	Room                RoomConfig             `json:"room"`
	CommandsHistoryList []CommandHistoryRecord `json:"cmd_history"`
}

type Storage struct {
	ds *datastore.DataStore
}

func New(filePath string) (*Storage, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

// getOrCreateGuildRecord returns the guild's record, creating it on first use.
func (s *Storage) getOrCreateGuildRecord(guildID string) (*Record, error) {
	data, exists := s.ds.Get(guildID)
	if !exists {
		newRecord := &Record{}
		s.ds.Add(guildID, newRecord)
		return newRecord, nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error marshalling data: %w", err)
	}

	var record Record
	err = json.Unmarshal(jsonData, &record)
	if err != nil {
		return nil, fmt.Errorf("error unmarshalling to *Record: %w", err)
	}

	if len(record.CommandsHistoryList) > commandHistoryLimit {
		record.CommandsHistoryList = record.CommandsHistoryList[len(record.CommandsHistoryList)-commandHistoryLimit:]
	}

	return &record, nil
}

// RoomConfigFor returns the guild's playback policy.
func (s *Storage) RoomConfigFor(guildID string) (RoomConfig, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return RoomConfig{}, err
	}
	return record.Room, nil
}

// SetMasterRole stores the role whose members may bypass queue ownership.
func (s *Storage) SetMasterRole(guildID, roleID string) error {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	record.Room.MasterRoleID = roleID
	s.ds.Add(guildID, record)
	return nil
}

// SetLimit updates songs_max or length_max for a guild.
func (s *Storage) SetLimit(guildID, key string, value int) error {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	switch key {
	case "songs_max":
		record.Room.SongsMax = value
	case "length_max":
		record.Room.LengthMax = value
	default:
		return fmt.Errorf("%w %q: only songs_max or length_max can be configured", ErrUnknownLimit, key)
	}

	s.ds.Add(guildID, record)
	return nil
}

// LockUser bars a user from the player. Locking twice is a no-op.
func (s *Storage) LockUser(guildID, userID string) error {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	if !slices.Contains(record.Room.Locked, userID) {
		record.Room.Locked = append(record.Room.Locked, userID)
		s.ds.Add(guildID, record)
	}
	return nil
}

// UnlockUser lifts a lock.
func (s *Storage) UnlockUser(guildID, userID string) error {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	i := slices.Index(record.Room.Locked, userID)
	if i < 0 {
		return fmt.Errorf("user %s is not locked", userID)
	}
	record.Room.Locked = slices.Delete(record.Room.Locked, i, i+1)
	s.ds.Add(guildID, record)
	return nil
}

// AppendCommandToHistory appends a command history record for a guild.
func (s *Storage) AppendCommandToHistory(guildID string, command CommandHistoryRecord) error {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	record.CommandsHistoryList = append(record.CommandsHistoryList, command)
	s.ds.Add(guildID, record)
	return nil
}

func (s *Storage) FetchCommandHistory(guildID string) ([]CommandHistoryRecord, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return nil, err
	}

	return record.CommandsHistoryList, nil
}
