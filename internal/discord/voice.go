package discord

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// VoiceState holds minimal voice channel state for a user.
type VoiceState struct {
	ChannelID string
	UserID    string
}

// FindUserVoiceState finds the voice state of a user.
func (b *Bot) FindUserVoiceState(guildID, userID string) (*VoiceState, error) {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("error retrieving guild: %w", err)
	}

	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return &VoiceState{ChannelID: vs.ChannelID, UserID: vs.UserID}, nil
		}
	}
	return nil, errors.New("you're not connected to a voice channel")
}

// ListenerCount returns how many users share the bot's voice channel,
// the bot included. Zero when the bot is not connected.
func (b *Bot) ListenerCount(guildID string) int {
	mgr := b.voiceFor(guildID)
	channelID := mgr.CurrentChannel()
	if channelID == "" {
		return 0
	}

	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return 0
	}

	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID {
			count++
		}
	}
	return count
}

// voiceManager joins, reuses and drops the voice connection for one guild.
type voiceManager struct {
	dg      *discordgo.Session
	guildID string

	mu        sync.Mutex
	vc        *discordgo.VoiceConnection
	channelID string // target channel for the next connect
}

// SetTargetChannel records where the next connect should join.
func (m *voiceManager) SetTargetChannel(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelID = channelID
}

// CurrentChannel returns the channel of the live connection, or the pending
// target when not yet connected.
func (m *voiceManager) CurrentChannel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vc != nil {
		return m.vc.ChannelID
	}
	return m.channelID
}

// connect joins the target voice channel or reuses the existing connection.
func (m *voiceManager) connect() (*discordgo.VoiceConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channelID == "" {
		return nil, errors.New("voice channel is not set")
	}
	if m.vc != nil && m.vc.ChannelID == m.channelID {
		return m.vc, nil
	}

	vc, err := m.dg.ChannelVoiceJoin(m.guildID, m.channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}
	log.Info().Str("guild", m.guildID).Str("channel", m.channelID).Msg("joined voice channel")

	m.vc = vc
	return vc, nil
}

// Disconnect leaves the voice channel, if connected.
func (m *voiceManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.vc != nil {
		if err := m.vc.Disconnect(); err != nil {
			log.Warn().Err(err).Str("guild", m.guildID).Msg("voice disconnect error")
		}
		m.vc = nil
	}
	m.channelID = ""
}
