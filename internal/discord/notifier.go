package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"jamroom/internal/music/queue"
)

// roomNotifier renders scheduler notifications into the channel each track
// was requested from and mirrors the current title in the bot presence.
type roomNotifier struct {
	dg      *discordgo.Session
	guildID string
}

func (n *roomNotifier) NowPlaying(e queue.Entry) {
	embed := &discordgo.MessageEmbed{
		Title: "Now playing",
		Color: EmbedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Queuer", Value: e.Track.RequesterName},
			{Name: "Song", Value: e.Track.Title},
		},
	}
	if err := MessageEmbed(n.dg, e.Track.ChannelID, embed); err != nil {
		log.Warn().Err(err).Str("guild", n.guildID).Msg("failed to announce track")
	}

	if err := n.dg.UpdateListeningStatus(e.Track.Title); err != nil {
		log.Debug().Err(err).Msg("failed to update presence")
	}
}

func (n *roomNotifier) SkippedTooLong(e queue.Entry, limit time.Duration) {
	embed := &discordgo.MessageEmbed{
		Color: EmbedColor,
		Description: fmt.Sprintf("Skipped `%s`: longer than this server's limit of %d seconds.",
			e.Track.Title, int(limit.Seconds())),
	}
	if err := MessageEmbed(n.dg, e.Track.ChannelID, embed); err != nil {
		log.Warn().Err(err).Str("guild", n.guildID).Msg("failed to send skip notice")
	}
}

func (n *roomNotifier) PlaybackFailed(e queue.Entry, err error) {
	embed := &discordgo.MessageEmbed{
		Color:       EmbedColor,
		Description: fmt.Sprintf("Playback of `%s` failed, moving on.", e.Track.Title),
	}
	if sendErr := MessageEmbed(n.dg, e.Track.ChannelID, embed); sendErr != nil {
		log.Warn().Err(sendErr).Str("guild", n.guildID).Msg("failed to send failure notice")
	}
}

func (n *roomNotifier) Idle() {
	if err := n.dg.UpdateListeningStatus(""); err != nil {
		log.Debug().Err(err).Msg("failed to clear presence")
	}
}
