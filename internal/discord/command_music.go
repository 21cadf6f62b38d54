package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"jamroom/internal/command"
	"jamroom/internal/music/queue"
	"jamroom/internal/music/scheduler"
	"jamroom/internal/music/session"
	"jamroom/internal/music/track"
)

// resolveTimeout bounds a single download; big files over slow links lose.
const resolveTimeout = 5 * time.Minute

// MusicCommand is the /music slash command: queueing, playback reporting,
// vote-skipping and the master playback controls.
type MusicCommand struct {
	bot *Bot
}

func (c *MusicCommand) Name() string        { return "music" }
func (c *MusicCommand) Description() string { return "Queue and control music playback" }
func (c *MusicCommand) Group() string       { return "music" }

func (c *MusicCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "play",
				Description: "Queue a song by search query, URL or attached file",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "query",
						Description: "Search terms or a YouTube URL",
						Type:        discordgo.ApplicationCommandOptionString,
					},
					{
						Name:        "file",
						Description: "An audio file to play",
						Type:        discordgo.ApplicationCommandOptionAttachment,
					},
				},
			},
			{
				Name:        "playing",
				Description: "Show the currently playing song",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "queue",
				Description: "Show the song queue",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "myqueue",
				Description: "Show your own songs in the queue",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "unqueue",
				Description: "Remove your most recently queued song",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "remove",
				Description: "Remove a song from the queue by position",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "position",
						Description: "Queue position, starting at 1",
						Type:        discordgo.ApplicationCommandOptionInteger,
						Required:    true,
					},
				},
			},
			{
				Name:        "skip",
				Description: "Vote to skip the current song",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "volume",
				Description: "Set the playback volume (master only)",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "percent",
						Description: "Volume from 0 to 200",
						Type:        discordgo.ApplicationCommandOptionInteger,
						Required:    true,
					},
				},
			},
			{
				Name:        "stop",
				Description: "Stop playback and clear the queue (master only)",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "summon",
				Description: "Move the player to your voice channel (master only)",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
		},
	}
}

func (c *MusicCommand) Run(ctx interface{}) error {
	v, ok := ctx.(*command.SlashContext)
	if !ok {
		return errors.New("unsupported command context")
	}

	opts := v.Event.ApplicationCommandData().Options
	if len(opts) == 0 {
		return RespondEphemeral(v.Session, v.Event, "Pick a subcommand.")
	}
	sub := opts[0]

	switch sub.Name {
	case "play":
		return c.play(v, sub)
	case "playing":
		return c.playing(v)
	case "queue":
		return c.showQueue(v)
	case "myqueue":
		return c.myQueue(v)
	case "unqueue":
		return c.unqueue(v)
	case "remove":
		return c.remove(v, sub)
	case "skip":
		return c.skip(v)
	case "volume":
		return c.volume(v, sub)
	case "stop":
		return c.stop(v)
	case "summon":
		return c.summon(v)
	default:
		return RespondEphemeral(v.Session, v.Event, "Unknown subcommand.")
	}
}

func (c *MusicCommand) play(v *command.SlashContext, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	userID := v.Event.Member.User.ID

	vs, err := c.bot.FindUserVoiceState(v.Event.GuildID, userID)
	if err != nil {
		return RespondEphemeral(v.Session, v.Event, "Join a voice channel first.")
	}

	mgr := c.bot.voiceFor(v.Event.GuildID)
	sched := c.bot.rooms.GetOrCreate(v.Event.GuildID)
	if cur := mgr.CurrentChannel(); sched.IsPlaying() && cur != "" && cur != vs.ChannelID {
		return RespondEphemeral(v.Session, v.Event, "The player is busy in another voice channel.")
	}

	// Resolution downloads audio; acknowledge before the 3 second deadline.
	if err := RespondDeferred(v.Session, v.Event); err != nil {
		return err
	}

	t, err := c.resolve(v, sub)
	if err != nil {
		log.Warn().Err(err).Str("guild", v.Event.GuildID).Msg("track resolution failed")
		return FollowupEmbedEphemeral(v.Session, v.Event, &discordgo.MessageEmbed{
			Color:       EmbedColor,
			Description: fmt.Sprintf("Couldn't fetch that: %v", err),
		})
	}

	t.RequesterID = userID
	t.RequesterName = displayName(v.Event.Member)
	t.ChannelID = v.Event.ChannelID

	mgr.SetTargetChannel(vs.ChannelID)

	pos, err := sched.Enqueue(t)
	if err != nil {
		t.Release()
		msg := "Couldn't queue that song."
		switch {
		case errors.Is(err, scheduler.ErrUserLocked):
			msg = "You are locked from using the player on this server."
		case errors.Is(err, queue.ErrQueueFull):
			msg = "The queue is full, try again later."
		}
		return FollowupEmbedEphemeral(v.Session, v.Event, &discordgo.MessageEmbed{
			Color:       EmbedColor,
			Description: msg,
		})
	}

	return FollowupEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Color:       EmbedColor,
		Description: fmt.Sprintf("Queued `%s` at position %d.", t.Title, pos),
	})
}

// resolve turns the play options into a downloaded track: attachment when
// given, search query or URL otherwise.
func (c *MusicCommand) resolve(v *command.SlashContext, sub *discordgo.ApplicationCommandInteractionDataOption) (*track.Track, error) {
	var query string
	var attachmentID string
	for _, opt := range sub.Options {
		switch opt.Name {
		case "query":
			query = strings.TrimSpace(opt.StringValue())
		case "file":
			attachmentID = opt.Value.(string)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	if attachmentID != "" {
		att, ok := v.Event.ApplicationCommandData().Resolved.Attachments[attachmentID]
		if !ok {
			return nil, errors.New("attachment missing from interaction payload")
		}
		return c.bot.resolver.FromAttachment(ctx, att.URL, att.Filename)
	}
	if query != "" {
		return c.bot.resolver.FromQuery(ctx, query)
	}
	return nil, errors.New("give me a query or an audio file")
}

func (c *MusicCommand) playing(v *command.SlashContext) error {
	sched, ok := c.bot.rooms.Get(v.Event.GuildID)
	if !ok {
		return RespondEphemeral(v.Session, v.Event, "Nothing is playing.")
	}

	snap := sched.Report()
	if snap.Current == nil {
		return RespondEphemeral(v.Session, v.Event, "Nothing is playing.")
	}

	return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Title: "Now playing",
		Color: EmbedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Queuer", Value: snap.Current.Track.RequesterName},
			{Name: "Song", Value: snap.Current.Track.Title},
			{Name: "Length", Value: fmtDuration(snap.Current.Track.Duration)},
		},
	})
}

func (c *MusicCommand) showQueue(v *command.SlashContext) error {
	sched, ok := c.bot.rooms.Get(v.Event.GuildID)
	if !ok {
		return RespondEphemeral(v.Session, v.Event, "The queue is empty.")
	}

	snap := sched.Report()
	if snap.Current == nil && len(snap.Queue) == 0 {
		return RespondEphemeral(v.Session, v.Event, "The queue is empty.")
	}

	var sb strings.Builder
	if snap.Current != nil {
		fmt.Fprintf(&sb, "▶ `%s` — %s\n", snap.Current.Track.Title, snap.Current.Track.RequesterName)
	}
	for i, e := range snap.Queue {
		fmt.Fprintf(&sb, "%d. `%s` — %s\n", i+1, e.Track.Title, e.Track.RequesterName)
	}

	return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Title:       "Queue",
		Color:       EmbedColor,
		Description: sb.String(),
	})
}

func (c *MusicCommand) myQueue(v *command.SlashContext) error {
	userID := v.Event.Member.User.ID

	sched, ok := c.bot.rooms.Get(v.Event.GuildID)
	if !ok {
		return RespondEphemeral(v.Session, v.Event, "You have nothing queued.")
	}

	var sb strings.Builder
	for i, e := range sched.Report().Queue {
		if e.RequesterID == userID {
			fmt.Fprintf(&sb, "%d. `%s`\n", i+1, e.Track.Title)
		}
	}
	if sb.Len() == 0 {
		return RespondEphemeral(v.Session, v.Event, "You have nothing queued.")
	}

	return RespondEmbedEphemeral(v.Session, v.Event, &discordgo.MessageEmbed{
		Title:       "Your queued songs",
		Color:       EmbedColor,
		Description: sb.String(),
	})
}

func (c *MusicCommand) unqueue(v *command.SlashContext) error {
	sched, ok := c.bot.rooms.Get(v.Event.GuildID)
	if !ok {
		return RespondEphemeral(v.Session, v.Event, "You have nothing queued.")
	}

	removed, err := sched.RemoveLastBy(v.Event.Member.User.ID)
	if err != nil {
		return RespondEphemeral(v.Session, v.Event, "You have nothing queued.")
	}

	return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Color:       EmbedColor,
		Description: fmt.Sprintf("Removed `%s` from the queue.", removed.Track.Title),
	})
}

func (c *MusicCommand) remove(v *command.SlashContext, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	if len(sub.Options) == 0 {
		return RespondEphemeral(v.Session, v.Event, "Give me a queue position.")
	}
	pos := int(sub.Options[0].IntValue())

	sched, ok := c.bot.rooms.Get(v.Event.GuildID)
	if !ok {
		return RespondEphemeral(v.Session, v.Event, "The queue is empty.")
	}

	removed, err := sched.Remove(pos, v.Event.Member.User.ID, c.bot.isMaster(v.Session, v.Event))
	if err != nil {
		msg := "Couldn't remove that song."
		switch {
		case errors.Is(err, queue.ErrOutOfRange), errors.Is(err, queue.ErrNotFound):
			msg = "No song at that position."
		case errors.Is(err, scheduler.ErrNotYours):
			msg = "You can only remove songs you queued yourself."
		}
		return RespondEphemeral(v.Session, v.Event, msg)
	}

	return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Color:       EmbedColor,
		Description: fmt.Sprintf("Removed `%s` from the queue.", removed.Track.Title),
	})
}

func (c *MusicCommand) skip(v *command.SlashContext) error {
	userID := v.Event.Member.User.ID

	sched, ok := c.bot.rooms.Get(v.Event.GuildID)
	if !ok || !sched.IsPlaying() {
		return RespondEphemeral(v.Session, v.Event, "Nothing is playing.")
	}

	vs, err := c.bot.FindUserVoiceState(v.Event.GuildID, userID)
	if err != nil || vs.ChannelID != c.bot.voiceFor(v.Event.GuildID).CurrentChannel() {
		return RespondEphemeral(v.Session, v.Event, "You need to be listening in the voice channel to vote.")
	}

	eligible := c.bot.ListenerCount(v.Event.GuildID)
	out, err := sched.VoteSkip(userID, eligible)
	if err != nil {
		if errors.Is(err, scheduler.ErrNothingPlaying) {
			return RespondEphemeral(v.Session, v.Event, "Nothing is playing.")
		}
		// Duplicate vote: show the unchanged tally.
		return RespondEphemeral(v.Session, v.Event,
			fmt.Sprintf("You already voted to skip (%d/%d).", out.Votes, out.Required))
	}

	if out.Skipped {
		return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
			Color:       EmbedColor,
			Description: "Skip vote passed, skipping the song.",
		})
	}
	return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Color:       EmbedColor,
		Description: fmt.Sprintf("Skip vote registered (%d/%d).", out.Votes, out.Required),
	})
}

func (c *MusicCommand) volume(v *command.SlashContext, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	if !c.bot.isMaster(v.Session, v.Event) {
		return RespondEphemeral(v.Session, v.Event, "Only the room master can change the volume.")
	}
	if len(sub.Options) == 0 {
		return RespondEphemeral(v.Session, v.Event, "Give me a volume percentage.")
	}
	percent := sub.Options[0].IntValue()

	sched, ok := c.bot.rooms.Get(v.Event.GuildID)
	if !ok {
		return RespondEphemeral(v.Session, v.Event, "Nothing is playing.")
	}

	if err := sched.SetVolume(float64(percent) / 100); err != nil {
		switch {
		case errors.Is(err, session.ErrNothingPlaying):
			return RespondEphemeral(v.Session, v.Event, "Nothing is playing.")
		case errors.Is(err, session.ErrVolumeOutOfRange):
			return RespondEphemeral(v.Session, v.Event, "Volume must be between 0 and 200.")
		}
		return err
	}

	return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Color:       EmbedColor,
		Description: fmt.Sprintf("Volume set to %d%%.", percent),
	})
}

func (c *MusicCommand) stop(v *command.SlashContext) error {
	if !c.bot.isMaster(v.Session, v.Event) {
		return RespondEphemeral(v.Session, v.Event, "Only the room master can stop the player.")
	}

	if sched, ok := c.bot.rooms.Get(v.Event.GuildID); ok {
		if err := sched.StopAll(); err != nil && !errors.Is(err, scheduler.ErrNothingPlaying) {
			return err
		}
	}
	c.bot.rooms.Teardown(v.Event.GuildID)
	c.bot.voiceFor(v.Event.GuildID).Disconnect()

	return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Color:       EmbedColor,
		Description: "Stopped playback, cleared the queue and left the voice channel.",
	})
}

func (c *MusicCommand) summon(v *command.SlashContext) error {
	if !c.bot.isMaster(v.Session, v.Event) {
		return RespondEphemeral(v.Session, v.Event, "Only the room master can summon the player.")
	}

	vs, err := c.bot.FindUserVoiceState(v.Event.GuildID, v.Event.Member.User.ID)
	if err != nil {
		return RespondEphemeral(v.Session, v.Event, "Join a voice channel first.")
	}

	mgr := c.bot.voiceFor(v.Event.GuildID)
	mgr.SetTargetChannel(vs.ChannelID)
	if _, err := mgr.connect(); err != nil {
		return RespondEphemeral(v.Session, v.Event, fmt.Sprintf("Couldn't join your channel: %v", err))
	}

	return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Color:       EmbedColor,
		Description: "Player moved to your voice channel.",
	})
}

func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.User.Username
}

func fmtDuration(seconds float64) string {
	total := int(seconds)
	if total <= 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
