package command

import (
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"jamroom/internal/storage"
)

type Middleware func(Command) Command

type wrappedCommand struct {
	Command
	wrap func(ctx interface{}) error
}

func (w *wrappedCommand) Run(ctx interface{}) error {
	return w.wrap(ctx)
}

// WithGuildOnly rejects invocations from outside a guild.
func WithGuildOnly() Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(ctx interface{}) error {
				if v, ok := ctx.(*SlashContext); ok && v.Event.GuildID == "" {
					return respondEphemeral(v.Session, v.Event, "You must be in a server to use this command.")
				}
				return cmd.Run(ctx)
			},
		}
	}
}

// WithLockedUserCheck rejects users locked out of the player for the guild.
func WithLockedUserCheck() Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(ctx interface{}) error {
				v, ok := ctx.(*SlashContext)
				if !ok || v.Event.GuildID == "" || v.Event.Member == nil {
					return cmd.Run(ctx)
				}

				cfg, err := v.Storage.RoomConfigFor(v.Event.GuildID)
				if err != nil {
					// Store trouble never blocks commands; only an explicit lock does.
					log.Warn().Err(err).Str("guild", v.Event.GuildID).Msg("config store error in lock check")
					return cmd.Run(ctx)
				}
				if cfg.IsLocked(v.Event.Member.User.ID) {
					return respondEphemeral(v.Session, v.Event, "You are locked from using the player on this server.")
				}
				return cmd.Run(ctx)
			},
		}
	}
}

// WithCommandLogger records each invocation in the guild's command history.
func WithCommandLogger() Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(ctx interface{}) error {
				if v, ok := ctx.(*SlashContext); ok && v.Event.GuildID != "" && v.Event.Member != nil {
					rec := storage.CommandHistoryRecord{
						ChannelID: v.Event.ChannelID,
						UserID:    v.Event.Member.User.ID,
						Username:  v.Event.Member.User.Username,
						Command:   cmd.Name(),
						Param:     subcommandName(v.Event),
						Datetime:  time.Now(),
					}
					if err := v.Storage.AppendCommandToHistory(v.Event.GuildID, rec); err != nil {
						log.Warn().Err(err).Str("guild", v.Event.GuildID).Msg("failed to log command")
					}
				}
				return cmd.Run(ctx)
			},
		}
	}
}

func subcommandName(e *discordgo.InteractionCreate) string {
	opts := e.ApplicationCommandData().Options
	if len(opts) > 0 {
		return opts[0].Name
	}
	return ""
}

func respondEphemeral(s *discordgo.Session, e *discordgo.InteractionCreate, content string) error {
	return s.InteractionRespond(e.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}
