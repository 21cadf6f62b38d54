package discord

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"jamroom/internal/command"
	"jamroom/internal/storage"
)

// RoomCommand is the /room slash command: per-guild policy administration.
type RoomCommand struct {
	bot *Bot
}

func (c *RoomCommand) Name() string        { return "room" }
func (c *RoomCommand) Description() string { return "Configure the music room for this server" }
func (c *RoomCommand) Group() string       { return "room" }

func (c *RoomCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "set-master",
				Description: "Set the master role for player administration (admin only)",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "role",
						Description: "Role that may administer the player",
						Type:        discordgo.ApplicationCommandOptionRole,
						Required:    true,
					},
				},
			},
			{
				Name:        "limit",
				Description: "Set a queue limit (master only)",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "name",
						Description: "Which limit to set",
						Type:        discordgo.ApplicationCommandOptionString,
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "max queued songs", Value: "songs_max"},
							{Name: "song length in seconds", Value: "length_max"},
						},
					},
					{
						Name:        "value",
						Description: "Limit value, 0 disables the limit",
						Type:        discordgo.ApplicationCommandOptionInteger,
						Required:    true,
					},
				},
			},
			{
				Name:        "lock",
				Description: "Lock a user out of the player (master only)",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "user",
						Description: "User to lock",
						Type:        discordgo.ApplicationCommandOptionUser,
						Required:    true,
					},
				},
			},
			{
				Name:        "unlock",
				Description: "Unlock a previously locked user (master only)",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "user",
						Description: "User to unlock",
						Type:        discordgo.ApplicationCommandOptionUser,
						Required:    true,
					},
				},
			},
			{
				Name:        "locked",
				Description: "List locked users (master only)",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "history",
				Description: "Show recent player commands (master only)",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
		},
	}
}

func (c *RoomCommand) Run(ctx interface{}) error {
	v, ok := ctx.(*command.SlashContext)
	if !ok {
		return errors.New("unsupported command context")
	}

	opts := v.Event.ApplicationCommandData().Options
	if len(opts) == 0 {
		return RespondEphemeral(v.Session, v.Event, "Pick a subcommand.")
	}
	sub := opts[0]

	if sub.Name == "set-master" {
		return c.setMaster(v, sub)
	}

	if !c.bot.isMaster(v.Session, v.Event) {
		return RespondEphemeral(v.Session, v.Event, "Only the room master can configure the room.")
	}

	switch sub.Name {
	case "limit":
		return c.setLimit(v, sub)
	case "lock":
		return c.setLock(v, sub, true)
	case "unlock":
		return c.setLock(v, sub, false)
	case "locked":
		return c.listLocked(v)
	case "history":
		return c.history(v)
	default:
		return RespondEphemeral(v.Session, v.Event, "Unknown subcommand.")
	}
}

// setMaster requires the administrator permission: master role holders must
// not be able to hand the role around themselves.
func (c *RoomCommand) setMaster(v *command.SlashContext, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	perms, err := v.Session.UserChannelPermissions(v.Event.Member.User.ID, v.Event.ChannelID)
	if err != nil || perms&discordgo.PermissionAdministrator == 0 {
		return RespondEphemeral(v.Session, v.Event, "Only server administrators can set the master role.")
	}
	if len(sub.Options) == 0 {
		return RespondEphemeral(v.Session, v.Event, "Give me a role.")
	}

	role := sub.Options[0].RoleValue(v.Session, v.Event.GuildID)
	if err := v.Storage.SetMasterRole(v.Event.GuildID, role.ID); err != nil {
		return err
	}

	return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Color:       EmbedColor,
		Description: fmt.Sprintf("Master role set to <@&%s>.", role.ID),
	})
}

func (c *RoomCommand) setLimit(v *command.SlashContext, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	if len(sub.Options) < 2 {
		return RespondEphemeral(v.Session, v.Event, "Give me a limit name and a value.")
	}
	name := sub.Options[0].StringValue()
	value := int(sub.Options[1].IntValue())
	if value < 0 {
		return RespondEphemeral(v.Session, v.Event, "The limit can't be negative.")
	}

	if err := v.Storage.SetLimit(v.Event.GuildID, name, value); err != nil {
		if errors.Is(err, storage.ErrUnknownLimit) {
			return RespondEphemeral(v.Session, v.Event, "Unknown limit.")
		}
		return err
	}

	desc := fmt.Sprintf("Limit `%s` set to %d.", name, value)
	if value == 0 {
		desc = fmt.Sprintf("Limit `%s` disabled.", name)
	}
	return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Color:       EmbedColor,
		Description: desc,
	})
}

func (c *RoomCommand) setLock(v *command.SlashContext, sub *discordgo.ApplicationCommandInteractionDataOption, lock bool) error {
	if len(sub.Options) == 0 {
		return RespondEphemeral(v.Session, v.Event, "Give me a user.")
	}
	user := sub.Options[0].UserValue(v.Session)

	if lock {
		if user.ID == v.Event.Member.User.ID {
			return RespondEphemeral(v.Session, v.Event, "You can't lock yourself.")
		}
		if err := v.Storage.LockUser(v.Event.GuildID, user.ID); err != nil {
			return err
		}
		return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
			Color:       EmbedColor,
			Description: fmt.Sprintf("Locked <@%s> from the player.", user.ID),
		})
	}

	if err := v.Storage.UnlockUser(v.Event.GuildID, user.ID); err != nil {
		return err
	}
	return RespondEmbed(v.Session, v.Event, &discordgo.MessageEmbed{
		Color:       EmbedColor,
		Description: fmt.Sprintf("Unlocked <@%s>.", user.ID),
	})
}

func (c *RoomCommand) listLocked(v *command.SlashContext) error {
	cfg, err := v.Storage.RoomConfigFor(v.Event.GuildID)
	if err != nil {
		return err
	}
	if len(cfg.Locked) == 0 {
		return RespondEphemeral(v.Session, v.Event, "No users are locked.")
	}

	var sb strings.Builder
	for _, userID := range cfg.Locked {
		fmt.Fprintf(&sb, "<@%s>\n", userID)
	}
	return RespondEmbedEphemeral(v.Session, v.Event, &discordgo.MessageEmbed{
		Title:       "Locked users",
		Color:       EmbedColor,
		Description: sb.String(),
	})
}

func (c *RoomCommand) history(v *command.SlashContext) error {
	records, err := v.Storage.FetchCommandHistory(v.Event.GuildID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return RespondEphemeral(v.Session, v.Event, "No command history yet.")
	}

	var sb strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&sb, "`%s` — %s %s %s\n",
			rec.Datetime.Format("2006-01-02 15:04"), rec.Username, rec.Command, rec.Param)
	}
	return RespondEmbedEphemeral(v.Session, v.Event, &discordgo.MessageEmbed{
		Title:       "Command history",
		Color:       EmbedColor,
		Description: sb.String(),
	})
}
