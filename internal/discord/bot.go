// Package discord adapts the room scheduler core to the Discord gateway:
// slash commands in, voice audio and embeds out.
package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"jamroom/internal/command"
	"jamroom/internal/config"
	"jamroom/internal/music/registry"
	"jamroom/internal/music/resolver"
	"jamroom/internal/music/scheduler"
	"jamroom/internal/music/session"
	"jamroom/internal/storage"
)

// Bot owns the gateway session, the room registry and one voice manager per
// guild.
type Bot struct {
	dg       *discordgo.Session
	cfg      *config.Config
	storage  *storage.Storage
	resolver *resolver.TrackResolver
	rooms    *registry.Registry
	limiter  *rate.Limiter // Discord caps command registration calls

	mu    sync.Mutex
	voice map[string]*voiceManager
}

func NewBot(cfg *config.Config, store *storage.Storage) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	res, err := resolver.New(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare cache dir: %w", err)
	}

	b := &Bot{
		dg:       dg,
		cfg:      cfg,
		storage:  store,
		resolver: res,
		limiter:  rate.NewLimiter(rate.Every(time.Second/40), 1),
		voice:    make(map[string]*voiceManager),
	}
	b.rooms = registry.New(store, b.sinkFor, b.notifierFor)
	b.registerCommands()
	return b, nil
}

func (b *Bot) registerCommands() {
	command.Register(&MusicCommand{bot: b},
		command.WithGuildOnly(),
		command.WithLockedUserCheck(),
		command.WithCommandLogger(),
	)
	command.Register(&RoomCommand{bot: b},
		command.WithGuildOnly(),
		command.WithCommandLogger(),
	)
}

// Run opens the gateway and blocks until ctx is cancelled, then tears down
// every room before returning.
func (b *Bot) Run(ctx context.Context) error {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates

	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onGuildCreate)
	b.dg.AddHandler(b.onGuildDelete)
	b.dg.AddHandler(b.onInteractionCreate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, tearing down rooms")
	b.rooms.Shutdown()
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Info().Str("user", s.State.User.Username).Int("guilds", len(r.Guilds)).Msg("bot is running")

	if !b.cfg.InitSlashCommands {
		log.Info().Msg("slash command registration skipped")
		return
	}
	for _, g := range r.Guilds {
		if err := b.registerSlashCommands(g.ID); err != nil {
			log.Error().Err(err).Str("guild", g.ID).Msg("failed to register slash commands")
		}
	}
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	log.Info().Str("guild", g.Guild.ID).Str("name", g.Guild.Name).Msg("guild available")
	if err := b.registerSlashCommands(g.Guild.ID); err != nil {
		log.Error().Err(err).Str("guild", g.Guild.ID).Msg("failed to register slash commands")
	}
}

// onGuildDelete tears the room down when the bot is removed from a guild.
func (b *Bot) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return // outage, not a removal
	}
	log.Info().Str("guild", g.ID).Msg("removed from guild")
	b.rooms.Teardown(g.ID)
	b.voiceFor(g.ID).Disconnect()
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	cmdName := i.ApplicationCommandData().Name
	cmd, ok := command.Get(cmdName)
	if !ok {
		log.Warn().Str("command", cmdName).Msg("unknown command")
		return
	}

	ctx := &command.SlashContext{Session: s, Event: i, Storage: b.storage}
	if err := cmd.Run(ctx); err != nil {
		log.Error().Err(err).Str("command", cmdName).Msg("error running command")
		_ = RespondEmbedEphemeral(s, i, &discordgo.MessageEmbed{
			Description: fmt.Sprintf("Error running command: %v", err),
		})
	}
}

// registerSlashCommands pushes every slash definition to a guild, paced by
// the shared limiter.
func (b *Bot) registerSlashCommands(guildID string) error {
	appID := b.dg.State.User.ID
	if appID == "" {
		user, err := b.dg.User("@me")
		if err != nil {
			return err
		}
		appID = user.ID
	}

	for _, cmd := range command.All() {
		slash, ok := cmd.(command.SlashProvider)
		if !ok {
			continue
		}

		if err := b.limiter.Wait(context.Background()); err != nil {
			return err
		}
		if _, err := b.dg.ApplicationCommandCreate(appID, guildID, slash.SlashDefinition()); err != nil {
			log.Error().Err(err).Str("guild", guildID).Str("command", cmd.Name()).Msg("can't create command")
		}
	}
	return nil
}

func (b *Bot) sinkFor(guildID string) session.Sink {
	return &voiceSink{mgr: b.voiceFor(guildID)}
}

func (b *Bot) notifierFor(guildID string) scheduler.Notifier {
	return &roomNotifier{dg: b.dg, guildID: guildID}
}

func (b *Bot) voiceFor(guildID string) *voiceManager {
	b.mu.Lock()
	defer b.mu.Unlock()

	mgr, ok := b.voice[guildID]
	if !ok {
		mgr = &voiceManager{dg: b.dg, guildID: guildID}
		b.voice[guildID] = mgr
	}
	return mgr
}

// isMaster reports whether the member may bypass queue ownership: either an
// administrator or a holder of the configured master role.
func (b *Bot) isMaster(s *discordgo.Session, e *discordgo.InteractionCreate) bool {
	m := e.Member
	if m == nil {
		return false
	}

	perms, err := s.UserChannelPermissions(m.User.ID, e.ChannelID)
	if err == nil && perms&discordgo.PermissionAdministrator != 0 {
		return true
	}

	cfg, err := b.storage.RoomConfigFor(e.GuildID)
	if err != nil || cfg.MasterRoleID == "" {
		return false
	}
	for _, roleID := range m.Roles {
		if roleID == cfg.MasterRoleID {
			return true
		}
	}
	return false
}
