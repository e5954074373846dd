package slushbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	replyGuildOnly      = "This command can only be used in a server."
	replyAdminOnly      = "You need the **Manage Server** permission to use this command."
	replyOwnerOnly      = "This command is restricted to the bot owner."
	replyAllAllowed     = "No channel restrictions are set. The bot responds everywhere."
	replyCleared        = "Cleared all channel restrictions for this server."
	replyNoPinnedConfig = "No pinned config message found in this server. " +
		"Use `/setup` in the channel you want the config pinned in."
	replySetupDone     = "Config message pinned. The bot is now allowed in this channel."
	replyInternalError = "Something went wrong. Try again in a moment."
)

// helpMessage lists the bot's commands for `/help` and `!help`
func helpMessage(prefix string) string {
	return strings.Join(
		[]string{
			"**Gamepass scanner**",
			fmt.Sprintf(
				"`/scan` or `%sscan <id|url>` - look up one gamepass and its payout after the 30%% marketplace fee",
				prefix,
			),
			fmt.Sprintf(
				"`/scan_multi` or `%sscan_multi <ids...>` - look up up to %d gamepasses at once",
				prefix,
				MaxMultiScanIDs,
			),
			fmt.Sprintf("`/ping` or `%sping` - check the bot is alive", prefix),
			"",
			"**Admin (Manage Server)**",
			"`/allow_here` - allow the bot in the current channel",
			"`/list_allowed` - show the allowed channels",
			"`/clear_allowed` - remove all channel restrictions",
			"`/setup` - create & pin the config message in this channel",
			"`/reload-config` - reload allowed channels from the pinned config",
		},
		"\n",
	)
}

// handleInteraction routes an incoming interaction to a command
// handler, after recording it and applying the allowlist and per-user
// cooldown.
func (d *SlushBot) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger().With(
		slog.Group("interaction", interactionLogAttrs(*i)...),
	)
	ctx = WithLogger(ctx, logger)

	if i.Type != discordgo.InteractionApplicationCommand {
		logger.DebugContext(ctx, "ignoring non-command interaction")
		return
	}

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.WarnContext(ctx, "no user found in interaction")
		return
	}

	if interactionLog, logErr := newInteractionLog(i, discordUser); logErr != nil {
		logger.ErrorContext(ctx, "error building interaction log", tint.Err(logErr))
	} else if _, createErr := d.writeDB.Create(ctx, interactionLog); createErr != nil {
		logger.ErrorContext(ctx, "error saving interaction log", tint.Err(createErr))
	}

	user, _, err := d.GetOrCreateUser(ctx, *discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error getting/creating user", tint.Err(err))
		d.respondEphemeral(ctx, handler, replyInternalError)
		return
	}
	logger = logger.With(slog.Group("user", userLogAttrs(*user)...))
	ctx = WithLogger(ctx, logger)

	if user.Ignored {
		logger.WarnContext(ctx, "ignoring interaction from ignored user")
		return
	}

	cmdName := i.ApplicationCommandData().Name
	logger.InfoContext(ctx, "received command", "command", cmdName)

	switch cmdName {
	case DiscordSlashCommandScan, DiscordSlashCommandScanMulti:
		multi := cmdName == DiscordSlashCommandScanMulti
		var input string
		if opt, ok := discordInteractionOptions(i)[scanInputOption]; ok {
			input = opt.StringValue()
		}
		d.runScanCommand(ctx, handler, user, input, multi)
	case DiscordSlashCommandPing:
		d.handlePing(ctx, handler, user)
	case DiscordSlashCommandHelp:
		d.handleHelp(ctx, handler)
	case DiscordSlashCommandAllowHere:
		d.handleAllowHere(ctx, handler)
	case DiscordSlashCommandClearAllowed:
		d.handleClearAllowed(ctx, handler)
	case DiscordSlashCommandListAllowed:
		d.handleListAllowed(ctx, handler)
	case DiscordSlashCommandSetup:
		d.handleSetup(ctx, handler)
	case DiscordSlashCommandReloadConfig:
		d.handleReloadConfig(ctx, handler)
	case DiscordSlashCommandDiag:
		d.handleDiag(ctx, handler, discordUser)
	default:
		logger.WarnContext(ctx, "unknown command", "command", cmdName)
	}
}

// runScanCommand records and executes a `/scan` or `/scan_multi`
// invocation. Allowlist and cooldown rejections are recorded with
// their own terminal states.
func (d *SlushBot) runScanCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
	input string,
	multi bool,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	cmd := NewUserScanCommand(user, i, input, multi)
	cmd.handler = handler

	if !d.guildConfigs.IsChannelAllowed(i.GuildID, i.ChannelID) {
		d.commandsBlocked.Add(1)
		cmd.State = ScanCommandStateBlocked
		if _, err := d.writeDB.Create(ctx, cmd); err != nil {
			logger.ErrorContext(ctx, "error saving scan command", tint.Err(err))
		}
		d.respondEphemeral(ctx, handler, d.channelDeniedReply(i.GuildID))
		return
	}

	if !d.userLimiters.Allow(user.ID) {
		d.commandsRateLimited.Add(1)
		cmd.State = ScanCommandStateRateLimited
		if _, err := d.writeDB.Create(ctx, cmd); err != nil {
			logger.ErrorContext(ctx, "error saving scan command", tint.Err(err))
		}
		d.respondEphemeral(ctx, handler, scanReplyTooSoon)
		return
	}

	if err := handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}
	cmd.Acknowledged = true

	if _, err := d.writeDB.Create(ctx, cmd); err != nil {
		logger.ErrorContext(ctx, "error saving scan command", tint.Err(err))
	}

	d.scanCommandsInProgress.Add(1)
	defer d.scanCommandsInProgress.Add(-1)

	execCtx, cancel := context.WithDeadline(ctx, cmd.Deadline())
	defer cancel()
	if err := cmd.execute(execCtx, d); err != nil {
		logger.ErrorContext(ctx, "scan command failed", tint.Err(err))
		return
	}
	d.scanCommandsCompleted.Add(1)
}

func (d *SlushBot) handlePing(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
) {
	i := handler.GetInteraction()
	if !d.guildConfigs.IsChannelAllowed(i.GuildID, i.ChannelID) {
		d.commandsBlocked.Add(1)
		d.respondEphemeral(ctx, handler, d.channelDeniedReply(i.GuildID))
		return
	}
	if !d.userLimiters.Allow(user.ID) {
		d.commandsRateLimited.Add(1)
		d.respondEphemeral(ctx, handler, scanReplyTooSoon)
		return
	}
	latency := d.discord.session.HeartbeatLatency()
	d.respondEphemeral(
		ctx,
		handler,
		fmt.Sprintf("Pong! Gateway latency: %dms", latency.Milliseconds()),
	)
}

func (d *SlushBot) handleHelp(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	if !d.guildConfigs.IsChannelAllowed(i.GuildID, i.ChannelID) {
		d.commandsBlocked.Add(1)
		d.respondEphemeral(ctx, handler, d.channelDeniedReply(i.GuildID))
		return
	}
	d.respondEphemeral(ctx, handler, helpMessage(d.commandPrefix()))
}

// requireGuildAdmin checks the interaction came from a guild member
// with the Manage Server permission, replying with the rejection
// itself when it didn't.
func (d *SlushBot) requireGuildAdmin(
	ctx context.Context,
	handler InteractionHandler,
) bool {
	i := handler.GetInteraction()
	if i.GuildID == "" || i.Member == nil {
		d.respondEphemeral(ctx, handler, replyGuildOnly)
		return false
	}
	if i.Member.Permissions&discordgo.PermissionManageServer == 0 {
		d.respondEphemeral(ctx, handler, replyAdminOnly)
		return false
	}
	return true
}

func (d *SlushBot) handleAllowHere(
	ctx context.Context,
	handler InteractionHandler,
) {
	if !d.requireGuildAdmin(ctx, handler) {
		return
	}
	i := handler.GetInteraction()
	if err := d.guildConfigs.AllowChannel(ctx, i.GuildID, i.ChannelID); err != nil {
		handler.Logger().ErrorContext(ctx, "error allowing channel", tint.Err(err))
		d.respondEphemeral(ctx, handler, replyInternalError)
		return
	}
	d.refreshPinnedConfig(ctx, i.GuildID)
	d.respondEphemeral(
		ctx,
		handler,
		fmt.Sprintf("Added <#%s> to the allowed channels.", i.ChannelID),
	)
}

func (d *SlushBot) handleClearAllowed(
	ctx context.Context,
	handler InteractionHandler,
) {
	if !d.requireGuildAdmin(ctx, handler) {
		return
	}
	i := handler.GetInteraction()
	if err := d.guildConfigs.ClearChannels(ctx, i.GuildID); err != nil {
		handler.Logger().ErrorContext(ctx, "error clearing channels", tint.Err(err))
		d.respondEphemeral(ctx, handler, replyInternalError)
		return
	}
	d.refreshPinnedConfig(ctx, i.GuildID)
	d.respondEphemeral(ctx, handler, replyCleared)
}

func (d *SlushBot) handleListAllowed(
	ctx context.Context,
	handler InteractionHandler,
) {
	if !d.requireGuildAdmin(ctx, handler) {
		return
	}
	i := handler.GetInteraction()
	channels := d.guildConfigs.AllowedChannels(i.GuildID)
	if len(channels) == 0 {
		d.respondEphemeral(ctx, handler, replyAllAllowed)
		return
	}
	mentions := make([]string, 0, len(channels))
	for _, c := range channels {
		mentions = append(mentions, fmt.Sprintf("<#%s>", c))
	}
	d.respondEphemeral(
		ctx,
		handler,
		"Allowed channels: "+strings.Join(mentions, ", "),
	)
}

// handleSetup allows the current channel, then creates (or updates)
// and pins the guild's config message in it.
func (d *SlushBot) handleSetup(
	ctx context.Context,
	handler InteractionHandler,
) {
	if !d.requireGuildAdmin(ctx, handler) {
		return
	}
	i := handler.GetInteraction()
	logger := handler.Logger()

	if err := d.guildConfigs.AllowChannel(ctx, i.GuildID, i.ChannelID); err != nil {
		logger.ErrorContext(ctx, "error allowing channel", tint.Err(err))
		d.respondEphemeral(ctx, handler, replyInternalError)
		return
	}

	content := d.guildConfigs.EncodePinnedConfig(i.GuildID)
	session := d.discord.session

	if existing := d.findPinnedConfig(i.GuildID); existing != nil {
		if _, err := session.ChannelMessageEdit(
			existing.ChannelID,
			existing.ID,
			content,
		); err != nil {
			logger.ErrorContext(ctx, "error updating pinned config", tint.Err(err))
			d.respondEphemeral(ctx, handler, replyInternalError)
			return
		}
		d.respondEphemeral(ctx, handler, replySetupDone)
		return
	}

	msg, err := session.ChannelMessageSend(i.ChannelID, content)
	if err != nil {
		logger.ErrorContext(ctx, "error sending config message", tint.Err(err))
		d.respondEphemeral(ctx, handler, replyInternalError)
		return
	}
	if err := session.ChannelMessagePin(i.ChannelID, msg.ID); err != nil {
		logger.ErrorContext(ctx, "error pinning config message", tint.Err(err))
		d.respondEphemeral(
			ctx,
			handler,
			"Sent the config message, but couldn't pin it. "+
				"Give the bot the **Manage Messages** permission and pin it manually.",
		)
		return
	}
	d.respondEphemeral(ctx, handler, replySetupDone)
}

func (d *SlushBot) handleReloadConfig(
	ctx context.Context,
	handler InteractionHandler,
) {
	if !d.requireGuildAdmin(ctx, handler) {
		return
	}
	i := handler.GetInteraction()
	if !d.reloadGuildConfigFromPins(ctx, i.GuildID) {
		d.respondEphemeral(ctx, handler, replyNoPinnedConfig)
		return
	}
	channels := d.guildConfigs.AllowedChannels(i.GuildID)
	d.respondEphemeral(
		ctx,
		handler,
		fmt.Sprintf(
			"Reloaded config from the pinned message. %d allowed channel(s).",
			len(channels),
		),
	)
}

// handleDiag replies with runtime diagnostics. Owner only.
func (d *SlushBot) handleDiag(
	ctx context.Context,
	handler InteractionHandler,
	discordUser *discordgo.User,
) {
	if d.config.Discord.OwnerID == "" ||
		discordUser.ID != d.config.Discord.OwnerID {
		d.respondEphemeral(ctx, handler, replyOwnerOnly)
		return
	}
	session := d.discord.session
	lines := []string{
		fmt.Sprintf("Version: `%s` (%s)", Version, CommitSHA),
		fmt.Sprintf("Uptime: %s", time.Since(d.startedAt).Round(time.Second)),
		fmt.Sprintf("Gateway latency: %dms", session.HeartbeatLatency().Milliseconds()),
		fmt.Sprintf("Guilds: %d", len(session.Guilds())),
		fmt.Sprintf("Gamepass cache entries: %d", d.roblox.CacheSize()),
		fmt.Sprintf("Tracked user cooldowns: %d", d.userLimiters.Size()),
		fmt.Sprintf("Scans in progress: %d", d.scanCommandsInProgress.Load()),
		fmt.Sprintf("Scans completed: %d", d.scanCommandsCompleted.Load()),
		fmt.Sprintf("Commands blocked: %d", d.commandsBlocked.Load()),
		fmt.Sprintf("Commands rate limited: %d", d.commandsRateLimited.Load()),
	}
	d.respondEphemeral(ctx, handler, strings.Join(lines, "\n"))
}

// respondEphemeral sends an ephemeral text response to the interaction
func (d *SlushBot) respondEphemeral(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	err := handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error sending ephemeral response",
			tint.Err(err),
		)
	}
}

// channelDeniedReply names the guild's allowed channels so the user
// knows where to retry
func (d *SlushBot) channelDeniedReply(guildID string) string {
	channels := d.guildConfigs.AllowedChannels(guildID)
	if len(channels) == 0 {
		return scanReplyChannelDenied
	}
	mentions := make([]string, 0, len(channels))
	for _, c := range channels {
		mentions = append(mentions, fmt.Sprintf("<#%s>", c))
	}
	return fmt.Sprintf(
		"This command isn't allowed in this channel. Try %s.",
		strings.Join(mentions, ", "),
	)
}

func (d *SlushBot) commandPrefix() string {
	if d.config.Discord.CommandPrefix == "" {
		return DefaultCommandPrefix
	}
	return d.config.Discord.CommandPrefix
}

// findPinnedConfig scans the guild's text channels for the bot's
// pinned config message, returning the first one found
func (d *SlushBot) findPinnedConfig(guildID string) *discordgo.Message {
	session := d.discord.session
	botUserID := session.BotUserID()

	channels, err := session.GuildChannels(guildID)
	if err != nil {
		d.logger.Error(
			"error listing guild channels",
			"guild_id", guildID,
			tint.Err(err),
		)
		return nil
	}
	for _, channel := range channels {
		if channel.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		pinned, pinErr := session.ChannelMessagesPinned(channel.ID)
		if pinErr != nil {
			continue
		}
		for _, msg := range pinned {
			if isPinnedConfigMessage(msg, botUserID) {
				return msg
			}
		}
	}
	return nil
}

// refreshPinnedConfig rewrites the guild's pinned config message, if
// one exists, so the pin stays the source of truth across restarts.
// Best effort.
func (d *SlushBot) refreshPinnedConfig(ctx context.Context, guildID string) {
	existing := d.findPinnedConfig(guildID)
	if existing == nil {
		return
	}
	content := d.guildConfigs.EncodePinnedConfig(guildID)
	if _, err := d.discord.session.ChannelMessageEdit(
		existing.ChannelID,
		existing.ID,
		content,
	); err != nil {
		d.logger.ErrorContext(
			ctx,
			"error refreshing pinned config",
			"guild_id", guildID,
			tint.Err(err),
		)
	}
}

// reloadGuildConfigFromPins loads the guild's allowlist from its
// pinned config message, reporting whether one was found
func (d *SlushBot) reloadGuildConfigFromPins(
	ctx context.Context,
	guildID string,
) bool {
	msg := d.findPinnedConfig(guildID)
	if msg == nil {
		return false
	}
	payload, err := decodePinnedConfig(msg.Content)
	if err != nil {
		d.logger.WarnContext(
			ctx,
			"unparsable pinned config",
			"guild_id", guildID,
			"message_id", msg.ID,
			tint.Err(err),
		)
		return false
	}
	if err := d.guildConfigs.SetChannels(
		ctx,
		guildID,
		payload.AllowedChannels,
	); err != nil {
		d.logger.ErrorContext(
			ctx,
			"error applying pinned config",
			"guild_id", guildID,
			tint.Err(err),
		)
		return false
	}
	d.logger.InfoContext(
		ctx,
		"reloaded guild config from pin",
		"guild_id", guildID,
		"allowed_channels", len(payload.AllowedChannels),
	)
	return true
}

// reloadAllGuildConfigsFromPins restores allowlists from pinned config
// messages in every guild the gateway knows about. Runs once at
// startup.
func (d *SlushBot) reloadAllGuildConfigsFromPins(ctx context.Context) {
	guilds := d.discord.session.Guilds()
	reloaded := 0
	for _, guild := range guilds {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if d.reloadGuildConfigFromPins(ctx, guild.ID) {
			reloaded++
		}
	}
	d.logger.InfoContext(
		ctx,
		"startup guild config reload finished",
		"guilds", len(guilds),
		"reloaded", reloaded,
	)
}
