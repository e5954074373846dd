package slushbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleDiscordMessage implements the text command fallback: the same
// commands as the slash interface, behind the configured prefix.
func (d *SlushBot) handleDiscordMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	session := d.discord.session
	if m.Author.ID == session.BotUserID() {
		return
	}

	prefix := d.commandPrefix()
	if !strings.HasPrefix(m.Content, prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, prefix))
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])
	args := strings.Join(fields[1:], " ")

	logger := d.logger.With(
		loggerNameKey, "message_commands",
		slog.Group(
			"message",
			"id", m.ID,
			"channel_id", m.ChannelID,
			"guild_id", m.GuildID,
		),
	)
	ctx = WithLogger(ctx, logger)

	user, _, err := d.GetOrCreateUser(ctx, *m.Author)
	if err != nil {
		logger.ErrorContext(ctx, "error getting/creating user", tint.Err(err))
		return
	}
	if user.Ignored {
		return
	}
	logger = logger.With(slog.Group("user", userLogAttrs(*user)...))

	switch command {
	case DiscordSlashCommandScan, DiscordSlashCommandScanMulti:
		multi := command == DiscordSlashCommandScanMulti
		d.runMessageScan(ctx, m, user, args, multi)
	case DiscordSlashCommandPing:
		if !d.messageCommandAllowed(ctx, m, user) {
			return
		}
		latency := session.HeartbeatLatency()
		d.messageReply(
			ctx,
			m,
			fmt.Sprintf("Pong! Gateway latency: %dms", latency.Milliseconds()),
		)
	case DiscordSlashCommandHelp:
		if !d.messageCommandAllowed(ctx, m, user) {
			return
		}
		d.messageReply(ctx, m, helpMessage(prefix))
	case DiscordSlashCommandAllowHere:
		if !d.messageAuthorIsAdmin(ctx, m) {
			return
		}
		if allowErr := d.guildConfigs.AllowChannel(
			ctx, m.GuildID, m.ChannelID,
		); allowErr != nil {
			logger.ErrorContext(ctx, "error allowing channel", tint.Err(allowErr))
			d.messageReply(ctx, m, replyInternalError)
			return
		}
		d.refreshPinnedConfig(ctx, m.GuildID)
		d.messageReply(
			ctx,
			m,
			fmt.Sprintf("Added <#%s> to the allowed channels.", m.ChannelID),
		)
	case DiscordSlashCommandClearAllowed:
		if !d.messageAuthorIsAdmin(ctx, m) {
			return
		}
		if clearErr := d.guildConfigs.ClearChannels(ctx, m.GuildID); clearErr != nil {
			logger.ErrorContext(ctx, "error clearing channels", tint.Err(clearErr))
			d.messageReply(ctx, m, replyInternalError)
			return
		}
		d.refreshPinnedConfig(ctx, m.GuildID)
		d.messageReply(ctx, m, replyCleared)
	case DiscordSlashCommandListAllowed:
		if !d.messageAuthorIsAdmin(ctx, m) {
			return
		}
		channels := d.guildConfigs.AllowedChannels(m.GuildID)
		if len(channels) == 0 {
			d.messageReply(ctx, m, replyAllAllowed)
			return
		}
		mentions := make([]string, 0, len(channels))
		for _, c := range channels {
			mentions = append(mentions, fmt.Sprintf("<#%s>", c))
		}
		d.messageReply(
			ctx,
			m,
			"Allowed channels: "+strings.Join(mentions, ", "),
		)
	}
}

// messageCommandAllowed applies the allowlist and cooldown to a text
// command, replying with the rejection itself when denied
func (d *SlushBot) messageCommandAllowed(
	ctx context.Context,
	m *discordgo.MessageCreate,
	user *User,
) bool {
	if !d.guildConfigs.IsChannelAllowed(m.GuildID, m.ChannelID) {
		d.commandsBlocked.Add(1)
		return false
	}
	if !d.userLimiters.Allow(user.ID) {
		d.commandsRateLimited.Add(1)
		d.messageReply(ctx, m, scanReplyTooSoon)
		return false
	}
	return true
}

// messageAuthorIsAdmin checks the message author has Manage Server in
// a guild context, replying with the rejection when they don't
func (d *SlushBot) messageAuthorIsAdmin(
	ctx context.Context,
	m *discordgo.MessageCreate,
) bool {
	if m.GuildID == "" {
		d.messageReply(ctx, m, replyGuildOnly)
		return false
	}
	perms, err := d.discord.session.UserChannelPermissions(
		m.Author.ID,
		m.ChannelID,
	)
	if err != nil {
		d.logger.ErrorContext(
			ctx,
			"error checking permissions",
			tint.Err(err),
		)
		d.messageReply(ctx, m, replyInternalError)
		return false
	}
	if perms&discordgo.PermissionManageServer == 0 {
		d.messageReply(ctx, m, replyAdminOnly)
		return false
	}
	return true
}

// runMessageScan runs a scan for a text command and replies in-channel
// with chunked embeds
func (d *SlushBot) runMessageScan(
	ctx context.Context,
	m *discordgo.MessageCreate,
	user *User,
	input string,
	multi bool,
) {
	if !d.messageCommandAllowed(ctx, m, user) {
		return
	}

	var ids []int64
	if multi {
		ids = ExtractGamePassIDs(input)
	} else if id, err := ExtractGamePassID(input); err == nil {
		ids = []int64{id}
	}
	if len(ids) == 0 {
		reply := scanReplyNoID
		if multi {
			reply = scanReplyNoIDs
		}
		d.messageReply(ctx, m, reply)
		return
	}

	d.scanCommandsInProgress.Add(1)
	defer d.scanCommandsInProgress.Add(-1)

	embeds := buildScanEmbeds(ctx, d.roblox, ids)
	session := d.discord.session
	for _, chunk := range chunkItems(DefaultEmbedsPerMessage, embeds...) {
		if _, err := session.ChannelMessageSendComplex(
			m.ChannelID,
			&discordgo.MessageSend{
				Embeds:    chunk,
				Reference: m.Reference(),
			},
		); err != nil {
			d.logger.ErrorContext(
				ctx,
				"error sending scan results",
				tint.Err(err),
			)
			return
		}
	}
	d.scanCommandsCompleted.Add(1)
}

// messageReply sends a plain text reply to the given message
func (d *SlushBot) messageReply(
	ctx context.Context,
	m *discordgo.MessageCreate,
	content string,
) {
	if _, err := d.discord.session.ChannelMessageSendReply(
		m.ChannelID,
		content,
		m.Reference(),
	); err != nil {
		d.logger.ErrorContext(ctx, "error sending reply", tint.Err(err))
	}
}
