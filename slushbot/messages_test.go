package slushbot

import (
	"context"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTextCommand(t testing.TB, content string) *discordgo.MessageCreate {
	t.Helper()
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "msg_" + t.Name(),
			ChannelID: "channel-1",
			GuildID:   "guild-1",
			Content:   content,
			Author:    newDiscordUser(t),
		},
	}
}

func TestHandleDiscordMessagePing(t *testing.T) {
	bot, session := newTestBot(t)

	bot.handleDiscordMessage(
		context.Background(),
		newTextCommand(t, "!ping"),
	)

	reply := <-session.replies
	assert.Equal(t, "channel-1", reply.ChannelID)
	assert.Contains(t, reply.Content, "Pong!")
}

func TestHandleDiscordMessageIgnoresNonPrefix(t *testing.T) {
	bot, session := newTestBot(t)

	bot.handleDiscordMessage(
		context.Background(),
		newTextCommand(t, "just chatting about gamepasses"),
	)
	assert.Empty(t, session.replies)
	assert.Empty(t, session.complex)
}

func TestHandleDiscordMessageIgnoresBots(t *testing.T) {
	bot, session := newTestBot(t)

	m := newTextCommand(t, "!ping")
	m.Author.Bot = true
	bot.handleDiscordMessage(context.Background(), m)
	assert.Empty(t, session.replies)

	m = newTextCommand(t, "!ping")
	m.Author.ID = session.botUserID
	bot.handleDiscordMessage(context.Background(), m)
	assert.Empty(t, session.replies)
}

func TestHandleDiscordMessageScan(t *testing.T) {
	bot, session := newTestBot(t)
	bot.roblox.httpClient = &http.Client{
		Transport: stubRobloxTransport(
			`{"name": "VIP", "universeId": 3, "priceInformation": {"price": 30}}`,
		),
	}

	bot.handleDiscordMessage(
		context.Background(),
		newTextCommand(t, "!scan 123456"),
	)

	msg := <-session.complex
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "VIP", msg.Embeds[0].Title)
	assert.Contains(
		t,
		msg.Embeds[0].Fields[0].Value,
		"you receive ~**21** R$",
	)
}

func TestHandleDiscordMessageScanNoID(t *testing.T) {
	bot, session := newTestBot(t)

	bot.handleDiscordMessage(
		context.Background(),
		newTextCommand(t, "!scan not-a-pass"),
	)

	reply := <-session.replies
	assert.Equal(t, scanReplyNoID, reply.Content)
}

func TestHandleDiscordMessageScanBlockedChannel(t *testing.T) {
	bot, session := newTestBot(t)
	require.NoError(
		t,
		bot.guildConfigs.AllowChannel(
			context.Background(), "guild-1", "some-other-channel",
		),
	)

	bot.handleDiscordMessage(
		context.Background(),
		newTextCommand(t, "!scan 123456"),
	)

	// blocked text commands are silently dropped
	assert.Empty(t, session.replies)
	assert.Empty(t, session.complex)
}

func TestHandleDiscordMessageRateLimited(t *testing.T) {
	bot, session := newTestBot(t)

	bot.handleDiscordMessage(
		context.Background(),
		newTextCommand(t, "!ping"),
	)
	<-session.replies

	bot.handleDiscordMessage(
		context.Background(),
		newTextCommand(t, "!ping"),
	)
	reply := <-session.replies
	assert.Equal(t, scanReplyTooSoon, reply.Content)
}

func TestHandleDiscordMessageAdmin(t *testing.T) {
	bot, session := newTestBot(t)

	bot.handleDiscordMessage(
		context.Background(),
		newTextCommand(t, "!allow_here"),
	)

	reply := <-session.replies
	assert.Contains(t, reply.Content, "Added <#channel-1>")
	assert.True(t, bot.guildConfigs.IsChannelAllowed("guild-1", "channel-1"))
}

func TestHandleDiscordMessageAdminDenied(t *testing.T) {
	bot, session := newTestBot(t)
	session.permissions = discordgo.PermissionSendMessages

	bot.handleDiscordMessage(
		context.Background(),
		newTextCommand(t, "!allow_here"),
	)

	reply := <-session.replies
	assert.Equal(t, replyAdminOnly, reply.Content)
	assert.Empty(t, bot.guildConfigs.AllowedChannels("guild-1"))
}
