package slushbot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEdits struct {
	WebhookEdit *discordgo.WebhookEdit
	Opts        []discordgo.RequestOption
}

type stubChannelMessageSend struct {
	ChannelID string
	Content   string
}

func newStubInteractionHandler(t testing.TB) stubInteractionHandler {
	t.Helper()
	return stubInteractionHandler{
		callRespond:  make(chan *discordgo.InteractionResponse, 100),
		callEdit:     make(chan *stubEdits, 100),
		callFollowup: make(chan *discordgo.WebhookParams, 100),
		GatewayHandler: GatewayHandler{
			session: newMockDiscordSession(),
			logger:  slog.Default().With("test_name", t.Name()),
		},
	}
}

type stubInteractionHandler struct {
	GatewayHandler GatewayHandler

	callRespond  chan *discordgo.InteractionResponse
	callEdit     chan *stubEdits
	callFollowup chan *discordgo.WebhookParams
}

func (s stubInteractionHandler) Respond(
	_ context.Context,
	i *discordgo.InteractionResponse,
) error {
	s.callRespond <- i
	return nil
}

func (s stubInteractionHandler) Edit(
	ctx context.Context,
	e *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.Logger().WarnContext(ctx, "edit called")
	s.callEdit <- &stubEdits{WebhookEdit: e, Opts: opts}
	return nil, nil
}

func (s stubInteractionHandler) Followup(
	ctx context.Context,
	params *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.Logger().WarnContext(ctx, "followup called")
	s.callFollowup <- params
	return &discordgo.Message{}, nil
}

func (s stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.GatewayHandler.interaction
}

func (s stubInteractionHandler) Logger() *slog.Logger {
	return s.GatewayHandler.logger
}

type mockDiscordSession struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar

	botUserID   string
	guilds      []*discordgo.Guild
	channels    map[string][]*discordgo.Channel
	pinned      map[string][]*discordgo.Message
	permissions int64

	sent    chan *stubChannelMessageSend
	replies chan *stubChannelMessageSend
	complex chan *discordgo.MessageSend
	edits   chan *stubChannelMessageSend
	pins    chan string
}

func newMockDiscordSession() *mockDiscordSession {
	m := &mockDiscordSession{
		logLevel:    &slog.LevelVar{},
		botUserID:   "bot-user-id",
		channels:    map[string][]*discordgo.Channel{},
		pinned:      map[string][]*discordgo.Message{},
		permissions: discordgo.PermissionManageServer,
		sent:        make(chan *stubChannelMessageSend, 100),
		replies:     make(chan *stubChannelMessageSend, 100),
		complex:     make(chan *discordgo.MessageSend, 100),
		edits:       make(chan *stubChannelMessageSend, 100),
		pins:        make(chan string, 100),
	}
	m.logLevel.Set(slog.LevelDebug)
	m.logger = slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     m.logLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord_session_handler")
	return m
}

func (d *mockDiscordSession) Open() error {
	d.logger.Info("opened session")
	return nil
}

func (d *mockDiscordSession) Close() error {
	d.logger.Info("closed session")
	return nil
}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.sent <- &stubChannelMessageSend{ChannelID: channelID, Content: message}
	return &discordgo.Message{
		ID:        fmt.Sprintf("msg-%d", len(d.sent)),
		ChannelID: channelID,
		Content:   message,
		Author:    &discordgo.User{ID: d.botUserID},
	}, nil
}

func (d *mockDiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info(
		"channel reply send",
		"channel_id", channelID,
		"message_reference", reference,
		"content", content,
	)
	d.replies <- &stubChannelMessageSend{ChannelID: channelID, Content: content}
	return &discordgo.Message{Content: content, ChannelID: channelID}, nil
}

func (d *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.complex <- data
	return &discordgo.Message{ChannelID: channelID}, nil
}

func (d *mockDiscordSession) ChannelMessageEdit(
	channelID string,
	messageID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.edits <- &stubChannelMessageSend{ChannelID: channelID, Content: content}
	return &discordgo.Message{
		ID:        messageID,
		ChannelID: channelID,
		Content:   content,
	}, nil
}

func (d *mockDiscordSession) ChannelMessagesPinned(
	channelID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	return d.pinned[channelID], nil
}

func (d *mockDiscordSession) ChannelMessagePin(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	d.pins <- messageID
	return nil
}

func (d *mockDiscordSession) GuildChannels(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	return d.channels[guildID], nil
}

func (d *mockDiscordSession) UserChannelPermissions(
	userID string,
	channelID string,
	_ ...discordgo.RequestOption,
) (int64, error) {
	d.logger.Info(
		"permission check",
		"user_id", userID,
		"channel_id", channelID,
	)
	return d.permissions, nil
}

func (d *mockDiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.logger.Info(
		"overwrite application commands",
		"app_id", appID,
		"guild_id", guildID,
		"commands", commands,
	)
	cmds := make([]*discordgo.ApplicationCommand, len(commands))
	for i, c := range commands {
		cmds[i] = &discordgo.ApplicationCommand{
			Name:        c.Name,
			Description: c.Description,
		}
	}
	return cmds, nil
}

func (d *mockDiscordSession) UpdateCustomStatus(status string) error {
	d.logger.Info("updating custom status", "status", status)
	return nil
}

func (d *mockDiscordSession) AddHandler(_ any) func() {
	d.logger.Info("added handler")
	return func() {
		d.logger.Info("mock-removed handler function")
	}
}

func (d *mockDiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	d.logger.Info(
		"mock responding to interaction",
		"interaction", interaction,
		"response", resp,
	)
	return nil
}

func (d *mockDiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info(
		"mock editing interaction",
		"interaction", interaction,
		"webhook_edit", newresp,
	)
	return &discordgo.Message{}, nil
}

func (d *mockDiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	wait bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info(
		"mock followup",
		"interaction", interaction,
		"wait", wait,
		"data", data,
	)
	return &discordgo.Message{}, nil
}

func (d *mockDiscordSession) HeartbeatLatency() time.Duration {
	return 42 * time.Millisecond
}

func (d *mockDiscordSession) BotUserID() string {
	return d.botUserID
}

func (d *mockDiscordSession) Guilds() []*discordgo.Guild {
	return d.guilds
}

func (d *mockDiscordSession) SetLogLevel(lvl slog.Level) error {
	d.logLevel.Set(lvl)
	return nil
}

// newDiscordUser creates a new discordgo.User with the test name as
// the user ID, with the user ID also included in the username and
// global name
func newDiscordUser(t testing.TB) *discordgo.User {
	t.Helper()
	return &discordgo.User{
		ID:         t.Name(),
		Username:   fmt.Sprintf("u_%s", t.Name()),
		GlobalName: fmt.Sprintf("g_%s", t.Name()),
	}
}

// newScanInteraction creates an InteractionCreate for a scan command
func newScanInteraction(
	t testing.TB,
	u *discordgo.User,
	input string,
	multi bool,
) *discordgo.InteractionCreate {
	t.Helper()
	name := DiscordSlashCommandScan
	if multi {
		name = DiscordSlashCommandScanMulti
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			ID:   fmt.Sprintf("interaction_%s", t.Name()),
			User: u,
			Data: discordgo.ApplicationCommandInteractionData{
				CommandType: discordgo.ChatApplicationCommand,
				Name:        name,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Name:  scanInputOption,
						Type:  discordgo.ApplicationCommandOptionString,
						Value: input,
					},
				},
			},
		},
	}
}

// newSlashInteraction creates an InteractionCreate for a no-option
// command, optionally from a guild member
func newSlashInteraction(
	t testing.TB,
	u *discordgo.User,
	name string,
	guildID string,
	permissions int64,
) *discordgo.InteractionCreate {
	t.Helper()
	i := &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		ID:   fmt.Sprintf("interaction_%s_%s", name, t.Name()),
		Data: discordgo.ApplicationCommandInteractionData{
			CommandType: discordgo.ChatApplicationCommand,
			Name:        name,
		},
	}
	if guildID == "" {
		i.User = u
	} else {
		i.GuildID = guildID
		i.ChannelID = "channel_" + guildID
		i.Member = &discordgo.Member{User: u, Permissions: permissions}
	}
	return &discordgo.InteractionCreate{Interaction: i}
}

func TestRegisterCommandsIncludesDiagOnlyWithOwner(t *testing.T) {
	cfg := DefaultTestConfig(t)
	session := newMockDiscordSession()
	disc := &Discord{
		config:  &cfg.Discord,
		session: session,
		logger:  slog.Default(),
	}

	created, err := disc.registerCommands()
	require.NoError(t, err)
	names := make([]string, 0, len(created))
	for _, c := range created {
		names = append(names, c.Name)
	}
	assert.NotContains(t, names, DiscordSlashCommandDiag)
	assert.Contains(t, names, DiscordSlashCommandScan)
	assert.Contains(t, names, DiscordSlashCommandSetup)

	disc.config.OwnerID = "owner-123"
	created, err = disc.registerCommands()
	require.NoError(t, err)
	names = names[:0]
	for _, c := range created {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, DiscordSlashCommandDiag)
}

func TestGetDiscordUser(t *testing.T) {
	u := newDiscordUser(t)

	fromUser := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{User: u},
	}
	assert.Equal(t, u, getDiscordUser(fromUser))

	fromMember := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: u},
		},
	}
	assert.Equal(t, u, getDiscordUser(fromMember))

	assert.Nil(
		t,
		getDiscordUser(
			&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}},
		),
	)
}

func TestNewDiscordRequiresToken(t *testing.T) {
	_, err := newDiscord(&DiscordConfig{})
	require.Error(t, err)
}
