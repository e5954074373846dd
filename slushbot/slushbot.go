package slushbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/ItsRyan504/Slush-Bot/slushbot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	structValidator = validator.New()

	defaultLogWriter io.Writer = os.Stdout
)

//nolint:gochecknoinits // gotta register the validator tag name
func init() {
	structValidator.SetTagName("binding")
}

// SlushBot is the main application struct. It wires together the
// Discord session, the Roblox pricing client, the database, the
// per-user rate limiter, and the keep-alive HTTP server.
type SlushBot struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations.
	// The only difference between this and [SlushBot.db]
	// is that, when using sqlite, a mutex is used.
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Handles Roblox pricing API calls
	roblox *RobloxClient

	// Per-guild allowed-channel configuration
	guildConfigs *GuildConfigStore

	// Per-user command cooldowns
	userLimiters *UserLimiterRegistry

	// Keep-alive HTTP server
	api *API

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it when Run has finished startup:
	// database initialized, guild configs loaded, discord session open,
	// commands registered, keep-alive server started
	signalReady chan struct{}

	// A signal is sent on this channel when [SlushBot.shutdown] finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// getInteractionHandlerFunc returns the InteractionHandler to use
	// for an incoming interaction. Swappable for tests.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler

	scanCommandsInProgress atomic.Int64
	scanCommandsCompleted  atomic.Int64
	commandsBlocked        atomic.Int64
	commandsRateLimited    atomic.Int64
}

// New creates and initializes a new SlushBot instance.
//
// This sets up logging, the Discord integration, the Roblox client,
// the per-user limiter registry, and the keep-alive API server. The
// database connection is opened later, in Run.
func New(config *Config) (*SlushBot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	d := &SlushBot{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	d.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     d.config.LogLevel,
			AddSource: true,
		},
	)

	d.logger = slog.New(d.logHandler)
	slog.SetDefault(d.logger)

	disc, err := newDiscord(&d.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     d.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     d.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.bot = d
		d.discord = disc
	}

	d.roblox = NewRobloxClient(d.config.Roblox, d.logger)
	d.userLimiters = NewUserLimiterRegistry(
		d.config.UserCooldown,
		DefaultUserCooldownIdleTimeout,
		d.logger,
	)

	api, err := newAPI(d, &d.config.API)
	if err != nil {
		errs = append(errs, err)
	}
	d.api = api

	d.getInteractionHandlerFunc = func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler {
		return GatewayHandler{
			session:     d.discord.session,
			interaction: i,
			logger: d.discord.logger.With(
				loggerNameKey,
				"gateway_handler",
			),
		}
	}

	return d, errors.Join(errs...)
}

func (d *SlushBot) ValidateConfig() error {
	return structValidator.Struct(d.config)
}

func (d *SlushBot) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = d.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// GetOrCreateUser retrieves (or creates) the User record for the given
// discord user
func (d *SlushBot) GetOrCreateUser(
	ctx context.Context,
	u discordgo.User,
) (*User, bool, error) {
	return d.writeDB.GetOrCreateUser(ctx, u)
}

// RegisterSlashCommands registers the slash commands for the bot
func (d *SlushBot) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return d.discord.registerCommands(options...)
}

// Run starts the bot's main loop: it opens the database, connects to
// discord, registers commands, starts the keep-alive server, and
// blocks until the context is canceled or a stop signal arrives.
func (d *SlushBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.signalStop = make(chan struct{}, 1)
	d.startedAt = time.Now()
	logger := d.logger

	if err := d.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(
		ctx,
		slog.LevelInfo,
		"starting",
		slog.Any("config", structToSlogValue(d.config)),
	)
	if d.signalReady == nil {
		d.signalReady = make(chan struct{}, 1)
	}

	// the 'runtime' context: canceling it triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-d.signalStop:
			d.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			d.logger.Warn("context canceled, sending stop signal")
			d.signalStop <- struct{}{}
			return
		}
	}()

	go func() {
		httpErr := d.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			d.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, d.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- d.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}

	if discErr := d.initDiscordSession(ctx); discErr != nil {
		d.logger.ErrorContext(
			ctx,
			"error creating discord session",
			tint.Err(discErr),
		)
		return discErr
	}

	d.logger.InfoContext(ctx, "connecting to discord")
	if err := d.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err := d.RegisterSlashCommands(); err != nil {
		logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
		return err
	}

	// recover allowlists from pinned config messages in guilds the
	// gateway knows about
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		d.reloadAllGuildConfigsFromPins(ctx)
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		d.userLimiters.Run(ctx)
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		d.api.keepWarm(ctx)
	}()

	d.signalReady <- struct{}{}
	d.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context
	stopCh := make(chan struct{}, 1)
	go func() {
		<-ctx.Done()
		stopCh <- struct{}{}
	}()
	<-stopCh

	return d.shutdown(ctx, runtimeWG)
}

// initRun opens the database and loads the guild allowlists
func (d *SlushBot) initRun(ctx context.Context) error {
	db, err := CreateDB(
		ctx,
		d.config.DatabaseType,
		d.config.Database,
		d.config.DatabaseLogLevel,
		d.config.DatabaseSlowThreshold,
	)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	d.db = db
	d.writeDB = NewDatabase(
		db,
		d.logger,
		d.config.DatabaseType == dbTypePostgres,
	)
	d.writeDB.LoadUsers()

	d.guildConfigs = NewGuildConfigStore(d.writeDB, d.logger)
	if err := d.guildConfigs.Load(ctx); err != nil {
		return err
	}
	return nil
}

// initDiscordSession creates the gateway session and attaches the
// bot's event handlers
func (d *SlushBot) initDiscordSession(ctx context.Context) error {
	session, err := d.discord.newSession()
	if err != nil {
		return err
	}
	d.discord.session = session

	d.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(d.discord.handlerReady()),
		session.AddHandler(d.discord.handlerConnect()),
		session.AddHandler(d.discord.handlerDisconnect()),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := d.getInteractionHandlerFunc(ctx, i)
				go d.handleInteraction(ctx, handler)
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				go d.handleDiscordMessage(ctx, m)
			},
		),
	}
	return nil
}

func (d *SlushBot) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	d.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if d.eventShutdown != nil {
			go func() {
				d.eventShutdown <- struct{}{}
			}()
		}
	}()
	shutdownStart := time.Now()
	shutdownTimeout := d.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		d.logger.Warn("immediate shutdown")
		go func() {
			_ = d.api.httpServer.Close()
		}()
		if d.discord != nil && d.discord.session != nil {
			_ = d.discord.session.Close()
		}
		return nil
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		stopWG := &sync.WaitGroup{}

		if d.discord != nil && d.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				for _, removeHandler := range d.discord.discordgoRemoveHandlerFuncs {
					removeHandler()
				}
				if err := d.discord.session.Close(); err != nil {
					d.logger.Error("error closing discord session", tint.Err(err))
				}
			}()
		}

		if d.api != nil && d.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				d.logger.InfoContext(ctx, "stopping http server")
				_ = d.api.httpServer.Shutdown(closeCtx)
				d.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		stopWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	select {
	case <-closeCtx.Done():
		return fmt.Errorf("graceful shutdown timed out")
	case <-gracefulShutdownCh:
		d.logger.InfoContext(
			ctx,
			"shutdown complete",
			"duration", time.Since(shutdownStart),
		)
		return nil
	}
}

// InteractionHandler provides the transport-specific operations for
// responding to a Discord interaction. It exists so command execution
// can be tested with a stub instead of a live session.
type InteractionHandler interface {
	// Respond sends an initial response to a Discord interaction
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// Edit modifies an existing interaction response
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Followup creates a followup message for an acknowledged
	// interaction
	Followup(
		ctx context.Context,
		params *discordgo.WebhookParams,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event
	GetInteraction() *discordgo.InteractionCreate

	// Logger returns the logger associated with this handler
	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] for interactions
// received via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
	return err
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) Followup(
	ctx context.Context,
	params *discordgo.WebhookParams,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.FollowupMessageCreate(
		w.interaction.Interaction,
		true,
		params,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error sending followup", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}
