package slushbot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiPathRoot        = "/"
	apiPathHealthCheck = "/healthz"

	xRequestIDHeader = "X-Request-ID"
)

// API is the keep-alive HTTP server. Free-tier hosts idle processes
// that don't receive traffic, so the bot exposes a trivial endpoint
// and periodically pings itself.
type API struct {
	config           *APIConfig
	httpServer       *http.Server
	listener         net.Listener
	engine           *gin.Engine
	bot              *SlushBot
	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex
	logger           *slog.Logger
}

// newAPI initializes the keep-alive server and its routes
func newAPI(d *SlushBot, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	mode := gin.ReleaseMode
	if d.config.Development {
		mode = gin.DebugMode
	}
	gin.SetMode(mode)
	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		bot:            d,
		requestMetrics: map[string]int{},
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer
	api.logger = setupLogger.With(loggerNameKey, "api")

	r.Use(gin.Recovery())
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(cors.Config{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodHead},
		}),
	)

	r.GET(apiPathRoot, api.rootHandler)
	r.HEAD(apiPathRoot, api.rootHandler)
	r.GET(apiPathHealthCheck, api.healthCheck)

	return api, nil
}

// Serve starts the HTTP server, blocking until it's shut down
func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, "tcp", a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	a.listener = ln
	a.logger.InfoContext(ctx, "listening", "addr", ln.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) rootHandler(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (a *API) healthCheck(c *gin.Context) {
	d := a.bot

	dbOK := false
	if d.db != nil {
		if sqlDB, err := d.db.DB(); err == nil {
			dbOK = sqlDB.PingContext(c.Request.Context()) == nil
		}
	}

	discordConnected := false
	guilds := 0
	if d.discord != nil {
		discordConnected = d.discord.connected.Load()
		if d.discord.session != nil {
			guilds = len(d.discord.session.Guilds())
		}
	}

	status := http.StatusOK
	if !dbOK || !discordConnected {
		status = http.StatusServiceUnavailable
	}
	c.JSON(
		status, gin.H{
			"version":           Version,
			"uptime":            time.Since(d.startedAt).Round(time.Second).String(),
			"database":          dbOK,
			"discord_connected": discordConnected,
			"guilds":            guilds,
		},
	)
}

// keepWarm pings the configured external URL on an interval so the
// hosting platform doesn't idle the process. A no-op when no external
// URL is configured.
func (a *API) keepWarm(ctx context.Context) {
	if a.config.ExternalURL == "" {
		a.logger.InfoContext(ctx, "no external URL set, keep-warm disabled")
		return
	}
	interval := a.config.KeepWarmInterval
	if interval <= 0 {
		interval = DefaultKeepWarmInterval
	}
	client := &http.Client{Timeout: 10 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.InfoContext(
		ctx,
		"keep-warm started",
		"url", a.config.ExternalURL,
		"interval", interval,
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := http.NewRequestWithContext(
				ctx,
				http.MethodGet,
				a.config.ExternalURL,
				nil,
			)
			if err != nil {
				a.logger.ErrorContext(ctx, "bad keep-warm URL", tint.Err(err))
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				a.logger.WarnContext(ctx, "keep-warm ping failed", tint.Err(err))
				continue
			}
			_ = resp.Body.Close()
			a.logger.DebugContext(
				ctx,
				"keep-warm ping",
				"status", resp.StatusCode,
			)
		}
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, set both in the gin context and as a response header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request's method, path and duration
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware counts requests per method and path
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()
		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()
		a.requestMetrics[fmt.Sprintf(
			"%s %s",
			c.Request.Method,
			c.Request.URL.Path,
		)]++
	}
}

// generateRandomHexString returns a random hex string of the given length
func generateRandomHexString(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
