package slushbot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// userLimiter tracks the last command time for a single user
type userLimiter struct {
	mu          sync.Mutex
	lastCommand time.Time
	cooldown    time.Duration
}

// Allow reports whether the user may run a command now, and records
// the use when they may
func (u *userLimiter) Allow() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	now := time.Now()
	if !u.lastCommand.IsZero() && now.Sub(u.lastCommand) < u.cooldown {
		return false
	}
	u.lastCommand = now
	return true
}

// expired reports whether the limiter has been idle long enough to
// be swept
func (u *userLimiter) expired(idleTimeout time.Duration) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return time.Since(u.lastCommand) > idleTimeout
}

// UserLimiterRegistry enforces a per-user cooldown across all
// commands. Idle entries are swept periodically so the map doesn't
// grow without bound.
type UserLimiterRegistry struct {
	mu          sync.Mutex
	limiters    map[string]*userLimiter
	cooldown    time.Duration
	idleTimeout time.Duration
	logger      *slog.Logger
}

func NewUserLimiterRegistry(
	cooldown time.Duration,
	idleTimeout time.Duration,
	logger *slog.Logger,
) *UserLimiterRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if cooldown <= 0 {
		cooldown = DefaultUserCooldown
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultUserCooldownIdleTimeout
	}
	return &UserLimiterRegistry{
		limiters:    map[string]*userLimiter{},
		cooldown:    cooldown,
		idleTimeout: idleTimeout,
		logger:      logger.With(loggerNameKey, "user_limiter"),
	}
}

// Allow reports whether the user may run a command now
func (r *UserLimiterRegistry) Allow(userID string) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[userID]
	if !ok {
		limiter = &userLimiter{cooldown: r.cooldown}
		r.limiters[userID] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}

// Size returns the number of tracked users
func (r *UserLimiterRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

// sweep drops limiters idle past the registry's idle timeout,
// returning the number removed
func (r *UserLimiterRegistry) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for userID, limiter := range r.limiters {
		if limiter.expired(r.idleTimeout) {
			delete(r.limiters, userID)
			removed++
		}
	}
	return removed
}

// Run sweeps idle limiters until the context is canceled
func (r *UserLimiterRegistry) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.sweep(); removed > 0 {
				r.logger.Debug(
					"swept idle user limiters",
					"removed", removed,
				)
			}
		}
	}
}
