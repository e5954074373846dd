package slushbot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserLimiterRegistryCooldown(t *testing.T) {
	registry := NewUserLimiterRegistry(
		50*time.Millisecond,
		time.Minute,
		nil,
	)

	assert.True(t, registry.Allow("user-1"))
	assert.False(t, registry.Allow("user-1"))

	// a different user isn't affected
	assert.True(t, registry.Allow("user-2"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, registry.Allow("user-1"))
}

func TestUserLimiterRegistrySweep(t *testing.T) {
	registry := NewUserLimiterRegistry(
		time.Millisecond,
		10*time.Millisecond,
		nil,
	)

	assert.True(t, registry.Allow("user-1"))
	assert.True(t, registry.Allow("user-2"))
	assert.Equal(t, 2, registry.Size())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, registry.sweep())
	assert.Equal(t, 0, registry.Size())
}

func TestUserLimiterRegistryDefaults(t *testing.T) {
	registry := NewUserLimiterRegistry(0, 0, nil)
	assert.Equal(t, DefaultUserCooldown, registry.cooldown)
	assert.Equal(t, DefaultUserCooldownIdleTimeout, registry.idleTimeout)
}
