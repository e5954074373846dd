package slushbot

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateUser(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	du := discordgo.User{
		ID:         t.Name(),
		Username:   "slusher",
		GlobalName: "Slusher",
	}

	user, isNew, err := db.GetOrCreateUser(ctx, du)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, isNew)
	assert.Equal(t, du.ID, user.ID)
	assert.Equal(t, "slusher", user.Username)

	// second call hits the cache
	again, isNew, err := db.GetOrCreateUser(ctx, du)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Same(t, user, again)
	assert.NotZero(t, again.LastSeen)
}

func TestGetOrCreateUserUsernameChange(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	du := discordgo.User{ID: t.Name(), Username: "before"}
	_, isNew, err := db.GetOrCreateUser(ctx, du)
	require.NoError(t, err)
	require.True(t, isNew)

	du.Username = "after"
	du.GlobalName = "After"
	user, isNew, err := db.GetOrCreateUser(ctx, du)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "after", user.Username)
	assert.Equal(t, "After", user.GlobalName)

	var stored User
	require.NoError(
		t,
		db.DB().Where("id = ?", du.ID).Last(&stored).Error,
	)
	assert.Equal(t, "after", stored.Username)
	assert.Equal(t, "After", stored.GlobalName)
}

func TestLoadUsersPopulatesCache(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	_, _, err := db.GetOrCreateUser(
		ctx,
		discordgo.User{ID: t.Name(), Username: "cached"},
	)
	require.NoError(t, err)

	// fresh wrapper over the same connection
	reloaded := NewDatabase(db.DB(), nil, false)
	users := reloaded.LoadUsers()
	require.Len(t, users, 1)

	cached := reloaded.GetUser(t.Name())
	require.NotNil(t, cached)
	assert.Equal(t, "cached", cached.Username)
}

func TestReloadUser(t *testing.T) {
	db := newTestDatabase(t)

	assert.Nil(t, db.ReloadUser("never-seen"))

	_, _, err := db.GetOrCreateUser(
		context.Background(),
		discordgo.User{ID: t.Name(), Username: "reloadable"},
	)
	require.NoError(t, err)

	user := db.ReloadUser(t.Name())
	require.NotNil(t, user)
	assert.Equal(t, "reloadable", user.Username)
}

func TestCreateDBRejectsUnknownType(t *testing.T) {
	_, err := CreateDB(context.Background(), "mysql", "dsn", nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestCreateDBUsesConfiguredGormLogger(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.DatabaseSlowThreshold = 50 * time.Millisecond

	db, err := CreateDB(
		context.Background(),
		cfg.DatabaseType,
		cfg.Database,
		cfg.DatabaseLogLevel,
		cfg.DatabaseSlowThreshold,
	)
	require.NoError(t, err)

	gormLogger, ok := db.Logger.(*gormStructuredLogger)
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, gormLogger.SlowThreshold)
}

func TestNullableString(t *testing.T) {
	var ns NullableString

	v, err := ns.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	ns = "hello"
	v, err = ns.Value()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	require.NoError(t, ns.Scan(nil))
	assert.Equal(t, NullableString(""), ns)

	require.NoError(t, ns.Scan("scanned"))
	assert.Equal(t, "scanned", ns.String())

	data, err := NullableString("").MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	require.NoError(t, ns.UnmarshalJSON([]byte(`"decoded"`)))
	assert.Equal(t, NullableString("decoded"), ns)

	require.NoError(t, ns.UnmarshalJSON([]byte("null")))
	assert.Equal(t, NullableString(""), ns)
}
