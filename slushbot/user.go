package slushbot

import (
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

var (
	columnUserUsername   = "username"
	columnUserGlobalName = "global_name"
	columnUserLastSeen   = "last_seen"
	columnUserIgnored    = "ignored"
)

// User records a Discord user the bot has seen. The ID is the
// Discord snowflake.
//
//nolint:lll // struct tags can't be split
type User struct {
	ModelStringID
	ModelUnixTime
	Username   string `json:"username" gorm:"not null"`
	GlobalName string `json:"global_name"`
	Bot        bool   `json:"bot"`

	// Ignored users get no reply at all
	Ignored bool `json:"ignored"`

	// LastSeen is the last time a command was seen from this
	// user (millisecond epoch)
	LastSeen int64 `json:"last_seen"`
}

func NewUser(u discordgo.User) *User {
	return &User{
		ModelStringID: ModelStringID{ID: u.ID},
		Username:      u.Username,
		GlobalName:    u.GlobalName,
		Bot:           u.Bot,
		LastSeen:      time.Now().UTC().UnixMilli(),
	}
}

func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID),
		slog.String("username", u.Username),
		slog.String("global_name", u.GlobalName),
		slog.Bool("ignored", u.Ignored),
	)
}

// userChangedDiscordUsername reports whether the discord-side username
// or global name differs from the stored record
func (u User) userChangedDiscordUsername(du discordgo.User) bool {
	return u.Username != du.Username || u.GlobalName != du.GlobalName
}
