package slushbot

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// pinConfigMarker identifies the bot's pinned configuration messages
const pinConfigMarker = "[RBX-GP-BOT-CONFIG]"

var columnGuildConfigAllowedChannels = "allowed_channels"

// GuildConfig stores per-guild settings. An empty allowlist means the
// bot responds in every channel.
type GuildConfig struct {
	GuildID string `gorm:"primaryKey" json:"guild_id"`
	ModelUnixTime
	AllowedChannels ChannelIDList `json:"allowed_channels" gorm:"type:string"`
}

func (GuildConfig) TableName() string {
	return "guild_configs"
}

// ChannelIDList is a slice of channel IDs stored as a JSON string
type ChannelIDList []string

//goland:noinspection GoMixedReceiverTypes
func (c *ChannelIDList) Scan(value any) error {
	if value == nil {
		*c = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			*c = nil
			return nil
		}
		return json.Unmarshal([]byte(v), c)
	case []byte:
		if len(v) == 0 {
			*c = nil
			return nil
		}
		return json.Unmarshal(v, c)
	default:
		return fmt.Errorf("unexpected type for ChannelIDList: %T", value)
	}
}

//goland:noinspection GoMixedReceiverTypes
func (c ChannelIDList) Value() (driver.Value, error) {
	if len(c) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

//goland:noinspection GoMixedReceiverTypes
func (ChannelIDList) GormDataType() string {
	return "string"
}

// GuildConfigStore keeps guild allowlists in memory, backed by the
// bot database.
type GuildConfigStore struct {
	db      DBI
	logger  *slog.Logger
	mu      sync.RWMutex
	byGuild map[string]ChannelIDList
}

func NewGuildConfigStore(db DBI, logger *slog.Logger) *GuildConfigStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuildConfigStore{
		db:      db,
		logger:  logger.With(loggerNameKey, "guild_config"),
		byGuild: map[string]ChannelIDList{},
	}
}

// Load populates the cache from the database
func (s *GuildConfigStore) Load(ctx context.Context) error {
	var configs []GuildConfig
	if err := s.db.DB().WithContext(ctx).Find(&configs).Error; err != nil {
		return fmt.Errorf("loading guild configs: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byGuild = make(map[string]ChannelIDList, len(configs))
	for _, cfg := range configs {
		s.byGuild[cfg.GuildID] = cfg.AllowedChannels
	}
	return nil
}

// AllowedChannels returns the allowlist for a guild (empty means all
// channels are allowed)
func (s *GuildConfigStore) AllowedChannels(guildID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := s.byGuild[guildID]
	out := make([]string, len(channels))
	copy(out, channels)
	return out
}

// IsChannelAllowed reports whether the bot should respond in the given
// channel. DMs (empty guild ID) are always allowed, as are guilds with
// no explicit allowlist.
func (s *GuildConfigStore) IsChannelAllowed(guildID string, channelID string) bool {
	if guildID == "" {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := s.byGuild[guildID]
	if len(channels) == 0 {
		return true
	}
	for _, c := range channels {
		if c == channelID {
			return true
		}
	}
	return false
}

// AllowChannel adds a channel to the guild's allowlist
func (s *GuildConfigStore) AllowChannel(
	ctx context.Context,
	guildID string,
	channelID string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := s.byGuild[guildID]
	for _, c := range channels {
		if c == channelID {
			return nil
		}
	}
	channels = append(channels, channelID)
	if err := s.persist(ctx, guildID, channels); err != nil {
		return err
	}
	s.byGuild[guildID] = channels
	return nil
}

// SetChannels replaces the guild's allowlist. Duplicates are dropped,
// preserving order.
func (s *GuildConfigStore) SetChannels(
	ctx context.Context,
	guildID string,
	channelIDs []string,
) error {
	seen := map[string]bool{}
	deduped := make(ChannelIDList, 0, len(channelIDs))
	for _, c := range channelIDs {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		deduped = append(deduped, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(ctx, guildID, deduped); err != nil {
		return err
	}
	s.byGuild[guildID] = deduped
	return nil
}

// ClearChannels removes the guild's allowlist entirely, allowing the
// bot in every channel again
func (s *GuildConfigStore) ClearChannels(
	ctx context.Context,
	guildID string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Delete(
		&GuildConfig{},
		"guild_id = ?",
		guildID,
	); err != nil {
		return fmt.Errorf("clearing guild config: %w", err)
	}
	delete(s.byGuild, guildID)
	return nil
}

// persist upserts the guild row. Callers hold s.mu.
func (s *GuildConfigStore) persist(
	ctx context.Context,
	guildID string,
	channels ChannelIDList,
) error {
	var existing GuildConfig
	err := s.db.DB().WithContext(ctx).Where(
		"guild_id = ?",
		guildID,
	).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cfg := GuildConfig{GuildID: guildID, AllowedChannels: channels}
		if _, createErr := s.db.Create(ctx, &cfg); createErr != nil {
			return fmt.Errorf("creating guild config: %w", createErr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("loading guild config: %w", err)
	default:
		existing.AllowedChannels = channels
		if _, updateErr := s.db.Update(
			ctx,
			&existing,
			columnGuildConfigAllowedChannels,
			channels,
		); updateErr != nil {
			return fmt.Errorf("updating guild config: %w", updateErr)
		}
		return nil
	}
}

// pinnedConfigPayload is the JSON document embedded in the bot's
// pinned configuration messages
type pinnedConfigPayload struct {
	GuildID         string   `json:"guild_id"`
	AllowedChannels []string `json:"allowed_channels"`
}

// EncodePinnedConfig renders the pinned config message content for a
// guild, embedding the current allowlist as a fenced JSON block
func (s *GuildConfigStore) EncodePinnedConfig(guildID string) string {
	payload := pinnedConfigPayload{
		GuildID:         guildID,
		AllowedChannels: s.AllowedChannels(guildID),
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		s.logger.Error("error marshaling pinned config", tint.Err(err))
		body = []byte("{}")
	}
	return fmt.Sprintf(
		"%s\n"+
			"Bot configuration for this server.\n"+
			"Do not edit this message manually.\n"+
			"The bot will reload allowed channels from here on restart or `/reload-config`.\n\n"+
			"```json\n%s\n```",
		pinConfigMarker,
		string(body),
	)
}

// decodePinnedConfig extracts the JSON payload from a pinned config
// message. Returns an error when the marker or a parsable JSON block
// is missing.
func decodePinnedConfig(content string) (*pinnedConfigPayload, error) {
	if !strings.Contains(content, pinConfigMarker) {
		return nil, errors.New("missing config marker")
	}
	start := strings.Index(content, "```")
	if start == -1 {
		return nil, errors.New("missing JSON block")
	}
	rest := content[start+3:]
	end := strings.Index(rest, "```")
	if end == -1 {
		return nil, errors.New("unterminated JSON block")
	}
	block := rest[:end]
	block = strings.TrimPrefix(block, "json")
	block = strings.TrimSpace(block)

	var payload pinnedConfigPayload
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return nil, fmt.Errorf("parsing pinned config: %w", err)
	}
	return &payload, nil
}

// isPinnedConfigMessage reports whether the message is one of the
// bot's own pinned config messages
func isPinnedConfigMessage(msg *discordgo.Message, botUserID string) bool {
	if msg == nil || msg.Author == nil {
		return false
	}
	if msg.Author.ID != botUserID {
		return false
	}
	return strings.Contains(msg.Content, pinConfigMarker)
}
