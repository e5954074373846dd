package slushbot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

// ScanCommandState represents the state of a scan command
type ScanCommandState string

func (s ScanCommandState) String() string {
	return string(s)
}

const (
	// ScanCommandStateReceived indicates the command has been received
	// but not yet run
	ScanCommandStateReceived ScanCommandState = "received"

	// ScanCommandStateInProgress indicates lookups are underway
	ScanCommandStateInProgress ScanCommandState = "in_progress"

	// ScanCommandStateCompleted indicates the reply was sent
	ScanCommandStateCompleted ScanCommandState = "completed"

	// ScanCommandStateFailed indicates the command errored
	ScanCommandStateFailed ScanCommandState = "failed"

	// ScanCommandStateRateLimited indicates the user was throttled
	ScanCommandStateRateLimited ScanCommandState = "rate_limited"

	// ScanCommandStateBlocked indicates the channel wasn't on the
	// guild's allowlist
	ScanCommandStateBlocked ScanCommandState = "blocked"
)

var (
	columnScanCommandState      = "state"
	columnScanCommandStartedAt  = "started_at"
	columnScanCommandFinishedAt = "finished_at"
	columnScanCommandResponse   = "response"
	columnScanCommandError      = "error"
)

const (
	scanReplyNoID          = "Could not find a valid gamepass ID in your input."
	scanReplyNoIDs         = "Could not find any valid gamepass IDs in your input."
	scanReplyTooSoon       = "Slow down a bit."
	scanReplyChannelDenied = "This command isn't allowed in this channel. " +
		"Ask an admin to use `/setup` or `/allow_here`."
	scanDescriptionLimit = 200
)

const (
	embedColorBlurple  = 0x5865F2
	embedColorDarkGray = 0x546E7A
	embedColorRed      = 0xED4245
)

// ScanCommand records a single `/scan` or `/scan_multi` run
//
//nolint:lll // struct tags can't be split
type ScanCommand struct {
	ModelUintID
	ModelUnixTime
	Interaction

	State ScanCommandState `json:"state" gorm:"type:string"`

	// Input is the raw ID/URL text the user provided
	Input string `json:"input" gorm:"type:string"`

	// Multi indicates a bulk scan
	Multi bool `json:"multi"`

	// GamePassIDs is the comma-joined list of IDs resolved from Input
	GamePassIDs string `json:"gamepass_ids" gorm:"type:string"`

	handler InteractionHandler `gorm:"-"`
}

// NewUserScanCommand creates a new ScanCommand for the given user and
// interaction
func NewUserScanCommand(
	u *User,
	i *discordgo.InteractionCreate,
	input string,
	multi bool,
) *ScanCommand {
	return &ScanCommand{
		Interaction: *NewUserInteraction(i, u),
		State:       ScanCommandStateReceived,
		Input:       input,
		Multi:       multi,
	}
}

// Deadline returns the time the command's interaction token expires
func (s *ScanCommand) Deadline() time.Time {
	return time.UnixMilli(s.TokenExpires)
}

func (s *ScanCommand) setGamePassIDs(ids []int64) {
	strs := make([]string, 0, len(ids))
	for _, id := range ids {
		strs = append(strs, fmt.Sprintf("%d", id))
	}
	s.GamePassIDs = strings.Join(strs, ",")
}

// execute performs the Roblox lookups and sends the reply through the
// command's interaction handler. The first embed edits the deferred
// response; the rest go out as followups in chunks.
func (s *ScanCommand) execute(ctx context.Context, d *SlushBot) error {
	handler := s.handler
	log := handler.Logger()

	started := time.Now().UTC()
	s.StartedAt = &started
	s.State = ScanCommandStateInProgress
	if _, err := d.writeDB.Updates(
		ctx, s, map[string]any{
			columnScanCommandState:     s.State,
			columnScanCommandStartedAt: s.StartedAt,
		},
	); err != nil {
		log.ErrorContext(ctx, "error updating scan command", tint.Err(err))
	}

	ids := s.resolveIDs()
	if len(ids) == 0 {
		reply := scanReplyNoID
		if s.Multi {
			reply = scanReplyNoIDs
		}
		s.finalize(ctx, d, ScanCommandStateCompleted, reply, nil)
		_, err := handler.Edit(
			ctx,
			&discordgo.WebhookEdit{Content: &reply},
		)
		return err
	}
	s.setGamePassIDs(ids)

	embeds := buildScanEmbeds(ctx, d.roblox, ids)

	chunks := chunkItems(DefaultEmbedsPerMessage, embeds...)
	first := chunks[0]
	if _, err := handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Embeds: &first},
	); err != nil {
		s.finalize(ctx, d, ScanCommandStateFailed, "", err)
		return err
	}
	for _, chunk := range chunks[1:] {
		if _, err := handler.Followup(
			ctx,
			&discordgo.WebhookParams{Embeds: chunk},
		); err != nil {
			s.finalize(ctx, d, ScanCommandStateFailed, "", err)
			return err
		}
	}

	response := fmt.Sprintf("%d embeds", len(embeds))
	s.finalize(ctx, d, ScanCommandStateCompleted, response, nil)
	return nil
}

func (s *ScanCommand) resolveIDs() []int64 {
	if s.Multi {
		return ExtractGamePassIDs(s.Input)
	}
	id, err := ExtractGamePassID(s.Input)
	if err != nil {
		return nil
	}
	return []int64{id}
}

// finalize stamps the command's terminal state
func (s *ScanCommand) finalize(
	ctx context.Context,
	d *SlushBot,
	state ScanCommandState,
	response string,
	execErr error,
) {
	finished := time.Now().UTC()
	s.FinishedAt = &finished
	s.State = state
	updates := map[string]any{
		columnScanCommandState:      state,
		columnScanCommandFinishedAt: s.FinishedAt,
	}
	if response != "" {
		s.Response = &response
		updates[columnScanCommandResponse] = response
	}
	if execErr != nil {
		s.Error = NullableString(execErr.Error())
		updates[columnScanCommandError] = s.Error
	}
	if _, err := d.writeDB.Updates(ctx, s, updates); err != nil {
		d.logger.ErrorContext(
			ctx,
			"error finalizing scan command",
			tint.Err(err),
		)
	}
}

// scanLookupConcurrency bounds concurrent Roblox lookups for a single
// bulk scan. The client's token bucket still gates the overall rate.
const scanLookupConcurrency = 4

// buildScanEmbeds fetches each gamepass and renders one embed per
// pass, plus a summary embed for bulk scans. Lookups run concurrently
// but results keep the input order.
func buildScanEmbeds(
	ctx context.Context,
	client *RobloxClient,
	ids []int64,
) []*discordgo.MessageEmbed {
	passes := make([]*GamePass, len(ids))
	lookupErrs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(scanLookupConcurrency)
	for idx, id := range ids {
		idx, id := idx, id
		g.Go(
			func() error {
				passes[idx], lookupErrs[idx] = client.GetGamePass(ctx, id)
				return nil
			},
		)
	}
	_ = g.Wait()

	embeds := make([]*discordgo.MessageEmbed, 0, len(ids)+1)
	withPrice := 0
	offsale := 0
	for idx, id := range ids {
		if lookupErrs[idx] != nil {
			offsale++
			embeds = append(embeds, buildScanErrorEmbed(id, lookupErrs[idx]))
			continue
		}
		gp := passes[idx]
		if gp.Price != nil && *gp.Price > 0 {
			withPrice++
		} else {
			offsale++
		}
		embeds = append(embeds, buildGamePassEmbed(gp))
	}
	if len(ids) > 1 {
		embeds = append(
			embeds,
			buildScanSummaryEmbed(len(ids), withPrice, offsale),
		)
	}
	return embeds
}

// buildGamePassEmbed renders a single gamepass result
func buildGamePassEmbed(gp *GamePass) *discordgo.MessageEmbed {
	description := gp.Description
	if len([]rune(description)) > scanDescriptionLimit {
		description = truncate(description, scanDescriptionLimit) + "…"
	}

	var extras []string
	if gp.UsedBackupCookie {
		extras = append(extras, "Used backup cookie")
	}
	if gp.RegionalPricing {
		extras = append(extras, "Possibly regional pricing")
	}

	color := embedColorBlurple
	var priceLine string
	if gp.Price == nil || *gp.Price == 0 {
		color = embedColorDarkGray
		priceLine = "Not for sale"
	} else {
		priceLine = fmt.Sprintf(
			"Price: **%d** R$ (you receive ~**%d** R$)",
			*gp.Price,
			gp.NetPayout(),
		)
	}
	if len(extras) > 0 {
		priceLine += "\n" + strings.Join(extras, " · ")
	}

	embed := &discordgo.MessageEmbed{
		Title:       gp.Name,
		URL:         GamePassURL(gp.ID),
		Description: description,
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Info", Value: priceLine, Inline: false},
		},
	}
	if gp.SellerName != "" {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:   "Seller",
				Value:  gp.SellerName,
				Inline: false,
			},
		)
	}
	footer := "Universe ID: unknown"
	if gp.UniverseID != 0 {
		footer = fmt.Sprintf("Universe ID: %d", gp.UniverseID)
	}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: footer}
	return embed
}

// buildScanErrorEmbed renders a per-ID lookup failure so a bulk scan
// never silently drops an ID
func buildScanErrorEmbed(id int64, err error) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Gamepass %d", id),
		URL:         GamePassURL(id),
		Description: "Lookup failed for this gamepass.",
		Color:       embedColorRed,
		Footer: &discordgo.MessageEmbedFooter{
			Text: truncate(err.Error(), 120),
		},
	}
}

// buildScanSummaryEmbed renders the trailing summary card for bulk
// scans
func buildScanSummaryEmbed(count int, withPrice int, offsale int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Scan summary",
		Description: fmt.Sprintf(
			"Scanned %d gamepasses.\nPriced: %d\nOffsale / unknown: %d",
			count,
			withPrice,
			offsale,
		),
		Color: embedColorDarkGray,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("use %shelp", DefaultCommandPrefix),
		},
	}
}
