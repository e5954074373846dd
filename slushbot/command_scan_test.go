package slushbot

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGamePassEmbed(t *testing.T) {
	price := int64(100)
	gp := &GamePass{
		ID:          123456,
		Name:        "VIP Pass",
		Description: "Grants VIP access",
		Price:       &price,
		SellerName:  "SellerGuy",
		UniverseID:  42,
	}

	embed := buildGamePassEmbed(gp)
	assert.Equal(t, "VIP Pass", embed.Title)
	assert.Equal(t, GamePassURL(123456), embed.URL)
	assert.Equal(t, embedColorBlurple, embed.Color)
	require.Len(t, embed.Fields, 2)
	assert.Contains(
		t,
		embed.Fields[0].Value,
		"Price: **100** R$ (you receive ~**70** R$)",
	)
	assert.Equal(t, "SellerGuy", embed.Fields[1].Value)
	assert.Equal(t, "Universe ID: 42", embed.Footer.Text)
}

func TestBuildGamePassEmbedOffsale(t *testing.T) {
	gp := &GamePass{ID: 7, Name: "Retired Pass"}

	embed := buildGamePassEmbed(gp)
	assert.Equal(t, embedColorDarkGray, embed.Color)
	assert.Contains(t, embed.Fields[0].Value, "Not for sale")
	assert.Equal(t, "Universe ID: unknown", embed.Footer.Text)

	// free passes are treated the same as offsale ones
	free := int64(0)
	gp.Price = &free
	embed = buildGamePassEmbed(gp)
	assert.Equal(t, embedColorDarkGray, embed.Color)
	assert.Contains(t, embed.Fields[0].Value, "Not for sale")
}

func TestBuildGamePassEmbedTruncatesDescription(t *testing.T) {
	price := int64(5)
	gp := &GamePass{
		ID:          9,
		Name:        "Wordy",
		Description: strings.Repeat("x", scanDescriptionLimit+50),
		Price:       &price,
	}

	embed := buildGamePassEmbed(gp)
	assert.Len(t, []rune(embed.Description), scanDescriptionLimit+1)
	assert.True(t, strings.HasSuffix(embed.Description, "…"))
}

func TestBuildGamePassEmbedExtras(t *testing.T) {
	price := int64(10)
	gp := &GamePass{
		ID:               11,
		Name:             "Odd Pass",
		Price:            &price,
		UsedBackupCookie: true,
		RegionalPricing:  true,
	}

	embed := buildGamePassEmbed(gp)
	assert.Contains(
		t,
		embed.Fields[0].Value,
		"Used backup cookie · Possibly regional pricing",
	)
}

func TestBuildScanErrorEmbed(t *testing.T) {
	embed := buildScanErrorEmbed(55, errors.New("boom"))
	assert.Equal(t, "Gamepass 55", embed.Title)
	assert.Equal(t, embedColorRed, embed.Color)
	assert.Equal(t, "boom", embed.Footer.Text)
}

func TestBuildScanEmbedsKeepsInputOrder(t *testing.T) {
	client := newTestRobloxClient(
		t,
		stubRobloxTransport(
			`{"name": "Pass", "universeId": 1, "priceInformation": {"price": 10}}`,
		),
	)

	ids := []int64{5, 4, 3, 2, 1}
	embeds := buildScanEmbeds(context.Background(), client, ids)
	// one per ID plus a summary
	require.Len(t, embeds, len(ids)+1)
	for i, id := range ids {
		assert.Equal(t, GamePassURL(id), embeds[i].URL)
	}

	summary := embeds[len(embeds)-1]
	assert.Equal(t, "Scan summary", summary.Title)
	assert.Contains(t, summary.Description, "Scanned 5 gamepasses.")
	assert.Contains(t, summary.Description, "Priced: 5")
}

func TestBuildScanEmbedsLookupFailure(t *testing.T) {
	client := newTestRobloxClient(
		t,
		roundTripFunc(
			func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusNotFound, `{}`), nil
			},
		),
	)

	embeds := buildScanEmbeds(context.Background(), client, []int64{8, 9})
	require.Len(t, embeds, 3)
	assert.Equal(t, embedColorRed, embeds[0].Color)
	assert.Equal(t, embedColorRed, embeds[1].Color)
	assert.Contains(t, embeds[2].Description, "Offsale / unknown: 2")
}
