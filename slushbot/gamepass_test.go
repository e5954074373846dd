package slushbot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetPayout(t *testing.T) {
	for _, tc := range []struct {
		price    int64
		expected int64
	}{
		{price: 0, expected: 0},
		{price: -5, expected: 0},
		{price: 1, expected: 1},
		{price: 5, expected: 4},
		{price: 10, expected: 7},
		{price: 100, expected: 70},
		{price: 99, expected: 69},
		{price: 15, expected: 11},
		{price: 1000000, expected: 700000},
	} {
		assert.Equalf(
			t,
			tc.expected,
			NetPayout(tc.price),
			"price %d",
			tc.price,
		)
	}
}

func TestGamePassNetPayout(t *testing.T) {
	gp := GamePass{ID: 1}
	assert.Equal(t, int64(0), gp.NetPayout())

	price := int64(10)
	gp.Price = &price
	assert.Equal(t, int64(7), gp.NetPayout())
}

func TestExtractGamePassID(t *testing.T) {
	for _, tc := range []struct {
		name     string
		input    string
		expected int64
		wantErr  bool
	}{
		{name: "bare ID", input: "123456", expected: 123456},
		{name: "bare ID with spaces", input: "  123456  ", expected: 123456},
		{
			name:     "game-pass URL",
			input:    "https://www.roblox.com/game-pass/123456",
			expected: 123456,
		},
		{
			name:     "legacy item URL with ID param",
			input:    "https://www.roblox.com/item.aspx?ID=654321",
			expected: 654321,
		},
		{
			name:     "URL with trailing slash",
			input:    "https://www.roblox.com/game-pass/123456/",
			expected: 123456,
		},
		{
			name:    "game-pass URL with trailing slug",
			input:   "https://www.roblox.com/game-pass/123456/Cool-Pass",
			wantErr: true,
		},
		{name: "no digits", input: "not-a-pass", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{
			name:    "URL without numeric segment",
			input:   "https://www.roblox.com/games/discover",
			wantErr: true,
		},
	} {
		t.Run(
			tc.name, func(t *testing.T) {
				id, err := ExtractGamePassID(tc.input)
				if tc.wantErr {
					require.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.expected, id)
			},
		)
	}
}

func TestExtractGamePassIDs(t *testing.T) {
	ids := ExtractGamePassIDs("123, 456 789\n123")
	assert.Equal(t, []int64{123, 456, 789}, ids)
}

func TestExtractGamePassIDsEmpty(t *testing.T) {
	assert.Empty(t, ExtractGamePassIDs("no numbers here"))
	assert.Empty(t, ExtractGamePassIDs(""))
}

func TestExtractGamePassIDsCapped(t *testing.T) {
	input := ""
	for i := 100; i < 100+MaxMultiScanIDs+10; i++ {
		input += " " + GamePassURL(int64(i))
	}
	ids := ExtractGamePassIDs(input)
	assert.Len(t, ids, MaxMultiScanIDs)
	assert.Equal(t, int64(100), ids[0])
}

func TestGamePassURL(t *testing.T) {
	assert.Equal(
		t,
		"https://www.roblox.com/game-pass/123456",
		GamePassURL(123456),
	)
}
