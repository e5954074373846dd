package slushbot

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	// marketplaceFeePercent is Roblox's cut of every gamepass sale
	marketplaceFeePercent = 30

	// MaxMultiScanIDs caps how many IDs a single bulk scan accepts
	MaxMultiScanIDs = 25
)

// ErrNoGamePassID indicates no usable gamepass ID was found in the input
var ErrNoGamePassID = errors.New("no gamepass ID found in input")

var nonDigitRunPattern = regexp.MustCompile(`[^\d]+`)

// NetPayout returns the Robux the seller receives for a gamepass sold
// at the given price, after the 30% marketplace fee. The result is
// price * 0.7 rounded half-up.
func NetPayout(price int64) int64 {
	if price <= 0 {
		return 0
	}
	return (price*(100-marketplaceFeePercent) + 50) / 100
}

// GamePassURL returns the public storefront URL for a gamepass
func GamePassURL(id int64) string {
	return fmt.Sprintf("https://www.roblox.com/game-pass/%d", id)
}

// ExtractGamePassID extracts a single gamepass ID from raw numeric
// input or a Roblox URL.
//
// Plain digits parse directly. For URLs, the `ID` query parameter wins
// if present, otherwise the last path segment is tried.
func ExtractGamePassID(input string) (int64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, ErrNoGamePassID
	}

	if isAllDigits(input) {
		id, err := strconv.ParseInt(input, 10, 64)
		if err != nil {
			return 0, ErrNoGamePassID
		}
		return id, nil
	}

	parsed, err := url.Parse(input)
	if err != nil {
		return 0, ErrNoGamePassID
	}

	if qsID := parsed.Query().Get("ID"); qsID != "" {
		id, parseErr := strconv.ParseInt(qsID, 10, 64)
		if parseErr != nil {
			return 0, ErrNoGamePassID
		}
		return id, nil
	}

	segments := strings.FieldsFunc(
		parsed.Path,
		func(r rune) bool { return r == '/' },
	)
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		id, parseErr := strconv.ParseInt(last, 10, 64)
		if parseErr != nil {
			return 0, ErrNoGamePassID
		}
		return id, nil
	}

	return 0, ErrNoGamePassID
}

// ExtractGamePassIDs extracts up to MaxMultiScanIDs gamepass IDs from
// free-form input, splitting on runs of non-digit characters.
// Duplicates are dropped, preserving first-seen order.
func ExtractGamePassIDs(input string) []int64 {
	var ids []int64
	seen := map[int64]bool{}
	for _, tok := range nonDigitRunPattern.Split(input, -1) {
		if tok == "" {
			continue
		}
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			continue
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		ids = append(ids, v)
		if len(ids) >= MaxMultiScanIDs {
			break
		}
	}
	return ids
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
