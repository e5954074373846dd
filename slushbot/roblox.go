package slushbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	gamePassDetailsURL = "https://apis.roblox.com/game-passes/v1/game-passes/%d/details"
	placeDetailsURL    = "https://games.roblox.com/v1/games/multiget-place-details?universeIds=%d"

	robloxUserAgent     = "rbx-gp-bot/2.6.1 (+discord)"
	roblosecurityName   = ".ROBLOSECURITY"
	gamePassCachePrefix = "gp:"
)

// retryStatuses are HTTP statuses worth retrying on
var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// GamePass is the resolved view of a gamepass listing.
//
// Price is nil when the pass is offsale or the price could not be
// determined.
type GamePass struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Price            *int64 `json:"price"`
	SellerName       string `json:"seller_name"`
	UniverseID       int64  `json:"universe_id"`
	RegionalPricing  bool   `json:"regional_pricing"`
	UsedBackupCookie bool   `json:"used_backup_cookie"`
}

// NetPayout returns the seller's take after the marketplace fee, or
// zero when the pass has no price.
func (g GamePass) NetPayout() int64 {
	if g.Price == nil {
		return 0
	}
	return NetPayout(*g.Price)
}

// gamePassDetails mirrors the gamepass details API payload
type gamePassDetails struct {
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	UniverseID       int64             `json:"universeId"`
	PriceInformation *priceInformation `json:"priceInformation"`
}

type priceInformation struct {
	Price                                 *int64   `json:"price"`
	IsInActivePriceOptimizationExperiment bool     `json:"isInActivePriceOptimizationExperiment"`
	EnabledFeatures                       []string `json:"enabledFeatures"`
}

// regionalPricingFlag reports whether the listing looks like it's
// under regional pricing, based on the price information block
func (d *gamePassDetails) regionalPricingFlag() bool {
	if d == nil || d.PriceInformation == nil {
		return false
	}
	if d.PriceInformation.IsInActivePriceOptimizationExperiment {
		return true
	}
	for _, feature := range d.PriceInformation.EnabledFeatures {
		lower := strings.ToLower(feature)
		if strings.Contains(lower, "regional") || strings.Contains(lower, "price") {
			return true
		}
	}
	return false
}

type placeDetails struct {
	Creator struct {
		Name string `json:"name"`
	} `json:"creator"`
}

type cacheEntry struct {
	storedAt time.Time
	details  *gamePassDetails
}

// RobloxClient calls the Roblox pricing APIs with a token-bucket rate
// gate, a retry policy, and a short-lived response cache.
type RobloxClient struct {
	config     RobloxConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	cache   map[string]cacheEntry
	cacheMu sync.Mutex
}

func NewRobloxClient(config RobloxConfig, logger *slog.Logger) *RobloxClient {
	if logger == nil {
		logger = slog.New(
			tint.NewHandler(
				os.Stdout,
				&tint.Options{Level: config.LogLevel},
			),
		)
	}
	return &RobloxClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		limiter: rate.NewLimiter(
			rate.Limit(config.RequestsPerSecond),
			config.Burst,
		),
		logger: logger.With(loggerNameKey, "roblox"),
		cache:  map[string]cacheEntry{},
	}
}

// GetGamePass fetches a gamepass listing. The main cookie is tried
// first; when it gets rejected outright or no price comes back, the
// backup cookie gets one more shot before the pass is reported as
// offsale.
func (rc *RobloxClient) GetGamePass(ctx context.Context, id int64) (*GamePass, error) {
	usedBackup := false
	details, err := rc.gamePassDetails(ctx, id, rc.config.Cookie)
	if err != nil && rc.config.BackupCookie != "" && isAuthError(err) {
		rc.logger.WarnContext(
			ctx,
			"main cookie rejected, retrying with backup",
			"gamepass_id", id,
			tint.Err(err),
		)
		details, err = rc.gamePassDetails(ctx, id, rc.config.BackupCookie)
		usedBackup = err == nil
	}
	if err != nil {
		return nil, fmt.Errorf("gamepass %d details: %w", id, err)
	}

	gp := &GamePass{
		ID:               id,
		Name:             details.Name,
		Description:      details.Description,
		UniverseID:       details.UniverseID,
		RegionalPricing:  details.regionalPricingFlag(),
		UsedBackupCookie: usedBackup,
	}
	if gp.Name == "" {
		gp.Name = fmt.Sprintf("Gamepass %d", id)
	}

	if details.PriceInformation != nil && details.PriceInformation.Price != nil {
		price := *details.PriceInformation.Price
		gp.Price = &price
	} else if !usedBackup && rc.config.BackupCookie != "" {
		backupDetails, backupErr := rc.fetchGamePassDetails(
			ctx,
			id,
			rc.config.BackupCookie,
		)
		if backupErr != nil {
			rc.logger.WarnContext(
				ctx,
				"backup cookie lookup failed",
				"gamepass_id", id,
				tint.Err(backupErr),
			)
		} else if backupDetails.PriceInformation != nil &&
			backupDetails.PriceInformation.Price != nil {
			price := *backupDetails.PriceInformation.Price
			gp.Price = &price
			gp.UsedBackupCookie = true
		}
	}

	if gp.UniverseID != 0 {
		ownerName, ownerErr := rc.OwnerName(ctx, gp.UniverseID)
		if ownerErr != nil {
			rc.logger.WarnContext(
				ctx,
				"owner lookup failed",
				"universe_id", gp.UniverseID,
				tint.Err(ownerErr),
			)
		} else {
			gp.SellerName = ownerName
		}
	}

	return gp, nil
}

// OwnerName resolves the creator name of the root place for the
// given universe
func (rc *RobloxClient) OwnerName(ctx context.Context, universeID int64) (string, error) {
	body, err := rc.getJSON(
		ctx,
		fmt.Sprintf(placeDetailsURL, universeID),
		rc.config.Cookie,
	)
	if err != nil {
		return "", err
	}
	var places []placeDetails
	if err := json.Unmarshal(body, &places); err != nil {
		return "", fmt.Errorf("decoding place details: %w", err)
	}
	if len(places) == 0 {
		return "", nil
	}
	return places[0].Creator.Name, nil
}

// gamePassDetails returns cached details when fresh, fetching
// otherwise
func (rc *RobloxClient) gamePassDetails(
	ctx context.Context,
	id int64,
	cookie string,
) (*gamePassDetails, error) {
	cacheKey := fmt.Sprintf("%s%d", gamePassCachePrefix, id)

	rc.cacheMu.Lock()
	entry, ok := rc.cache[cacheKey]
	if ok && time.Since(entry.storedAt) <= rc.config.CacheTTL {
		rc.cacheMu.Unlock()
		return entry.details, nil
	}
	delete(rc.cache, cacheKey)
	rc.cacheMu.Unlock()

	details, err := rc.fetchGamePassDetails(ctx, id, cookie)
	if err != nil {
		return nil, err
	}

	rc.cacheMu.Lock()
	rc.cache[cacheKey] = cacheEntry{
		storedAt: time.Now(),
		details:  details,
	}
	rc.cacheMu.Unlock()

	return details, nil
}

func (rc *RobloxClient) fetchGamePassDetails(
	ctx context.Context,
	id int64,
	cookie string,
) (*gamePassDetails, error) {
	body, err := rc.getJSON(
		ctx,
		fmt.Sprintf(gamePassDetailsURL, id),
		cookie,
	)
	if err != nil {
		return nil, err
	}
	var details gamePassDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, fmt.Errorf("decoding gamepass details: %w", err)
	}
	return &details, nil
}

// getJSON performs a rate-gated GET with retries on transient
// statuses. On 429 the Retry-After header is honored when present.
func (rc *RobloxClient) getJSON(
	ctx context.Context,
	requestURL string,
	cookie string,
) ([]byte, error) {
	if err := rc.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= rc.config.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(
			ctx,
			http.MethodGet,
			requestURL,
			nil,
		)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", robloxUserAgent)
		if cookie != "" {
			req.AddCookie(
				&http.Cookie{Name: roblosecurityName, Value: cookie},
			)
		}

		resp, err := rc.httpClient.Do(req)
		if err != nil {
			lastErr = err
			rc.logger.WarnContext(
				ctx,
				"request failed",
				"url", requestURL,
				"attempt", attempt,
				tint.Err(err),
			)
			if sleepErr := rc.backoff(ctx, attempt, 0); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if retryStatuses[resp.StatusCode] {
			lastErr = &httpStatusError{url: requestURL, status: resp.StatusCode}
			var retryAfter time.Duration
			if resp.StatusCode == http.StatusTooManyRequests {
				retryAfter = parseRetryAfter(
					resp.Header.Get("Retry-After"),
				)
				if retryAfter > 0 {
					rc.logger.WarnContext(
						ctx,
						"rate limited upstream",
						"url", requestURL,
						"retry_after", retryAfter,
					)
				}
			}
			if sleepErr := rc.backoff(ctx, attempt, retryAfter); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &httpStatusError{url: requestURL, status: resp.StatusCode}
		}
		if readErr != nil {
			return nil, readErr
		}
		return body, nil
	}
	return nil, fmt.Errorf(
		"giving up after %d attempts: %w",
		rc.config.MaxAttempts,
		lastErr,
	)
}

// httpStatusError is a non-2xx response that wasn't retried away
type httpStatusError struct {
	url    string
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.url, e.status)
}

// isAuthError reports whether err is a 401 or 403 response
func isAuthError(err error) bool {
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.status == http.StatusUnauthorized ||
		statusErr.status == http.StatusForbidden
}

// backoff sleeps for the attempt-scaled backoff (or the server's
// Retry-After when longer), bailing early on context cancellation
func (rc *RobloxClient) backoff(
	ctx context.Context,
	attempt int,
	retryAfter time.Duration,
) error {
	delay := rc.config.RetryBackoff * time.Duration(attempt)
	if retryAfter > delay {
		delay = retryAfter
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CacheSize returns the number of cached gamepass lookups
func (rc *RobloxClient) CacheSize() int {
	rc.cacheMu.Lock()
	defer rc.cacheMu.Unlock()
	return len(rc.cache)
}

// ClearCache drops all cached gamepass lookups, returning the number
// of entries removed
func (rc *RobloxClient) ClearCache() int {
	rc.cacheMu.Lock()
	defer rc.cacheMu.Unlock()
	n := len(rc.cache)
	rc.cache = map[string]cacheEntry{}
	return n
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
