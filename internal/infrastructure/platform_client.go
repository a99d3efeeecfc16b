package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"admetrics/internal/domain"
	"admetrics/pkg/logger"

	"golang.org/x/time/rate"
)

// upper bound on a response body; reporting pages are small
const maxResponseBytes = 16 << 20

// campaign row as reported by the platform reporting APIs
type campaignRow struct {
	CampaignID   string  `json:"campaign_id"`
	CampaignName string  `json:"campaign_name"`
	Spend        float64 `json:"spend"`
	Impressions  int64   `json:"impressions"`
	Clicks       int64   `json:"clicks"`
	Conversions  int64   `json:"conversions"`
	Actions      struct {
		PhoneContacts     int     `json:"phone_contacts"`
		FormSubmissions   int     `json:"form_submissions"`
		CompletedBookings int     `json:"completed_bookings"`
		BookingValue      float64 `json:"booking_value"`
	} `json:"actions"`
}

type campaignsResponse struct {
	Data []campaignRow `json:"data"`
}

type PlatformClientConfig struct {
	Platform           domain.Platform
	BaseURL            string
	Token              string
	Timeout            time.Duration
	RateLimitPerSecond int
	RateLimitBurst     int
}

// HTTPPlatformClient implements domain.PlatformClient against a platform's
// reporting API.
type HTTPPlatformClient struct {
	platform    domain.Platform
	client      *http.Client
	baseURL     string
	token       string
	logger      *logger.Logger
	rateLimiter *rate.Limiter
}

func NewHTTPPlatformClient(config PlatformClientConfig, logger *logger.Logger) *HTTPPlatformClient {
	limit := rate.Limit(config.RateLimitPerSecond)
	if config.RateLimitPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := config.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPPlatformClient{
		platform: config.Platform,
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:     config.BaseURL,
		token:       config.Token,
		logger:      logger,
		rateLimiter: rate.NewLimiter(limit, burst),
	}
}

func (c *HTTPPlatformClient) Platform() domain.Platform {
	return c.platform
}

// FetchCampaigns returns the account's campaign rows for the range.
// It returns domain.ErrEmptyResult when the account has no data.
func (c *HTTPPlatformClient) FetchCampaigns(ctx context.Context, accountRef string, r domain.DateRange) ([]domain.Campaign, error) {
	start := time.Now()

	// Apply rate limiting
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, c.transient(ctx, fmt.Errorf("rate limiter: %w", err))
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/campaigns", c.baseURL, url.PathEscape(accountRef))
	query := url.Values{"start": {r.Start}, "end": {r.End}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transient(ctx, fmt.Errorf("failed to fetch campaigns: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &domain.CredentialError{
			Platform: c.platform,
			Err:      fmt.Errorf("%s API returned status %d", c.platform, resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &domain.TransientFetchError{
			Platform: c.platform,
			Err:      fmt.Errorf("%s API returned status %d", c.platform, resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transient(ctx, fmt.Errorf("failed to read response body: %w", err))
	}

	var payload campaignsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &domain.TransientFetchError{Platform: c.platform, Err: fmt.Errorf("failed to parse campaigns: %w", err)}
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"platform":  c.platform,
		"account":   accountRef,
		"range":     r.String(),
		"duration":  time.Since(start),
		"campaigns": len(payload.Data),
	}).Debug("Fetched platform campaigns")

	if len(payload.Data) == 0 {
		return nil, domain.ErrEmptyResult
	}

	campaigns := make([]domain.Campaign, 0, len(payload.Data))
	for _, row := range payload.Data {
		campaigns = append(campaigns, domain.Campaign{
			ID:          row.CampaignID,
			Name:        row.CampaignName,
			Platform:    c.platform,
			Spend:       row.Spend,
			Impressions: row.Impressions,
			Clicks:      row.Clicks,
			Conversions: row.Conversions,
			Conversion: domain.ConversionMetrics{
				PhoneContacts:     row.Actions.PhoneContacts,
				FormSubmissions:   row.Actions.FormSubmissions,
				CompletedBookings: row.Actions.CompletedBookings,
				BookingValue:      row.Actions.BookingValue,
			},
		})
	}

	return campaigns, nil
}

// transient wraps err, keeping deadline errors recognizable as timeouts.
func (c *HTTPPlatformClient) transient(ctx context.Context, err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	return &domain.TransientFetchError{Platform: c.platform, Timeout: timeout, Err: err}
}

var _ domain.PlatformClient = (*HTTPPlatformClient)(nil)
