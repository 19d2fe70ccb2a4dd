package utility

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/communalgrid/communalgrid/pkg/common"
	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/tariff"
	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/levenlabs/go-lflag"
)

const openEIMaxAttempts = 3

var (
	// ErrUnauthorized is returned when the rate database rejects the API key.
	ErrUnauthorized = errors.New("openei api key rejected")
)

// OpenEI is a client for the OpenEI Utility Rate Database.
type OpenEI struct {
	apiURL string
	apiKey string
	client *http.Client

	// newBackOff returns the wait policy between attempts; replaced in tests.
	newBackOff func() backoff.BackOff
}

// configuredOpenEI sets up flags for OpenEI and returns the instance.
func configuredOpenEI() *OpenEI {
	c := NewOpenEI("", "")
	apiURL := lflag.String("openei-api-url", "https://api.openei.org/utility_rates", "URL for the OpenEI Utility Rate Database API")
	apiKey := lflag.String("openei-api-key", "", "API key for the OpenEI Utility Rate Database")

	lflag.Do(func() {
		c.apiURL = *apiURL
		c.apiKey = *apiKey
	})

	return c
}

// NewOpenEI returns a client for the API at apiURL.
func NewOpenEI(apiURL, apiKey string) *OpenEI {
	return &OpenEI{
		apiURL:     apiURL,
		apiKey:     apiKey,
		client:     common.HTTPClient(15 * time.Second),
		newBackOff: defaultBackOff,
	}
}

// Validate ensures the configuration is valid.
func (c *OpenEI) Validate() error {
	if c.apiURL == "" {
		return fmt.Errorf("openei-api-url is required")
	}
	if _, err := url.Parse(c.apiURL); err != nil {
		return fmt.Errorf("failed to parse openei url (%s): %w", c.apiURL, err)
	}
	if c.apiKey == "" {
		return fmt.Errorf("openei-api-key is required")
	}
	return nil
}

// defaultBackOff waits 2s then 4s between attempts.
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = time.Minute
	return b
}

// retryable marks a failure that another attempt may fix.
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// request performs a GET with the common parameters and returns the body.
// Rate limiting and transport failures are retried with exponential
// backoff.
func (c *OpenEI) request(ctx context.Context, params url.Values) ([]byte, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	logParams := url.Values{}
	for k, v := range params {
		logParams[k] = v
	}
	params.Set("version", "latest")
	params.Set("format", "json")
	params.Set("api_key", c.apiKey)
	u.RawQuery = params.Encode()

	var attempts int
	bo := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), openEIMaxAttempts-1), ctx)
	body, err := backoff.RetryNotifyWithData(
		func() ([]byte, error) {
			attempts++
			log.Ctx(ctx).DebugContext(
				ctx,
				"openei request",
				slog.Int("attempt", attempts),
				slog.String("params", logParams.Encode()),
			)
			body, err := c.do(ctx, u.String())
			if err == nil {
				return body, nil
			}
			var r retryable
			if !errors.As(err, &r) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		},
		bo,
		func(err error, wait time.Duration) {
			log.Ctx(ctx).WarnContext(
				ctx,
				"openei request failed, retrying",
				slog.Duration("wait", wait),
				slog.Any("error", err),
			)
		},
	)
	if err != nil {
		var r retryable
		if errors.As(err, &r) {
			return nil, fmt.Errorf("failed to reach openei after %d attempts: %w", attempts, err)
		}
		return nil, err
	}
	return body, nil
}

func (c *OpenEI) do(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retryable{fmt.Errorf("failed to fetch: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryable{fmt.Errorf("failed to read response: %w", err)}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case http.StatusTooManyRequests:
		return nil, retryable{fmt.Errorf("openei rate limited")}
	default:
		return nil, fmt.Errorf("openei api returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode openei response: %w", err)
	}
	if len(probe.Error) > 0 && !bytes.Equal(probe.Error, []byte("null")) {
		msg := string(probe.Error)
		var s string
		if json.Unmarshal(probe.Error, &s) == nil {
			msg = s
		}
		if strings.Contains(strings.ToLower(msg), "api_key") {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		}
		return nil, fmt.Errorf("openei api error: %s", msg)
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

// GetRateSchedule fetches the full rate structure for a plan label. It
// returns the decoded document and the raw response for storage.
func (c *OpenEI) GetRateSchedule(ctx context.Context, label string) (tariff.Document, []byte, error) {
	if label == "" {
		return tariff.Document{}, nil, fmt.Errorf("rate plan label is required")
	}
	body, err := c.request(ctx, url.Values{
		"getpage": {label},
		"detail":  {"full"},
	})
	if err != nil {
		return tariff.Document{}, nil, err
	}
	doc, err := tariff.DecodeBytes(body)
	if err != nil {
		var se *tariff.SchemaError
		if errors.As(err, &se) {
			se.Label = label
		}
		return tariff.Document{}, nil, err
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched rate schedule",
		slog.String("label", label),
		slog.String("name", doc.Items[0].Name),
		slog.String("utility", doc.Items[0].Utility),
		slog.Int("items", len(doc.Items)),
	)
	return doc, body, nil
}

// ListRatePlans returns the residential plans for a utility, newest
// first, one per plan name.
func (c *OpenEI) ListRatePlans(ctx context.Context, utilityID string) ([]types.RatePlanInfo, error) {
	body, err := c.request(ctx, url.Values{
		"eia":       {utilityID},
		"sector":    {"Residential"},
		"detail":    {"minimal"},
		"limit":     {"100"},
		"orderby":   {"startdate"},
		"direction": {"desc"},
	})
	if err != nil {
		return nil, err
	}
	var doc tariff.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode rate plans: %w", err)
	}

	plans := make([]types.RatePlanInfo, 0, len(doc.Items))
	seen := make(map[string]bool)
	for _, item := range doc.Items {
		name := item.Name
		if name == "" {
			name = item.Label
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		plans = append(plans, types.RatePlanInfo{
			Name:          name,
			Label:         item.Label,
			Description:   item.Description,
			EffectiveDate: formatDate(item.StartDate.Time),
			EndDate:       formatDate(item.EndDate.Time),
			Source:        item.Source,
			URI:           item.URI,
		})
	}
	log.Ctx(ctx).DebugContext(ctx, "found rate plans", slog.String("utilityID", utilityID), slog.Int("count", len(plans)))
	return plans, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

// ListUtilities returns the utilities with residential rates in a state,
// sorted by name.
func (c *OpenEI) ListUtilities(ctx context.Context, state string) ([]types.UtilityInfo, error) {
	params := url.Values{
		"detail": {"minimal"},
		"limit":  {"500"},
		"sector": {"Residential"},
	}
	if state != "" {
		params.Set("address", state)
	}
	body, err := c.request(ctx, params)
	if err != nil {
		return nil, err
	}
	var doc tariff.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode utilities: %w", err)
	}

	byName := make(map[string]string)
	for _, item := range doc.Items {
		id := item.EIAID.String()
		if item.Utility == "" || id == "" {
			continue
		}
		if _, ok := byName[item.Utility]; !ok {
			byName[item.Utility] = id
		}
	}
	utilities := make([]types.UtilityInfo, 0, len(byName))
	for name, id := range byName {
		utilities = append(utilities, types.UtilityInfo{Name: name, ID: id})
	}
	sort.Slice(utilities, func(i, j int) bool {
		return utilities[i].Name < utilities[j].Name
	})
	log.Ctx(ctx).DebugContext(ctx, "found utilities", slog.String("state", state), slog.Int("count", len(utilities)))
	return utilities, nil
}
