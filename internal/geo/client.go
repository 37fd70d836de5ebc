// Package geo resolves postal codes and travel times through the Google Maps
// web services.
package geo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"house_hunter/internal/domain"
	"house_hunter/internal/retry"
)

// Client issues single Geocoding and Distance Matrix requests. Every error
// it returns wraps domain.ErrTransientProvider or domain.ErrPermanentProvider.
type Client struct {
	maps *maps.Client
}

// NewClient builds a client for apiKey. baseURL overrides the Google host and
// is empty in production.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	opts := []maps.ClientOption{
		maps.WithAPIKey(apiKey),
		maps.WithHTTPClient(&http.Client{
			Timeout:   timeout,
			Transport: statusTransport{base: http.DefaultTransport},
		}),
		// Pacing is the Enricher's job.
		maps.WithRateLimit(0),
	}
	if baseURL != "" {
		opts = append(opts, maps.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}

	mc, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &Client{maps: mc}, nil
}

// PostalCode geocodes address and returns the postal_code component of the
// best match.
func (c *Client) PostalCode(ctx context.Context, address string) (string, error) {
	results, err := c.maps.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%w: no geocode results", domain.ErrPermanentProvider)
	}

	for _, comp := range results[0].AddressComponents {
		for _, t := range comp.Types {
			if t == "postal_code" {
				return comp.LongName, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no postal code for %q", domain.ErrPermanentProvider, results[0].FormattedAddress)
}

// TravelDuration returns the route duration from origin to destination in
// the provider's display form ("38 mins", "1 hour 5 mins").
func (c *Client) TravelDuration(ctx context.Context, origin, destination, mode string, departure time.Time) (string, error) {
	req := &maps.DistanceMatrixRequest{
		Origins:      []string{origin},
		Destinations: []string{destination},
		Mode:         maps.Mode(mode),
	}
	if !departure.IsZero() {
		req.DepartureTime = strconv.FormatInt(departure.Unix(), 10)
	}

	resp, err := c.maps.DistanceMatrix(ctx, req)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 || resp.Rows[0].Elements[0] == nil {
		return "", fmt.Errorf("%w: empty distance matrix", domain.ErrPermanentProvider)
	}

	el := resp.Rows[0].Elements[0]
	if err := classifyStatus(el.Status, ""); err != nil {
		return "", err
	}
	if el.Duration <= 0 {
		return "", fmt.Errorf("%w: no duration for route", domain.ErrPermanentProvider)
	}
	return FormatDuration(el.Duration), nil
}

// FormatDuration renders d the way the Distance Matrix text field does,
// rounded to whole minutes.
func FormatDuration(d time.Duration) string {
	mins := int(math.Round(d.Minutes()))
	if mins < 1 {
		mins = 1
	}
	days, hours, m := mins/(24*60), mins%(24*60)/60, mins%60

	switch {
	case days > 0:
		if hours == 0 {
			return plural(days, "day")
		}
		return plural(days, "day") + " " + plural(hours, "hour")
	case hours > 0:
		if m == 0 {
			return plural(hours, "hour")
		}
		return plural(hours, "hour") + " " + plural(m, "min")
	default:
		return plural(m, "min")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}

// statusTransport turns non-2xx responses into *retry.StatusError so the
// HTTP status survives the maps client, which only decodes bodies.
type statusTransport struct {
	base http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return nil, &retry.StatusError{Code: resp.StatusCode, Body: string(body)}
}

// classify maps a maps client error onto the provider error classes.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var se *retry.StatusError
	if errors.As(err, &se) {
		return classifyHTTPStatus(se.Code)
	}

	// API-level failures read "maps: STATUS - message".
	if msg, ok := strings.CutPrefix(err.Error(), "maps: "); ok {
		status, detail, found := strings.Cut(msg, " - ")
		if found && isStatusCode(status) {
			return classifyStatus(status, detail)
		}
		return fmt.Errorf("%w: %s", domain.ErrPermanentProvider, msg)
	}

	// Transport failures and undecodable bodies.
	return fmt.Errorf("%w: %v", domain.ErrTransientProvider, err)
}

func isStatusCode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}
	return true
}

func classifyHTTPStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case retry.RetryableStatus(code):
		return fmt.Errorf("%w: unexpected status: %d", domain.ErrTransientProvider, code)
	default:
		return fmt.Errorf("%w: unexpected status: %d", domain.ErrPermanentProvider, code)
	}
}

// classifyStatus maps the API-level status field. OVER_QUERY_LIMIT is the
// per-second rate signal; OVER_DAILY_LIMIT is quota exhaustion and will not
// clear within a run.
func classifyStatus(status, message string) error {
	switch status {
	case "OK":
		return nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return fmt.Errorf("%w: %s %s", domain.ErrTransientProvider, status, message)
	default:
		return fmt.Errorf("%w: %s %s", domain.ErrPermanentProvider, status, message)
	}
}
