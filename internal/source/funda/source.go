package funda

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"house_hunter/internal/domain"
	"house_hunter/internal/retry"
)

const (
	SourceID   = "funda"
	SourceName = "Funda"
)

// Config holds Funda search configuration. Zero-valued filters are omitted
// from the query.
type Config struct {
	BaseURL        string
	SearchType     string // koop or huur
	MinPrice       int
	MaxPrice       int
	DaysSince      int
	PropertyType   string
	MaxPages       int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Source scrapes Funda search result pages.
type Source struct {
	httpClient *http.Client
	baseURL    *url.URL
	cfg        Config
	policy     retry.Policy
	logger     *slog.Logger
}

// New creates a new Funda source.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.SearchType == "" {
		cfg.SearchType = "koop"
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}

	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		cfg:     cfg,
		policy: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			Retryable:      retry.HTTPRetryable,
		},
		logger: logger.With("source", SourceID),
	}, nil
}

func (s *Source) ID() string {
	return SourceID
}

func (s *Source) Name() string {
	return SourceName
}

// FetchListings walks the search result pages for city until a page comes
// back empty or MaxPages is reached. On a failed page the listings read so
// far are returned with the error.
func (s *Source) FetchListings(ctx context.Context, city string) ([]domain.RawListing, error) {
	var all []domain.RawListing
	seen := make(map[string]bool)

	for page := 1; page <= s.cfg.MaxPages; page++ {
		listings, err := s.fetchPage(ctx, city, page)
		if err != nil {
			return all, fmt.Errorf("fetch page %d: %w", page, err)
		}

		added := 0
		for _, l := range listings {
			if seen[l.URL] {
				continue
			}
			seen[l.URL] = true
			all = append(all, l)
			added++
		}

		s.logger.Debug("fetched page",
			"city", city,
			"page", page,
			"listings", len(listings),
			"total", len(all),
		)

		// Funda repeats the last page for out-of-range page numbers.
		if added == 0 {
			break
		}
	}

	return all, nil
}

func (s *Source) fetchPage(ctx context.Context, city string, page int) ([]domain.RawListing, error) {
	pageURL := s.searchURL(city, page)

	var listings []domain.RawListing
	err := retry.Do(ctx, s.policy, s.logger, "search", func(ctx context.Context) error {
		body, err := s.doRequest(ctx, pageURL)
		if err != nil {
			return err
		}
		defer body.Close()

		listings, err = parseSearchPage(body, s.baseURL)
		return err
	})
	return listings, err
}

// searchURL builds /zoeken/<type>?selected_area=["city"]&... with the
// filter syntax of the search page.
func (s *Source) searchURL(city string, page int) string {
	q := url.Values{}
	q.Set("selected_area", fmt.Sprintf(`["%s"]`, strings.ToLower(city)))
	if s.cfg.MinPrice > 0 || s.cfg.MaxPrice > 0 {
		lo, hi := "0", ""
		if s.cfg.MinPrice > 0 {
			lo = strconv.Itoa(s.cfg.MinPrice)
		}
		if s.cfg.MaxPrice > 0 {
			hi = strconv.Itoa(s.cfg.MaxPrice)
		}
		q.Set("price", fmt.Sprintf(`"%s-%s"`, lo, hi))
	}
	if s.cfg.DaysSince > 0 {
		q.Set("publication_date", fmt.Sprintf(`"%d"`, s.cfg.DaysSince))
	}
	if s.cfg.PropertyType != "" {
		q.Set("object_type", fmt.Sprintf(`["%s"]`, s.cfg.PropertyType))
	}
	q.Set("search_result", strconv.Itoa(page))

	u := *s.baseURL
	u.Path = u.Path + "/zoeken/" + s.cfg.SearchType
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Source) doRequest(ctx context.Context, pageURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "text/html")
	req.Header.Set("Accept-Language", "nl-NL,nl;q=0.9")
	req.Header.Set("User-Agent", "HouseHunter/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &retry.StatusError{Code: resp.StatusCode}
	}

	return resp.Body, nil
}
