package funda

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"house_hunter/internal/domain"
	"house_hunter/internal/retry"
)

type card struct {
	href, price, street, postal string
}

func page(cards ...card) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="search-results">`)
	for _, c := range cards {
		fmt.Fprintf(&b, `
<div data-test-id="search-result-item">
  <a href="/makelaar/12345-some-agent/">Agent</a>
  <a data-test-id="object-image-link" href="%s"><img src="x.jpg"></a>
  <h2 data-test-id="street-name-house-number">%s</h2>
  <div data-test-id="postal-code-city">%s</div>
  <p data-test-id="price-sale">%s</p>
</div>`, c.href, c.street, c.postal, c.price)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func newTestSource(t *testing.T, baseURL string, cfg Config) *Source {
	t.Helper()
	cfg.BaseURL = baseURL
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = time.Millisecond
	cfg.Timeout = 5 * time.Second

	s, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestFetchListings_Paginates(t *testing.T) {
	pages := map[string]string{
		"1": page(
			card{"/koop/leusden/huis-43669755-rondeel-79/?utm=x", "€ 350.000 k.k.", "Rondeel 79", "3831 KC Leusden"},
			card{"https://www.funda.nl/koop/leusden/appartement-43100200-hamersveldseweg-12-a/", "€ 275.000 k.k.", "Hamersveldseweg 12 A", "3833 GR Leusden"},
		),
		"2": page(
			card{"/koop/leusden/huis-43000001-asschatterweg-3/", "€ 499.000 v.o.n.", "Asschatterweg 3", "3831 JW Leusden"},
		),
		"3": page(),
	}

	var (
		mu        sync.Mutex
		requested []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/zoeken/koop", r.URL.Path)
		mu.Lock()
		requested = append(requested, r.URL.Query().Get("search_result"))
		mu.Unlock()
		fmt.Fprint(w, pages[r.URL.Query().Get("search_result")])
	}))
	defer server.Close()

	s := newTestSource(t, server.URL, Config{MaxPages: 10})

	listings, err := s.FetchListings(context.Background(), "leusden")

	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []string{"1", "2", "3"}, requested)
	mu.Unlock()
	require.Len(t, listings, 3)
	assert.Equal(t, domain.RawListing{
		ID:      "43669755",
		URL:     server.URL + "/koop/leusden/huis-43669755-rondeel-79/",
		Price:   "€ 350.000 k.k.",
		Address: "Rondeel 79",
		City:    "Leusden",
	}, listings[0])
	assert.Equal(t, "https://www.funda.nl/koop/leusden/appartement-43100200-hamersveldseweg-12-a/", listings[1].URL)
	assert.Equal(t, "43100200", listings[1].ID)
	assert.Equal(t, "€ 499.000 v.o.n.", listings[2].Price)
}

func TestFetchListings_StopsWhenPageRepeats(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, page(card{"/koop/leusden/huis-1-a-1/", "€ 1", "A 1", "1000 AA Leusden"}))
	}))
	defer server.Close()

	s := newTestSource(t, server.URL, Config{MaxPages: 10})

	listings, err := s.FetchListings(context.Background(), "leusden")

	require.NoError(t, err)
	assert.Len(t, listings, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchListings_RespectsMaxPages(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		n := r.URL.Query().Get("search_result")
		fmt.Fprint(w, page(card{"/koop/leusden/huis-" + n + "-a-1/", "€ 1", "A 1", "Leusden"}))
	}))
	defer server.Close()

	s := newTestSource(t, server.URL, Config{MaxPages: 2})

	listings, err := s.FetchListings(context.Background(), "leusden")

	require.NoError(t, err)
	assert.Len(t, listings, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchListings_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, page())
	}))
	defer server.Close()

	s := newTestSource(t, server.URL, Config{MaxPages: 1})

	listings, err := s.FetchListings(context.Background(), "leusden")

	require.NoError(t, err)
	assert.Empty(t, listings)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchListings_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s := newTestSource(t, server.URL, Config{MaxPages: 1})

	_, err := s.FetchListings(context.Background(), "atlantis")

	require.Error(t, err)
	var se *retry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchListings_ReturnsPagesReadBeforeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search_result") == "2" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, page(card{"/koop/leusden/huis-43669755-rondeel-79/", "€ 350.000 k.k.", "Rondeel 79", "3831 KC Leusden"}))
	}))
	defer server.Close()

	s := newTestSource(t, server.URL, Config{MaxPages: 5})

	listings, err := s.FetchListings(context.Background(), "leusden")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch page 2")
	require.Len(t, listings, 1)
	assert.Equal(t, "43669755", listings[0].ID)
}

func TestSearchURL(t *testing.T) {
	s := newTestSource(t, "https://www.funda.nl/", Config{
		SearchType:   "koop",
		MinPrice:     200000,
		MaxPrice:     450000,
		DaysSince:    5,
		PropertyType: "house",
	})

	u, err := url.Parse(s.searchURL("Leusden", 3))
	require.NoError(t, err)

	assert.Equal(t, "www.funda.nl", u.Host)
	assert.Equal(t, "/zoeken/koop", u.Path)
	q := u.Query()
	assert.Equal(t, `["leusden"]`, q.Get("selected_area"))
	assert.Equal(t, `"200000-450000"`, q.Get("price"))
	assert.Equal(t, `"5"`, q.Get("publication_date"))
	assert.Equal(t, `["house"]`, q.Get("object_type"))
	assert.Equal(t, "3", q.Get("search_result"))
}

func TestSearchURL_OmitsUnsetFilters(t *testing.T) {
	s := newTestSource(t, "https://www.funda.nl", Config{MaxPrice: 300000})

	u, err := url.Parse(s.searchURL("utrecht", 1))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, `"0-300000"`, q.Get("price"))
	assert.False(t, q.Has("publication_date"))
	assert.False(t, q.Has("object_type"))
}

func TestParseSearchPage_SkipsCardsWithoutObjectLink(t *testing.T) {
	base, _ := url.Parse("https://www.funda.nl")
	html := `<div data-test-id="search-result-item"><a href="/nieuwbouw/project/">Project</a></div>` +
		page(card{"/koop/utrecht/huis-42-oudegracht-1/", "Prijs op aanvraag", "Oudegracht 1", "3511 AA Utrecht"})

	listings, err := parseSearchPage(strings.NewReader(html), base)

	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "42", listings[0].ID)
	assert.Equal(t, "Prijs op aanvraag", listings[0].Price)
	assert.Equal(t, "Utrecht", listings[0].City)
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Error(t, err)
}
