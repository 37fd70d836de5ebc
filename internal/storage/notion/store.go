// Package notion stores listings as pages of a Notion database.
package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"house_hunter/internal/domain"
	"house_hunter/internal/retry"
)

const apiVersion = "2022-06-28"

// Database property names.
const (
	PropListingID = "House ID"
	PropURL       = "URL"
	PropAddress   = "Post Address"
	PropCity      = "City"
	PropPrice     = "Price"
	PropZipCode   = "ZIP Code"
	PropLifeScore = "Life Level Score"
	PropStatus    = "Status"
	PropComment   = "Comment"
	PropViewedOn  = "Viewed on"
)

type Config struct {
	// BaseURL overrides the API host; only scheme and host are used.
	BaseURL         string
	Token           string
	DatabaseID      string
	ReferencePoints []domain.ReferencePoint
	Timeout         time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

// Store implements the record store on a Notion database.
type Store struct {
	client     *notionapi.Client
	databaseID notionapi.DatabaseID
	refs       []domain.ReferencePoint
	policy     retry.Policy
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Store, error) {
	t := transport{base: http.DefaultTransport}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid notion base url %q", cfg.BaseURL)
		}
		t.host = u
	}

	client := notionapi.NewClient(notionapi.Token(cfg.Token),
		notionapi.WithHTTPClient(&http.Client{Timeout: cfg.Timeout, Transport: t}),
		notionapi.WithVersion(apiVersion),
	)

	return &Store{
		client:     client,
		databaseID: notionapi.DatabaseID(cfg.DatabaseID),
		refs:       cfg.ReferencePoints,
		policy: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			Retryable:      retry.HTTPRetryable,
		},
		logger: logger.With("component", "notion"),
	}, nil
}

// Find queries the database by listing id. When several pages share the id
// the first one returned is used.
func (s *Store) Find(ctx context.Context, listingID string) (*domain.StoreRecord, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter: &notionapi.PropertyFilter{
			Property: PropListingID,
			RichText: &notionapi.TextFilterCondition{Equals: listingID},
		},
		PageSize: 2,
	}

	var resp *notionapi.DatabaseQueryResponse
	err := retry.Do(ctx, s.policy, s.logger, "query database", func(ctx context.Context) error {
		var err error
		resp, err = s.client.Database.Query(ctx, s.databaseID, req)
		return statusError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("query database: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	if len(resp.Results) > 1 {
		s.logger.Warn("duplicate pages for listing", "listing_id", listingID)
	}

	return s.toRecord(resp.Results[0]), nil
}

func (s *Store) Create(ctx context.Context, record *domain.StoreRecord) (string, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: s.databaseID,
		},
		Properties: s.createProperties(record),
	}

	var created *notionapi.Page
	err := retry.Do(ctx, s.policy, s.logger, "create page", func(ctx context.Context) error {
		var err error
		created, err = s.client.Page.Create(ctx, req)
		return statusError(err)
	})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	return string(created.ID), nil
}

func (s *Store) Update(ctx context.Context, recordID string, patch domain.RecordPatch) error {
	props := s.patchProperties(patch)
	if len(props) == 0 {
		return nil
	}

	req := &notionapi.PageUpdateRequest{Properties: props}
	err := retry.Do(ctx, s.policy, s.logger, "update page", func(ctx context.Context) error {
		_, err := s.client.Page.Update(ctx, notionapi.PageID(recordID), req)
		return statusError(err)
	})
	if err != nil {
		return fmt.Errorf("update page %s: %w", recordID, err)
	}
	return nil
}

func (s *Store) createProperties(r *domain.StoreRecord) notionapi.Properties {
	props := notionapi.Properties{
		PropListingID: &notionapi.TitleProperty{Title: richText(r.ID)},
		PropURL:       &notionapi.URLProperty{URL: r.URL},
		PropAddress:   textProp(r.StreetAddress),
		PropCity:      textProp(r.City),
		PropPrice:     &notionapi.NumberProperty{Number: float64(r.Price)},
		PropStatus:    &notionapi.SelectProperty{Select: notionapi.Option{Name: string(r.Status)}},
	}
	if r.ZipCode != nil {
		props[PropZipCode] = textProp(*r.ZipCode)
	}
	if r.LifeScore != nil {
		props[PropLifeScore] = &notionapi.NumberProperty{Number: *r.LifeScore}
	}
	for _, ref := range s.refs {
		if d, ok := r.TravelTimes[ref.Name]; ok {
			props[ref.PropertyName()] = textProp(d)
		}
	}
	if r.Comment != "" {
		props[PropComment] = textProp(r.Comment)
	}
	if r.ViewedOn != nil {
		day := notionapi.Date(*r.ViewedOn)
		props[PropViewedOn] = &notionapi.DateProperty{Date: &notionapi.DateObject{Start: &day}}
	}
	return props
}

// patchProperties never includes Status, Comment or Viewed on.
func (s *Store) patchProperties(p domain.RecordPatch) notionapi.Properties {
	props := notionapi.Properties{}
	if p.URL != nil {
		props[PropURL] = &notionapi.URLProperty{URL: *p.URL}
	}
	if p.Price != nil {
		props[PropPrice] = &notionapi.NumberProperty{Number: float64(*p.Price)}
	}
	if p.StreetAddress != nil {
		props[PropAddress] = textProp(*p.StreetAddress)
	}
	if p.City != nil {
		props[PropCity] = textProp(*p.City)
	}
	if p.ZipCode != nil {
		props[PropZipCode] = textProp(*p.ZipCode)
	}
	if p.LifeScore != nil {
		props[PropLifeScore] = &notionapi.NumberProperty{Number: *p.LifeScore}
	}
	for _, ref := range s.refs {
		if d, ok := p.TravelTimes[ref.Name]; ok {
			props[ref.PropertyName()] = textProp(d)
		}
	}
	return props
}

// toRecord reads the page back. An empty number cell decodes as 0, so a
// zero Price or Life Level Score reads as unset.
func (s *Store) toRecord(pg notionapi.Page) *domain.StoreRecord {
	props := pg.Properties
	rec := &domain.StoreRecord{
		RecordID: string(pg.ID),
		EnrichedListing: domain.EnrichedListing{
			Listing: domain.Listing{
				ID:            text(props[PropListingID]),
				StreetAddress: text(props[PropAddress]),
				City:          text(props[PropCity]),
			},
			TravelTimes: domain.TravelTimes{},
		},
		Comment:  text(props[PropComment]),
		ViewedOn: date(props[PropViewedOn]),
		Status:   domain.StatusNew,
	}

	if p, ok := props[PropURL].(*notionapi.URLProperty); ok {
		rec.URL = p.URL
	}
	if p, ok := props[PropPrice].(*notionapi.NumberProperty); ok {
		rec.Price = int64(p.Number)
	}
	if zip := text(props[PropZipCode]); zip != "" {
		rec.ZipCode = &zip
	}
	if p, ok := props[PropLifeScore].(*notionapi.NumberProperty); ok && p.Number != 0 {
		score := p.Number
		rec.LifeScore = &score
	}
	if p, ok := props[PropStatus].(*notionapi.SelectProperty); ok && p.Select.Name != "" {
		rec.Status = domain.Status(p.Select.Name)
	}
	for _, ref := range s.refs {
		if d := text(props[ref.PropertyName()]); d != "" {
			rec.TravelTimes[ref.Name] = d
		}
	}
	return rec
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{Text: &notionapi.Text{Content: s}}}
}

func textProp(s string) *notionapi.RichTextProperty {
	return &notionapi.RichTextProperty{RichText: richText(s)}
}

// text flattens a title or rich_text property.
func text(p notionapi.Property) string {
	var parts []notionapi.RichText
	switch p := p.(type) {
	case *notionapi.TitleProperty:
		parts = p.Title
	case *notionapi.RichTextProperty:
		parts = p.RichText
	default:
		return ""
	}

	var b strings.Builder
	for _, rt := range parts {
		switch {
		case rt.PlainText != "":
			b.WriteString(rt.PlainText)
		case rt.Text != nil:
			b.WriteString(rt.Text.Content)
		}
	}
	return b.String()
}

func date(p notionapi.Property) *time.Time {
	d, ok := p.(*notionapi.DateProperty)
	if !ok || d.Date == nil || d.Date.Start == nil {
		return nil
	}
	t := time.Time(*d.Date.Start)
	return &t
}

// statusError unwraps an API error into *retry.StatusError so retry and
// callers see one error shape.
func statusError(err error) error {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		return &retry.StatusError{Code: apiErr.Status, Body: string(apiErr.Code) + ": " + apiErr.Message}
	}
	return err
}

// transport points requests at host when set and turns non-2xx responses
// into *retry.StatusError carrying the API's error code and message.
type transport struct {
	base http.RoundTripper
	host *url.URL
}

func (t transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.host != nil {
		req = req.Clone(req.Context())
		req.URL.Scheme = t.host.Scheme
		req.URL.Host = t.host.Host
		req.Host = ""
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	return nil, &retry.StatusError{Code: resp.StatusCode, Body: errorMessage(resp.Body)}
}

func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &e); err == nil && e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return strings.TrimSpace(string(data))
}
