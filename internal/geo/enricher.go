package geo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"house_hunter/internal/domain"
	"house_hunter/internal/retry"
)

// Provider is the single-request surface of the mapping service.
type Provider interface {
	PostalCode(ctx context.Context, address string) (string, error)
	TravelDuration(ctx context.Context, origin, destination, mode string, departure time.Time) (string, error)
}

// Config holds enricher configuration.
type Config struct {
	Country        string
	TravelMode     string
	DepartureHour  int
	MinInterval    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Enricher wraps a Provider with throttling and bounded retries. Lookups never
// fail: a failure that survives retries degrades to "unresolved".
type Enricher struct {
	provider  Provider
	limiter   *rate.Limiter
	policy    retry.Policy
	country   string
	mode      string
	departure time.Time
	logger    *slog.Logger
}

// NewEnricher creates an enricher. The departure time for travel queries is
// fixed at construction: DepartureHour o'clock on the day after now.
func NewEnricher(provider Provider, cfg Config, now time.Time, logger *slog.Logger) *Enricher {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &Enricher{
		provider: provider,
		limiter:  rate.NewLimiter(limit, 1),
		policy: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			Retryable: func(err error) bool {
				return errors.Is(err, domain.ErrTransientProvider)
			},
		},
		country:   cfg.Country,
		mode:      cfg.TravelMode,
		departure: nextDeparture(now, cfg.DepartureHour),
		logger:    logger.With("component", "geo"),
	}
}

// ResolveZip returns the postal code of street in city.
func (e *Enricher) ResolveZip(ctx context.Context, street, city string) (string, bool) {
	address := domain.Listing{StreetAddress: street, City: city}.FullAddress(e.country)

	var zip string
	err := e.call(ctx, "geocode", func(ctx context.Context) error {
		var err error
		zip, err = e.provider.PostalCode(ctx, address)
		return err
	})
	if err != nil {
		e.logger.Warn("zip code unresolved", "address", address, "error", err)
		return "", false
	}
	return zip, true
}

// TravelTime returns the display duration from origin to ref.
func (e *Enricher) TravelTime(ctx context.Context, origin string, ref domain.ReferencePoint) (string, bool) {
	var duration string
	err := e.call(ctx, "distance_matrix", func(ctx context.Context) error {
		var err error
		duration, err = e.provider.TravelDuration(ctx, origin, ref.Address, e.mode, e.departure)
		return err
	})
	if err != nil {
		e.logger.Warn("travel time unresolved", "origin", origin, "reference", ref.Name, "error", err)
		return "", false
	}
	return duration, true
}

// Origin is the address travel times are measured from.
func (e *Enricher) Origin(l domain.Listing) string {
	return l.FullAddress(e.country)
}

// Departure is the fixed departure time used for travel queries.
func (e *Enricher) Departure() time.Time {
	return e.departure
}

func (e *Enricher) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, e.policy, e.logger, op, func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
}

func nextDeparture(now time.Time, hour int) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	return day.AddDate(0, 0, 1)
}
