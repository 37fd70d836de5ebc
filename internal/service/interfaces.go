package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"house_hunter/internal/domain"
)

// RecordStore is the external record store. Find returns nil, nil when no
// record exists for listingID.
type RecordStore interface {
	Find(ctx context.Context, listingID string) (*domain.StoreRecord, error)
	Create(ctx context.Context, record *domain.StoreRecord) (string, error)
	Update(ctx context.Context, recordID string, patch domain.RecordPatch) error
}

type Source interface {
	ID() string
	Name() string
	FetchListings(ctx context.Context, city string) ([]domain.RawListing, error)
}

// GeoEnricher resolves derived location fields. A false result means the
// value is unresolved for this run.
type GeoEnricher interface {
	ResolveZip(ctx context.Context, street, city string) (string, bool)
	TravelTime(ctx context.Context, origin string, ref domain.ReferencePoint) (string, bool)
	Origin(l domain.Listing) string
}

type ScoreLookup interface {
	Lookup(zip string) (float64, bool)
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.ListingEvent) error
	Close() error
}

type RunStateStore interface {
	Get(ctx context.Context, sourceID string) (*domain.RunState, error)
	Update(ctx context.Context, state *domain.RunState) error
}

type Metrics interface {
	RecordOutcome(action domain.Action)
	RecordFailure(stage string)
	RecordUnresolved(field string, n int)
	RecordLookupsSkipped(n int)
	RecordRun(report *domain.RunReport, d time.Duration)
}
