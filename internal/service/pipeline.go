package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"house_hunter/internal/domain"
	"house_hunter/internal/listing"
)

// PipelineConfig is threaded through a run; nothing is read from globals.
type PipelineConfig struct {
	Cities          []string
	ReferencePoints []domain.ReferencePoint
	Concurrency     int
}

// Pipeline runs Normalize, Enrich and Reconcile over one source batch.
type Pipeline struct {
	source     Source
	geo        GeoEnricher
	scores     ScoreLookup
	reconciler *Reconciler
	runState   RunStateStore
	publisher  Publisher
	metrics    Metrics
	logger     *slog.Logger
	config     PipelineConfig
}

// NewPipeline wires a pipeline. runState, publisher and metrics may be nil.
func NewPipeline(
	source Source,
	store RecordStore,
	geo GeoEnricher,
	scores ScoreLookup,
	runState RunStateStore,
	publisher Publisher,
	metrics Metrics,
	logger *slog.Logger,
	cfg PipelineConfig,
) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	logger = logger.With("source", source.ID())

	return &Pipeline{
		source:     source,
		geo:        geo,
		scores:     scores,
		reconciler: NewReconciler(store, logger),
		runState:   runState,
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger,
		config:     cfg,
	}
}

// Run processes one batch. The report is returned even when err is non-nil;
// err is set only when no listing could be fetched at all or the run state
// could not be saved.
func (p *Pipeline) Run(ctx context.Context) (*domain.RunReport, error) {
	report := &domain.RunReport{
		RunID:     uuid.NewString(),
		SourceID:  p.source.ID(),
		StartedAt: time.Now(),
	}
	logger := p.logger.With("run_id", report.RunID)

	logger.Info("starting run",
		"source_name", p.source.Name(),
		"cities", p.config.Cities,
		"reference_points", len(p.config.ReferencePoints),
		"concurrency", p.config.Concurrency,
	)

	raw, err := p.fetch(ctx, logger)
	if err != nil {
		report.Interrupted = ctx.Err() != nil
		report.Duration = time.Since(report.StartedAt)
		return report, err
	}
	report.Fetched = len(raw)

	listings := p.normalize(raw, report, logger)
	logger.Info("listings to process",
		"count", len(listings),
		"malformed", report.Malformed,
		"duplicates", report.Duplicates,
	)

	outcomes := p.process(ctx, report.RunID, listings)
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		report.Record(*o)
	}
	if ctx.Err() != nil {
		report.Interrupted = true
		logger.Warn("run interrupted", "processed", countDone(outcomes), "total", len(listings))
	}

	report.Duration = time.Since(report.StartedAt)

	var runErr error
	if p.runState != nil {
		// The state write must survive an interrupted run.
		if err := p.updateRunState(context.WithoutCancel(ctx), report); err != nil {
			runErr = fmt.Errorf("update run state: %w", err)
		}
	}
	if p.metrics != nil {
		p.metrics.RecordRun(report, report.Duration)
	}

	logger.Info("run completed",
		"fetched", report.Fetched,
		"malformed", report.Malformed,
		"duplicates", report.Duplicates,
		"created", report.Created,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
		"unresolved_zip", report.UnresolvedZip,
		"unresolved_travel", report.UnresolvedTravel,
		"unknown_score", report.UnknownScore,
		"lookups_skipped", report.LookupsSkipped,
		"published", report.Published,
		"publish_errors", report.PublishErrors,
		"interrupted", report.Interrupted,
		"duration", report.Duration,
	)

	return report, runErr
}

// fetch queries every city. A failing city is skipped; only a run where
// every city fails returns an error.
func (p *Pipeline) fetch(ctx context.Context, logger *slog.Logger) ([]domain.RawListing, error) {
	var (
		all  []domain.RawListing
		errs []error
	)

	for _, city := range p.config.Cities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := p.source.FetchListings(ctx, city)
		switch {
		case err != nil && len(raw) == 0:
			logger.Error("fetch listings failed", "city", city, "error", err)
			errs = append(errs, fmt.Errorf("city %s: %w", city, err))
			continue
		case err != nil:
			// Pages read before the failure are still processed.
			logger.Warn("fetch listings incomplete", "city", city, "count", len(raw), "error", err)
		default:
			logger.Info("fetched listings", "city", city, "count", len(raw))
		}
		all = append(all, raw...)
	}

	if len(errs) > 0 && len(errs) == len(p.config.Cities) {
		return nil, fmt.Errorf("fetch listings: %w", errors.Join(errs...))
	}
	return all, nil
}

// normalize drops malformed records and keeps the first occurrence of each id.
func (p *Pipeline) normalize(raw []domain.RawListing, report *domain.RunReport, logger *slog.Logger) []domain.Listing {
	seen := make(map[string]bool, len(raw))
	listings := make([]domain.Listing, 0, len(raw))

	for _, r := range raw {
		l, err := listing.Normalize(r)
		if err != nil {
			logger.Warn("skipping malformed listing", "listing_id", r.ID, "url", r.URL, "error", err)
			report.RecordMalformed(r.ID, err)
			if p.metrics != nil {
				p.metrics.RecordFailure(domain.StageNormalize)
			}
			continue
		}
		if seen[l.ID] {
			report.Duplicates++
			continue
		}
		seen[l.ID] = true
		listings = append(listings, l)
	}

	return listings
}

// process fans listings out over a bounded worker group. A nil entry means the
// listing was abandoned because the run was canceled.
func (p *Pipeline) process(ctx context.Context, runID string, listings []domain.Listing) []*domain.Outcome {
	outcomes := make([]*domain.Outcome, len(listings))

	var g errgroup.Group
	g.SetLimit(p.config.Concurrency)

	for i, l := range listings {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if o, ok := p.processListing(ctx, runID, l); ok {
				outcomes[i] = &o
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (p *Pipeline) processListing(ctx context.Context, runID string, l domain.Listing) (domain.Outcome, bool) {
	if ctx.Err() != nil {
		return domain.Outcome{}, false
	}

	existing, err := p.reconciler.Existing(ctx, l.ID)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Outcome{}, false
		}
		p.logger.Error("store lookup failed", "listing_id", l.ID, "error", err)
		out := failed(domain.Outcome{ListingID: l.ID}, domain.StageLookup, err)
		p.observe(out)
		return out, true
	}

	enriched, stats := p.enrich(ctx, l, existing)

	// Enrichment degraded by cancellation is not written.
	if ctx.Err() != nil {
		return domain.Outcome{}, false
	}

	out := p.reconciler.Reconcile(ctx, existing, enriched)
	out.UnresolvedZip = stats.UnresolvedZip
	out.UnresolvedTravel = stats.UnresolvedTravel
	out.UnknownScore = stats.UnknownScore
	out.LookupsSkipped = stats.LookupsSkipped

	if out.Action == domain.ActionCreate || out.Action == domain.ActionUpdate {
		p.publish(ctx, runID, &out, enriched)
	}

	p.observe(out)
	return out, true
}

// enrich resolves the derived fields of l, reusing values already resolved
// in the stored record for the same address instead of calling the provider.
func (p *Pipeline) enrich(ctx context.Context, l domain.Listing, existing *domain.StoreRecord) (domain.EnrichedListing, domain.Outcome) {
	var stats domain.Outcome
	enriched := domain.EnrichedListing{
		Listing:     l,
		TravelTimes: domain.TravelTimes{},
	}

	sameAddress := existing != nil &&
		existing.StreetAddress == l.StreetAddress &&
		existing.City == l.City

	if sameAddress && existing.ZipCode != nil {
		zip := *existing.ZipCode
		enriched.ZipCode = &zip
		stats.LookupsSkipped++
	} else if zip, ok := p.geo.ResolveZip(ctx, l.StreetAddress, l.City); ok {
		enriched.ZipCode = &zip
	} else {
		stats.UnresolvedZip = true
	}

	if enriched.ZipCode != nil {
		if score, ok := p.scores.Lookup(*enriched.ZipCode); ok {
			enriched.LifeScore = &score
		}
	}
	stats.UnknownScore = enriched.LifeScore == nil

	origin := p.geo.Origin(l)
	for _, ref := range p.config.ReferencePoints {
		if sameAddress {
			if d := existing.TravelTimes[ref.Name]; d != "" {
				enriched.TravelTimes[ref.Name] = d
				stats.LookupsSkipped++
				continue
			}
		}
		if d, ok := p.geo.TravelTime(ctx, origin, ref); ok {
			enriched.TravelTimes[ref.Name] = d
		} else {
			stats.UnresolvedTravel++
		}
	}

	enriched.Partial = stats.UnresolvedZip || stats.UnresolvedTravel > 0

	return enriched, stats
}

func (p *Pipeline) publish(ctx context.Context, runID string, out *domain.Outcome, l domain.EnrichedListing) {
	if p.publisher == nil {
		return
	}

	event := &domain.ListingEvent{
		RunID:   runID,
		Action:  out.Action,
		Changed: out.Changed,
		Listing: l,
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Error("publish failed", "listing_id", l.ID, "action", out.Action, "error", err)
		out.PublishFailed = true
		return
	}
	out.Published = true
}

func (p *Pipeline) observe(out domain.Outcome) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordOutcome(out.Action)
	if out.Action == domain.ActionFailed {
		p.metrics.RecordFailure(out.Stage)
	}
	if out.UnresolvedZip {
		p.metrics.RecordUnresolved("zip_code", 1)
	}
	if out.UnresolvedTravel > 0 {
		p.metrics.RecordUnresolved("travel_time", out.UnresolvedTravel)
	}
	if out.LookupsSkipped > 0 {
		p.metrics.RecordLookupsSkipped(out.LookupsSkipped)
	}
}

func (p *Pipeline) updateRunState(ctx context.Context, report *domain.RunReport) error {
	state, err := p.runState.Get(ctx, report.SourceID)
	if err != nil {
		return err
	}

	state.SourceID = report.SourceID
	state.LastRunAt = report.StartedAt
	state.LastRunID = report.RunID
	state.TotalCreated += int64(report.Created)
	state.TotalUpdated += int64(report.Updated)
	state.TotalFailed += int64(report.Failed)

	return p.runState.Update(ctx, state)
}

func countDone(outcomes []*domain.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o != nil {
			n++
		}
	}
	return n
}
