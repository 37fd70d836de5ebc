package service

import (
	"context"
	"fmt"
	"log/slog"

	"house_hunter/internal/domain"
)

// Reconciler decides per listing whether the store needs a create, an update
// or nothing, and performs the write. It is the only reader of store state.
type Reconciler struct {
	store  RecordStore
	logger *slog.Logger
}

func NewReconciler(store RecordStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger.With("component", "reconciler"),
	}
}

// Existing looks up the stored record for listingID, nil when absent.
func (r *Reconciler) Existing(ctx context.Context, listingID string) (*domain.StoreRecord, error) {
	rec, err := r.store.Find(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("find listing %s: %w", listingID, err)
	}
	return rec, nil
}

// Reconcile applies the planned action for incoming. Store errors are
// reported in the outcome, never returned.
func (r *Reconciler) Reconcile(ctx context.Context, existing *domain.StoreRecord, incoming domain.EnrichedListing) domain.Outcome {
	action, patch := Plan(existing, incoming)
	out := domain.Outcome{ListingID: incoming.ID, Action: action}
	logger := r.logger.With("listing_id", incoming.ID)

	switch action {
	case domain.ActionCreate:
		recordID, err := r.store.Create(ctx, domain.NewStoreRecord(incoming))
		if err != nil {
			return failed(out, domain.StageWrite, fmt.Errorf("%w: create: %v", domain.ErrStoreWrite, err))
		}
		logger.Info("listing created", "record_id", recordID, "price", incoming.Price)

	case domain.ActionUpdate:
		out.Changed = patch.Fields()
		if err := r.store.Update(ctx, existing.RecordID, patch); err != nil {
			return failed(out, domain.StageWrite, fmt.Errorf("%w: update %s: %v", domain.ErrStoreWrite, existing.RecordID, err))
		}
		logger.Info("listing updated", "record_id", existing.RecordID, "fields", out.Changed)

	case domain.ActionNoOp:
		logger.Debug("listing unchanged", "record_id", existing.RecordID)
	}

	return out
}

// Plan compares incoming against the stored record. Unresolved incoming
// fields never replace a stored value, a moved address waits for its
// enrichment, and operator-owned fields are never part of a patch.
func Plan(existing *domain.StoreRecord, incoming domain.EnrichedListing) (domain.Action, domain.RecordPatch) {
	if existing == nil {
		return domain.ActionCreate, domain.RecordPatch{}
	}

	var patch domain.RecordPatch

	if incoming.URL != "" && incoming.URL != existing.URL {
		v := incoming.URL
		patch.URL = &v
	}
	if incoming.Price != existing.Price {
		v := incoming.Price
		patch.Price = &v
	}
	// The stored address keys reuse of stored enrichment, so a moved address
	// is only written once everything derived from it has been resolved.
	// Until then every run sees a different address and looks it up again.
	moved := (incoming.StreetAddress != "" && incoming.StreetAddress != existing.StreetAddress) ||
		(incoming.City != "" && incoming.City != existing.City)
	if moved && incoming.ZipCode != nil && !incoming.Partial {
		if incoming.StreetAddress != "" && incoming.StreetAddress != existing.StreetAddress {
			v := incoming.StreetAddress
			patch.StreetAddress = &v
		}
		if incoming.City != "" && incoming.City != existing.City {
			v := incoming.City
			patch.City = &v
		}
	}
	if incoming.ZipCode != nil && (existing.ZipCode == nil || *existing.ZipCode != *incoming.ZipCode) {
		v := *incoming.ZipCode
		patch.ZipCode = &v
	}
	for ref, d := range incoming.TravelTimes {
		if d == "" {
			continue
		}
		if stored, ok := existing.TravelTimes[ref]; !ok || stored != d {
			if patch.TravelTimes == nil {
				patch.TravelTimes = domain.TravelTimes{}
			}
			patch.TravelTimes[ref] = d
		}
	}
	if incoming.LifeScore != nil && (existing.LifeScore == nil || *existing.LifeScore != *incoming.LifeScore) {
		v := *incoming.LifeScore
		patch.LifeScore = &v
	}

	if patch.IsEmpty() {
		return domain.ActionNoOp, patch
	}
	return domain.ActionUpdate, patch
}

func failed(out domain.Outcome, stage string, err error) domain.Outcome {
	out.Action = domain.ActionFailed
	out.Stage = stage
	out.Err = err
	return out
}
