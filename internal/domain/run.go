package domain

import "time"

// Action is the reconciliation decision for one listing.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionNoOp   Action = "noop"
	ActionFailed Action = "failed"
)

// Pipeline stages a failure can be attributed to.
const (
	StageNormalize = "normalize"
	StageLookup    = "lookup"
	StageWrite     = "write"
)

// Outcome is the result of processing one listing.
type Outcome struct {
	ListingID string
	Action    Action
	Changed   []string
	Stage     string
	Err       error

	UnresolvedZip    bool
	UnresolvedTravel int
	UnknownScore     bool
	LookupsSkipped   int
	Published        bool
	PublishFailed    bool
}

// Failure is a listing that did not make it into the store this run.
type Failure struct {
	ListingID string `json:"listing_id"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
}

// RunReport summarizes one pipeline run. Partial success is the normal case.
type RunReport struct {
	RunID     string
	SourceID  string
	StartedAt time.Time

	Fetched    int
	Malformed  int
	Duplicates int

	Created   int
	Updated   int
	Unchanged int
	Failed    int

	UnresolvedZip    int
	UnresolvedTravel int
	UnknownScore     int
	LookupsSkipped   int

	Published     int
	PublishErrors int

	Failures    []Failure
	Interrupted bool
	Duration    time.Duration
}

// Record folds one listing outcome into the report.
func (r *RunReport) Record(o Outcome) {
	switch o.Action {
	case ActionCreate:
		r.Created++
	case ActionUpdate:
		r.Updated++
	case ActionNoOp:
		r.Unchanged++
	case ActionFailed:
		r.Failed++
		reason := ""
		if o.Err != nil {
			reason = o.Err.Error()
		}
		r.Failures = append(r.Failures, Failure{ListingID: o.ListingID, Stage: o.Stage, Reason: reason})
	}

	if o.UnresolvedZip {
		r.UnresolvedZip++
	}
	if o.UnknownScore {
		r.UnknownScore++
	}
	r.UnresolvedTravel += o.UnresolvedTravel
	r.LookupsSkipped += o.LookupsSkipped

	if o.Published {
		r.Published++
	}
	if o.PublishFailed {
		r.PublishErrors++
	}
}

// RecordMalformed notes a raw listing the normalizer rejected.
func (r *RunReport) RecordMalformed(listingID string, err error) {
	r.Malformed++
	r.Failures = append(r.Failures, Failure{ListingID: listingID, Stage: StageNormalize, Reason: err.Error()})
}

// ListingEvent is published after a committed create or update.
type ListingEvent struct {
	RunID   string          `json:"run_id"`
	Action  Action          `json:"action"`
	Changed []string        `json:"changed,omitempty"`
	Listing EnrichedListing `json:"listing"`
}

// RunState is the cumulative history kept per source.
type RunState struct {
	ID           int64     `db:"id"`
	SourceID     string    `db:"source_id"`
	LastRunAt    time.Time `db:"last_run_at"`
	LastRunID    string    `db:"last_run_id"`
	TotalCreated int64     `db:"total_created"`
	TotalUpdated int64     `db:"total_updated"`
	TotalFailed  int64     `db:"total_failed"`
}
