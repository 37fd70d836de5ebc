package domain

import "errors"

var (
	// ErrMalformedListing marks source data that cannot become a Listing.
	ErrMalformedListing = errors.New("malformed listing")
	// ErrTransientProvider marks provider failures worth retrying.
	ErrTransientProvider = errors.New("transient provider error")
	// ErrPermanentProvider marks provider failures retrying cannot fix.
	ErrPermanentProvider = errors.New("permanent provider error")
	// ErrScoreTableLoad aborts a run before any listing is processed.
	ErrScoreTableLoad = errors.New("score table load error")
	// ErrStoreWrite marks a rejected create or update for one listing.
	ErrStoreWrite = errors.New("store write error")
)
