package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RawListing is a listing exactly as the source provider returned it.
type RawListing struct {
	ID      string
	URL     string
	Price   string
	Address string
	City    string
}

// Listing is a normalized real-estate offer. ID never changes once assigned.
type Listing struct {
	ID            string `json:"listing_id"`
	URL           string `json:"url"`
	Price         int64  `json:"price"`
	StreetAddress string `json:"street_address"`
	City          string `json:"city"`
}

// FullAddress is the geocodable form of the listing address.
func (l Listing) FullAddress(country string) string {
	if country == "" {
		return fmt.Sprintf("%s, %s", l.StreetAddress, l.City)
	}
	return fmt.Sprintf("%s, %s, %s", l.StreetAddress, l.City, country)
}

// ReferencePoint is a named destination travel times are measured to.
type ReferencePoint struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Property string `yaml:"property"` // store column, defaults to "Time to <name>"
}

func (r ReferencePoint) PropertyName() string {
	if r.Property != "" {
		return r.Property
	}
	return "Time to " + r.Name
}

// TravelTimes maps a reference point name to a human-readable duration.
type TravelTimes map[string]string

// Value encodes the map as a JSON string, the form a jsonb parameter accepts.
func (t TravelTimes) Value() (driver.Value, error) {
	if t == nil {
		return "{}", nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (t *TravelTimes) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*t = TravelTimes{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan travel times: unsupported type %T", src)
	}
	out := TravelTimes{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("scan travel times: %w", err)
	}
	*t = out
	return nil
}

// EnrichedListing is a Listing plus derived geographic fields.
// A nil ZipCode or LifeScore, or a missing TravelTimes key, means unresolved.
type EnrichedListing struct {
	Listing
	ZipCode     *string     `json:"zip_code,omitempty"`
	TravelTimes TravelTimes `json:"travel_times,omitempty"`
	LifeScore   *float64    `json:"life_score,omitempty"`

	// Partial is set when a lookup for this address failed in this run.
	// It is never stored.
	Partial bool `json:"-"`
}

// Status is the workflow state an operator keeps on a stored listing.
type Status string

const (
	StatusNew        Status = "New"
	StatusInterested Status = "Interested"
	StatusScheduled  Status = "Viewing scheduled"
	StatusViewed     Status = "Viewed"
	StatusOffered    Status = "Offer made"
	StatusRejected   Status = "Rejected"
	StatusArchived   Status = "Archived"
)

var ValidStatuses = []Status{
	StatusNew, StatusInterested, StatusScheduled, StatusViewed,
	StatusOffered, StatusRejected, StatusArchived,
}

func (s Status) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// StoreRecord is the record store's view of a listing. Status, Comment and
// ViewedOn are owned by the operator: written once with defaults at creation
// and never touched afterwards.
type StoreRecord struct {
	RecordID string
	EnrichedListing
	Status   Status
	Comment  string
	ViewedOn *time.Time
}

// NewStoreRecord builds the record created the first time a listing is seen.
func NewStoreRecord(l EnrichedListing) *StoreRecord {
	l.Partial = false
	return &StoreRecord{
		EnrichedListing: l,
		Status:          StatusNew,
	}
}

// RecordPatch names the non-operator fields an update overwrites. Nil fields
// and missing TravelTimes keys are left as stored.
type RecordPatch struct {
	URL           *string
	Price         *int64
	StreetAddress *string
	City          *string
	ZipCode       *string
	TravelTimes   TravelTimes
	LifeScore     *float64
}

func (p RecordPatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Fields lists the changed field names in a stable order.
func (p RecordPatch) Fields() []string {
	var fields []string
	if p.URL != nil {
		fields = append(fields, "url")
	}
	if p.Price != nil {
		fields = append(fields, "price")
	}
	if p.StreetAddress != nil {
		fields = append(fields, "address")
	}
	if p.City != nil {
		fields = append(fields, "city")
	}
	if p.ZipCode != nil {
		fields = append(fields, "zip_code")
	}
	if len(p.TravelTimes) > 0 {
		fields = append(fields, "travel_times")
	}
	if p.LifeScore != nil {
		fields = append(fields, "life_score")
	}
	return fields
}

// Apply writes the patch onto r, leaving operator-owned fields alone.
func (p RecordPatch) Apply(r *StoreRecord) {
	if p.URL != nil {
		r.URL = *p.URL
	}
	if p.Price != nil {
		r.Price = *p.Price
	}
	if p.StreetAddress != nil {
		r.StreetAddress = *p.StreetAddress
	}
	if p.City != nil {
		r.City = *p.City
	}
	if p.ZipCode != nil {
		zip := *p.ZipCode
		r.ZipCode = &zip
	}
	if len(p.TravelTimes) > 0 {
		if r.TravelTimes == nil {
			r.TravelTimes = TravelTimes{}
		}
		for k, v := range p.TravelTimes {
			r.TravelTimes[k] = v
		}
	}
	if p.LifeScore != nil {
		score := *p.LifeScore
		r.LifeScore = &score
	}
}
