package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"house_hunter/internal/domain"
)

type listingRow struct {
	RecordID      string             `db:"record_id"`
	ListingID     string             `db:"listing_id"`
	URL           string             `db:"url"`
	Price         int64              `db:"price"`
	StreetAddress string             `db:"street_address"`
	City          string             `db:"city"`
	ZipCode       sql.NullString     `db:"zip_code"`
	TravelTimes   domain.TravelTimes `db:"travel_times"`
	LifeScore     sql.NullFloat64    `db:"life_score"`
	Status        string             `db:"status"`
	Comment       string             `db:"comment"`
	ViewedOn      sql.NullTime       `db:"viewed_on"`
}

func (r listingRow) toRecord() *domain.StoreRecord {
	rec := &domain.StoreRecord{
		RecordID: r.RecordID,
		EnrichedListing: domain.EnrichedListing{
			Listing: domain.Listing{
				ID:            r.ListingID,
				URL:           r.URL,
				Price:         r.Price,
				StreetAddress: r.StreetAddress,
				City:          r.City,
			},
			TravelTimes: r.TravelTimes,
		},
		Status:  domain.Status(r.Status),
		Comment: r.Comment,
	}
	if r.ZipCode.Valid {
		zip := r.ZipCode.String
		rec.ZipCode = &zip
	}
	if r.LifeScore.Valid {
		score := r.LifeScore.Float64
		rec.LifeScore = &score
	}
	if r.ViewedOn.Valid {
		viewed := r.ViewedOn.Time
		rec.ViewedOn = &viewed
	}
	if rec.TravelTimes == nil {
		rec.TravelTimes = domain.TravelTimes{}
	}
	return rec
}

// ListingStore is the self-hosted record store. Every price a listing was
// stored with is kept in price_history.
type ListingStore struct {
	db *sqlx.DB
}

func NewListingStore(db *sqlx.DB) *ListingStore {
	return &ListingStore{db: db}
}

func (s *ListingStore) Find(ctx context.Context, listingID string) (*domain.StoreRecord, error) {
	query := `
		SELECT record_id, listing_id, url, price, street_address, city, zip_code,
			travel_times, life_score, status, comment, viewed_on
		FROM listings
		WHERE listing_id = $1`

	var row listingRow
	err := s.db.GetContext(ctx, &row, query, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toRecord(), nil
}

func (s *ListingStore) Create(ctx context.Context, record *domain.StoreRecord) (string, error) {
	recordID := uuid.NewString()
	status := record.Status
	if status == "" {
		status = domain.StatusNew
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO listings (
				record_id, listing_id, url, price, street_address, city, zip_code,
				travel_times, life_score, status, comment, viewed_on
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
			)`

		_, err := tx.ExecContext(ctx, query,
			recordID,
			record.ID,
			record.URL,
			record.Price,
			record.StreetAddress,
			record.City,
			record.ZipCode,
			record.TravelTimes,
			record.LifeScore,
			string(status),
			record.Comment,
			record.ViewedOn,
		)
		if err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}

		return recordPrice(ctx, tx, recordID, record.Price)
	})
	if err != nil {
		return "", err
	}
	return recordID, nil
}

// Update sets only the patched columns. Travel times are merged into the
// stored object, so references missing from the patch are kept.
func (s *ListingStore) Update(ctx context.Context, recordID string, patch domain.RecordPatch) error {
	var (
		sets []string
		args []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.URL != nil {
		add("url = $%d", *patch.URL)
	}
	if patch.Price != nil {
		add("price = $%d", *patch.Price)
	}
	if patch.StreetAddress != nil {
		add("street_address = $%d", *patch.StreetAddress)
	}
	if patch.City != nil {
		add("city = $%d", *patch.City)
	}
	if patch.ZipCode != nil {
		add("zip_code = $%d", *patch.ZipCode)
	}
	if len(patch.TravelTimes) > 0 {
		add("travel_times = travel_times || $%d::jsonb", patch.TravelTimes)
	}
	if patch.LifeScore != nil {
		add("life_score = $%d", *patch.LifeScore)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, recordID)
	query := fmt.Sprintf(
		"UPDATE listings SET %s, updated_at = NOW() WHERE record_id = $%d",
		strings.Join(sets, ", "), len(args),
	)

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update listing: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("record %s not found", recordID)
		}
		if patch.Price != nil {
			return recordPrice(ctx, tx, recordID, *patch.Price)
		}
		return nil
	})
}

// PriceHistory returns the recorded prices of a listing, oldest first.
func (s *ListingStore) PriceHistory(ctx context.Context, listingID string) ([]PricePoint, error) {
	query := `
		SELECT ph.price, ph.recorded_at
		FROM price_history ph
		JOIN listings l ON l.record_id = ph.record_id
		WHERE l.listing_id = $1
		ORDER BY ph.recorded_at, ph.id`

	var points []PricePoint
	if err := s.db.SelectContext(ctx, &points, query, listingID); err != nil {
		return nil, err
	}
	return points, nil
}

type PricePoint struct {
	Price      int64     `db:"price"`
	RecordedAt time.Time `db:"recorded_at"`
}

func recordPrice(ctx context.Context, tx *sqlx.Tx, recordID string, price int64) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO price_history (record_id, price) VALUES ($1, $2)",
		recordID, price,
	)
	if err != nil {
		return fmt.Errorf("record price: %w", err)
	}
	return nil
}

func (s *ListingStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
