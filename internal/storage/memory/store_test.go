package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"house_hunter/internal/domain"
)

func TestStore_CreateFindUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	rec, err := s.Find(ctx, "43669755")
	require.NoError(t, err)
	assert.Nil(t, rec)

	zip := "3831 KC"
	recordID, err := s.Create(ctx, domain.NewStoreRecord(domain.EnrichedListing{
		Listing:     domain.Listing{ID: "43669755", Price: 350000, StreetAddress: "Rondeel 79", City: "Leusden"},
		ZipCode:     &zip,
		TravelTimes: domain.TravelTimes{"office_s": "38 mins"},
	}))
	require.NoError(t, err)
	assert.NotEmpty(t, recordID)

	price := int64(340000)
	require.NoError(t, s.Update(ctx, recordID, domain.RecordPatch{
		Price:       &price,
		TravelTimes: domain.TravelTimes{"office_v": "1 hour 2 mins"},
	}))

	rec, err = s.Find(ctx, "43669755")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, recordID, rec.RecordID)
	assert.Equal(t, int64(340000), rec.Price)
	assert.Equal(t, domain.StatusNew, rec.Status)
	assert.Equal(t, domain.TravelTimes{"office_s": "38 mins", "office_v": "1 hour 2 mins"}, rec.TravelTimes)
	assert.Equal(t, 2, s.Writes())
}

func TestStore_CreateDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rec := domain.NewStoreRecord(domain.EnrichedListing{Listing: domain.Listing{ID: "1"}})

	_, err := s.Create(ctx, rec)
	require.NoError(t, err)
	_, err = s.Create(ctx, rec)

	assert.Error(t, err)
}

func TestStore_UpdateUnknownRecord(t *testing.T) {
	err := NewStore().Update(context.Background(), "missing", domain.RecordPatch{})

	assert.Error(t, err)
}

func TestStore_FindReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	viewed := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	s.Put(&domain.StoreRecord{
		RecordID:        "rec-1",
		EnrichedListing: domain.EnrichedListing{Listing: domain.Listing{ID: "1"}, TravelTimes: domain.TravelTimes{"a": "5 mins"}},
		Status:          domain.StatusViewed,
		ViewedOn:        &viewed,
	})

	rec, err := s.Find(ctx, "1")
	require.NoError(t, err)
	rec.TravelTimes["a"] = "changed"
	rec.Status = domain.StatusRejected

	again, err := s.Find(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "5 mins", again.TravelTimes["a"])
	assert.Equal(t, domain.StatusViewed, again.Status)
	assert.Len(t, s.All(), 1)
}
