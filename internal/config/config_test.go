package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"house_hunter/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_NamedOptionsAndExpansion(t *testing.T) {
	t.Setenv("TEST_MAPS_KEY", "maps-secret")
	path := writeConfig(t, `
api_key: ${TEST_MAPS_KEY}
store_credential: notion-secret
store_target_id: db-123
reference_point_1: Stationsplein 1, Utrecht
reference_point_2: Piet Heinkade 55, Amsterdam
score_source: testdata/scores.csv
source:
  cities: [leusden, amersfoort]
pipeline:
  concurrency: 2
  interval: 1h
  schedule: "CRON_TZ=Europe/Amsterdam 0 7 * * *"
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "maps-secret", cfg.APIKey)
	assert.Equal(t, "notion-secret", cfg.StoreCredential)
	assert.Equal(t, "db-123", cfg.StoreTargetID)
	assert.Equal(t, "testdata/scores.csv", cfg.ScoreSource)
	assert.Equal(t, []domain.ReferencePoint{
		{Name: "reference_point_1", Address: "Stationsplein 1, Utrecht"},
		{Name: "reference_point_2", Address: "Piet Heinkade 55, Amsterdam"},
	}, cfg.ReferencePoints)
	assert.Equal(t, cfg.ReferencePoints, cfg.Pipeline.ReferencePoints)
	assert.Equal(t, []string{"leusden", "amersfoort"}, cfg.Pipeline.Cities)
	assert.Equal(t, 2, cfg.Pipeline.Concurrency)
	assert.Equal(t, time.Hour, cfg.Pipeline.Interval)
	assert.Equal(t, "CRON_TZ=Europe/Amsterdam 0 7 * * *", cfg.Pipeline.Schedule)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SCORE_SOURCE", "")
	path := writeConfig(t, `
api_key: k
store_credential: s
store_target_id: d
reference_points:
  - name: office_s
    address: Stationsplein 1, Utrecht
    property: Time to office S.
source:
  cities: [leusden]
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, StoreNotion, cfg.Store.Driver)
	assert.Equal(t, "https://api.notion.com", cfg.Store.BaseURL)
	assert.Equal(t, "data/scores.csv", cfg.ScoreSource)
	assert.Equal(t, "Netherlands", cfg.Geo.Country)
	assert.Equal(t, "transit", cfg.Geo.TravelMode)
	require.NotNil(t, cfg.Geo.DepartureHour)
	assert.Equal(t, 8, *cfg.Geo.DepartureHour)
	assert.Equal(t, 5, cfg.Geo.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Geo.MinInterval)
	assert.Equal(t, "koop", cfg.Source.SearchType)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Zero(t, cfg.Pipeline.RunTimeout)
	assert.Equal(t, time.Duration(0), cfg.Pipeline.Interval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "Time to office S.", cfg.ReferencePoints[0].PropertyName())
}

func TestLoad_MidnightDepartureKept(t *testing.T) {
	path := writeConfig(t, `
api_key: k
store_credential: s
store_target_id: d
reference_point_1: Stationsplein 1, Utrecht
source:
  cities: [leusden]
geo:
  departure_hour: 0
pipeline:
  run_timeout: 45m
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	require.NotNil(t, cfg.Geo.DepartureHour)
	assert.Equal(t, 0, *cfg.Geo.DepartureHour)
	assert.Equal(t, 45*time.Minute, cfg.Pipeline.RunTimeout)
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "env-key")
	t.Setenv("NOTION_SECRET", "env-secret")
	t.Setenv("NOTION_DATABASE_ID", "env-db")
	t.Setenv("OFFICE_S", "Office S")
	t.Setenv("OFFICE_V", "Office V")
	t.Setenv("CITIES", "leusden, utrecht")
	t.Setenv("FUNDA_SEARCH_MIN_PRICE", "200000")
	t.Setenv("FUNDA_SEARCH_MAX_PRICE", "450000")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, "env-secret", cfg.StoreCredential)
	assert.Equal(t, "env-db", cfg.StoreTargetID)
	assert.Len(t, cfg.ReferencePoints, 2)
	assert.Equal(t, []string{"leusden", "utrecht"}, cfg.Source.Cities)
	assert.Equal(t, 200000, cfg.Source.MinPrice)
	assert.Equal(t, 450000, cfg.Source.MaxPrice)
}

func TestLoad_ValidationErrors(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("CITIES", "")
	path := writeConfig(t, `
store:
  driver: postgres
reference_points:
  - name: a
    address: x
  - name: a
    address: y
`)

	_, err := Load(path)

	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "api_key is required")
	assert.Contains(t, msg, "duplicate name")
	assert.Contains(t, msg, "source.cities is required")
	assert.Contains(t, msg, "database.dbname is required")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "api_key: [unclosed")

	_, err := Load(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDatabaseConfig(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "houses", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5433 user=u password=p dbname=houses sslmode=disable", d.DSN())
	assert.Equal(t, "postgres://u:p@db:5433/houses?sslmode=disable", d.URL())
}
