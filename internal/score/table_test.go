package score

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"house_hunter/internal/domain"
)

func TestLookup_KnownAndUnknown(t *testing.T) {
	table, err := Load(strings.NewReader("PC4,afw\n1082,7.5\n3521,6.1\n"), DefaultColumns)
	require.NoError(t, err)

	score, ok := table.Lookup("1082ME")
	assert.True(t, ok)
	assert.Equal(t, 7.5, score)

	score, ok = table.Lookup("3521 AB")
	assert.True(t, ok)
	assert.Equal(t, 6.1, score)

	_, ok = table.Lookup("9999XX")
	assert.False(t, ok)

	_, ok = table.Lookup("108")
	assert.False(t, ok)

	_, ok = table.Lookup("")
	assert.False(t, ok)
}

func TestLoad_DuplicatePrefixLastWins(t *testing.T) {
	table, err := Load(strings.NewReader("PC4,afw\n1082,7.5\n1082,3.0\n"), DefaultColumns)
	require.NoError(t, err)

	score, ok := table.Lookup("1082")
	assert.True(t, ok)
	assert.Equal(t, 3.0, score)
	assert.Equal(t, 1, table.Len())
}

func TestLoad_KeepsLatestYear(t *testing.T) {
	csv := "PC4,jaar,afw\n1082,2018,1.0\n1082,2020,2.0\n3521,2018,4.0\n3521,2020,5.0\n7000,2018,9.0\n"

	table, err := Load(strings.NewReader(csv), DefaultColumns)
	require.NoError(t, err)

	assert.Equal(t, 2020, table.Year())
	score, _ := table.Lookup("1082AB")
	assert.Equal(t, 2.0, score)
	score, _ = table.Lookup("3521AB")
	assert.Equal(t, 5.0, score)
	_, ok := table.Lookup("7000AB")
	assert.False(t, ok)
}

func TestLoad_SkipsUnusableRows(t *testing.T) {
	csv := "PC4,afw\n1082,7.5\nabcd,1.0\n3521,n/a\n12345,2.0\n982,0.4\n"

	table, err := Load(strings.NewReader(csv), DefaultColumns)
	require.NoError(t, err)

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 3, table.Skipped())
	score, ok := table.Lookup("0982AA")
	assert.True(t, ok)
	assert.Equal(t, 0.4, score)
}

func TestLoad_SkipsNonFiniteScores(t *testing.T) {
	csv := "PC4,afw\n1082,NaN\n3521,+Inf\n3831,-inf\n3832,0.12\n"

	table, err := Load(strings.NewReader(csv), DefaultColumns)
	require.NoError(t, err)

	assert.Equal(t, 1, table.Len())
	assert.Equal(t, 3, table.Skipped())
	_, ok := table.Lookup("1082AB")
	assert.False(t, ok)
	_, ok = table.Lookup("3521BC")
	assert.False(t, ok)
	score, ok := table.Lookup("3832AA")
	assert.True(t, ok)
	assert.Equal(t, 0.12, score)
}

func TestLoad_MissingColumns(t *testing.T) {
	_, err := Load(strings.NewReader("postcode,score\n1082,7.5\n"), DefaultColumns)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrScoreTableLoad)
}

func TestLoad_Empty(t *testing.T) {
	_, err := Load(strings.NewReader(""), DefaultColumns)

	assert.ErrorIs(t, err, domain.ErrScoreTableLoad)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scores.csv")

	_, err := LoadFile(filepath.Join(dir, "missing.csv"), DefaultColumns)
	assert.ErrorIs(t, err, domain.ErrScoreTableLoad)

	require.NoError(t, os.WriteFile(path, []byte("PC4,afw\n1082,7.5\n"), 0o644))
	table, err := LoadFile(path, DefaultColumns)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
}

func TestNew(t *testing.T) {
	table := New(map[string]float64{"1082": 7.5, "bad": 1})

	assert.Equal(t, 1, table.Len())
	score, ok := table.Lookup("1082ME")
	assert.True(t, ok)
	assert.Equal(t, 7.5, score)
}
