package catalog

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBound = orb.Bound{Min: orb.Point{-76, 45}, Max: orb.Point{-75, 46}}

func TestNewQueryDefaults(t *testing.T) {
	q, err := NewQuery("LANDSAT_8_C1", WithBound(testBound))
	require.NoError(t, err)

	assert.Equal(t, 100, q.CloudCeiling())
	assert.Equal(t, DefaultMaxResults, q.MaxResults())
	assert.Equal(t, PlatformLandsat8, q.Platform())
	b, ok := q.Bound()
	assert.True(t, ok)
	assert.Equal(t, testBound, b)
	assert.Nil(t, q.Polygon())
}

func TestNewQueryValidation(t *testing.T) {
	start := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		dataset string
		opts    []QueryOption
	}{
		{"no dataset", "", []QueryOption{WithBound(testBound)}},
		{"cloud too high", "SENTINEL_2A", []QueryOption{WithBound(testBound), WithCloudCeiling(101)}},
		{"cloud negative", "SENTINEL_2A", []QueryOption{WithBound(testBound), WithCloudCeiling(-1)}},
		{"dates reversed", "SENTINEL_2A", []QueryOption{WithBound(testBound), WithDates(start, start.AddDate(0, 0, -1))}},
		{"no area", "SENTINEL_2A", nil},
		{"zero results", "SENTINEL_2A", []QueryOption{WithNames("x"), WithMaxResults(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewQuery(tt.dataset, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestQueryIsImmutable(t *testing.T) {
	tiles := []string{"026027", "026028"}
	q, err := NewQuery("LANDSAT_8_C1", WithTiles(tiles...))
	require.NoError(t, err)

	tiles[0] = "999999"
	got := q.Tiles()
	got[1] = "000000"

	assert.Equal(t, []string{"026027", "026028"}, q.Tiles())
}

func TestQueryWith(t *testing.T) {
	poly := testBound.ToPolygon()
	q, err := NewQuery("SENTINEL_2A", WithPolygon(poly), WithCloudCeiling(40))
	require.NoError(t, err)

	tq, err := q.With(WithBound(testBound), WithTiles("17TNJ"))
	require.NoError(t, err)

	assert.Nil(t, tq.Polygon())
	assert.Equal(t, []string{"17TNJ"}, tq.Tiles())
	assert.Equal(t, 40, tq.CloudCeiling())
	assert.NotNil(t, q.Polygon(), "original query changed")
}

func TestProductTier(t *testing.T) {
	assert.Equal(t, "T1", Product{DisplayName: "LC08_L1TP_026027_20200503_20200509_01_T1"}.Tier())
	assert.Equal(t, "RT", Product{DisplayName: "LC08_L1TP_026027_20200503_20200503_01_RT"}.Tier())
	assert.Equal(t, "T2", Product{DisplayName: "LC08_L1GT_026027_20200503_20200509_01_T1", CollectionCategory: "T2"}.Tier())
	assert.Equal(t, "", Product{DisplayName: "L1C_T17TNJ_A015000_20180502T184041"}.Tier())
}

func TestLookup(t *testing.T) {
	fields := []MetadataField{{FieldName: "WRS Path", Value: "26"}, {FieldName: "WRS Row", Value: "27"}}
	v, ok := Lookup(fields, "WRS Row")
	assert.True(t, ok)
	assert.Equal(t, "27", v)

	_, ok = Lookup(fields, "Tile Number")
	assert.False(t, ok)
}
