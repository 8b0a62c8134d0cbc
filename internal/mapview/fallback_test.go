package mapview

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/geobrowse/pkg/geoclient"
)

func extentRow() *geoclient.QueryResponse {
	return rows(map[string]any{"west": 100.0, "south": 10.0, "east": 101.0, "north": 11.0})
}

func TestFallbackNotNeeded(t *testing.T) {
	q := &fakeQueries{handle: func(sql string) (*geoclient.QueryResponse, error) {
		if strings.Contains(sql, "ST_Intersects") {
			return rows(pointRow(1, 0, 0)), nil
		}
		return rows(), nil
	}}
	e, _, surf, layer := newTestEngine(t, q)

	fc, err := e.LoadWithFallback(context.Background(), layer)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)
	assert.Equal(t, 0, q.count("ST_Extent"))
	assert.Equal(t, 0, surf.fitCount())
}

func TestFallbackFitsAndRetriesOnce(t *testing.T) {
	q := &fakeQueries{handle: func(sql string) (*geoclient.QueryResponse, error) {
		switch {
		case strings.Contains(sql, "ST_Extent"):
			return extentRow(), nil
		case strings.Contains(sql, "ST_MakeEnvelope(100, 10, 101, 11, 4326)"):
			return rows(pointRow(1, 100.5, 10.5)), nil
		}
		return rows(), nil
	}}
	e, reg, surf, layer := newTestEngine(t, q)

	fc, err := e.LoadWithFallback(context.Background(), layer)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)
	require.Equal(t, 1, surf.fitCount())
	assert.Equal(t, orb.Bound{Min: orb.Point{100, 10}, Max: orb.Point{101, 11}}, surf.fits[0])
	assert.Equal(t, 2, q.count("ST_Intersects"))
	assert.Equal(t, 1, surf.featureCount(layer.ID))
	assert.True(t, reg.IsLoaded(layer.ID))
}

func TestFallbackStopsAfterEmptyRetry(t *testing.T) {
	q := &fakeQueries{handle: func(sql string) (*geoclient.QueryResponse, error) {
		if strings.Contains(sql, "ST_Extent") {
			return extentRow(), nil
		}
		return rows(), nil
	}}
	e, _, surf, layer := newTestEngine(t, q)

	fc, err := e.LoadWithFallback(context.Background(), layer)
	require.NoError(t, err)
	assert.Empty(t, fc.Features)
	assert.Equal(t, 1, surf.fitCount())
	assert.Equal(t, 1, q.count("ST_Extent"))
	assert.Equal(t, 2, q.count("ST_Intersects"))
}

func TestFallbackNoExtent(t *testing.T) {
	tests := []struct {
		name   string
		extent func() (*geoclient.QueryResponse, error)
	}{
		{"none", func() (*geoclient.QueryResponse, error) { return rows(map[string]any{"west": nil}), nil }},
		{"error", func() (*geoclient.QueryResponse, error) { return nil, errors.New("timeout") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueries{handle: func(sql string) (*geoclient.QueryResponse, error) {
				if strings.Contains(sql, "ST_Extent") {
					return tt.extent()
				}
				return rows(), nil
			}}
			e, _, surf, layer := newTestEngine(t, q)

			fc, err := e.LoadWithFallback(context.Background(), layer)
			require.NoError(t, err)
			assert.Empty(t, fc.Features)
			assert.Equal(t, 0, surf.fitCount())
			assert.Equal(t, 1, q.count("ST_Intersects"))
		})
	}
}

func TestFallbackQueryErrorSkipsExtent(t *testing.T) {
	q := &fakeQueries{handle: func(sql string) (*geoclient.QueryResponse, error) {
		if strings.Contains(sql, "ST_Intersects") {
			return nil, errors.New("boom")
		}
		return rows(), nil
	}}
	e, _, _, layer := newTestEngine(t, q)

	_, err := e.LoadWithFallback(context.Background(), layer)
	require.ErrorIs(t, err, ErrQueryFailed)
	assert.Equal(t, 0, q.count("ST_Extent"))
}
