package geo

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeDoc(t *testing.T, raw string) any {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc
}

func pointFeature(t *testing.T, x, y float64) any {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type": "Feature",
		"geometry": map[string]any{
			"type":        "Point",
			"coordinates": []float64{x, y},
		},
	})
	require.NoError(t, err)
	return decodeDoc(t, string(raw))
}

func TestBoundingBox_StrictBoundaries(t *testing.T) {
	box := BoundingBox{Left: 1, Bottom: 1, Right: 3, Top: 3}
	logger := discardLogger()

	tests := []struct {
		name string
		x, y float64
		want bool
	}{
		{"interior point", 2, 2, true},
		{"on left edge", 1, 2, false},
		{"on right edge", 3, 2, false},
		{"on bottom edge", 2, 1, false},
		{"on top edge", 2, 3, false},
		{"corner", 1, 1, false},
		{"outside", 5, 5, false},
		{"just inside", 1.000001, 2.999999, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, box.Match(pointFeature(t, tt.x, tt.y), logger))
		})
	}
}

func TestBoundingBox_InvertedBoxMatchesNothing(t *testing.T) {
	box := BoundingBox{Left: 3, Bottom: 3, Right: 1, Top: 1}
	assert.False(t, box.Match(pointFeature(t, 2, 2), discardLogger()))
}

func TestBoundingBox_LineString(t *testing.T) {
	box := BoundingBox{Left: 0, Bottom: 0, Right: 10, Top: 10}
	logger := discardLogger()

	inside := decodeDoc(t, `{"type":"Feature","geometry":{"type":"LineString",
		"coordinates":[[-5,-5],[5,5]]}}`)
	outside := decodeDoc(t, `{"type":"Feature","geometry":{"type":"LineString",
		"coordinates":[[-5,-5],[-6,-6]]}}`)

	assert.True(t, box.Match(inside, logger), "one vertex inside is enough")
	assert.False(t, box.Match(outside, logger))
}

func TestBoundingBox_Polygon(t *testing.T) {
	box := BoundingBox{Left: 0, Bottom: 0, Right: 10, Top: 10}
	logger := discardLogger()

	inside := decodeDoc(t, `{"type":"Feature","geometry":{"type":"Polygon",
		"coordinates":[[[1,1],[1,2],[2,2],[2,1],[1,1]]]}}`)
	outside := decodeDoc(t, `{"type":"Feature","geometry":{"type":"Polygon",
		"coordinates":[[[20,20],[20,30],[30,30],[20,20]]]}}`)

	assert.True(t, box.Match(inside, logger))
	assert.False(t, box.Match(outside, logger))
}

func TestBoundingBox_MultiPoint(t *testing.T) {
	box := BoundingBox{Left: 0, Bottom: 0, Right: 10, Top: 10}
	logger := discardLogger()

	oneInside := decodeDoc(t, `{"type":"Feature","geometry":{"type":"MultiPoint",
		"coordinates":[[-5,-5],[5,5]]}}`)
	allOutside := decodeDoc(t, `{"type":"Feature","geometry":{"type":"MultiPoint",
		"coordinates":[[-5,-5],[15,15]]}}`)

	assert.True(t, box.Match(oneInside, logger))
	assert.False(t, box.Match(allOutside, logger))
}

func TestBoundingBox_FeatureCollection(t *testing.T) {
	box := BoundingBox{Left: 0, Bottom: 0, Right: 10, Top: 10}
	logger := discardLogger()

	onePasses := decodeDoc(t, `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[-5,-5]}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[5,5]}}]}`)
	nonePass := decodeDoc(t, `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[-5,-5]}}]}`)
	empty := decodeDoc(t, `{"type":"FeatureCollection","features":[]}`)

	assert.True(t, box.Match(onePasses, logger))
	assert.False(t, box.Match(nonePass, logger))
	assert.False(t, box.Match(empty, logger))
}

func TestBoundingBox_NonFeaturePasses(t *testing.T) {
	box := BoundingBox{Left: 0, Bottom: 0, Right: 1, Top: 1}
	logger := discardLogger()

	assert.True(t, box.Match(decodeDoc(t, `{"id":"plain"}`), logger))
	assert.True(t, box.Match(decodeDoc(t, `[1,2,3]`), logger))
	assert.True(t, box.Match("just a string", logger))
}

func TestBoundingBox_UnsupportedGeometryPasses(t *testing.T) {
	box := BoundingBox{Left: 0, Bottom: 0, Right: 1, Top: 1}
	doc := decodeDoc(t, `{"type":"Feature","geometry":{"type":"GeometryCollection",
		"geometries":[]}}`)

	assert.True(t, box.Match(doc, discardLogger()))
}
