package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wroge/wgs84"

	"github.com/c360/georelay/errors"
)

// Web Mercator x for 1 degree of longitude.
const mercatorDegree = 111319.49079327358

func TestNormalizeReference(t *testing.T) {
	assert.Equal(t, "epsg:4326", NormalizeReference("EPSG:4326"))
	assert.Equal(t, "epsg:3857", NormalizeReference("  epsg:3857 "))
}

func TestTransformerCache_Resolve(t *testing.T) {
	cache := NewTransformerCache()

	tr, err := cache.Resolve("epsg:3857")
	require.NoError(t, err)
	assert.Equal(t, "epsg:3857", tr.Reference())

	// Same identifier resolves to the same instance.
	again, err := cache.Resolve("EPSG:3857")
	require.NoError(t, err)
	assert.Same(t, tr, again)
}

func TestTransformerCache_ResolveErrors(t *testing.T) {
	cache := NewTransformerCache()

	_, err := cache.Resolve("utm:33")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = cache.Resolve("epsg:abc")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = cache.Resolve("epsg:999999")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestTransformer_Point(t *testing.T) {
	cache := NewTransformerCache()
	tr, err := cache.Resolve("epsg:3857")
	require.NoError(t, err)

	doc := pointFeature(t, 1, 0)
	tr.Transform(doc, discardLogger())

	geom := doc.(map[string]any)["geometry"].(map[string]any)
	coords := geom["coordinates"].([]any)
	assert.InDelta(t, mercatorDegree, coords[0].(float64), 0.01)
	assert.InDelta(t, 0, coords[1].(float64), 0.01)
}

func TestTransformer_RoundTrip(t *testing.T) {
	cache := NewTransformerCache()
	tr, err := cache.Resolve("epsg:3857")
	require.NoError(t, err)

	lon, lat := 13.4, 52.5
	doc := pointFeature(t, lon, lat)
	tr.Transform(doc, discardLogger())

	coords := doc.(map[string]any)["geometry"].(map[string]any)["coordinates"].([]any)
	backward := wgs84.Transform(wgs84.EPSG().Code(3857), wgs84.LonLat())
	lon2, lat2, _ := backward(coords[0].(float64), coords[1].(float64), 0)

	assert.InDelta(t, lon, lon2, 1e-9)
	assert.InDelta(t, lat, lat2, 1e-9)
}

func TestTransformer_PreservesThirdDimension(t *testing.T) {
	cache := NewTransformerCache()
	tr, err := cache.Resolve("epsg:3857")
	require.NoError(t, err)

	doc := decodeDoc(t, `{"type":"Feature","geometry":{"type":"Point",
		"coordinates":[1,0,42]}}`)
	tr.Transform(doc, discardLogger())

	coords := doc.(map[string]any)["geometry"].(map[string]any)["coordinates"].([]any)
	require.Len(t, coords, 3)
	assert.InDelta(t, mercatorDegree, coords[0].(float64), 0.01)
}

func TestTransformer_LineStringAndMulti(t *testing.T) {
	cache := NewTransformerCache()
	tr, err := cache.Resolve("epsg:3857")
	require.NoError(t, err)
	logger := discardLogger()

	line := decodeDoc(t, `{"type":"Feature","geometry":{"type":"LineString",
		"coordinates":[[1,0],[2,0]]}}`)
	tr.Transform(line, logger)
	coords := line.(map[string]any)["geometry"].(map[string]any)["coordinates"].([]any)
	assert.InDelta(t, mercatorDegree, coords[0].([]any)[0].(float64), 0.01)
	assert.InDelta(t, 2*mercatorDegree, coords[1].([]any)[0].(float64), 0.01)

	multi := decodeDoc(t, `{"type":"Feature","geometry":{"type":"MultiPoint",
		"coordinates":[[1,0],[2,0]]}}`)
	tr.Transform(multi, logger)
	coords = multi.(map[string]any)["geometry"].(map[string]any)["coordinates"].([]any)
	assert.InDelta(t, mercatorDegree, coords[0].([]any)[0].(float64), 0.01)
}

func TestTransformer_FeatureCollection(t *testing.T) {
	cache := NewTransformerCache()
	tr, err := cache.Resolve("epsg:3857")
	require.NoError(t, err)

	doc := decodeDoc(t, `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[1,0]}}]}`)
	tr.Transform(doc, discardLogger())

	feature := doc.(map[string]any)["features"].([]any)[0]
	coords := feature.(map[string]any)["geometry"].(map[string]any)["coordinates"].([]any)
	assert.InDelta(t, mercatorDegree, coords[0].(float64), 0.01)
}

func TestTransformer_UnsupportedGeometryUntouched(t *testing.T) {
	cache := NewTransformerCache()
	tr, err := cache.Resolve("epsg:3857")
	require.NoError(t, err)

	doc := decodeDoc(t, `{"type":"Feature","geometry":{"type":"GeometryCollection",
		"geometries":[{"type":"Point","coordinates":[1,0]}]}}`)
	tr.Transform(doc, discardLogger())

	geom := doc.(map[string]any)["geometry"].(map[string]any)
	inner := geom["geometries"].([]any)[0].(map[string]any)["coordinates"].([]any)
	assert.Equal(t, float64(1), inner[0].(float64), "unsupported geometry must not change")
}

func TestTransformer_NonFeatureUntouched(t *testing.T) {
	cache := NewTransformerCache()
	tr, err := cache.Resolve("epsg:3857")
	require.NoError(t, err)

	doc := decodeDoc(t, `{"id":"v1","speed":12}`)
	tr.Transform(doc, discardLogger())
	assert.Equal(t, float64(12), doc.(map[string]any)["speed"])
}
