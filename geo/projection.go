package geo

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/wroge/wgs84"

	"github.com/c360/georelay/errors"
)

// DefaultReference is the fixed input reference system: geographic
// longitude/latitude. A PROJECTION command naming it means "no transform".
const DefaultReference = "epsg:4326"

// NormalizeReference canonicalizes a reference identifier for cache lookups
// and default comparison.
func NormalizeReference(ref string) string {
	return strings.ToLower(strings.TrimSpace(ref))
}

// Transformer reprojects coordinates from the default geographic reference to
// one output reference. Construction goes through a TransformerCache because
// resolving a reference system is expensive relative to applying it.
type Transformer struct {
	ref     string
	forward wgs84.Func
}

// Reference returns the normalized output reference identifier.
func (t *Transformer) Reference() string { return t.ref }

// TransformerCache resolves reference identifiers to transformers, reusing
// one instance per identifier. Safe for use from concurrent sessions.
type TransformerCache struct {
	mu    sync.Mutex
	epsg  *wgs84.Repository
	byRef map[string]*Transformer
}

// NewTransformerCache creates an empty cache backed by the EPSG registry.
func NewTransformerCache() *TransformerCache {
	return &TransformerCache{
		epsg:  wgs84.EPSG(),
		byRef: make(map[string]*Transformer),
	}
}

// Resolve returns the transformer for a reference identifier of the form
// "epsg:<code>", constructing and caching it on first use. Unknown or
// malformed identifiers are invalid errors; callers decide whether that is
// graceful (PROJECTION) or fatal (PGET).
func (c *TransformerCache) Resolve(ref string) (*Transformer, error) {
	key := NormalizeReference(ref)

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.byRef[key]; ok {
		return t, nil
	}

	code, err := parseEPSG(key)
	if err != nil {
		return nil, errors.WrapInvalid(err, "TransformerCache", "Resolve", "parse reference")
	}
	to := c.epsg.Code(code)
	if to == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown reference system %q", ref),
			"TransformerCache", "Resolve", "look up EPSG code",
		)
	}

	t := &Transformer{
		ref:     key,
		forward: wgs84.Transform(wgs84.LonLat(), to),
	}
	c.byRef[key] = t
	return t, nil
}

// parseEPSG extracts the numeric code from a normalized "epsg:<code>"
// identifier.
func parseEPSG(ref string) (int, error) {
	rest, ok := strings.CutPrefix(ref, "epsg:")
	if !ok {
		return 0, fmt.Errorf("reference %q is not an epsg identifier", ref)
	}
	code, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("reference %q has a non-numeric code", ref)
	}
	return code, nil
}

// Transform rewrites the document's coordinate arrays in place, mapping them
// into the transformer's output reference. FeatureCollections are transformed
// member by member; unsupported geometry types are left untouched with a
// diagnostic. Transform never excludes a document, it only rewrites it.
func (t *Transformer) Transform(doc any, logger *slog.Logger) {
	if features, ok := collectionFeatures(doc); ok {
		for _, feature := range features {
			t.Transform(feature, logger)
		}
		return
	}

	geomType, coords, ok := featureGeometry(doc)
	if !ok {
		return
	}
	geom := doc.(map[string]any)["geometry"].(map[string]any)

	if base, isMulti := strings.CutPrefix(geomType, "Multi"); isMulti {
		members, isSlice := coords.([]any)
		if !isSlice {
			return
		}
		transformed := make([]any, len(members))
		for i, member := range members {
			out, err := t.transformCoords(base, member)
			if err != nil {
				logger.Warn("not projecting unsupported geometry", "geometry_type", geomType)
				return
			}
			transformed[i] = out
		}
		geom["coordinates"] = transformed
		return
	}

	out, err := t.transformCoords(geomType, coords)
	if err != nil {
		logger.Warn("not projecting unsupported geometry", "geometry_type", geomType)
		return
	}
	geom["coordinates"] = out
}

// transformCoords reprojects one coordinate array for a base geometry type.
func (t *Transformer) transformCoords(geomType string, coords any) (any, error) {
	switch geomType {
	case "Point":
		return t.transformPoint(coords), nil
	case "LineString":
		points, ok := coords.([]any)
		if !ok {
			return coords, nil
		}
		out := make([]any, len(points))
		for i, p := range points {
			out[i] = t.transformPoint(p)
		}
		return out, nil
	case "Polygon":
		rings, ok := coords.([]any)
		if !ok {
			return coords, nil
		}
		out := make([]any, len(rings))
		for i, ring := range rings {
			points, ok := ring.([]any)
			if !ok {
				out[i] = ring
				continue
			}
			ringOut := make([]any, len(points))
			for j, p := range points {
				ringOut[j] = t.transformPoint(p)
			}
			out[i] = ringOut
		}
		return out, nil
	}
	return nil, fmt.Errorf("geometry type %s is not supported", geomType)
}

// transformPoint reprojects a single coordinate pair, preserving a third
// dimension when present.
func (t *Transformer) transformPoint(coords any) any {
	pair, ok := coords.([]any)
	if !ok || len(pair) < 2 {
		return coords
	}
	x, xok := pair[0].(float64)
	y, yok := pair[1].(float64)
	if !xok || !yok {
		return coords
	}
	z := 0.0
	if len(pair) > 2 {
		z, _ = pair[2].(float64)
	}
	x2, y2, z2 := t.forward(x, y, z)
	if len(pair) > 2 {
		return []any{x2, y2, z2}
	}
	return []any{x2, y2}
}
