// Package geo provides the geospatial extension: a bounding-box predicate and
// a coordinate-reprojection transform, contributed to a connection's filter
// pipeline as the "bbox" and "projection" entries, plus the BBOX, PROJECTION
// and PGET commands that control them.
package geo

import (
	"fmt"
	"log/slog"
	"strings"
)

// BoundingBox is an axis-aligned rectangle used for strict-exclusive
// containment tests. Values are taken as given: left<right and bottom<top
// are not enforced, so an inverted box matches nothing.
type BoundingBox struct {
	Left   float64
	Bottom float64
	Right  float64
	Top    float64
}

// contains applies the strict point test: a point exactly on a boundary fails.
func (b BoundingBox) contains(x, y float64) bool {
	return x > b.Left && x < b.Right && y > b.Bottom && y < b.Top
}

// Match reports whether the document intersects the box. A FeatureCollection
// passes iff any member feature passes; a Feature dispatches on its geometry
// type, with Multi- variants passing iff any sub-geometry does. Documents
// that are not features, and geometry types the predicate does not
// understand, pass with a diagnostic: the filter only excludes what it could
// actually test.
func (b BoundingBox) Match(doc any, logger *slog.Logger) bool {
	if features, ok := collectionFeatures(doc); ok {
		for _, feature := range features {
			if b.Match(feature, logger) {
				return true
			}
		}
		return false
	}

	geomType, coords, ok := featureGeometry(doc)
	if !ok {
		return true
	}

	if base, isMulti := strings.CutPrefix(geomType, "Multi"); isMulti {
		members, ok := coords.([]any)
		if !ok {
			return true
		}
		for _, member := range members {
			pass, err := b.coordsInBox(base, member)
			if err != nil {
				logger.Warn("not applying bbox filter to unsupported geometry",
					"geometry_type", geomType)
				return true
			}
			if pass {
				return true
			}
		}
		return false
	}

	pass, err := b.coordsInBox(geomType, coords)
	if err != nil {
		logger.Warn("not applying bbox filter to unsupported geometry",
			"geometry_type", geomType)
		return true
	}
	return pass
}

// coordsInBox tests one coordinate array against the box for a base geometry
// type. An unsupported type is an error so callers can fall back to a pass.
func (b BoundingBox) coordsInBox(geomType string, coords any) (bool, error) {
	switch geomType {
	case "Point":
		x, y, ok := pointCoords(coords)
		return ok && b.contains(x, y), nil
	case "LineString":
		points, ok := coords.([]any)
		if !ok {
			return false, nil
		}
		for _, p := range points {
			if x, y, ok := pointCoords(p); ok && b.contains(x, y) {
				return true, nil
			}
		}
		return false, nil
	case "Polygon":
		rings, ok := coords.([]any)
		if !ok {
			return false, nil
		}
		for _, ring := range rings {
			points, ok := ring.([]any)
			if !ok {
				continue
			}
			for _, p := range points {
				if x, y, ok := pointCoords(p); ok && b.contains(x, y) {
					return true, nil
				}
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("geometry type %s is not supported", geomType)
}

// collectionFeatures returns the features array of a FeatureCollection
// document.
func collectionFeatures(doc any) ([]any, bool) {
	m, ok := doc.(map[string]any)
	if !ok || m["type"] != "FeatureCollection" {
		return nil, false
	}
	features, _ := m["features"].([]any)
	return features, true
}

// featureGeometry returns the geometry type and coordinates of a Feature
// document, or ok=false for anything that is not a Feature.
func featureGeometry(doc any) (geomType string, coords any, ok bool) {
	m, isMap := doc.(map[string]any)
	if !isMap || m["type"] != "Feature" {
		return "", nil, false
	}
	geom, isMap := m["geometry"].(map[string]any)
	if !isMap {
		return "", nil, false
	}
	geomType, isString := geom["type"].(string)
	if !isString {
		return "", nil, false
	}
	return geomType, geom["coordinates"], true
}

// pointCoords extracts x/y from a decoded coordinate pair.
func pointCoords(coords any) (x, y float64, ok bool) {
	pair, isSlice := coords.([]any)
	if !isSlice || len(pair) < 2 {
		return 0, 0, false
	}
	x, xok := pair[0].(float64)
	y, yok := pair[1].(float64)
	return x, y, xok && yok
}
