// Package geometry handles the geographic side of comp selection: distances
// between a subject and its comps, search bounds, and GeoJSON export.
package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"compvalue/server/internal/models"
)

// MetersPerMile converts orb's meter distances to miles.
const MetersPerMile = 1609.344

// Point builds an orb point from latitude and longitude. orb stores points
// as [lon, lat].
func Point(lat, lon float64) orb.Point {
	return orb.Point{lon, lat}
}

// DistanceMiles returns the haversine distance between two coordinates.
func DistanceMiles(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(Point(lat1, lon1), Point(lat2, lon2)) / MetersPerMile
}

// RadiusBound returns the bounding box that contains every point within
// radiusMiles of the center. It is a prefilter; callers still check the
// exact distance.
func RadiusBound(lat, lon, radiusMiles float64) orb.Bound {
	return geo.NewBoundAroundPoint(Point(lat, lon), radiusMiles*MetersPerMile)
}

// WithinRadius reports whether (lat, lon) lies within radiusMiles of the
// center.
func WithinRadius(centerLat, centerLon, lat, lon, radiusMiles float64) bool {
	return DistanceMiles(centerLat, centerLon, lat, lon) <= radiusMiles
}

// FillDistances returns a copy of comps where every comp with coordinates
// gets its distance from the subject. Comps already carrying a
// source-reported distance keep it.
func FillDistances(subject models.SubjectProperty, comps []models.ComparableProperty) []models.ComparableProperty {
	out := make([]models.ComparableProperty, len(comps))
	copy(out, comps)
	if !subject.HasCoordinates() {
		return out
	}
	for i := range out {
		c := &out[i]
		if c.Distance != nil || c.Latitude == nil || c.Longitude == nil {
			continue
		}
		d := DistanceMiles(*subject.Latitude, *subject.Longitude, *c.Latitude, *c.Longitude)
		c.Distance = &d
	}
	return out
}

// CompsFeatureCollection renders the subject and its comps as a GeoJSON
// feature collection. Entries without coordinates are skipped.
func CompsFeatureCollection(subject models.SubjectProperty, comps []models.ComparableProperty) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if subject.HasCoordinates() {
		f := geojson.NewFeature(Point(*subject.Latitude, *subject.Longitude))
		f.Properties = geojson.Properties{
			"kind":    "subject",
			"id":      subject.ID,
			"address": subject.Address,
		}
		fc.Append(f)
	}

	for _, c := range comps {
		if c.Latitude == nil || c.Longitude == nil {
			continue
		}
		f := geojson.NewFeature(Point(*c.Latitude, *c.Longitude))
		f.Properties = geojson.Properties{
			"kind":           "comparable",
			"id":             c.ID,
			"address":        c.Address,
			"sale_price":     c.SalePrice,
			"price_per_sqft": c.PricePerSqft,
			"source":         string(c.Source),
		}
		if c.Distance != nil {
			f.Properties["distance_miles"] = *c.Distance
		}
		fc.Append(f)
	}
	return fc
}
