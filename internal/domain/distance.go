package domain

import "math"

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox returns the latitude/longitude window enclosing a radius around
// center. Near the poles the longitude window spans the whole globe.
func BoundingBox(center Coordinates, radiusKm float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := radiusKm / 111.0
	minLat, maxLat = center.Latitude-dLat, center.Latitude+dLat

	cos := math.Cos(center.Latitude * math.Pi / 180)
	if cos < 0.01 {
		return minLat, maxLat, -180, 180
	}
	dLon := radiusKm / (111.0 * cos)
	return minLat, maxLat, center.Longitude - dLon, center.Longitude + dLon
}
