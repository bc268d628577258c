// Package geo provides the position value type and the spherical geometry used
// to degrade location precision before disclosure.
package geo

import "strings"

// DefaultPrecision is the geohash length used when a caller passes a non-positive
// precision. Six characters is a cell of roughly 1.2 km x 0.6 km.
const DefaultPrecision = 6

// base32 is the geohash base32 alphabet.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// cellHeights holds the approximate north-south extent in meters of a geohash
// cell, indexed by precision - 1.
var cellHeights = [...]float64{
	5000000, // 1
	625000,  // 2
	156000,  // 3
	19500,   // 4
	4890,    // 5
	610,     // 6
	153,     // 7
	19.1,    // 8
	4.77,    // 9
	0.596,   // 10
	0.149,   // 11
	0.0186,  // 12
}

// Encode encodes latitude and longitude into a geohash string with the specified precision.
//
// Parameters:
//   - lat: latitude in degrees (-90 to 90)
//   - lng: longitude in degrees (-180 to 180)
//   - precision: desired geohash length (typically 5-12 characters)
func Encode(lat, lng float64, precision int) string {
	if precision < 1 {
		precision = DefaultPrecision
	}

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	var geohash strings.Builder
	geohash.Grow(precision)

	bits := 0
	var ch uint

	even := true
	for geohash.Len() < precision {
		if even {
			mid := (lngRange[0] + lngRange[1]) / 2
			if lng > mid {
				ch |= (1 << (4 - bits))
				lngRange[0] = mid
			} else {
				lngRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if lat > mid {
				ch |= (1 << (4 - bits))
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}

		even = !even
		bits++

		if bits == 5 {
			geohash.WriteByte(base32[ch])
			bits = 0
			ch = 0
		}
	}

	return geohash.String()
}

// PrecisionForRadius returns the longest geohash precision whose cell is at
// least as tall as the given radius, so a cell label never carries more
// precision than the disclosed point. Radii larger than any cell map to 1.
func PrecisionForRadius(radiusMeters float64) int {
	precision := 1
	for i, h := range cellHeights {
		if h < radiusMeters {
			break
		}
		precision = i + 1
	}
	return precision
}
