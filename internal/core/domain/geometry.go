package domain

import (
	"math"
	"time"

	"github.com/paulmach/orb"
)

// BoundingPolygon is a closed five-point ring of (lon, lat) pairs.
type BoundingPolygon orb.Ring

// NewBoundingPolygon centers a box on (lat, lon) reaching resLat degrees north and
// south and resLon ground-equivalent degrees east and west. The longitudinal half
// width is stretched by 1/cos(lat) so the box stays roughly square on the ground.
func NewBoundingPolygon(lat, lon, resLat, resLon float64) BoundingPolygon {
	lonHalf := resLon / math.Cos(lat*math.Pi/180)
	return BoundingPolygon{
		{lon + lonHalf, lat + resLat},
		{lon - lonHalf, lat + resLat},
		{lon - lonHalf, lat - resLat},
		{lon + lonHalf, lat - resLat},
		{lon + lonHalf, lat + resLat},
	}
}

// Polygon returns the ring as a single-ring orb polygon.
func (p BoundingPolygon) Polygon() orb.Polygon {
	return orb.Polygon{orb.Ring(p)}
}

func (p BoundingPolygon) Closed() bool {
	return len(p) >= 4 && orb.Ring(p).Closed()
}

// SearchCriteria is everything a catalog search filters on for one unit.
type SearchCriteria struct {
	Polygon       BoundingPolygon
	WindowStart   time.Time
	WindowEnd     time.Time
	MaxCloudCover float64
	ItemType      string
}
