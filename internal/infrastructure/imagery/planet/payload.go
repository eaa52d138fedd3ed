package planet

import (
	"math"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

const filterTimeLayout = "2006-01-02T00:00:00.000Z"

type geometryFilter struct {
	Type      string            `json:"type"`
	FieldName string            `json:"field_name"`
	Config    *geojson.Geometry `json:"config"`
}

type dateRange struct {
	GTE string `json:"gte"`
	LTE string `json:"lte"`
}

type dateRangeFilter struct {
	Type      string    `json:"type"`
	FieldName string    `json:"field_name"`
	Config    dateRange `json:"config"`
}

type upperBound struct {
	LTE float64 `json:"lte"`
}

type rangeFilter struct {
	Type      string     `json:"type"`
	FieldName string     `json:"field_name"`
	Config    upperBound `json:"config"`
}

type andFilter struct {
	Type   string `json:"type"`
	Config []any  `json:"config"`
}

type searchRequest struct {
	ItemTypes []string  `json:"item_types"`
	Filter    andFilter `json:"filter"`
}

type searchResponse struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			Acquired   string  `json:"acquired"`
			CloudCover float64 `json:"cloud_cover"`
		} `json:"properties"`
	} `json:"features"`
}

type orderProduct struct {
	ItemIDs       []string `json:"item_ids"`
	ItemType      string   `json:"item_type"`
	ProductBundle string   `json:"product_bundle"`
}

type clipTool struct {
	AOI *geojson.Geometry `json:"aoi"`
}

type orderTool struct {
	Clip *clipTool `json:"clip,omitempty"`
}

type orderRequest struct {
	Name       string         `json:"name,omitempty"`
	SourceType string         `json:"source_type"`
	Products   []orderProduct `json:"products"`
	Tools      []orderTool    `json:"tools"`
}

type orderResponse struct {
	ID string `json:"id"`
}

type orderStatusResponse struct {
	State string `json:"state"`
	Links struct {
		Results []struct {
			Name     string `json:"name"`
			Location string `json:"location"`
		} `json:"results"`
	} `json:"_links"`
}

func newGeometryFilter(polygon domain.BoundingPolygon) geometryFilter {
	return geometryFilter{
		Type:      "GeometryFilter",
		FieldName: "geometry",
		Config:    geojson.NewGeometry(polygon.Polygon()),
	}
}

func newDateRangeFilter(from, to time.Time) dateRangeFilter {
	return dateRangeFilter{
		Type:      "DateRangeFilter",
		FieldName: "acquired",
		Config: dateRange{
			GTE: from.UTC().Format(filterTimeLayout),
			LTE: to.UTC().Format(filterTimeLayout),
		},
	}
}

func newCloudCoverFilter(maxCloudCover float64) rangeFilter {
	return rangeFilter{
		Type:      "RangeFilter",
		FieldName: "cloud_cover",
		Config:    upperBound{LTE: roundTo(maxCloudCover, 2)},
	}
}

func buildSearchRequest(criteria domain.SearchCriteria) searchRequest {
	return searchRequest{
		ItemTypes: []string{criteria.ItemType},
		Filter: andFilter{
			Type: "AndFilter",
			Config: []any{
				newGeometryFilter(criteria.Polygon),
				newDateRangeFilter(criteria.WindowStart, criteria.WindowEnd),
				newCloudCoverFilter(criteria.MaxCloudCover),
			},
		},
	}
}

func buildOrderRequest(sceneID, itemType, bundle string, polygon domain.BoundingPolygon, labelSuffix string) orderRequest {
	return orderRequest{
		Name:       sceneID + labelSuffix,
		SourceType: "scenes",
		Products: []orderProduct{{
			ItemIDs:       []string{sceneID},
			ItemType:      itemType,
			ProductBundle: bundle,
		}},
		Tools: []orderTool{{
			Clip: &clipTool{AOI: geojson.NewGeometry(polygon.Polygon())},
		}},
	}
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
