package domain

import (
	"path"
	"strings"
	"time"
)

// SceneCandidate is one catalog hit returned by a search.
type SceneCandidate struct {
	ID         string    `json:"id"`
	Acquired   time.Time `json:"acquired"`
	CloudCover float64   `json:"cloud_cover"`
}

// PlacedOrder ties a vendor order to the unit and scene it was placed for.
type PlacedOrder struct {
	OrderID  string    `json:"order_id"`
	SceneID  string    `json:"scene_id"`
	Unit     WorkUnit  `json:"unit"`
	PlacedAt time.Time `json:"placed_at"`
}

// CompositeImageID encodes scene id, coordinates and site as "<scene>#<lat>_<lon>_<site>".
func (o PlacedOrder) CompositeImageID() string {
	return o.SceneID + o.Unit.LabelSuffix()
}

// FolderName is the output sub-folder that receives every asset of the order.
func (o PlacedOrder) FolderName() string {
	return o.Unit.Key()
}

func (o PlacedOrder) LogAttrs() []any {
	return append(o.Unit.LogAttrs(), "scene_id", o.SceneID, "order_id", o.OrderID)
}

type OrderStatus string

const (
	OrderQueued  OrderStatus = "queued"
	OrderRunning OrderStatus = "running"
	OrderSuccess OrderStatus = "success"
	OrderFailed  OrderStatus = "failed"
)

// ParseOrderStatus folds every vendor state other than queued/running/success into OrderFailed.
func ParseOrderStatus(raw string) OrderStatus {
	switch OrderStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case OrderQueued:
		return OrderQueued
	case OrderRunning:
		return OrderRunning
	case OrderSuccess:
		return OrderSuccess
	default:
		return OrderFailed
	}
}

func (s OrderStatus) Terminal() bool {
	return s != OrderQueued && s != OrderRunning
}

// AssetDescriptor names one downloadable file of a completed order.
type AssetDescriptor struct {
	Name        string `json:"name"`
	DownloadURL string `json:"location"`
}

const manifestFilename = "manifest.json"

// OutputFilename is the last path segment of the asset name. Manifests are
// prefixed with the scene id so two orders sharing a folder never collide.
func (a AssetDescriptor) OutputFilename(sceneID string) string {
	name := path.Base(a.Name)
	if name == manifestFilename {
		return sceneID + "_" + name
	}
	return name
}

// OrderState is one observation of a placed order.
type OrderState struct {
	Status    OrderStatus
	RawStatus string
	Assets    []AssetDescriptor
}
