package worker

import (
	"time"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

// Change event types carried in the event_type attribute.
const (
	EventCreated = "entity.created"
	EventChanged = "entity.changed"
)

// ChangeEvent announces that an ingest wrote at least one projection.
type ChangeEvent struct {
	Type          string    `json:"type"`
	AppID         string    `json:"app_id"`
	PkgName       string    `json:"pkg_name"`
	Name          string    `json:"name"`
	Version       string    `json:"version,omitempty"`
	InfoChanged   bool      `json:"info_changed"`
	MetricChanged bool      `json:"metric_changed"`
	RatingChanged bool      `json:"rating_changed"`
	SnapshotURI   string    `json:"snapshot_uri,omitempty"`
	ObservedAt    time.Time `json:"observed_at"`
}

func newChangeEvent(doc *catalog.RawDocument, res store.IngestResult, now time.Time) ChangeEvent {
	e := ChangeEvent{
		Type:          EventChanged,
		AppID:         doc.AppID,
		PkgName:       doc.PkgName,
		Name:          res.Info.Name,
		InfoChanged:   res.InfoChanged,
		MetricChanged: res.MetricChanged,
		RatingChanged: res.RatingChanged,
		ObservedAt:    now,
	}
	if res.IsNew {
		e.Type = EventCreated
	}
	if res.Metric != nil {
		e.Version = res.Metric.Version
	}
	return e
}

// Attributes are attached to the Pub/Sub message for subscription filters.
func (e ChangeEvent) Attributes() map[string]string {
	return map[string]string{
		"event_type": e.Type,
		"app_id":     e.AppID,
	}
}

// OrderingKey keeps events for one entity in order.
func (e ChangeEvent) OrderingKey() string {
	return e.AppID
}
