package models

import "time"

// Spatial coverage types.
const (
	SpatialGlobal  = "global"
	SpatialUnknown = "unknown"
	SpatialKML     = "kml"
)

// Collection is a named container of datasets owned by exactly one principal.
type Collection struct {
	ID              int64      `json:"id"`
	OwnerID         int64      `json:"owner_id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	BriefDesc       string     `json:"brief_desc"`
	SpatialType     string     `json:"spatial_type"`
	SpatialCoverage string     `json:"spatial_coverage"`
	CoverageStart   *time.Time `json:"coverage_start,omitempty"`
	CoverageEnd     *time.Time `json:"coverage_end,omitempty"`
	StorageKey      string     `json:"storage_key"` // set once at creation
	UniqueKey       string     `json:"unique_key"`  // set once at creation
	PersistentID    *string    `json:"persistent_id,omitempty"`
	Published       bool       `json:"published"`
	CreatedAt       time.Time  `json:"created_at"`
	ModifiedAt      time.Time  `json:"modified_at"`
	ModifiedBy      int64      `json:"modified_by"`
}

// Dataset is an imported data file registered in a collection.
type Dataset struct {
	ID              int64      `json:"id"`
	CollectionID    int64      `json:"collection_id"`
	Name            string     `json:"name"`
	StoragePath     string     `json:"storage_path"`
	Extractable     bool       `json:"extractable"`
	RestrictedUntil *time.Time `json:"restricted_until,omitempty"`
	ImportedAt      time.Time  `json:"imported_at"`
	ImportedBy      int64      `json:"imported_by"`
}

// AuditEvent is an append-only record of a state-changing action.
type AuditEvent struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	OwnerID     int64     `json:"owner_id"`    // collection owner
	OperatorID  int64     `json:"operator_id"` // who performed the action
}
