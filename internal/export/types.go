// Package export renders board snapshots as CSV and optionally stores them
// as artifacts in object storage.
package export

import "time"

// Snapshot is the export-facing shape of one board projection. The engine
// builds it; this package never reads the stores directly.
type Snapshot struct {
	GeneratedAt time.Time
	GeneratedBy string
	Columns     []Column
}

// Column is one status group of the snapshot. StatusName is "Unassigned"
// for the null column.
type Column struct {
	StatusName string
	Companies  []Company
}

// Company is one exported row.
type Company struct {
	ID           string
	Name         string
	Region       string
	Position     int
	DaysInStatus *int
	Overdue      bool
}

// Artifact describes a stored export.
type Artifact struct {
	Key         string `json:"key"`
	Bucket      string `json:"bucket,omitempty"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}
