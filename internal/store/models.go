package store

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Region       string
	IsStaff      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile holds the per-user region used to scope non-staff callers.
// Every user is expected to have exactly one; EnsureProfile repairs a
// missing row on read.
type Profile struct {
	UserID    string
	Region    string
	CreatedAt time.Time
}

// Status is a named board column. Order defines left-to-right placement;
// DurationDays is the recommended dwell budget, 0 meaning never overdue.
type Status struct {
	ID           string
	Name         string
	Order        int
	DurationDays int
}

// Company is the tracked business record. StatusID is nil for the
// unassigned bucket; Position orders companies within one column.
type Company struct {
	ID        string
	Name      string
	StatusID  *string
	Position  int
	Region    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusHistory is one row of a company's stage transition log. The row
// with the greatest ChangedAt is the authoritative "in current status
// since" marker and may not be deleted.
type StatusHistory struct {
	ID        string
	CompanyID string
	StatusID  *string
	ChangedAt time.Time
}

type Comment struct {
	ID        string
	CompanyID string
	Author    string
	Body      string
	CreatedAt time.Time
}

// CompanyFilter narrows ListCompanies. Region "" means no region
// restriction (staff); StatusID restricts to one column, Unassigned to the
// null column.
type CompanyFilter struct {
	Region     string
	StatusID   string
	Unassigned bool
}
