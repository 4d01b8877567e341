// Package scope enforces region-based visibility for board operations.
// Staff callers see and mutate everything; everyone else is confined to the
// region on their access profile.
package scope

// Caller identifies the user a request acts on behalf of. It is threaded
// explicitly through every operation; there is no ambient current user.
type Caller struct {
	UserID  string
	Name    string
	Region  string
	IsStaff bool
}

// RegionFilter returns the region every query must be restricted to, or ""
// when the caller may see all regions.
func (c Caller) RegionFilter() string {
	if c.IsStaff {
		return ""
	}
	return c.Region
}

// CanSee reports whether a company in the given region is visible to the
// caller. Writes use the same rule: an invisible company must behave exactly
// like a missing one.
func (c Caller) CanSee(companyRegion string) bool {
	return c.IsStaff || companyRegion == c.Region
}

// EffectiveRegion resolves the region a company created by the caller ends up
// in. Non-staff callers always create in their own region; the requested
// value is ignored.
func (c Caller) EffectiveRegion(requested string) string {
	if c.IsStaff {
		return requested
	}
	return c.Region
}
