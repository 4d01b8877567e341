package scope

import "testing"

func TestRegionFilter(t *testing.T) {
	staff := Caller{UserID: "u1", Region: "KST", IsStaff: true}
	if got := staff.RegionFilter(); got != "" {
		t.Fatalf("staff caller should not be region-filtered, got %q", got)
	}

	regular := Caller{UserID: "u2", Region: "AKM"}
	if got := regular.RegionFilter(); got != "AKM" {
		t.Fatalf("expected AKM filter, got %q", got)
	}
}

func TestCanSee(t *testing.T) {
	cases := []struct {
		name          string
		caller        Caller
		companyRegion string
		want          bool
	}{
		{"staff sees any region", Caller{Region: "KST", IsStaff: true}, "VKO", true},
		{"own region visible", Caller{Region: "KST"}, "KST", true},
		{"foreign region hidden", Caller{Region: "KST"}, "PAV", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.caller.CanSee(tc.companyRegion); got != tc.want {
				t.Fatalf("CanSee(%q) = %v, want %v", tc.companyRegion, got, tc.want)
			}
		})
	}
}

func TestEffectiveRegion(t *testing.T) {
	staff := Caller{Region: "KST", IsStaff: true}
	if got := staff.EffectiveRegion("VKO"); got != "VKO" {
		t.Fatalf("staff should keep the requested region, got %q", got)
	}

	regular := Caller{Region: "KST"}
	if got := regular.EffectiveRegion("VKO"); got != "KST" {
		t.Fatalf("non-staff region must be forced to the caller's own, got %q", got)
	}
}
