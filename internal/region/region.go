// Package region holds the closed set of region codes used to partition
// companies and user profiles.
package region

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Region is a short partition code with a display label.
type Region struct {
	Code  string `yaml:"code" json:"code"`
	Label string `yaml:"label" json:"label"`
}

// Registry is an ordered catalog of valid regions.
type Registry struct {
	regions []Region
	byCode  map[string]Region
}

var defaults = []Region{
	{Code: "KST", Label: "Kostanay"},
	{Code: "AKM", Label: "Akmola"},
	{Code: "PAV", Label: "Pavlodar"},
	{Code: "KAR", Label: "Karaganda"},
	{Code: "VKO", Label: "East Kazakhstan"},
	{Code: "SKO", Label: "North Kazakhstan"},
}

// Default returns the built-in region catalog.
func Default() *Registry {
	return newRegistry(defaults)
}

// FromFile loads a region catalog from a YAML file. The file must contain a
// non-empty `regions` list; otherwise the built-in catalog should be used.
func FromFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regions file: %w", err)
	}
	var doc struct {
		Regions []Region `yaml:"regions"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse regions file: %w", err)
	}
	if len(doc.Regions) == 0 {
		return nil, fmt.Errorf("regions file %s defines no regions", path)
	}
	for _, r := range doc.Regions {
		if r.Code == "" {
			return nil, fmt.Errorf("regions file %s contains a region without a code", path)
		}
	}
	return newRegistry(doc.Regions), nil
}

func newRegistry(regions []Region) *Registry {
	byCode := make(map[string]Region, len(regions))
	for _, r := range regions {
		byCode[r.Code] = r
	}
	return &Registry{regions: regions, byCode: byCode}
}

// List returns the catalog in declaration order.
func (r *Registry) List() []Region {
	out := make([]Region, len(r.regions))
	copy(out, r.regions)
	return out
}

// Valid reports whether code is part of the catalog.
func (r *Registry) Valid(code string) bool {
	_, ok := r.byCode[code]
	return ok
}

// Label returns the display label for code, or "—" for an unknown code.
func (r *Registry) Label(code string) string {
	if reg, ok := r.byCode[code]; ok {
		return reg.Label
	}
	return "—"
}
