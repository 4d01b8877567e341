// Package search finds companies by name, using Meilisearch when available
// and falling back to a PostgreSQL ILIKE scan.
package search

// CompanyRecord is the data we index for a company.
type CompanyRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// Query describes a company name search. Region "" means no region
// restriction (staff caller).
type Query struct {
	Text   string
	Region string
	Limit  int
}

// Searcher can resolve a query to the IDs of matching companies.
type Searcher interface {
	SearchIDs(q Query) ([]string, error)
	Healthy() bool
}

// Indexer keeps the company index in sync with the store.
type Indexer interface {
	IndexCompany(record CompanyRecord) error
	IndexCompanies(records []CompanyRecord) error
	DeleteCompany(id string) error
}
