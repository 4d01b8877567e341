package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to the
// PostgreSQL scan.
type Service struct {
	meili *Meili
	pg    *PgSearch
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pg *PgSearch) *Service {
	return &Service{meili: meili, pg: pg}
}

// SearchIDs tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) SearchIDs(q Query) ([]string, error) {
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.SearchIDs(q)
		if err == nil {
			return ids, nil
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}
	return s.pg.SearchIDs(q)
}

// IndexCompany pushes one company into the index (fire-and-forget).
func (s *Service) IndexCompany(record CompanyRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCompany(record); err != nil {
			log.Printf("search: index company %s: %v", record.ID, err)
		}
	}()
}

// DeleteCompany removes one company from the index (fire-and-forget).
func (s *Service) DeleteCompany(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteCompany(id); err != nil {
			log.Printf("search: delete company %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the full company list into Meilisearch, typically at
// startup.
func (s *Service) ReindexAll(records []CompanyRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexCompanies(records); err != nil {
		log.Printf("search: reindex companies: %v", err)
	}
}
