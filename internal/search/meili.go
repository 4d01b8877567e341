package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxCompanies = "flowboard_companies"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the company index.
// The caller should proceed without it if the instance is unreachable; the
// background health loop picks it up when it recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxCompanies,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxCompanies, err)
	}

	index := m.client.Index(idxCompanies)
	filterable := []interface{}{"region"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxCompanies, err)
	}
	searchable := []string{"name"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxCompanies, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// SearchIDs resolves a name query to matching company IDs, restricted to
// one region when the query carries one.
func (m *Meili) SearchIDs(q Query) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 200
	}

	request := &meili.SearchRequest{
		Limit:                limit,
		AttributesToRetrieve: []string{"id"},
	}
	if q.Region != "" {
		request.Filter = []string{fmt.Sprintf("region = %q", q.Region)}
	}

	resp, err := m.client.Index(idxCompanies).Search(q.Text, request)
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if id := decodeString(hit, "id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexCompany adds or updates a company in the search index.
func (m *Meili) IndexCompany(record CompanyRecord) error {
	_, err := m.client.Index(idxCompanies).AddDocuments([]CompanyRecord{record}, nil)
	return err
}

// IndexCompanies bulk-indexes companies.
func (m *Meili) IndexCompanies(records []CompanyRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxCompanies).AddDocuments(records, nil)
	return err
}

// DeleteCompany removes a company from the search index.
func (m *Meili) DeleteCompany(id string) error {
	_, err := m.client.Index(idxCompanies).DeleteDocument(id, nil)
	return err
}
