package search

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxHeaders  = "sopflow_headers"
	idxSections = "sopflow_sections"
)

// Meili pushes SOP headers and current section content into Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The client
// starts degraded if the instance is unreachable and recovers via the
// background health loop.
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
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxHeaders,
			filterable: []string{"status", "departmentId"},
			searchable: []string{"docCode", "titleEn", "titleAr"},
		},
		{
			uid:        idxSections,
			filterable: []string{"headerId", "kind"},
			searchable: []string{"contentEn", "contentAr"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterable := idx.filterable
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
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
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
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

func (m *Meili) IndexHeader(rec HeaderRecord) error {
	if _, err := m.client.Index(idxHeaders).AddDocuments([]HeaderRecord{rec}); err != nil {
		return fmt.Errorf("index header %s: %w", rec.ID, err)
	}
	return nil
}

func (m *Meili) IndexSection(rec SectionRecord) error {
	if _, err := m.client.Index(idxSections).AddDocuments([]SectionRecord{rec}); err != nil {
		return fmt.Errorf("index section %s: %w", rec.ID, err)
	}
	return nil
}

func (m *Meili) DeleteHeader(headerID string) error {
	if _, err := m.client.Index(idxHeaders).DeleteDocument(headerID); err != nil {
		return fmt.Errorf("delete header %s from index: %w", headerID, err)
	}
	// Section rows keyed by (header, kind); drop them with a filter.
	if _, err := m.client.Index(idxSections).DeleteDocumentsByFilter(fmt.Sprintf("headerId = %q", headerID)); err != nil {
		return fmt.Errorf("delete sections of %s from index: %w", headerID, err)
	}
	return nil
}

// Search queries headers and sections and merges results, headers first.
func (m *Meili) Search(query string, limit int) ([]Result, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 20
	}

	var results []Result

	headerResp, err := m.client.Index(idxHeaders).Search(query, &meili.SearchRequest{Limit: int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("search headers: %w", err)
	}
	for _, hit := range headerResp.Hits {
		if doc, ok := hit.(map[string]interface{}); ok {
			results = append(results, Result{
				Type:     ResultHeader,
				ID:       stringField(doc, "id"),
				HeaderID: stringField(doc, "id"),
				Title:    stringField(doc, "titleEn"),
				Snippet:  stringField(doc, "docCode"),
			})
		}
	}

	sectionResp, err := m.client.Index(idxSections).Search(query, &meili.SearchRequest{Limit: int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("search sections: %w", err)
	}
	for _, hit := range sectionResp.Hits {
		if doc, ok := hit.(map[string]interface{}); ok {
			results = append(results, Result{
				Type:     ResultSection,
				ID:       stringField(doc, "id"),
				HeaderID: stringField(doc, "headerId"),
				Title:    stringField(doc, "kind"),
				Snippet:  snippet(stringField(doc, "contentEn"), 160),
			})
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func stringField(doc map[string]interface{}, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
