// Package search maintains a full-text index over SOP headers and current
// section content. Indexing is fire-and-forget: a failed push never fails
// the save that triggered it.
package search

import "log"

type ResultType string

const (
	ResultHeader  ResultType = "header"
	ResultSection ResultType = "section"
)

type HeaderRecord struct {
	ID           string `json:"id"`
	DocCode      string `json:"docCode"`
	TitleEn      string `json:"titleEn"`
	TitleAr      string `json:"titleAr"`
	Status       string `json:"status"`
	DepartmentID string `json:"departmentId"`
}

// SectionRecord mirrors the single active row per (header, kind): the index
// id is headerId:kind, so re-indexing a new version overwrites the old one.
type SectionRecord struct {
	ID        string `json:"id"`
	HeaderID  string `json:"headerId"`
	Kind      string `json:"kind"`
	ContentEn string `json:"contentEn"`
	ContentAr string `json:"contentAr"`
	Version   int    `json:"version"`
}

type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	HeaderID string     `json:"headerId"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
}

// Service wraps the Meilisearch client; nil meili means search is disabled.
type Service struct {
	meili *Meili
}

func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

func (s *Service) Enabled() bool {
	return s != nil && s.meili != nil && s.meili.Healthy()
}

func (s *Service) IndexHeader(rec HeaderRecord) {
	if !s.Enabled() {
		return
	}
	go func() {
		if err := s.meili.IndexHeader(rec); err != nil {
			log.Printf("search: index header %s: %v", rec.ID, err)
		}
	}()
}

func (s *Service) IndexSection(rec SectionRecord) {
	if !s.Enabled() {
		return
	}
	go func() {
		if err := s.meili.IndexSection(rec); err != nil {
			log.Printf("search: index section %s: %v", rec.ID, err)
		}
	}()
}

func (s *Service) DeleteHeader(headerID string) {
	if !s.Enabled() {
		return
	}
	go func() {
		if err := s.meili.DeleteHeader(headerID); err != nil {
			log.Printf("search: delete header %s: %v", headerID, err)
		}
	}()
}

func (s *Service) Search(query string, limit int) []Result {
	if !s.Enabled() {
		return []Result{}
	}
	results, err := s.meili.Search(query, limit)
	if err != nil {
		log.Printf("search: query failed: %v", err)
		return []Result{}
	}
	if results == nil {
		results = []Result{}
	}
	return results
}
