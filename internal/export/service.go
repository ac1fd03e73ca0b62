package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"sopflow/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetHeader(ctx context.Context, headerID string) (store.DocumentHeader, error)
	ListCurrentSections(ctx context.Context, headerID string) ([]store.SectionRecord, error)
}

// Measurer reports the rendered height of a block. Real measurement depends
// on fonts and text shaping and lives outside this core; the default is a
// coarse line-count estimate good enough for server-side previews.
type Measurer func(Block) float64

// Request contains parameters for an export operation
type Request struct {
	HeaderID string
	Format   Format
	// Heights overrides measurement per block id, for callers that measured
	// client-side.
	Heights map[string]float64
}

// Service assembles the current section versions of a header, paginates
// them, and renders the print layout.
type Service struct {
	store           DataStore
	measure         Measurer
	bodyHeight      float64
	startPageNumber int
}

func NewService(dataStore DataStore, measure Measurer, bodyHeight float64, startPageNumber int) *Service {
	if measure == nil {
		measure = EstimateHeight
	}
	return &Service{
		store:           dataStore,
		measure:         measure,
		bodyHeight:      bodyHeight,
		startPageNumber: startPageNumber,
	}
}

var sectionHeadings = map[string]string{
	"purpose":                 "Purpose",
	"definitions":             "Definitions",
	"scope":                   "Scope",
	"procedures":              "Procedures",
	"responsibilities":        "Responsibilities",
	"safety_concerns":         "Safety Concerns",
	"critical_control_points": "Critical Control Points",
	"reference_documents":     "Reference Documents",
}

// Heading returns the print heading for a section kind.
func Heading(kind string) string {
	if h, ok := sectionHeadings[kind]; ok {
		return h
	}
	words := strings.Fields(strings.ReplaceAll(kind, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// EstimateHeight approximates block height in CSS pixels from line count: a
// heading row plus ~24px per 90 characters of content.
func EstimateHeight(b Block) float64 {
	const lineHeight = 24.0
	const charsPerLine = 90
	text := string(b.HTML)
	lines := 1 + strings.Count(text, "\n") + strings.Count(strings.ToLower(text), "<br") + strings.Count(strings.ToLower(text), "<p")
	lines += len(text) / charsPerLine
	return 40 + float64(lines)*lineHeight
}

// BuildBlocks turns the current section records into print blocks in the
// fixed section order.
func (s *Service) BuildBlocks(sections []store.SectionRecord, heights map[string]float64) []Block {
	blocks := make([]Block, 0, len(sections))
	for _, rec := range sections {
		block := Block{
			ID:      rec.ID,
			Kind:    rec.Kind,
			Heading: Heading(rec.Kind),
			HTML:    template.HTML(rec.ContentEn),
		}
		if h, ok := heights[rec.ID]; ok {
			block.Height = h
		} else {
			block.Height = s.measure(block)
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// Export generates the paginated document in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	header, err := s.store.GetHeader(ctx, req.HeaderID)
	if err != nil {
		return nil, fmt.Errorf("get header: %w", err)
	}
	sections, err := s.store.ListCurrentSections(ctx, req.HeaderID)
	if err != nil {
		return nil, fmt.Errorf("list current sections: %w", err)
	}

	blocks := s.BuildBlocks(sections, req.Heights)
	pages, err := Paginate(blocks, s.bodyHeight, s.startPageNumber)
	if err != nil {
		return nil, fmt.Errorf("paginate: %w", err)
	}

	data := TemplateData{
		DocCode:    header.DocCode,
		TitleEn:    header.TitleEn,
		TitleAr:    header.TitleAr,
		Version:    header.Version,
		Status:     header.Status.String(),
		TotalPages: len(pages),
		Signatures: []Signatory{
			{Label: "Prepared by", Name: header.PreparedBy.UserName, SignedAt: header.PreparedBy.SignedAt},
			{Label: "Reviewed by", Name: header.ReviewedBy.UserName, SignedAt: header.ReviewedBy.SignedAt},
			{Label: "Approved by", Name: header.ApprovedBy.UserName, SignedAt: header.ApprovedBy.SignedAt},
		},
	}
	for _, page := range pages {
		tp := TemplatePage{Number: page.Number}
		tp.Blocks = append(tp.Blocks, blocks[page.Start:page.End]...)
		data.Pages = append(data.Pages, tp)
		for _, block := range blocks[page.Start:page.End] {
			data.TOC = append(data.TOC, TOCEntry{Heading: block.Heading, Page: page.Number})
		}
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, header.DocCode+"-rev"+fmt.Sprint(header.Version))
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(header.DocCode) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
