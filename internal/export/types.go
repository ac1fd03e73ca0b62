// Package export renders the current sections of an SOP into fixed-size
// printable pages and ships them as HTML or PDF.
package export

import (
	"errors"
	"html/template"
	"time"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Block is one rendered section in print order. Height is a measured value
// supplied by the caller's measurement collaborator; pagination only decides
// how to partition the sequence, never how tall anything is.
type Block struct {
	ID      string
	Kind    string
	Heading string
	HTML    template.HTML
	Height  float64
}

// Page assigns a contiguous half-open block range [Start, End) to one
// printed page. Pages are never persisted; they are recomputed from current
// heights on every render pass.
type Page struct {
	Number int
	Start  int
	End    int
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrInvalidUsableHeight indicates a zero or negative page body budget.
	ErrInvalidUsableHeight = errors.New("export usable height must be positive")
	// ErrNegativeBlockHeight indicates a block measured below zero.
	ErrNegativeBlockHeight = errors.New("export block height must not be negative")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

// Signatory is one line of the footer signature region.
type Signatory struct {
	Label    string
	Name     string
	SignedAt *time.Time
	ImageURL string
}
