package export

import "fmt"

// Paginate partitions blocks into pages with a greedy first fit. A block is
// never split; a block taller than the page budget gets a page of its own.
// Output depends only on the input sequence, so repeated calls with the same
// measurements produce identical pages.
func Paginate(blocks []Block, usableHeight float64, startPageNumber int) ([]Page, error) {
	if usableHeight <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUsableHeight, usableHeight)
	}
	for i, block := range blocks {
		if block.Height < 0 {
			return nil, fmt.Errorf("%w: block %d (%s) measured %v", ErrNegativeBlockHeight, i, block.ID, block.Height)
		}
	}
	if len(blocks) == 0 {
		return []Page{}, nil
	}

	pages := make([]Page, 0, 1)
	currentHeight := 0.0
	pageStart := 0
	pageNumber := startPageNumber

	for i, block := range blocks {
		// The i > pageStart guard keeps an oversized block on its own page
		// instead of emitting an empty one ahead of it.
		if currentHeight+block.Height > usableHeight && i > pageStart {
			pages = append(pages, Page{Number: pageNumber, Start: pageStart, End: i})
			pageNumber++
			pageStart = i
			currentHeight = block.Height
			continue
		}
		currentHeight += block.Height
	}
	pages = append(pages, Page{Number: pageNumber, Start: pageStart, End: len(blocks)})

	return pages, nil
}
