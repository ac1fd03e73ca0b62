package export

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func heights(hs ...float64) []Block {
	blocks := make([]Block, len(hs))
	for i, h := range hs {
		blocks[i] = Block{ID: fmt.Sprintf("b%d", i), Height: h}
	}
	return blocks
}

func TestPaginateThreeBlocksTwoPages(t *testing.T) {
	// 300+300 fits in 750; adding the third would reach 900.
	pages, err := Paginate(heights(300, 300, 300), 750, 1)
	if err != nil {
		t.Fatalf("Paginate failed: %v", err)
	}
	want := []Page{
		{Number: 1, Start: 0, End: 2},
		{Number: 2, Start: 2, End: 3},
	}
	if !reflect.DeepEqual(pages, want) {
		t.Errorf("pages = %+v, want %+v", pages, want)
	}
}

func TestPaginateOversizedBlockGetsOwnPage(t *testing.T) {
	pages, err := Paginate(heights(100, 2000, 100), 750, 1)
	if err != nil {
		t.Fatalf("Paginate failed: %v", err)
	}
	want := []Page{
		{Number: 1, Start: 0, End: 1},
		{Number: 2, Start: 1, End: 2},
		{Number: 3, Start: 2, End: 3},
	}
	if !reflect.DeepEqual(pages, want) {
		t.Errorf("pages = %+v, want %+v", pages, want)
	}
}

func TestPaginateLeadingOversizedBlock(t *testing.T) {
	pages, err := Paginate(heights(2000), 750, 1)
	if err != nil {
		t.Fatalf("Paginate failed: %v", err)
	}
	want := []Page{{Number: 1, Start: 0, End: 1}}
	if !reflect.DeepEqual(pages, want) {
		t.Errorf("pages = %+v, want %+v", pages, want)
	}
}

func TestPaginateEmptyInput(t *testing.T) {
	pages, err := Paginate(nil, 750, 1)
	if err != nil {
		t.Fatalf("Paginate failed: %v", err)
	}
	if len(pages) != 0 {
		t.Errorf("expected no pages for empty input, got %+v", pages)
	}
}

func TestPaginateTotalityAndContiguity(t *testing.T) {
	inputs := [][]float64{
		{1},
		{750},
		{751},
		{10, 10, 10, 10, 10},
		{400, 400, 400, 400},
		{750, 750, 750},
		{0, 0, 0},
		{100, 700, 50, 900, 1, 749},
	}

	for _, hs := range inputs {
		pages, err := Paginate(heights(hs...), 750, 1)
		if err != nil {
			t.Fatalf("Paginate(%v) failed: %v", hs, err)
		}
		cursor := 0
		for i, page := range pages {
			if page.Start != cursor {
				t.Errorf("input %v: page %d starts at %d, want %d", hs, i, page.Start, cursor)
			}
			if page.End <= page.Start {
				t.Errorf("input %v: page %d is empty: %+v", hs, i, page)
			}
			if page.Number != 1+i {
				t.Errorf("input %v: page %d numbered %d", hs, i, page.Number)
			}
			cursor = page.End
		}
		if cursor != len(hs) {
			t.Errorf("input %v: %d blocks assigned, want %d", hs, cursor, len(hs))
		}
	}
}

func TestPaginateDeterminism(t *testing.T) {
	blocks := heights(120, 340, 90, 760, 300, 300, 300)
	first, err := Paginate(blocks, 750, 3)
	if err != nil {
		t.Fatalf("Paginate failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Paginate(blocks, 750, 3)
		if err != nil {
			t.Fatalf("Paginate failed: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("pagination not deterministic: %+v vs %+v", first, again)
		}
	}
	if first[0].Number != 3 {
		t.Errorf("start page number not honored: %+v", first[0])
	}
}

func TestPaginatePreconditions(t *testing.T) {
	if _, err := Paginate(heights(10), 0, 1); !errors.Is(err, ErrInvalidUsableHeight) {
		t.Errorf("zero budget: got %v, want ErrInvalidUsableHeight", err)
	}
	if _, err := Paginate(heights(10), -5, 1); !errors.Is(err, ErrInvalidUsableHeight) {
		t.Errorf("negative budget: got %v, want ErrInvalidUsableHeight", err)
	}
	if _, err := Paginate(heights(10, -1), 750, 1); !errors.Is(err, ErrNegativeBlockHeight) {
		t.Errorf("negative height: got %v, want ErrNegativeBlockHeight", err)
	}
}
