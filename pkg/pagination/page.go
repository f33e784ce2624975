package pagination

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Page is the JSON payload of one page of a collection.
type Page struct {
	// Index is the 1-based page number.
	Index int

	// URL is the request URL the page was fetched from.
	URL string

	// Data is the undecoded response body.
	Data json.RawMessage
}

// Decode unmarshals the payload of p into a T.
func Decode[T any](p Page) (T, error) {
	var v T
	if err := json.Unmarshal(p.Data, &v); err != nil {
		return v, fmt.Errorf("decode page %d: %w", p.Index, err)
	}
	return v, nil
}

// SortByIndex orders pages by ascending page number.
func SortByIndex(pages []Page) {
	sort.Slice(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
}
