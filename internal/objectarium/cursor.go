package objectarium

import (
	"fmt"
	"sort"

	"github.com/mr-tron/base58"
)

// Page is one page of an ordered query. Cursor encodes the last item of the
// page; passing it back resumes after that item.
type Page[T any] struct {
	Items       []T    `json:"items"`
	Cursor      string `json:"cursor"`
	HasNextPage bool   `json:"has_next_page"`
}

// EncodeCursor returns the opaque continuation token for key.
func EncodeCursor(key string) string {
	return base58.Encode([]byte(key))
}

// DecodeCursor reverses EncodeCursor. An empty cursor decodes to the empty
// key, which sorts before every id.
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base58.Decode(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: empty key", ErrInvalidCursor)
	}
	return string(raw), nil
}

// paginate walks keys (sorted) strictly after cursor, collecting up to limit
// items accepted by visit.
func paginate[K ~string, T any](keys []K, cursor string, limit int, visit func(K) (T, bool)) (Page[T], error) {
	after, err := DecodeCursor(cursor)
	if err != nil {
		return Page[T]{}, err
	}

	start := 0
	if cursor != "" {
		start = searchAfter(keys, K(after))
	}

	page := Page[T]{Items: make([]T, 0, min(limit, len(keys)-start))}
	var last K
	for _, k := range keys[start:] {
		item, ok := visit(k)
		if !ok {
			continue
		}
		if len(page.Items) == limit {
			page.HasNextPage = true
			break
		}
		page.Items = append(page.Items, item)
		last = k
	}
	if len(page.Items) > 0 {
		page.Cursor = EncodeCursor(string(last))
	}
	return page, nil
}

// searchAfter returns the index of the first key strictly greater than k.
func searchAfter[K ~string](keys []K, k K) int {
	return sort.Search(len(keys), func(i int) bool { return keys[i] > k })
}
