package anomaly

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// QueryKeys returns the parameter keys of a raw request URL in the order
// they appear. Keys are percent-decoded; a key that fails to decode is kept
// as logged. Keys with empty values are kept, empty segments are not.
func QueryKeys(rawURL string) []string {
	_, query, ok := strings.Cut(rawURL, "?")
	if !ok {
		return nil
	}
	query, _, _ = strings.Cut(query, "#")

	var keys []string
	for _, segment := range strings.Split(query, "&") {
		if segment == "" {
			continue
		}
		key, _, _ := strings.Cut(segment, "=")
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		keys = append(keys, key)
	}
	return keys
}

// keySet returns the sorted distinct keys
func keySet(keys []string) []string {
	set := slices.Clone(keys)
	slices.Sort(set)
	return slices.Compact(set)
}

// catalogKey encodes a key sequence so that two sequences share an encoding
// only when they are equal element by element
func catalogKey(keys []string) string {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = strconv.Quote(k)
	}
	return strings.Join(quoted, ",")
}

// catalog is an insertion-ordered set of key sequences
type catalog struct {
	index   map[string]struct{}
	entries [][]string
}

func newCatalog() *catalog {
	return &catalog{index: make(map[string]struct{})}
}

func catalogFrom(entries [][]string) *catalog {
	c := newCatalog()
	for _, e := range entries {
		c.add(e)
	}
	return c
}

// setCatalogFrom indexes each entry in its sorted, deduplicated form
func setCatalogFrom(entries [][]string) *catalog {
	c := newCatalog()
	for _, e := range entries {
		c.add(keySet(e))
	}
	return c
}

func (c *catalog) add(keys []string) {
	k := catalogKey(keys)
	if _, ok := c.index[k]; ok {
		return
	}
	c.index[k] = struct{}{}
	c.entries = append(c.entries, slices.Clone(keys))
}

func (c *catalog) contains(keys []string) bool {
	_, ok := c.index[catalogKey(keys)]
	return ok
}
