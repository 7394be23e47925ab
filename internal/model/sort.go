package model

import (
	"sort"
	"strings"
	"time"
)

// SortByTimeLeft orders items by lowercased category, then by time left until
// expiry. An expiry date that does not parse counts as infinitely far away:
// last when ascending, first when descending.
func SortByTimeLeft(items []Item, now time.Time, layout string, loc *time.Location, ascending bool) {
	keys := make(map[int64]sortKey, len(items))
	for _, it := range items {
		k := sortKey{category: strings.ToLower(it.Category)}
		if exp, err := ParseDate(it.ExpiryDate, layout, loc); err == nil {
			k.left = exp.Sub(now)
			k.ok = true
		}
		keys[it.ID] = k
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := keys[items[i].ID], keys[items[j].ID]
		if a.category != b.category {
			return a.category < b.category
		}
		if ascending {
			return a.sooner(b)
		}
		return b.sooner(a)
	})
}

type sortKey struct {
	category string
	left     time.Duration
	ok       bool
}

// sooner reports whether k expires strictly before o.
func (k sortKey) sooner(o sortKey) bool {
	if k.ok != o.ok {
		return k.ok
	}
	return k.ok && k.left < o.left
}
