// File: internal/crawler/filters.go
package crawler

import "strings"

// Filters are the user-supplied result constraints. Nil pointer fields mean
// "unconstrained"; keyword matching is case-insensitive over title+content.
type Filters struct {
	MinRating       *float64
	MaxRating       *float64
	MinPrice        *float64
	MaxPrice        *float64
	IncludeKeywords []string
	ExcludeKeywords []string
}

// Empty reports whether the filters impose no constraint at all.
func (f Filters) Empty() bool {
	return f.MinRating == nil && f.MaxRating == nil &&
		f.MinPrice == nil && f.MaxPrice == nil &&
		len(f.IncludeKeywords) == 0 && len(f.ExcludeKeywords) == 0
}

// Match reports whether an item survives the filters. Items lacking a field a
// range constrains are rejected by that constraint.
func (f Filters) Match(it Item) bool {
	if f.MinRating != nil && (it.Rating == nil || *it.Rating < *f.MinRating) {
		return false
	}
	if f.MaxRating != nil && (it.Rating == nil || *it.Rating > *f.MaxRating) {
		return false
	}
	if f.MinPrice != nil && (it.Price == nil || *it.Price < *f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && (it.Price == nil || *it.Price > *f.MaxPrice) {
		return false
	}

	if len(f.IncludeKeywords) == 0 && len(f.ExcludeKeywords) == 0 {
		return true
	}

	haystack := strings.ToLower(it.Title + " " + it.Content)
	for _, kw := range f.ExcludeKeywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return false
		}
	}
	if len(f.IncludeKeywords) > 0 {
		for _, kw := range f.IncludeKeywords {
			if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	}
	return true
}
