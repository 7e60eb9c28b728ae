package domain

import "strings"

// Wildcard is the stored sentinel for "any value" filters.
const Wildcard = "ALL"

// Filter is a per-field subscription criterion: either Exact(value) or Any.
type Filter struct {
	value string
	any   bool
}

// Any returns a filter matching every value.
func Any() Filter {
	return Filter{any: true}
}

// Exact returns a filter matching only value (case-insensitive).
func Exact(value string) Filter {
	return Filter{value: strings.TrimSpace(value)}
}

// ParseFilter converts a stored column value to a Filter.
// Empty strings and the ALL sentinel are wildcards.
func ParseFilter(raw string) Filter {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, Wildcard) {
		return Any()
	}
	return Exact(raw)
}

// IsAny reports whether the filter is a wildcard.
func (f Filter) IsAny() bool {
	return f.any
}

// Value returns the exact value, or "" for wildcards.
func (f Filter) Value() string {
	if f.any {
		return ""
	}
	return f.value
}

// Matches reports whether fieldValue satisfies the filter.
func (f Filter) Matches(fieldValue string) bool {
	if f.any {
		return true
	}
	return strings.EqualFold(f.value, strings.TrimSpace(fieldValue))
}

// String returns the stored representation (ALL for wildcards).
func (f Filter) String() string {
	if f.any {
		return Wildcard
	}
	return f.value
}
