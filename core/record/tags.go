// tags.go - Record tag helpers.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package record

// Tag is a single record tag, an ordered list of strings whose first element
// names the tag.
type Tag []string

// Tags is a record's ordered tag list.
type Tags []Tag

// Name returns the tag name, the empty string for a malformed empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's first value, the empty string if absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// First returns the first tag with the given name, or nil.
func (ts Tags) First(name string) Tag {
	for _, t := range ts {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// ContainsValue reports whether any tag with the given name carries the
// given first value.
func (ts Tags) ContainsValue(name, value string) bool {
	for _, t := range ts {
		if t.Name() == name && t.Value() == value {
			return true
		}
	}
	return false
}

// Discriminator returns the value of the "d" tag, used as the identity
// discriminator of parameterized-replaceable records.
func (ts Tags) Discriminator() (string, bool) {
	t := ts.First("d")
	if t == nil {
		return "", false
	}
	return t.Value(), true
}
