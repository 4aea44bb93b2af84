package record

import "sort"

// KeyKind names a candidate key set.
type KeyKind string

const (
	KeyISBN  KeyKind = "isbn"
	KeyID    KeyKind = "id"
	KeyTitle KeyKind = "title"
)

// CandidateKeys holds the three normalized key sets of a record.
type CandidateKeys struct {
	Title []string `json:"title,omitempty"`
	ISBN  []string `json:"isbn,omitempty"`
	ID    []string `json:"id,omitempty"`
}

// Normalize sorts and de-duplicates each set and drops empty strings.
// Empty sets become nil so storage stays sparse.
func (k CandidateKeys) Normalize() CandidateKeys {
	return CandidateKeys{
		Title: normalizeSet(k.Title),
		ISBN:  normalizeSet(k.ISBN),
		ID:    normalizeSet(k.ID),
	}
}

// Empty reports whether all sets are empty.
func (k CandidateKeys) Empty() bool {
	return len(k.Title) == 0 && len(k.ISBN) == 0 && len(k.ID) == 0
}

// Equal compares the normalized sets.
func (k CandidateKeys) Equal(o CandidateKeys) bool {
	a, b := k.Normalize(), o.Normalize()
	return equalSet(a.Title, b.Title) && equalSet(a.ISBN, b.ISBN) && equalSet(a.ID, b.ID)
}

// Overlap returns the number of shared keys across all sets.
func (k CandidateKeys) Overlap(o CandidateKeys) int {
	return countShared(k.Title, o.Title) + countShared(k.ISBN, o.ISBN) + countShared(k.ID, o.ID)
}

// StrongestShared returns the strongest kind of key shared with o, or "".
// Identifier keys are stronger than title keys.
func (k CandidateKeys) StrongestShared(o CandidateKeys) KeyKind {
	switch {
	case countShared(k.ISBN, o.ISBN) > 0:
		return KeyISBN
	case countShared(k.ID, o.ID) > 0:
		return KeyID
	case countShared(k.Title, o.Title) > 0:
		return KeyTitle
	}
	return ""
}

func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func equalSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func countShared(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	n := 0
	seen := make(map[string]struct{}, len(b))
	for _, v := range b {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		if _, ok := set[v]; ok {
			n++
		}
	}
	return n
}
