// Package merge implements the key-level diff and merge-application
// engine: one base document against N contributors, per-key selections,
// tag-transition rules, and the unattended two-way auto-resolution used
// by local/online previews.
package merge

import (
	"sort"
	"strings"

	"crowdloc/internal/domain/models"
)

// KeyState classifies one key of one contributor against the base.
type KeyState string

const (
	StateNew       KeyState = "new"       // absent from base, present in contributor
	StateDifferent KeyState = "different" // present in both, values differ
	StateSame      KeyState = "same"      // present in both, values equal
	StateMissing   KeyState = "missing"   // present in base only
)

// classify compares one contributor entry against the base entry.
func classify(base, other *models.Entry) KeyState {
	switch {
	case other == nil:
		return StateMissing
	case base == nil:
		return StateNew
	case base.EqualValue(*other):
		return StateSame
	default:
		return StateDifferent
	}
}

// BranchCell is one branch's view of a key.
type BranchCell struct {
	BranchID string        `json:"branch_id"`
	Entry    *models.Entry `json:"entry,omitempty"`
	State    KeyState      `json:"state"`
}

// Row is the N-way comparison of a single key.
type Row struct {
	Key      string        `json:"key"`
	Main     *models.Entry `json:"main,omitempty"`
	Branches []BranchCell  `json:"branches"`
}

// BranchContent pairs a branch id with its parsed content.
type BranchContent struct {
	BranchID string
	Content  *models.Content
}

// Diff computes the union of all non-metadata keys across Main and the
// given branches and classifies each key per branch. Rows come back in
// key order so repeated calls paginate stably.
func Diff(main *models.Content, branches []BranchContent) []Row {
	keys := make(map[string]struct{}, len(main.Entries))
	for k := range main.Entries {
		keys[k] = struct{}{}
	}
	for _, b := range branches {
		for k := range b.Content.Entries {
			keys[k] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	rows := make([]Row, 0, len(sorted))
	for _, key := range sorted {
		row := Row{Key: key, Main: entryOf(main, key)}
		for _, b := range branches {
			row.Branches = append(row.Branches, BranchCell{
				BranchID: b.BranchID,
				Entry:    entryOf(b.Content, key),
				State:    classify(row.Main, entryOf(b.Content, key)),
			})
		}
		rows = append(rows, row)
	}
	return rows
}

func entryOf(c *models.Content, key string) *models.Entry {
	if e, ok := c.Entries[key]; ok {
		return &e
	}
	return nil
}

// Filter selects rows by category. Filters compose by OR: a row passes
// when any filter matches it.
type Filter string

const (
	FilterNew  Filter = "new"  // key new in any branch
	FilterDiff Filter = "diff" // any difference from Main
)

// TagFilter matches rows where Main or any branch carries the tag.
func TagFilter(tag models.Tag) Filter {
	return Filter("tag:" + string(tag))
}

// ParseFilter validates a caller-supplied filter name.
func ParseFilter(s string) (Filter, bool) {
	switch Filter(s) {
	case FilterNew, FilterDiff:
		return Filter(s), true
	}
	if tag, ok := strings.CutPrefix(s, "tag:"); ok && models.Tag(tag).Valid() {
		return Filter(s), true
	}
	return "", false
}

func (f Filter) matches(row Row) bool {
	if tag, ok := strings.CutPrefix(string(f), "tag:"); ok {
		want := models.Tag(tag)
		if row.Main != nil && row.Main.Tag == want {
			return true
		}
		for _, cell := range row.Branches {
			if cell.Entry != nil && cell.Entry.Tag == want {
				return true
			}
		}
		return false
	}
	for _, cell := range row.Branches {
		switch f {
		case FilterNew:
			if cell.State == StateNew {
				return true
			}
		case FilterDiff:
			if cell.State == StateNew || cell.State == StateDifferent {
				return true
			}
		}
	}
	return false
}

// ApplyFilters keeps rows matched by at least one filter. An empty filter
// list keeps everything.
func ApplyFilters(rows []Row, filters []Filter) []Row {
	if len(filters) == 0 {
		return rows
	}
	out := rows[:0:0]
	for _, row := range rows {
		for _, f := range filters {
			if f.matches(row) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}
