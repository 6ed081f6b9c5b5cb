package models

import "encoding/json"

// MetaLineageKey is the mandatory metadata key identifying the lineage.
const MetaLineageKey = "_uuid"

// Entry is a single translation value with its provenance tag.
// Legacy bare-string values are normalized to tag A at the parse boundary,
// so internal code never re-checks the shape.
type Entry struct {
	Value *string `json:"value"`
	Tag   Tag     `json:"tag"`
}

// EqualValue reports whether two entries carry the same value,
// treating nil as distinct from the empty string.
func (e Entry) EqualValue(other Entry) bool {
	if e.Value == nil || other.Value == nil {
		return e.Value == nil && other.Value == nil
	}
	return *e.Value == *other.Value
}

// Content is the parsed form of a translation file: a flat set of
// tagged entries plus opaque underscore-prefixed metadata.
type Content struct {
	LineageID string
	Entries   map[string]Entry
	Meta      map[string]json.RawMessage
}

// Counters partitions the non-metadata keys by tag.
type Counters struct {
	Human     int `json:"human_count"`
	Validated int `json:"validated_count"`
	AI        int `json:"ai_count"`
	Capture   int `json:"capture_count"`
}

// LineCount is the number of non-metadata keys.
func (c *Content) LineCount() int {
	return len(c.Entries)
}

// Count tallies entries by tag. M and S keys still count toward
// LineCount but are excluded from the quality-score denominator.
func (c *Content) Count() Counters {
	var n Counters
	for _, e := range c.Entries {
		switch e.Tag {
		case TagHuman:
			n.Human++
		case TagValidated:
			n.Validated++
		case TagAI:
			n.AI++
		case TagModUI:
			n.Capture++
		}
	}
	return n
}

// Clone returns a deep copy of the content.
func (c *Content) Clone() *Content {
	out := &Content{
		LineageID: c.LineageID,
		Entries:   make(map[string]Entry, len(c.Entries)),
		Meta:      make(map[string]json.RawMessage, len(c.Meta)),
	}
	for k, e := range c.Entries {
		if e.Value != nil {
			v := *e.Value
			e.Value = &v
		}
		out.Entries[k] = e
	}
	for k, raw := range c.Meta {
		out.Meta[k] = append(json.RawMessage(nil), raw...)
	}
	return out
}

// Violation describes one rejected key in an uploaded file.
type Violation struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}
