package models

// Tag marks the provenance of a single translation entry.
type Tag string

const (
	TagHuman     Tag = "H" // authored by a human
	TagValidated Tag = "V" // machine value reviewed and accepted by a human
	TagAI        Tag = "A" // machine-generated, unreviewed
	TagModUI     Tag = "M" // emitted by an external tool's own UI, opaque here
	TagSkipped   Tag = "S" // explicitly excluded from scoring
)

// Valid reports whether t is one of the five known tags.
func (t Tag) Valid() bool {
	switch t {
	case TagHuman, TagValidated, TagAI, TagModUI, TagSkipped:
		return true
	}
	return false
}

// Priority orders tags for auto-resolution: H > V > A > M = S.
func (t Tag) Priority() int {
	switch t {
	case TagHuman:
		return 3
	case TagValidated:
		return 2
	case TagAI:
		return 1
	default:
		return 0
	}
}

// Accepted returns the tag an entry carries after a human accepts it.
// A manual edit always yields H. Selecting (not editing) a machine value
// promotes A to V. M and S pass through verbatim, and H/V never regress.
func (t Tag) Accepted(edited bool) Tag {
	if edited {
		return TagHuman
	}
	if t == TagAI {
		return TagValidated
	}
	return t
}
