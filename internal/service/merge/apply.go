package merge

import (
	"fmt"

	"crowdloc/internal/canonical"
	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
)

// SourceKind identifies where a selection's value came from.
type SourceKind string

const (
	SourceMain   SourceKind = "main"   // keep Main's existing entry
	SourceBranch SourceKind = "branch" // a specific branch's entry
	SourceLocal  SourceKind = "local"  // the caller-supplied snapshot (two-way preview)
	SourceOnline SourceKind = "online" // the persisted document (two-way preview)
	SourceManual SourceKind = "manual" // free-typed by the reviewer
)

// Selection is one explicit per-key decision. Value is only read for
// manual selections; for the other sources the engine takes the value
// from the named document, so a stale client cannot smuggle in content
// under a wrong provenance.
type Selection struct {
	Key      string     `json:"key"`
	Value    *string    `json:"value,omitempty"`
	Tag      models.Tag `json:"tag,omitempty"` // explicit override from a UI affordance, "" = none
	Source   SourceKind `json:"source"`
	BranchID string     `json:"branch_id,omitempty"`
}

// Sources holds the documents selections may draw from.
type Sources struct {
	Base     *models.Content            // Main (N-way) or the online document (two-way)
	Local    *models.Content            // caller snapshot, two-way only
	Branches map[string]*models.Content // by branch id, N-way only
}

// Options control how Apply resolves tags.
type Options struct {
	// ActorIsMainOwner permits the explicit A-tag reassignment
	// ("invalidate"); a contributor's explicit choices are limited to S.
	ActorIsMainOwner bool
}

// Apply materializes selections and deletions into a copy of the base
// content, resolving each selection's tag through the transition rules:
// a manual edit becomes H, a selected (not edited) machine value becomes
// V, H and V never regress, M and S pass through verbatim. Explicit tag
// overrides are honored subject to the Main-owner-only A restriction.
// Keys are re-normalized on write. The input contents are never mutated,
// so a mid-operation failure cannot leave a partially-merged document.
func Apply(src Sources, selections []Selection, deletions []string, opts Options) (*models.Content, error) {
	out := src.Base.Clone()

	for _, sel := range selections {
		key := canonical.Normalize(sel.Key)
		if key == "" {
			return nil, &domain.ValidationError{Message: "selection key cannot be empty"}
		}

		entry, err := resolve(src, sel, key, opts)
		if err != nil {
			return nil, err
		}
		out.Entries[key] = entry
	}

	for _, key := range deletions {
		delete(out.Entries, canonical.Normalize(key))
	}

	return out, nil
}

// resolve produces the {value, tag} a selection writes into the result.
func resolve(src Sources, sel Selection, key string, opts Options) (models.Entry, error) {
	var entry models.Entry

	switch sel.Source {
	case SourceManual:
		var value *string
		if sel.Value != nil {
			v := canonical.Normalize(*sel.Value)
			value = &v
		}
		entry = models.Entry{Value: value, Tag: models.TagHuman}

	case SourceMain, SourceOnline, SourceLocal, SourceBranch:
		doc, err := sourceDoc(src, sel)
		if err != nil {
			return models.Entry{}, err
		}
		found, ok := doc.Entries[key]
		if !ok {
			// Diff rows are keyed by normalized names; fall back to the
			// raw key for documents that predate normalization.
			if found, ok = doc.Entries[sel.Key]; !ok {
				return models.Entry{}, &domain.ValidationError{
					Message: fmt.Sprintf("key %q not present in %s", sel.Key, sel.Source),
				}
			}
		}
		if found.Value != nil {
			v := canonical.Normalize(*found.Value)
			found.Value = &v
		}
		// Selecting (not editing) a value is a human decision over it,
		// whichever document it came from: an unreviewed machine value
		// is now validated. H, V, M, and S pass through verbatim.
		found.Tag = found.Tag.Accepted(false)
		entry = found

	default:
		return models.Entry{}, &domain.ValidationError{
			Message: fmt.Sprintf("unknown selection source %q", sel.Source),
		}
	}

	if sel.Tag != "" {
		if !sel.Tag.Valid() {
			return models.Entry{}, &domain.ValidationError{
				Message: fmt.Sprintf("invalid tag %q for key %q", sel.Tag, sel.Key),
			}
		}
		if sel.Tag == models.TagAI && !opts.ActorIsMainOwner {
			return models.Entry{}, &domain.ForbiddenError{
				Message: "only the main owner may mark an entry as unreviewed",
			}
		}
		entry.Tag = sel.Tag
	}

	return entry, nil
}

func sourceDoc(src Sources, sel Selection) (*models.Content, error) {
	switch sel.Source {
	case SourceMain, SourceOnline:
		return src.Base, nil
	case SourceLocal:
		if src.Local == nil {
			return nil, &domain.ValidationError{Message: "no local snapshot in this merge"}
		}
		return src.Local, nil
	case SourceBranch:
		doc, ok := src.Branches[sel.BranchID]
		if !ok {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("branch %q not part of this merge", sel.BranchID),
			}
		}
		return doc, nil
	}
	return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown selection source %q", sel.Source)}
}
