package merge

import (
	"sort"

	"crowdloc/internal/canonical"
	"crowdloc/internal/domain/models"
)

// PreviewRow is the two-way comparison of a single key between a
// caller-supplied local snapshot and the persisted online document,
// carrying the default selection produced by the auto-resolution
// heuristic.
type PreviewRow struct {
	Key     string        `json:"key"`
	Local   *models.Entry `json:"local,omitempty"`
	Online  *models.Entry `json:"online,omitempty"`
	State   KeyState      `json:"state"`
	Default SourceKind    `json:"default"`
}

// Preview classifies every key across both snapshots and pre-assigns a
// default per the auto-resolution heuristic, so a caller who takes no
// action still gets a sensible merged result. Every default is
// overridable per key before the caller commits.
func Preview(local, online *models.Content) []PreviewRow {
	keys := make(map[string]struct{}, len(online.Entries))
	for k := range online.Entries {
		keys[k] = struct{}{}
	}
	for k := range local.Entries {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	rows := make([]PreviewRow, 0, len(sorted))
	for _, key := range sorted {
		row := PreviewRow{
			Key:    key,
			Local:  entryOf(local, key),
			Online: entryOf(online, key),
		}
		row.State = classify(row.Online, row.Local)
		row.Default = autoResolve(row)
		rows = append(rows, row)
	}
	return rows
}

// autoResolve picks the default side for one key. Differing values go to
// whichever side has the higher tag priority, with exact ties defaulting
// to the online (server) side. Local-only keys are additions and default
// to local; online-only keys and equal values default to online (no-op).
func autoResolve(row PreviewRow) SourceKind {
	switch row.State {
	case StateNew:
		return SourceLocal
	case StateDifferent:
		if row.Local.Tag.Priority() > row.Online.Tag.Priority() {
			return SourceLocal
		}
		return SourceOnline
	default:
		return SourceOnline
	}
}

// DefaultSelections materializes the heuristic into an explicit selection
// set, ready for Apply or for per-key overriding.
func DefaultSelections(rows []PreviewRow) []Selection {
	out := make([]Selection, 0, len(rows))
	for _, row := range rows {
		out = append(out, Selection{Key: row.Key, Source: row.Default})
	}
	return out
}

// DropCleared removes manual selections whose value is the empty string:
// a manual edit to "" clears the choice for that key rather than choosing
// an empty value.
func DropCleared(selections []Selection) []Selection {
	out := selections[:0:0]
	for _, sel := range selections {
		if sel.Source == SourceManual && sel.Value != nil && *sel.Value == "" {
			continue
		}
		out = append(out, sel)
	}
	return out
}

// CountRealChanges reports how many of the selections would actually
// mutate the online document. A selection counts when its resolved value
// differs from the online entry, or when the value is unchanged but the
// resolution promotes an unreviewed machine value (A to V). Selections
// that resolve to the online entry verbatim are no-ops.
func CountRealChanges(src Sources, selections []Selection, opts Options) (int, error) {
	selections = DropCleared(selections)
	count := 0
	for _, sel := range selections {
		resolved, err := resolve(src, sel, keyOf(sel), opts)
		if err != nil {
			return 0, err
		}
		current, ok := src.Base.Entries[keyOf(sel)]
		if !ok {
			count++
			continue
		}
		if !current.EqualValue(resolved) || current.Tag != resolved.Tag {
			count++
		}
	}
	return count, nil
}

func keyOf(sel Selection) string {
	return canonical.Normalize(sel.Key)
}
