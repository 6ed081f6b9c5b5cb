package merge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
)

func str(s string) *string { return &s }

func doc(lineage string, entries map[string]models.Entry) *models.Content {
	return &models.Content{LineageID: lineage, Entries: entries}
}

func entry(value string, tag models.Tag) models.Entry {
	return models.Entry{Value: str(value), Tag: tag}
}

func TestDiffClassification(t *testing.T) {
	main := doc("L1", map[string]models.Entry{
		"same":    entry("x", models.TagHuman),
		"diff":    entry("x", models.TagHuman),
		"missing": entry("x", models.TagAI),
	})
	branch := doc("L1", map[string]models.Entry{
		"same": entry("x", models.TagAI),
		"diff": entry("y", models.TagAI),
		"new":  entry("z", models.TagAI),
	})

	rows := Diff(main, []BranchContent{{BranchID: "b1", Content: branch}})
	require.Len(t, rows, 4)

	byKey := map[string]Row{}
	for _, row := range rows {
		byKey[row.Key] = row
	}

	assert.Equal(t, StateSame, byKey["same"].Branches[0].State, "same value, different tag is still same")
	assert.Equal(t, StateDifferent, byKey["diff"].Branches[0].State)
	assert.Equal(t, StateMissing, byKey["missing"].Branches[0].State)
	assert.Equal(t, StateNew, byKey["new"].Branches[0].State)

	// Rows come back in key order.
	assert.Equal(t, []string{"diff", "missing", "new", "same"},
		[]string{rows[0].Key, rows[1].Key, rows[2].Key, rows[3].Key})
}

func TestDiffMultipleBranches(t *testing.T) {
	main := doc("L1", map[string]models.Entry{"k": entry("x", models.TagHuman)})
	b1 := doc("L1", map[string]models.Entry{"k": entry("x", models.TagAI)})
	b2 := doc("L1", map[string]models.Entry{"k": entry("y", models.TagAI), "only2": entry("z", models.TagHuman)})

	rows := Diff(main, []BranchContent{
		{BranchID: "b1", Content: b1},
		{BranchID: "b2", Content: b2},
	})
	require.Len(t, rows, 2)

	k := rows[0]
	require.Equal(t, "k", k.Key)
	require.Len(t, k.Branches, 2)
	assert.Equal(t, StateSame, k.Branches[0].State)
	assert.Equal(t, StateDifferent, k.Branches[1].State)

	only2 := rows[1]
	assert.Equal(t, StateMissing, only2.Branches[0].State)
	assert.Equal(t, StateNew, only2.Branches[1].State)
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{in: "new", ok: true},
		{in: "diff", ok: true},
		{in: "tag:A", ok: true},
		{in: "tag:H", ok: true},
		{in: "tag:Z", ok: false},
		{in: "bogus", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		_, ok := ParseFilter(tt.in)
		assert.Equal(t, tt.ok, ok, "ParseFilter(%q)", tt.in)
	}
}

func TestApplyFilters(t *testing.T) {
	main := doc("L1", map[string]models.Entry{
		"same": entry("x", models.TagHuman),
		"diff": entry("x", models.TagHuman),
		"ai":   entry("x", models.TagAI),
	})
	branch := doc("L1", map[string]models.Entry{
		"same": entry("x", models.TagHuman),
		"diff": entry("y", models.TagHuman),
		"ai":   entry("x", models.TagAI),
		"new":  entry("z", models.TagHuman),
	})
	rows := Diff(main, []BranchContent{{BranchID: "b1", Content: branch}})

	keysOf := func(rows []Row) []string {
		var keys []string
		for _, r := range rows {
			keys = append(keys, r.Key)
		}
		return keys
	}

	assert.Equal(t, []string{"new"}, keysOf(ApplyFilters(rows, []Filter{FilterNew})))
	assert.Equal(t, []string{"diff", "new"}, keysOf(ApplyFilters(rows, []Filter{FilterDiff})))
	assert.Equal(t, []string{"ai"}, keysOf(ApplyFilters(rows, []Filter{TagFilter(models.TagAI)})))

	// OR composition.
	assert.Equal(t, []string{"ai", "new"}, keysOf(ApplyFilters(rows, []Filter{FilterNew, TagFilter(models.TagAI)})))

	// Empty filter list keeps everything.
	assert.Len(t, ApplyFilters(rows, nil), 4)
}

func TestApplyBranchSelectionPromotesAToV(t *testing.T) {
	main := doc("L1", map[string]models.Entry{
		"hello": entry("bonjour", models.TagHuman),
	})
	branch := doc("L1", map[string]models.Entry{
		"hello": entry("salut", models.TagAI),
		"world": entry("monde", models.TagAI),
	})
	src := Sources{Base: main, Branches: map[string]*models.Content{"b1": branch}}

	merged, err := Apply(src, []Selection{
		{Key: "hello", Source: SourceBranch, BranchID: "b1"},
		{Key: "world", Source: SourceBranch, BranchID: "b1"},
	}, nil, Options{ActorIsMainOwner: true})
	require.NoError(t, err)

	hello := merged.Entries["hello"]
	assert.Equal(t, "salut", *hello.Value)
	assert.Equal(t, models.TagValidated, hello.Tag, "accepting a machine value validates it")

	world := merged.Entries["world"]
	assert.Equal(t, "monde", *world.Value)
	assert.Equal(t, models.TagValidated, world.Tag)

	counters := merged.Count()
	assert.Equal(t, 2, counters.Validated)
	assert.Equal(t, 0, counters.AI)

	// The inputs were not mutated.
	assert.Equal(t, models.TagAI, branch.Entries["hello"].Tag)
	assert.Equal(t, models.TagHuman, main.Entries["hello"].Tag)
}

func TestApplyMainSelectionPromotesAToV(t *testing.T) {
	main := doc("L1", map[string]models.Entry{
		"machine": entry("x", models.TagAI),
		"human":   entry("y", models.TagHuman),
	})
	src := Sources{Base: main}
	selections := []Selection{
		{Key: "machine", Source: SourceMain},
		{Key: "human", Source: SourceMain},
	}

	merged, err := Apply(src, selections, nil, Options{ActorIsMainOwner: true})
	require.NoError(t, err)

	// Choosing an entry is a human decision over it even when it already
	// lives in the base document: the machine value is now validated.
	assert.Equal(t, models.TagValidated, merged.Entries["machine"].Tag)
	assert.Equal(t, models.TagHuman, merged.Entries["human"].Tag, "reviewed tags pass through")

	count, err := CountRealChanges(src, selections, Options{ActorIsMainOwner: true})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the A-to-V promotion is the one real change")
}

func TestApplyManualEdit(t *testing.T) {
	main := doc("L1", map[string]models.Entry{"k": entry("old", models.TagAI)})
	src := Sources{Base: main}

	merged, err := Apply(src, []Selection{
		{Key: "k", Source: SourceManual, Value: str("typed\r\nby hand")},
	}, nil, Options{})
	require.NoError(t, err)

	k := merged.Entries["k"]
	assert.Equal(t, "typed\nby hand", *k.Value, "manual values are line-ending normalized")
	assert.Equal(t, models.TagHuman, k.Tag)
}

func TestApplyDeletions(t *testing.T) {
	main := doc("L1", map[string]models.Entry{
		"keep": entry("x", models.TagHuman),
		"drop": entry("y", models.TagAI),
	})
	merged, err := Apply(Sources{Base: main}, nil, []string{"drop"}, Options{})
	require.NoError(t, err)

	assert.Len(t, merged.Entries, 1)
	assert.Contains(t, merged.Entries, "keep")
	assert.Contains(t, main.Entries, "drop", "input untouched")
}

func TestApplyTagOverride(t *testing.T) {
	main := doc("L1", map[string]models.Entry{"k": entry("x", models.TagHuman)})
	src := Sources{Base: main}
	sel := []Selection{{Key: "k", Source: SourceMain, Tag: models.TagAI}}

	// The Main owner may reassign to A ("this needs another look").
	merged, err := Apply(src, sel, nil, Options{ActorIsMainOwner: true})
	require.NoError(t, err)
	assert.Equal(t, models.TagAI, merged.Entries["k"].Tag)

	// Anyone else may not.
	_, err = Apply(src, sel, nil, Options{ActorIsMainOwner: false})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	// But a contributor can mark a key skipped.
	merged, err = Apply(src, []Selection{{Key: "k", Source: SourceMain, Tag: models.TagSkipped}}, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, models.TagSkipped, merged.Entries["k"].Tag)
}

func TestApplyRejectsUnknownSources(t *testing.T) {
	main := doc("L1", map[string]models.Entry{"k": entry("x", models.TagHuman)})
	src := Sources{Base: main}

	_, err := Apply(src, []Selection{{Key: "k", Source: SourceBranch, BranchID: "nope"}}, nil, Options{})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = Apply(src, []Selection{{Key: "absent", Source: SourceMain}}, nil, Options{})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = Apply(src, []Selection{{Key: "k", Source: "telepathy"}}, nil, Options{})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestPreviewAutoResolve(t *testing.T) {
	local := doc("L1", map[string]models.Entry{
		"added":     entry("new key", models.TagHuman),
		"human-win": entry("local wins", models.TagHuman),
		"tie":       entry("local", models.TagAI),
		"lower":     entry("local", models.TagAI),
		"same":      entry("equal", models.TagAI),
	})
	online := doc("L1", map[string]models.Entry{
		"human-win":   entry("online loses", models.TagAI),
		"tie":         entry("online", models.TagAI),
		"lower":       entry("online", models.TagHuman),
		"same":        entry("equal", models.TagAI),
		"online-only": entry("kept", models.TagHuman),
	})

	rows := Preview(local, online)
	defaults := map[string]SourceKind{}
	for _, row := range rows {
		defaults[row.Key] = row.Default
	}

	assert.Equal(t, SourceLocal, defaults["added"], "new keys default to local")
	assert.Equal(t, SourceLocal, defaults["human-win"], "higher local priority wins")
	assert.Equal(t, SourceOnline, defaults["tie"], "exact priority tie goes to the server")
	assert.Equal(t, SourceOnline, defaults["lower"], "higher online priority wins")
	assert.Equal(t, SourceOnline, defaults["same"])
	assert.Equal(t, SourceOnline, defaults["online-only"])
}

func TestPreviewDefaultsApplyCleanly(t *testing.T) {
	local := doc("L1", map[string]models.Entry{
		"added": entry("from local", models.TagAI),
		"same":  entry("equal", models.TagAI),
	})
	online := doc("L1", map[string]models.Entry{
		"same": entry("equal", models.TagAI),
	})
	src := Sources{Base: online, Local: local}

	defaults := DefaultSelections(Preview(local, online))
	merged, err := Apply(src, defaults, nil, Options{})
	require.NoError(t, err)

	added := merged.Entries["added"]
	assert.Equal(t, "from local", *added.Value)
	assert.Equal(t, models.TagValidated, added.Tag, "pulling a machine value in from local validates it")

	assert.Equal(t, models.TagValidated, merged.Entries["same"].Tag, "committing the default validates the machine value")
}

func TestDropCleared(t *testing.T) {
	selections := []Selection{
		{Key: "keep-manual", Source: SourceManual, Value: str("v")},
		{Key: "cleared", Source: SourceManual, Value: str("")},
		{Key: "online", Source: SourceOnline},
	}
	out := DropCleared(selections)
	require.Len(t, out, 2)
	assert.Equal(t, "keep-manual", out[0].Key)
	assert.Equal(t, "online", out[1].Key)
}

func TestCountRealChanges(t *testing.T) {
	local := doc("L1", map[string]models.Entry{
		"added":    entry("x", models.TagHuman),
		"replaced": entry("local", models.TagHuman),
		"promoted": entry("equal", models.TagAI),
		"same":     entry("equal", models.TagHuman),
	})
	online := doc("L1", map[string]models.Entry{
		"replaced": entry("online", models.TagAI),
		"promoted": entry("equal", models.TagAI),
		"same":     entry("equal", models.TagHuman),
	})
	src := Sources{Base: online, Local: local}

	count, err := CountRealChanges(src, []Selection{
		{Key: "added", Source: SourceLocal},    // new key
		{Key: "replaced", Source: SourceLocal}, // value change
		{Key: "promoted", Source: SourceLocal}, // same value, A promotes to V
		{Key: "same", Source: SourceOnline},    // verbatim no-op
		{Key: "gone", Source: SourceManual, Value: str("")}, // cleared, dropped
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, count)
}

func TestCountRealChangesIdempotentRemerge(t *testing.T) {
	branch := doc("L1", map[string]models.Entry{
		"k": entry("salut", models.TagAI),
	})
	main := doc("L1", map[string]models.Entry{
		"k": entry("bonjour", models.TagHuman),
	})
	src := Sources{Base: main, Branches: map[string]*models.Content{"b1": branch}}
	selections := []Selection{{Key: "k", Source: SourceBranch, BranchID: "b1"}}

	first, err := CountRealChanges(src, selections, Options{ActorIsMainOwner: true})
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	merged, err := Apply(src, selections, nil, Options{ActorIsMainOwner: true})
	require.NoError(t, err)

	// Re-running the same selections against the merged result is a no-op:
	// the branch's A entry resolves to V, which the merged doc already has.
	again, err := CountRealChanges(Sources{Base: merged, Branches: src.Branches}, selections, Options{ActorIsMainOwner: true})
	require.NoError(t, err)
	assert.Zero(t, again)
}
