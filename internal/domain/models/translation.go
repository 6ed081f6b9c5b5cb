package models

import "time"

// Visibility is a translation's role within its lineage.
type Visibility string

const (
	VisibilityMain   Visibility = "main"
	VisibilityBranch Visibility = "branch"
)

// Status is settable only by the Main owner; branches inherit it.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
)

// Translation is one document in a lineage. At most one document per
// lineage has visibility "main" at any time: the oldest-created one.
type Translation struct {
	ID             string     `json:"id" db:"id"`
	LineageID      string     `json:"lineage_id" db:"lineage_id"`
	UserID         string     `json:"user_id" db:"user_id"`
	SubjectID      string     `json:"subject_id" db:"subject_id"`
	Visibility     Visibility `json:"visibility" db:"visibility"`
	ParentID       *string    `json:"parent_id" db:"parent_id"` // set for branches and retained on forks
	SourceLang     string     `json:"source_lang" db:"source_lang"`
	TargetLang     string     `json:"target_lang" db:"target_lang"`
	Status         Status     `json:"status" db:"status"`
	HumanCount     int        `json:"human_count" db:"human_count"`
	ValidatedCount int        `json:"validated_count" db:"validated_count"`
	AICount        int        `json:"ai_count" db:"ai_count"`
	CaptureCount   int        `json:"capture_count" db:"capture_count"`
	VoteCount      int        `json:"vote_count" db:"vote_count"`
	DownloadCount  int        `json:"download_count" db:"download_count"`
	FileHash       string     `json:"file_hash" db:"file_hash"`
	LineCount      int        `json:"line_count" db:"line_count"`
	BlobPath       string     `json:"-" db:"blob_path"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// IsMain reports whether the translation is its lineage's canonical copy.
func (t *Translation) IsMain() bool {
	return t.Visibility == VisibilityMain
}

// ApplyCounters refreshes the composition counters and line count from
// freshly recomputed content statistics.
func (t *Translation) ApplyCounters(lineCount int, n Counters) {
	t.LineCount = lineCount
	t.HumanCount = n.Human
	t.ValidatedCount = n.Validated
	t.AICount = n.AI
	t.CaptureCount = n.Capture
}
