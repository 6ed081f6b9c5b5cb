package models

// SyncRole describes the requester's relationship to a lineage.
type SyncRole string

const (
	SyncRoleMain   SyncRole = "main"
	SyncRoleBranch SyncRole = "branch"
	SyncRoleNone   SyncRole = "none"
)

// MainPreview summarizes a lineage's Main for a requester who holds no
// document of their own on that lineage.
type MainPreview struct {
	TranslationID string `json:"translation_id"`
	UploaderName  string `json:"uploader_name"`
	SourceLang    string `json:"source_lang"`
	TargetLang    string `json:"target_lang"`
	FileHash      string `json:"file_hash"`
	LineCount     int    `json:"line_count"`
}

// SyncState answers "what is my relationship to this lineage, and is
// there something newer than what I hold."
type SyncState struct {
	LineageID   string       `json:"lineage_id"`
	Role        SyncRole     `json:"role"`
	Translation *Translation `json:"translation,omitempty"` // the requester's own document
	BranchCount int          `json:"branch_count,omitempty"` // reported when role is main
	Main        *MainPreview `json:"main,omitempty"`         // reported when role is none
	HashMatches *bool        `json:"hash_matches,omitempty"` // set when the caller supplied a digest
}
