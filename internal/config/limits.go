package config

const (
	// MaxUploadBytes caps the raw size of an uploaded translation file.
	// Translation files for a single work are small; anything larger is
	// almost certainly a mistake or abuse.
	MaxUploadBytes = 10 << 20 // 10 MiB

	// MaxKeyLength is the maximum length for a translation key.
	// Limited to 500 to fit comfortably in indexed columns and because
	// longer keys indicate malformed source files.
	MaxKeyLength = 500

	// MaxBranchesPerMerge caps how many branches one merge view compares.
	// The comparison grid is rendered client-side; more columns than this
	// are unusable anyway.
	MaxBranchesPerMerge = 10
)
