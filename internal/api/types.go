package api

// moveRequest is the body for POST /move, /rename, and /delete style calls.
type moveRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type pathRequest struct {
	Path string `json:"path"`
}

// statusResponse is the generic success/error envelope used by the
// non-streamed endpoints.
type statusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// countResponse is the body of GET /count-files.
type countResponse struct {
	FileCount int `json:"file_count"`
}

// FolderSize is the display-only result of GET /folder-size.
// Size is a human-readable string formatted by the server.
type FolderSize struct {
	Size          string `json:"size"`
	ComicCount    int    `json:"comic_count,omitempty"`
	MagazineCount int    `json:"magazine_count,omitempty"`
}

// ScriptType identifies a remote processing script.
type ScriptType string

const (
	ScriptRebuild ScriptType = "rebuild"
	ScriptCrop    ScriptType = "crop"
	ScriptEnhance ScriptType = "enhance"
	ScriptConvert ScriptType = "convert"
	ScriptMissing ScriptType = "missing"
)

// KnownScriptTypes lists the script types the server exposes, for
// client-side validation with a friendlier error than a 404.
var KnownScriptTypes = []ScriptType{
	ScriptRebuild, ScriptCrop, ScriptEnhance, ScriptConvert, ScriptMissing,
}

// ValidScriptType reports whether s names a known script.
func ValidScriptType(s ScriptType) bool {
	for _, k := range KnownScriptTypes {
		if s == k {
			return true
		}
	}
	return false
}
