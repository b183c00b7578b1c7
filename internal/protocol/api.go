// Package protocol defines the conversion API request/response types.
package protocol

// Form field names of POST /api/convert-project.
const (
	FieldSourceLang = "source_lang"
	FieldTargetLang = "target_lang"
	FieldType       = "type"
	FieldFiles      = "folder_files"
)

// Endpoint paths.
const (
	PathConvert        = "/api/convert"
	PathConvertProject = "/api/convert-project"
	PathProgress       = "/api/progress/"
	PathDownload       = "/download/"
)

// Upload kinds sent in the "type" field.
const (
	TypeZip    = "zip"
	TypeFolder = "folder"
)

// Progress statuses. Servers may also send other non-terminal values such as
// "preparing" or "converting".
const (
	StatusRunning    = "running"
	StatusPreparing  = "preparing"
	StatusConverting = "converting"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// ConvertProjectResponse is returned by POST /api/convert-project.
type ConvertProjectResponse struct {
	Success     bool     `json:"success"`
	ProgressID  string   `json:"progress_id,omitempty"`
	Files       []string `json:"files,omitempty"`
	DownloadURL string   `json:"download_url,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// ProgressEvent is the data payload of one GET /api/progress/{id} event.
type ProgressEvent struct {
	Current     int      `json:"current"`
	Total       int      `json:"total"`
	CurrentFile string   `json:"current_file,omitempty"`
	Status      string   `json:"status,omitempty"`
	Error       string   `json:"error,omitempty"`
	Files       []string `json:"files,omitempty"`
	DownloadURL string   `json:"download_url,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Error != "" || e.Status == StatusCompleted || e.Status == StatusError
}

// ConvertRequest is the body of POST /api/convert.
type ConvertRequest struct {
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Code       string `json:"code"`
}

// ConvertResponse is returned by POST /api/convert.
type ConvertResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is returned on API errors that carry no success flag.
type ErrorResponse struct {
	Error string `json:"error"`
}
