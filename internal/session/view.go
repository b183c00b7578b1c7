package session

import "github.com/sly67/projconv/internal/tree"

// Phase is the lifecycle state of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSelected
	PhaseSubmitting
	PhaseTracking
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSelected:
		return "selected"
	case PhaseSubmitting:
		return "submitting"
	case PhaseTracking:
		return "tracking"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is everything a view needs to draw the session. Loading, progress
// and result affordances are derived from the phase, so a view never sees a
// combination the phase does not allow.
type Snapshot struct {
	Phase Phase

	// Selection
	Tree       *tree.Node // nil without a selection
	Kind       string     // "zip" or "folder"
	FileCount  int
	TotalBytes int64

	// Progress
	Loading         bool
	ProgressVisible bool
	Percent         int
	Current         int
	Total           int
	CurrentFile     string

	// Result
	Manifest        []string
	DownloadEnabled bool

	SubmitEnabled bool
}

// StatusLevel grades a status message.
type StatusLevel int

const (
	StatusInfo StatusLevel = iota
	StatusSuccess
	StatusError
)

// Status is a transient user-facing message. The zero Status clears the
// message line.
type Status struct {
	Message string
	Level   StatusLevel
}

// View renders session state. Both methods are called with the controller
// lock held and must not call back into the controller.
type View interface {
	Render(Snapshot)
	ShowStatus(Status)
}

// NopView discards everything.
type NopView struct{}

func (NopView) Render(Snapshot)   {}
func (NopView) ShowStatus(Status) {}
