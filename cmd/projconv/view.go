package main

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/sly67/projconv/internal/session"
)

// terminalView renders a session to a terminal. On a TTY progress is drawn
// as a bar; otherwise every change is printed as one line.
type terminalView struct {
	out         io.Writer
	interactive bool

	bar      *progressbar.ProgressBar
	lastLine string
	lastErr  string

	final session.Snapshot
	done  chan session.Phase
}

func newTerminalView(f *os.File) *terminalView {
	return &terminalView{
		out:         f,
		interactive: term.IsTerminal(int(f.Fd())),
		done:        make(chan session.Phase, 1),
	}
}

// Done delivers the phase once the job completed or failed.
func (v *terminalView) Done() <-chan session.Phase {
	return v.done
}

// Final returns the snapshot that ended the job.
func (v *terminalView) Final() session.Snapshot {
	return v.final
}

// LastError returns the most recent error message shown.
func (v *terminalView) LastError() string {
	return v.lastErr
}

func (v *terminalView) Render(s session.Snapshot) {
	switch s.Phase {
	case session.PhaseSubmitting:
		v.println(fmt.Sprintf("uploading %d files...", s.FileCount))
	case session.PhaseTracking:
		v.progress(s)
	case session.PhaseCompleted, session.PhaseFailed:
		if s.Phase == session.PhaseCompleted {
			v.progress(s)
		}
		v.finishBar()
		v.final = s
		select {
		case v.done <- s.Phase:
		default:
		}
	}
}

func (v *terminalView) ShowStatus(st session.Status) {
	if st.Message == "" {
		return
	}
	if st.Level == session.StatusError {
		v.lastErr = st.Message
	}
	v.clearBar()
	fmt.Fprintln(v.out, st.Message)
}

func (v *terminalView) progress(s session.Snapshot) {
	desc := "converting"
	if s.CurrentFile != "" {
		desc = "converting " + s.CurrentFile
	}

	if !v.interactive {
		v.println(fmt.Sprintf("%s (%d/%d, %d%%)", desc, s.Current, s.Total, s.Percent))
		return
	}

	if v.bar == nil {
		v.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(v.out),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}
	v.bar.Describe(desc)
	_ = v.bar.Set(s.Percent)
}

func (v *terminalView) finishBar() {
	if v.bar == nil {
		return
	}
	_ = v.bar.Finish()
	v.bar = nil
}

func (v *terminalView) clearBar() {
	if v.bar != nil {
		_ = v.bar.Clear()
	}
}

// println prints line unless it repeats the previous one.
func (v *terminalView) println(line string) {
	if line == v.lastLine {
		return
	}
	v.lastLine = line
	fmt.Fprintln(v.out, line)
}
