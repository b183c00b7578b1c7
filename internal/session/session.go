// Package session drives one project conversion session: file selection,
// submission, progress tracking and result download. All state changes go
// through the Controller, which serializes them and hands each resulting
// Snapshot to a View.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sly67/projconv/internal/client"
	"github.com/sly67/projconv/internal/logging"
	"github.com/sly67/projconv/internal/metrics"
	"github.com/sly67/projconv/internal/models"
	"github.com/sly67/projconv/internal/selection"
	"github.com/sly67/projconv/internal/tree"
)

// DefaultStatusTTL is how long a status message stays up.
const DefaultStatusTTL = 3 * time.Second

var (
	ErrBusy                = errors.New("a job is in progress; clear the session first")
	ErrNoSelection         = errors.New("no files selected")
	ErrLanguagesRequired   = errors.New("source and target language are required")
	ErrSameLanguage        = errors.New("source and target language must differ")
	ErrDownloadUnavailable = errors.New("download link unavailable")
	// ErrSuperseded is returned by Submit when the session was cleared or
	// reused while the submission was in flight. The response is ignored.
	ErrSuperseded = errors.New("session changed while the submission was in flight")
)

// Backend is the conversion service as seen by a session.
type Backend interface {
	Submit(ctx context.Context, sel *models.Selection, sourceLang, targetLang string) (*models.JobHandle, error)
	Attach(ctx context.Context, progressID string, onUpdate client.UpdateFunc, onTerminal client.TerminalFunc) *client.Subscription
	Download(ctx context.Context, ref string) (io.ReadCloser, int64, error)
}

// Sink receives downloaded results.
type Sink interface {
	Put(ctx context.Context, name string, body io.Reader, size int64) (string, error)
}

// Config holds session settings.
type Config struct {
	StatusTTL time.Duration
	Now       func() time.Time
}

// Controller is the session state machine. It is safe for concurrent use.
type Controller struct {
	backend Backend
	view    View
	cfg     Config

	id  string
	ctx context.Context
	log *zap.Logger

	mu        sync.Mutex
	phase     Phase
	selection *models.Selection
	tree      *tree.Node
	job       *models.JobHandle
	stream    streamSlot
	progress  models.ProgressUpdate
	manifest  []string

	// gen invalidates submission responses and stream callbacks that belong
	// to an earlier job or selection.
	gen uint64

	statusSeq   uint64
	statusTimer *time.Timer
}

// New creates a controller in the idle phase.
func New(cfg Config, backend Backend, view View) *Controller {
	if cfg.StatusTTL == 0 {
		cfg.StatusTTL = DefaultStatusTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if view == nil {
		view = NopView{}
	}

	id := uuid.NewString()
	ctx := logging.WithSession(context.Background(), id)
	return &Controller{
		backend: backend,
		view:    view,
		cfg:     cfg,
		id:      id,
		ctx:     ctx,
		log:     logging.WithContext(ctx),
	}
}

// ID returns the session id used in logs.
func (c *Controller) ID() string {
	return c.id
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Snapshot returns the current view state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SelectFiles normalizes and validates raw input and makes it the session's
// selection. A rejected input leaves the session untouched.
func (c *Controller) SelectFiles(raw selection.RawInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseSubmitting || c.phase == PhaseTracking {
		c.showStatusLocked(ErrBusy.Error(), StatusError)
		return ErrBusy
	}

	sel, err := selection.Select(raw)
	if err != nil {
		metrics.RecordSelectionRejected(selection.Reason(err))
		c.log.Info("selection rejected", zap.String("source", selection.SourceOf(raw)), zap.Error(err))
		c.showStatusLocked(err.Error(), StatusError)
		return err
	}
	metrics.RecordSelection(sel.TotalSize())

	c.resetJobLocked()
	c.selection = sel
	c.tree = tree.Build(sel)
	c.phase = PhaseSelected

	c.log.Info("files selected",
		zap.String("source", selection.SourceOf(raw)),
		zap.Stringer("kind", sel.Kind),
		zap.Int("files", sel.Len()),
		zap.Int64("bytes", sel.TotalSize()))
	c.renderLocked()
	return nil
}

// Submit sends the selection for conversion and, on success, starts tracking
// the job. It blocks for the submission round trip only. Allowed from the
// selected, completed and failed phases.
func (c *Controller) Submit(ctx context.Context, sourceLang, targetLang string) error {
	c.mu.Lock()
	if err := c.submitGuardLocked(sourceLang, targetLang); err != nil {
		c.showStatusLocked(err.Error(), StatusError)
		c.mu.Unlock()
		return err
	}

	c.resetJobLocked()
	gen := c.gen
	sel := c.selection
	c.phase = PhaseSubmitting
	c.renderLocked()
	c.mu.Unlock()

	handle, err := c.backend.Submit(logging.WithSession(ctx, c.id), sel, sourceLang, targetLang)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		c.log.Info("ignoring stale submission response", zap.Bool("ok", err == nil))
		return ErrSuperseded
	}

	if err != nil {
		c.phase = PhaseSelected
		c.showStatusLocked("conversion failed: "+submitMessage(err), StatusError)
		c.renderLocked()
		return err
	}

	c.job = handle
	if handle.ProgressID == "" {
		// Finished synchronously; nothing to track.
		c.completeLocked(models.ProgressUpdate{Status: models.StatusCompleted})
		return nil
	}

	c.phase = PhaseTracking
	c.stream.acquire(func() *client.Subscription {
		return c.backend.Attach(c.ctx, handle.ProgressID, c.onUpdate(gen), c.onTerminal(gen))
	})
	c.log.Info("tracking job", zap.String("progress_id", handle.ProgressID))
	c.renderLocked()
	return nil
}

func (c *Controller) submitGuardLocked(sourceLang, targetLang string) error {
	switch c.phase {
	case PhaseSubmitting, PhaseTracking:
		return ErrBusy
	case PhaseIdle:
		return ErrNoSelection
	}
	if c.selection == nil {
		return ErrNoSelection
	}
	if sourceLang == "" || targetLang == "" {
		return ErrLanguagesRequired
	}
	if sourceLang == targetLang {
		return ErrSameLanguage
	}
	return nil
}

func submitMessage(err error) string {
	if se, ok := client.AsSubmission(err); ok {
		return se.Detail
	}
	return err.Error()
}

func (c *Controller) onUpdate(gen uint64) client.UpdateFunc {
	return func(u models.ProgressUpdate) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.phase != PhaseTracking {
			return
		}
		c.applyProgressLocked(u)
		c.renderLocked()
	}
}

func (c *Controller) onTerminal(gen uint64) client.TerminalFunc {
	return func(t client.Terminal) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.phase != PhaseTracking {
			return
		}
		c.stream.release()

		switch t.Reason {
		case client.TerminalCompleted:
			c.completeLocked(t.Update)
		case client.TerminalError:
			c.failLocked("conversion failed: "+t.Message, t)
		default:
			c.failLocked("progress tracking lost: "+t.Message, t)
		}
	}
}

func (c *Controller) applyProgressLocked(u models.ProgressUpdate) {
	c.progress.Current = u.Current
	c.progress.Total = u.Total
	if u.CurrentFile != "" {
		c.progress.CurrentFile = u.CurrentFile
	}
}

// completeLocked enters the completed phase. The submission response's
// manifest and download reference win over the ones in the final event.
func (c *Controller) completeLocked(final models.ProgressUpdate) {
	c.applyProgressLocked(final)
	// A finished job without counters still shows as done.
	if final.Total == 0 {
		c.progress.Current, c.progress.Total = 1, 1
	}

	if !c.job.HasManifest() && final.Manifest != nil {
		c.job.Manifest = final.Manifest
	}
	if c.job.DownloadRef == "" {
		c.job.DownloadRef = final.DownloadRef
	}
	c.manifest = append([]string(nil), c.job.Manifest...)
	c.phase = PhaseCompleted

	c.log.Info("job completed",
		zap.String("progress_id", c.job.ProgressID),
		zap.Int("files", len(c.manifest)),
		zap.Bool("downloadable", c.job.DownloadRef != ""))
	c.showStatusLocked(fmt.Sprintf("project converted: %d files", len(c.manifest)), StatusSuccess)
	c.renderLocked()
}

func (c *Controller) failLocked(msg string, t client.Terminal) {
	c.phase = PhaseFailed
	c.log.Warn("job failed",
		zap.String("progress_id", c.job.ProgressID),
		zap.Stringer("reason", t.Reason),
		zap.String("message", t.Message))
	c.showStatusLocked(msg, StatusError)
	c.renderLocked()
}

// Clear returns the session to idle from any phase. Any open progress stream
// is closed, and responses still in flight are ignored when they arrive.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetJobLocked()
	c.selection = nil
	c.tree = nil
	c.phase = PhaseIdle

	c.statusSeq++
	c.stopStatusTimerLocked()
	c.view.ShowStatus(Status{})

	c.log.Debug("session cleared")
	c.renderLocked()
}

// Close clears the session and stops its timers.
func (c *Controller) Close() {
	c.Clear()
}

// resetJobLocked drops the job, its stream and its progress, and invalidates
// everything issued for them.
func (c *Controller) resetJobLocked() {
	c.gen++
	c.stream.release()
	c.job = nil
	c.progress = models.ProgressUpdate{}
	c.manifest = nil
}

// Download fetches the converted project and stores it through sink. It
// returns the stored location.
func (c *Controller) Download(ctx context.Context, sink Sink) (string, error) {
	c.mu.Lock()
	if c.phase != PhaseCompleted || c.job == nil || c.job.DownloadRef == "" {
		c.showStatusLocked(ErrDownloadUnavailable.Error(), StatusError)
		c.mu.Unlock()
		return "", ErrDownloadUnavailable
	}
	ref := c.job.DownloadRef
	gen := c.gen
	c.mu.Unlock()

	loc, n, err := c.download(logging.WithSession(ctx, c.id), sink, ref)
	metrics.RecordDownload(n, err == nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.log.Warn("download failed", zap.String("ref", ref), zap.Error(err))
		if gen == c.gen {
			c.showStatusLocked("download failed: "+err.Error(), StatusError)
		}
		return "", err
	}
	c.log.Info("result downloaded", zap.String("location", loc), zap.Int64("bytes", n))
	if gen == c.gen {
		c.showStatusLocked("saved to "+loc, StatusSuccess)
	}
	return loc, nil
}

func (c *Controller) download(ctx context.Context, sink Sink, ref string) (string, int64, error) {
	body, size, err := c.backend.Download(ctx, ref)
	if err != nil {
		return "", 0, err
	}
	defer body.Close()

	cr := &countingReader{r: body}
	name := ResultFileName(c.cfg.Now())
	loc, err := sink.Put(ctx, name, cr, size)
	return loc, cr.n, err
}

// ResultFileName names a downloaded result.
func ResultFileName(t time.Time) string {
	return fmt.Sprintf("converted_project_%d.zip", t.UnixMilli())
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// showStatusLocked shows msg and schedules its removal. A newer message
// cancels the removal of an older one.
func (c *Controller) showStatusLocked(msg string, level StatusLevel) {
	c.statusSeq++
	seq := c.statusSeq
	c.view.ShowStatus(Status{Message: msg, Level: level})

	c.stopStatusTimerLocked()
	c.statusTimer = time.AfterFunc(c.cfg.StatusTTL, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.statusSeq == seq {
			c.view.ShowStatus(Status{})
		}
	})
}

func (c *Controller) stopStatusTimerLocked() {
	if c.statusTimer != nil {
		c.statusTimer.Stop()
		c.statusTimer = nil
	}
}

func (c *Controller) renderLocked() {
	c.view.Render(c.snapshotLocked())
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase: c.phase,
		Tree:  c.tree,
	}
	if c.selection != nil {
		s.Kind = c.selection.Kind.UploadType()
		s.FileCount = c.selection.Len()
		s.TotalBytes = c.selection.TotalSize()
	}

	switch c.phase {
	case PhaseSubmitting:
		s.Loading = true
	case PhaseTracking:
		s.Loading = true
		s.ProgressVisible = true
	case PhaseCompleted:
		s.ProgressVisible = true
		s.Manifest = append([]string(nil), c.manifest...)
		s.DownloadEnabled = true
	}
	if s.ProgressVisible {
		s.Current = c.progress.Current
		s.Total = c.progress.Total
		s.Percent = models.Percent(c.progress.Current, c.progress.Total)
		s.CurrentFile = c.progress.CurrentFile
	}

	s.SubmitEnabled = c.selection != nil &&
		(c.phase == PhaseSelected || c.phase == PhaseCompleted || c.phase == PhaseFailed)
	return s
}
