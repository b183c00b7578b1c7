// Package mockserver is an in-process conversion server speaking the
// project conversion API. It "converts" files by renaming them to the target
// language's extension and prefixing a marker comment, and reports progress
// over SSE like the real service.
package mockserver

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sly67/projconv/internal/events"
	"github.com/sly67/projconv/internal/logging"
	"github.com/sly67/projconv/internal/protocol"
)

// DefaultMaxUploadSize matches the client-side selection ceiling.
const DefaultMaxUploadSize = 50 << 20

// ResultName is the file name the result archive is served under.
const ResultName = "converted_project.zip"

// DefaultResultTTL is how long a finished job's result and events are kept.
const DefaultResultTTL = 10 * time.Minute

// SupportedExtensions lists the source extensions picked up per language.
// The first entry is the extension converted files get.
var SupportedExtensions = map[string][]string{
	"c":      {".c", ".h"},
	"python": {".py"},
	"java":   {".java"},
	"js":     {".js", ".jsx"},
	"go":     {".go"},
}

// Options tunes the simulated conversion.
type Options struct {
	StepDelay     time.Duration // pause before each file
	FailAt        int           // 1-based index of the file that fails; 0 never fails
	SyncManifest  bool          // convert before answering and return files and download_url
	MaxUploadSize int64
	ResultTTL     time.Duration // finished jobs are dropped after this long
}

type sourceFile struct {
	path string
	data []byte
}

type result struct {
	files   []string
	archive []byte
}

// Server is the mock conversion service.
type Server struct {
	opts Options
	hub  *events.Hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	results map[string]*result
}

// New creates a mock server.
func New(opts Options) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:    opts,
		hub:     events.NewHub(),
		ctx:     ctx,
		cancel:  cancel,
		results: make(map[string]*result),
	}
}

// Close stops running conversions and waits for them to exit.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// Handler returns the HTTP handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST "+protocol.PathConvert, s.handleConvert)
	mux.HandleFunc("POST "+protocol.PathConvertProject, s.handleConvertProject)
	mux.HandleFunc("GET "+protocol.PathProgress+"{id}", s.handleProgress)
	mux.HandleFunc("GET "+protocol.PathDownload+"{id}", s.handleDownload)
	return logging.Middleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Snippet conversion ─────────────────────────────────────────────────────

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req protocol.ConvertRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.opts.MaxUploadSize)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceLang == "" || req.TargetLang == "" || req.Code == "" {
		s.sendError(w, http.StatusBadRequest, "missing required parameters")
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.ConvertResponse{
		Success: true,
		Result:  convertCode(req.SourceLang, req.TargetLang, []byte(req.Code)),
	})
}

// ─── Project conversion ─────────────────────────────────────────────────────

func (s *Server) handleConvertProject(w http.ResponseWriter, r *http.Request) {
	log := logging.WithContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)

	fields, parts, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendFailure(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.sendFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	src, tgt := fields[protocol.FieldSourceLang], fields[protocol.FieldTargetLang]
	if src == "" || tgt == "" {
		s.sendFailure(w, http.StatusBadRequest, "source_lang and target_lang are required")
		return
	}

	var files []sourceFile
	switch fields[protocol.FieldType] {
	case protocol.TypeFolder:
		files = parts
	case protocol.TypeZip:
		files, err = extractZips(parts)
		if err != nil {
			s.sendFailure(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		s.sendFailure(w, http.StatusBadRequest, fmt.Sprintf("unknown upload type %q", fields[protocol.FieldType]))
		return
	}
	if len(files) == 0 {
		s.sendFailure(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	id := uuid.NewString()
	s.hub.Open(id)
	s.hub.Publish(id, protocol.ProgressEvent{Status: protocol.StatusPreparing})
	log.Info("conversion job accepted",
		zap.String("progress_id", id),
		zap.String("source_lang", src),
		zap.String("target_lang", tgt),
		zap.Int("files", len(files)))

	if s.opts.SyncManifest {
		res, err := s.convert(r.Context(), id, src, tgt, files)
		if err != nil {
			s.sendFailure(w, http.StatusOK, err.Error())
			return
		}
		s.sendJSON(w, http.StatusOK, protocol.ConvertProjectResponse{
			Success:     true,
			ProgressID:  id,
			Files:       res.files,
			DownloadURL: downloadURL(id),
		})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.convert(s.ctx, id, src, tgt, files); err != nil {
			logging.Warn("conversion job failed", zap.String("progress_id", id), zap.Error(err))
		}
	}()
	s.sendJSON(w, http.StatusOK, protocol.ConvertProjectResponse{Success: true, ProgressID: id})
}

// readUpload streams the multipart body, keeping form values and the
// folder_files parts under their full relative paths.
func readUpload(r *http.Request) (map[string]string, []sourceFile, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, fmt.Errorf("expected multipart form: %w", err)
	}

	fields := make(map[string]string)
	var files []sourceFile
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, nil, err
		}

		if part.FormName() != protocol.FieldFiles {
			fields[part.FormName()] = string(data)
			continue
		}
		name := protocol.PartFileName(part)
		if name == "" {
			continue
		}
		rel, err := cleanRelative(name)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, sourceFile{path: rel, data: data})
	}
	return fields, files, nil
}

func cleanRelative(name string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, `\`, "/")), "/")
	if rel == "" || rel == "." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return rel, nil
}

func extractZips(parts []sourceFile) ([]sourceFile, error) {
	var files []sourceFile
	for _, p := range parts {
		if !strings.HasSuffix(strings.ToLower(p.path), ".zip") {
			continue
		}
		zr, err := zip.NewReader(bytes.NewReader(p.data), int64(len(p.data)))
		if err != nil {
			return nil, fmt.Errorf("%s is not a valid zip archive: %w", p.path, err)
		}
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rel, err := cleanRelative(f.Name)
			if err != nil {
				return nil, err
			}
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s in %s: %w", f.Name, p.path, err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("read %s in %s: %w", f.Name, p.path, err)
			}
			files = append(files, sourceFile{path: rel, data: data})
		}
	}
	return files, nil
}

// convert runs one job, publishing progress to the hub. The job expires
// ResultTTL after it ends, whatever the outcome.
func (s *Server) convert(ctx context.Context, id, src, tgt string, files []sourceFile) (*result, error) {
	defer s.scheduleExpiry(id)

	exts := SupportedExtensions[src]
	targetExt := ""
	if te := SupportedExtensions[tgt]; len(te) > 0 {
		targetExt = te[0]
	}

	var todo []int
	for i, f := range files {
		if hasExt(f.path, exts) {
			todo = append(todo, i)
		}
	}
	total := len(todo)

	out := make([]sourceFile, len(files))
	copy(out, files)
	var converted []string

	for n, i := range todo {
		f := files[i]
		name := path.Base(f.path)

		if s.opts.StepDelay > 0 {
			select {
			case <-ctx.Done():
				s.fail(id, n+1, total, name, "conversion cancelled")
				return nil, ctx.Err()
			case <-time.After(s.opts.StepDelay):
			}
		}

		if s.opts.FailAt == n+1 {
			msg := fmt.Sprintf("failed to convert %s", name)
			s.fail(id, n+1, total, name, msg)
			return nil, errors.New(msg)
		}

		s.hub.Publish(id, protocol.ProgressEvent{
			Current:     n + 1,
			Total:       total,
			CurrentFile: name,
			Status:      protocol.StatusConverting,
		})

		target := strings.TrimSuffix(f.path, path.Ext(f.path)) + targetExt
		out[i] = sourceFile{path: target, data: []byte(convertCode(src, tgt, f.data))}
		converted = append(converted, target)
	}

	archive, err := buildArchive(out)
	if err != nil {
		s.fail(id, total, total, "", err.Error())
		return nil, err
	}

	res := &result{files: converted, archive: archive}
	s.mu.Lock()
	s.results[id] = res
	s.mu.Unlock()

	s.hub.Publish(id, protocol.ProgressEvent{
		Current:     total,
		Total:       total,
		Status:      protocol.StatusCompleted,
		Files:       converted,
		DownloadURL: downloadURL(id),
	})
	logging.Info("conversion job completed", zap.String("progress_id", id), zap.Int("converted", len(converted)))
	return res, nil
}

func (s *Server) scheduleExpiry(id string) {
	if s.ctx.Err() != nil {
		s.expire(id)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.ctx.Done():
		case <-time.After(s.opts.ResultTTL):
		}
		s.expire(id)
	}()
}

// expire drops a job's result and progress history.
func (s *Server) expire(id string) {
	s.mu.Lock()
	delete(s.results, id)
	s.mu.Unlock()
	s.hub.Forget(id)
	logging.Debug("conversion job expired", zap.String("progress_id", id))
}

func (s *Server) fail(id string, current, total int, file, msg string) {
	s.hub.Publish(id, protocol.ProgressEvent{
		Current:     current,
		Total:       total,
		CurrentFile: file,
		Status:      protocol.StatusError,
		Error:       msg,
	})
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func convertCode(src, tgt string, code []byte) string {
	comment := "//"
	if tgt == "python" {
		comment = "#"
	}
	return fmt.Sprintf("%s converted from %s to %s\n%s", comment, src, tgt, code)
}

func buildArchive(files []sourceFile) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.path)
		if err != nil {
			return nil, fmt.Errorf("add %s to archive: %w", f.path, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("write %s to archive: %w", f.path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

func downloadURL(id string) string {
	return protocol.PathDownload + id
}

// ─── Progress stream ────────────────────────────────────────────────────────

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	id := r.PathValue("id")
	history, sub, ok := s.hub.Subscribe(id)
	if !ok {
		writeEvent(w, protocol.ProgressEvent{Error: "progress id not found"})
		flusher.Flush()
		return
	}
	defer s.hub.Unsubscribe(sub)

	for _, ev := range history {
		writeEvent(w, ev)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev protocol.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// ─── Download ───────────────────────────────────────────────────────────────

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	res, ok := s.results[r.PathValue("id")]
	s.mu.RUnlock()
	if !ok {
		s.sendError(w, http.StatusNotFound, "file not found or expired")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ResultName))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.archive)))
	w.Write(res.archive)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{Error: message})
}

func (s *Server) sendFailure(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ConvertProjectResponse{Success: false, Error: message})
}
