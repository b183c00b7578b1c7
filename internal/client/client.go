// Package client talks to the conversion server: it submits project jobs,
// follows their progress stream and downloads the converted result.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sly67/projconv/internal/logging"
	"github.com/sly67/projconv/internal/metrics"
	"github.com/sly67/projconv/internal/models"
	"github.com/sly67/projconv/internal/protocol"
	"github.com/sly67/projconv/internal/retry"
)

// Client is the HTTP client for the conversion API.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	streamClient *http.Client
	retryConfig  retry.Config

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration // submission and download round trips
	RetryConfig retry.Config  // downloads only; submissions are never retried
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		// No timeout for event streams
		streamClient: &http.Client{Transport: transport},
		retryConfig:  cfg.RetryConfig,
		authToken:    cfg.AuthToken,
	}, nil
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// applyAuth adds the auth header to a request if a token is set.
func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// resolve turns an API path or a server-provided reference into an absolute URL.
func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	if !u.IsAbs() && strings.HasPrefix(u.Path, "/") {
		// Rooted paths stay below the base URL's own path prefix.
		u.Path = strings.TrimPrefix(u.Path, "/")
	}
	return c.baseURL.ResolveReference(u).String(), nil
}

// SubmissionErrorKind classifies a failed submission.
type SubmissionErrorKind string

const (
	// SubmitTransport covers network failures and non-success HTTP statuses.
	SubmitTransport SubmissionErrorKind = "transport"
	// SubmitProtocol covers malformed response bodies.
	SubmitProtocol SubmissionErrorKind = "protocol"
	// SubmitRejected means the server answered success=false.
	SubmitRejected SubmissionErrorKind = "rejected"
)

// SubmissionError is returned when a job could not be created.
type SubmissionError struct {
	Kind   SubmissionErrorKind
	Detail string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission %s error: %s", e.Kind, e.Detail)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// AsSubmission checks if an error is a SubmissionError and returns it.
func AsSubmission(err error) (*SubmissionError, bool) {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// DefaultErrorMessage describes a failure the server reported without a message.
const DefaultErrorMessage = "server reported an error"

// ErrInvalidArguments is returned when Submit is called without a selection
// or with missing or identical languages.
var ErrInvalidArguments = errors.New("invalid submission arguments")

// Submit uploads the selection as one multipart request and returns the job
// handle. It performs exactly one round trip and never retries.
func (c *Client) Submit(ctx context.Context, sel *models.Selection, sourceLang, targetLang string) (*models.JobHandle, error) {
	if sel == nil || len(sel.Entries) == 0 {
		return nil, fmt.Errorf("%w: empty selection", ErrInvalidArguments)
	}
	if sourceLang == "" || targetLang == "" {
		return nil, fmt.Errorf("%w: source and target language are required", ErrInvalidArguments)
	}
	if sourceLang == targetLang {
		return nil, fmt.Errorf("%w: source and target language must differ", ErrInvalidArguments)
	}

	endpoint, err := c.resolve(protocol.PathConvertProject)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeSubmission(mw, sel, sourceLang, targetLang))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)

	log := logging.WithContext(ctx)
	log.Info("submitting project",
		zap.String("type", sel.Kind.UploadType()),
		zap.Int("files", len(sel.Entries)),
		zap.Int64("bytes", sel.TotalSize()),
		zap.String("source_lang", sourceLang),
		zap.String("target_lang", targetLang))

	start := time.Now()
	handle, err := c.doSubmit(req)
	result := "ok"
	if se, ok := AsSubmission(err); ok {
		result = string(se.Kind)
	} else if err != nil {
		result = "error"
	}
	metrics.RecordSubmission(result, time.Since(start))

	if err != nil {
		log.Warn("submission failed", zap.Error(err))
		return nil, err
	}
	log.Info("submission accepted",
		zap.String("progress_id", handle.ProgressID),
		zap.Bool("manifest", handle.HasManifest()))
	return handle, nil
}

func writeSubmission(mw *multipart.Writer, sel *models.Selection, sourceLang, targetLang string) error {
	fields := [][2]string{
		{protocol.FieldSourceLang, sourceLang},
		{protocol.FieldTargetLang, targetLang},
		{protocol.FieldType, sel.Kind.UploadType()},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	for _, e := range sel.Entries {
		if err := writePart(mw, e); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, e models.FileEntry) error {
	part, err := mw.CreateFormFile(protocol.FieldFiles, e.RelativePath)
	if err != nil {
		return err
	}
	if e.Handle == nil {
		return fmt.Errorf("%s: no file handle", e.RelativePath)
	}
	rc, err := e.Handle.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", e.RelativePath, err)
	}
	defer rc.Close()
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("read %s: %w", e.RelativePath, err)
	}
	return nil
}

func (c *Client) doSubmit(req *http.Request) (*models.JobHandle, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SubmissionError{Kind: SubmitTransport, Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &SubmissionError{Kind: SubmitTransport, Detail: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := fmt.Sprintf("server returned %d", resp.StatusCode)
		var errResp protocol.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			detail += ": " + errResp.Error
		}
		return nil, &SubmissionError{Kind: SubmitTransport, Detail: detail}
	}

	var out protocol.ConvertProjectResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &SubmissionError{Kind: SubmitProtocol, Detail: "malformed response: " + err.Error(), Err: err}
	}

	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = DefaultErrorMessage
		}
		return nil, &SubmissionError{Kind: SubmitRejected, Detail: msg}
	}

	if out.ProgressID == "" && out.Files == nil && out.DownloadURL == "" {
		return nil, &SubmissionError{Kind: SubmitProtocol, Detail: "response has no progress_id"}
	}

	return &models.JobHandle{
		ProgressID:  out.ProgressID,
		Manifest:    out.Files,
		DownloadRef: out.DownloadURL,
	}, nil
}

// Download fetches a converted project. Network failures and 5xx responses
// are retried; the caller must close the returned reader.
func (c *Client) Download(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	if ref == "" {
		return nil, 0, errors.New("empty download reference")
	}
	target, err := c.resolve(ref)
	if err != nil {
		return nil, 0, err
	}

	type result struct {
		body io.ReadCloser
		size int64
	}
	r, err := retry.DoWithResult(ctx, c.retryConfig, func() (result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return result{}, err
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return result{}, retry.Retryable(err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return result{}, retry.StatusError(resp.StatusCode)
		}
		return result{body: resp.Body, size: resp.ContentLength}, nil
	})
	if err != nil {
		logging.WithContext(ctx).Warn("download failed", zap.String("url", target), zap.Error(err))
		return nil, 0, fmt.Errorf("download %s: %w", ref, err)
	}
	return r.body, r.size, nil
}
