package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sly67/projconv/internal/logging"
	"github.com/sly67/projconv/internal/metrics"
	"github.com/sly67/projconv/internal/models"
	"github.com/sly67/projconv/internal/protocol"
)

// TerminalReason says how a progress subscription ended.
type TerminalReason int

const (
	TerminalCompleted TerminalReason = iota
	TerminalError
	TerminalTransportLost
)

func (r TerminalReason) String() string {
	switch r {
	case TerminalCompleted:
		return "completed"
	case TerminalError:
		return "error"
	default:
		return "transport_lost"
	}
}

// Terminal is delivered exactly once when a subscription ends on its own.
// It is never delivered after Close.
type Terminal struct {
	Reason  TerminalReason
	Update  models.ProgressUpdate // last decoded event, zero for transport loss
	Message string
	Err     error
}

// UpdateFunc receives running progress events in server-send order.
type UpdateFunc func(models.ProgressUpdate)

// TerminalFunc receives the terminal outcome of a subscription.
type TerminalFunc func(Terminal)

// Subscription is an open progress stream. Close is idempotent and safe to
// call from any goroutine, including from inside a callback.
type Subscription struct {
	progressID string
	cancel     context.CancelFunc
	closed     atomic.Bool
	once       sync.Once
	done       chan struct{}
}

// ProgressID returns the job the subscription follows.
func (s *Subscription) ProgressID() string {
	if s == nil {
		return ""
	}
	return s.progressID
}

// Close stops the stream. No callback starts after Close returns.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// Closed reports whether Close was called or the stream ended.
func (s *Subscription) Closed() bool {
	return s == nil || s.closed.Load()
}

// Done is closed once the reader goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// maxEventSize bounds a single SSE line.
const maxEventSize = 1 << 20

// Attach opens the progress stream of one job. It returns immediately; the
// connection is made in the background and a failure to connect is reported
// as TerminalTransportLost. There is no reconnect.
func (c *Client) Attach(ctx context.Context, progressID string, onUpdate UpdateFunc, onTerminal TerminalFunc) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		progressID: progressID,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	metrics.StreamOpened()
	go func() {
		defer close(sub.done)
		defer metrics.StreamClosed()
		defer sub.Close()

		log := logging.WithContext(ctx).With(zap.String("progress_id", progressID))
		term, err := c.stream(ctx, sub, log, onUpdate)
		if sub.Closed() {
			log.Debug("progress stream closed by owner")
			return
		}
		if err != nil {
			term = Terminal{Reason: TerminalTransportLost, Message: err.Error(), Err: err}
			log.Warn("progress stream lost", zap.Error(err))
		}
		metrics.RecordJobOutcome(term.Reason.String())
		// Close before the callback so the owner sees a released handle.
		sub.Close()
		if onTerminal != nil {
			onTerminal(term)
		}
	}()

	return sub
}

// stream reads events until a terminal event, an error, or Close. A nil
// error means term is valid.
func (c *Client) stream(ctx context.Context, sub *Subscription, log *zap.Logger, onUpdate UpdateFunc) (Terminal, error) {
	endpoint, err := c.resolve(protocol.PathProgress + url.PathEscape(sub.progressID))
	if err != nil {
		return Terminal{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Terminal{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.applyAuth(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return Terminal{}, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Terminal{}, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	log.Debug("progress stream connected", zap.String("url", endpoint))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)
	var data []string

	for scanner.Scan() {
		if sub.Closed() {
			return Terminal{}, nil
		}
		line := scanner.Text()

		if line == "" {
			if len(data) == 0 {
				continue
			}
			payload := strings.Join(data, "\n")
			data = data[:0]

			update, msg, err := DecodeEvent([]byte(payload))
			if err != nil {
				metrics.RecordStreamDecodeError()
				log.Warn("dropping undecodable progress event", zap.Error(err), zap.String("data", payload))
				continue
			}
			metrics.RecordStreamEvent(update.Status.String())

			switch {
			case msg != "":
				return Terminal{Reason: TerminalError, Update: update, Message: msg}, nil
			case update.Status == models.StatusCompleted:
				return Terminal{Reason: TerminalCompleted, Update: update}, nil
			case update.Status == models.StatusError:
				return Terminal{Reason: TerminalError, Update: update, Message: DefaultErrorMessage}, nil
			}

			if sub.Closed() {
				return Terminal{}, nil
			}
			if onUpdate != nil {
				onUpdate(update)
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(v, " "))
		}
		// event:, id: and retry: fields carry nothing for progress streams.
	}

	if err := scanner.Err(); err != nil {
		if sub.Closed() || errors.Is(err, context.Canceled) {
			return Terminal{}, nil
		}
		return Terminal{}, fmt.Errorf("read: %w", err)
	}
	return Terminal{}, errors.New("stream ended before the job finished")
}

// DecodeEvent decodes one event payload. msg is non-empty when the event
// carries a structural error field; that event is terminal whatever its
// status says. Statuses other than completed and error decode as running.
func DecodeEvent(data []byte) (update models.ProgressUpdate, msg string, err error) {
	var ev protocol.ProgressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.ProgressUpdate{}, "", fmt.Errorf("decode progress event: %w", err)
	}
	if ev.Current < 0 || ev.Total < 0 {
		return models.ProgressUpdate{}, "", fmt.Errorf("decode progress event: negative counters %d/%d", ev.Current, ev.Total)
	}

	update = models.ProgressUpdate{
		Current:      ev.Current,
		Total:        ev.Total,
		CurrentFile:  ev.CurrentFile,
		ErrorMessage: ev.Error,
		Manifest:     ev.Files,
		DownloadRef:  ev.DownloadURL,
	}
	switch ev.Status {
	case protocol.StatusCompleted:
		update.Status = models.StatusCompleted
	case protocol.StatusError:
		update.Status = models.StatusError
	default:
		update.Status = models.StatusRunning
	}
	if ev.Error != "" {
		update.Status = models.StatusError
	}
	return update, ev.Error, nil
}
