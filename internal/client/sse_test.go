package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sly67/projconv/internal/models"
	"github.com/sly67/projconv/internal/protocol"
)

// sseHandler writes each event as one data frame and then returns.
func sseHandler(t *testing.T, events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, protocol.PathProgress) {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
	}
}

type recorder struct {
	mu       sync.Mutex
	updates  []models.ProgressUpdate
	terminal *Terminal
	done     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) onUpdate(u models.ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) onTerminal(term Terminal) {
	r.mu.Lock()
	r.terminal = &term
	r.mu.Unlock()
	close(r.done)
}

func (r *recorder) wait(t *testing.T) Terminal {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal callback")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.terminal
}

func TestAttach_OrderedUntilCompleted(t *testing.T) {
	c := testClient(t, sseHandler(t,
		`{"current":1,"total":10,"current_file":"a.py","status":"preparing"}`,
		`{"current":5,"total":10,"current_file":"b.py","status":"converting"}`,
		`{"current":10,"total":10,"status":"completed","files":["a.go","b.go"],"download_url":"/download/x.zip"}`,
		`{"current":99,"total":10,"status":"running"}`,
	))
	rec := newRecorder()

	sub := c.Attach(context.Background(), "p1", rec.onUpdate, rec.onTerminal)
	term := rec.wait(t)
	<-sub.Done()

	if term.Reason != TerminalCompleted {
		t.Fatalf("Reason = %s, want completed", term.Reason)
	}
	if len(term.Update.Manifest) != 2 || term.Update.DownloadRef != "/download/x.zip" {
		t.Errorf("terminal update = %+v", term.Update)
	}
	if len(rec.updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(rec.updates))
	}
	if rec.updates[0].Percent() != 10 || rec.updates[1].Percent() != 50 {
		t.Errorf("percents = %d, %d", rec.updates[0].Percent(), rec.updates[1].Percent())
	}
	if rec.updates[1].CurrentFile != "b.py" || rec.updates[1].Status != models.StatusRunning {
		t.Errorf("second update = %+v", rec.updates[1])
	}
	if !sub.Closed() {
		t.Error("subscription should be closed after the terminal event")
	}
}

func TestAttach_SkipsUndecodableEvents(t *testing.T) {
	c := testClient(t, sseHandler(t,
		`not json`,
		`{"current":-1,"total":2}`,
		`{"current":1,"total":2,"status":"running"}`,
		`{"current":2,"total":2,"status":"completed"}`,
	))
	rec := newRecorder()

	c.Attach(context.Background(), "p1", rec.onUpdate, rec.onTerminal)
	term := rec.wait(t)

	if term.Reason != TerminalCompleted {
		t.Fatalf("Reason = %s", term.Reason)
	}
	if len(rec.updates) != 1 || rec.updates[0].Current != 1 {
		t.Errorf("updates = %+v", rec.updates)
	}
}

func TestAttach_ErrorEvents(t *testing.T) {
	tests := []struct {
		name  string
		event string
		msg   string
	}{
		{"error field", `{"error":"Invalid progress ID"}`, "Invalid progress ID"},
		{"error field wins over status", `{"status":"running","error":"disk full"}`, "disk full"},
		{"error status", `{"current":3,"total":4,"status":"error"}`, DefaultErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, sseHandler(t, tt.event))
			rec := newRecorder()

			c.Attach(context.Background(), "p1", rec.onUpdate, rec.onTerminal)
			term := rec.wait(t)

			if term.Reason != TerminalError {
				t.Fatalf("Reason = %s, want error", term.Reason)
			}
			if term.Message != tt.msg {
				t.Errorf("Message = %q, want %q", term.Message, tt.msg)
			}
			if len(rec.updates) != 0 {
				t.Errorf("unexpected updates %+v", rec.updates)
			}
		})
	}
}

func TestAttach_TransportLost(t *testing.T) {
	t.Run("eof before terminal", func(t *testing.T) {
		c := testClient(t, sseHandler(t, `{"current":1,"total":2,"status":"running"}`))
		rec := newRecorder()

		c.Attach(context.Background(), "p1", rec.onUpdate, rec.onTerminal)
		term := rec.wait(t)

		if term.Reason != TerminalTransportLost || term.Err == nil {
			t.Fatalf("terminal = %+v", term)
		}
		if len(rec.updates) != 1 {
			t.Errorf("updates = %d, want 1", len(rec.updates))
		}
	})

	t.Run("bad status", func(t *testing.T) {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		rec := newRecorder()

		c.Attach(context.Background(), "p1", rec.onUpdate, rec.onTerminal)
		if term := rec.wait(t); term.Reason != TerminalTransportLost {
			t.Fatalf("Reason = %s", term.Reason)
		}
	})
}

func TestAttach_CloseSuppressesCallbacks(t *testing.T) {
	release := make(chan struct{})
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, "data: {\"current\":1,\"total\":1,\"status\":\"completed\"}\n\n")
	}))
	defer close(release)

	var mu sync.Mutex
	calls := 0
	count := func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}
	sub := c.Attach(context.Background(), "p1",
		func(models.ProgressUpdate) { count() },
		func(Terminal) { count() })

	sub.Close()
	sub.Close()

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reader goroutine did not exit after Close")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callbacks after Close = %d", calls)
	}
}

func TestAttach_MultiLineData(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: progress\ndata: {\"current\":2,\n")
		fmt.Fprint(w, "data: \"total\":2,\"status\":\"completed\"}\n\n")
	}))
	rec := newRecorder()

	c.Attach(context.Background(), "p1", rec.onUpdate, rec.onTerminal)
	if term := rec.wait(t); term.Reason != TerminalCompleted || term.Update.Current != 2 {
		t.Fatalf("terminal = %+v", term)
	}
}

func TestSubscription_NilSafe(t *testing.T) {
	var sub *Subscription
	sub.Close()
	if !sub.Closed() || sub.ProgressID() != "" {
		t.Error("nil subscription should report closed and no id")
	}
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		data    string
		status  models.JobStatus
		msg     string
		wantErr bool
	}{
		{`{"current":1,"total":4,"status":"running"}`, models.StatusRunning, "", false},
		{`{"current":1,"total":4,"status":"preparing"}`, models.StatusRunning, "", false},
		{`{"current":1,"total":4}`, models.StatusRunning, "", false},
		{`{"current":4,"total":4,"status":"completed"}`, models.StatusCompleted, "", false},
		{`{"status":"error"}`, models.StatusError, "", false},
		{`{"error":"bad id"}`, models.StatusError, "bad id", false},
		{`{"current":1,"total":-4}`, 0, "", true},
		{`[1,2]`, 0, "", true},
	}
	for _, tt := range tests {
		update, msg, err := DecodeEvent([]byte(tt.data))
		if (err != nil) != tt.wantErr {
			t.Errorf("DecodeEvent(%s) err = %v", tt.data, err)
			continue
		}
		if tt.wantErr {
			continue
		}
		if update.Status != tt.status || msg != tt.msg {
			t.Errorf("DecodeEvent(%s) = %v, %q", tt.data, update.Status, msg)
		}
	}
}
