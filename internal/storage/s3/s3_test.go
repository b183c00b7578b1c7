package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeS3 answers the handful of path-style calls the sink makes.
type fakeS3 struct {
	mu       sync.Mutex
	buckets  map[string]bool
	requests []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	switch {
	case r.Method == http.MethodHead && len(parts) == 1:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && len(parts) == 1:
		f.buckets[bucket] = true
	case r.Method == http.MethodPut:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"etag"`)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeS3) seen(req string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == req {
			return true
		}
	}
	return false
}

func newSink(t *testing.T, fake *fakeS3, prefix string) *Sink {
	t.Helper()
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)
	sink, err := New(context.Background(), Config{
		Endpoint:  ts.URL,
		Bucket:    "results",
		Prefix:    prefix,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sink
}

func TestNew_CreatesMissingBucket(t *testing.T) {
	fake := &fakeS3{buckets: map[string]bool{}}
	newSink(t, fake, "")
	if !fake.seen("PUT /results") {
		t.Errorf("bucket not created, requests: %v", fake.requests)
	}
}

func TestPut_KeyWithPrefix(t *testing.T) {
	fake := &fakeS3{buckets: map[string]bool{"results": true}}
	sink := newSink(t, fake, "/jobs/")

	loc, err := sink.Put(context.Background(), "converted_project_1.zip", strings.NewReader("PK"), 2)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if loc != "s3://results/jobs/converted_project_1.zip" {
		t.Errorf("location = %q", loc)
	}
	if !fake.seen("PUT /results/jobs/converted_project_1.zip") {
		t.Errorf("object not uploaded, requests: %v", fake.requests)
	}
	if fake.seen("PUT /results") {
		t.Error("existing bucket should not be created")
	}
}

func TestPut_UnknownSize(t *testing.T) {
	fake := &fakeS3{buckets: map[string]bool{"results": true}}
	sink := newSink(t, fake, "")

	if _, err := sink.Put(context.Background(), "r.zip", strings.NewReader("streamed body"), -1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !fake.seen("PUT /results/r.zip") {
		t.Errorf("object not uploaded, requests: %v", fake.requests)
	}
}

func TestKey(t *testing.T) {
	s := &Sink{prefix: ""}
	if got := s.Key("a.zip"); got != "a.zip" {
		t.Errorf("Key = %q", got)
	}
	s.prefix = "x/y"
	if got := s.Key("a.zip"); got != "x/y/a.zip" {
		t.Errorf("Key = %q", got)
	}
}
