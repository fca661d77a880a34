package docintel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeService struct {
	server     *httptest.Server
	polls      atomic.Int32
	runningFor int32
	final      string
	submitted  []byte
}

func newFakeService(t *testing.T, runningFor int32, final string) *fakeService {
	f := &fakeService{runningFor: runningFor, final: final}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /formrecognizer/documentModels/prebuilt-read:analyze", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api-version") != DefaultAPIVersion {
			t.Errorf("api-version = %q", r.URL.Query().Get("api-version"))
		}
		if r.Header.Get(keyHeader) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":{"code":"401","message":"Access denied due to invalid subscription key"}}`)
			return
		}
		if r.Header.Get("Content-Type") != "application/octet-stream" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}
		f.submitted, _ = io.ReadAll(r.Body)
		w.Header().Set("Operation-Location", f.server.URL+"/formrecognizer/documentModels/prebuilt-read/analyzeResults/op-1")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /formrecognizer/documentModels/prebuilt-read/analyzeResults/op-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(keyHeader) != "secret" {
			t.Errorf("poll without key")
		}
		w.Header().Set("Content-Type", "application/json")
		if f.polls.Add(1) <= f.runningFor {
			io.WriteString(w, `{"status":"running"}`)
			return
		}
		io.WriteString(w, f.final)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeService) client(key string) *Client {
	return NewClient(Config{
		Endpoint:     f.server.URL + "/",
		Key:          key,
		PollInterval: 5 * time.Millisecond,
	}, nil)
}

const succeeded = `{
  "status": "succeeded",
  "analyzeResult": {
    "pages": [
      {"pageNumber": 1, "lines": [{"content": "Backend Engineer"}, {"content": "Acme Corp"}]},
      {"pageNumber": 2, "lines": [{"content": "Apply by May 1"}]}
    ]
  }
}`

func TestAnalyzePollsUntilSucceeded(t *testing.T) {
	svc := newFakeService(t, 2, succeeded)

	doc, err := svc.client("secret").Analyze(context.Background(), []byte("%PDF-1.7 body"))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got := svc.polls.Load(); got != 3 {
		t.Fatalf("polls = %d, want 3", got)
	}
	if string(svc.submitted) != "%PDF-1.7 body" {
		t.Fatalf("submitted %q", svc.submitted)
	}
	if len(doc.Pages) != 2 || doc.Pages[1].Number != 2 {
		t.Fatalf("unexpected pages: %+v", doc.Pages)
	}
	if got, want := doc.Text(), "Backend Engineer\nAcme Corp\nApply by May 1"; got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
}

func TestAnalyzeFailedOperation(t *testing.T) {
	svc := newFakeService(t, 0, `{"status":"failed","error":{"code":"InvalidContent","message":"The file is corrupted or format is unsupported."}}`)

	_, err := svc.client("secret").Analyze(context.Background(), []byte("garbage"))
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if se.Code != "InvalidContent" {
		t.Fatalf("code = %q", se.Code)
	}
}

func TestAnalyzeRejectedSubmission(t *testing.T) {
	svc := newFakeService(t, 0, succeeded)

	_, err := svc.client("wrong").Analyze(context.Background(), []byte("x"))
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if se.StatusCode != http.StatusUnauthorized || se.Code != "401" {
		t.Fatalf("unexpected error %+v", se)
	}
	if svc.polls.Load() != 0 {
		t.Fatalf("should not poll after rejected submission")
	}
}

func TestAnalyzeHonorsContextCancellation(t *testing.T) {
	svc := newFakeService(t, 1<<30, succeeded)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := svc.client("secret").Analyze(ctx, []byte("x"))
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	c := NewClient(Config{PollInterval: 250 * time.Millisecond}, nil)
	if got := c.retryAfter("2"); got != 2*time.Second {
		t.Fatalf("retryAfter(2) = %v", got)
	}
	if got := c.retryAfter(""); got != 250*time.Millisecond {
		t.Fatalf("retryAfter(\"\") = %v", got)
	}
	if got := c.retryAfter("soon"); got != 250*time.Millisecond {
		t.Fatalf("retryAfter(soon) = %v", got)
	}
}

func TestServiceErrorFallsBackToBody(t *testing.T) {
	err := serviceError(http.StatusBadGateway, []byte("upstream down\n"))
	var se *ServiceError
	if !errors.As(err, &se) || se.Code != "Bad Gateway" || se.Message != "upstream down" {
		t.Fatalf("unexpected error %+v", err)
	}
}
