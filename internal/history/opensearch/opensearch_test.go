package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/aistack/internal/history"
)

func TestSinkSend(t *testing.T) {
	var receivedBody []byte
	var receivedPath string
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"1","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "workflow-history")
	event := history.Event{
		Workflow:   "start",
		Step:       "runtime",
		Outcome:    "ok",
		OccurredAt: time.Now().UTC(),
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("send: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Fatalf("method = %s, want POST", receivedMethod)
	}
	if receivedPath != "/workflow-history/_doc" {
		t.Fatalf("path = %s", receivedPath)
	}
	var doc map[string]any
	if err := json.Unmarshal(receivedBody, &doc); err != nil {
		t.Fatalf("body decode: %v", err)
	}
	if doc["workflow"] != "start" || doc["step"] != "runtime" || doc["outcome"] != "ok" {
		t.Fatalf("unexpected document: %v", doc)
	}
}

func TestSinkSendErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "workflow-history")
	err := sink.Send(context.Background(), history.Event{Workflow: "stop", Step: "web", Outcome: "failed"})
	if err == nil {
		t.Fatal("expected error for non-2xx status")
	}
	if !strings.Contains(err.Error(), "opensearch sink status 400") {
		t.Fatalf("error = %v", err)
	}
}

func TestSinkTrimsTrailingSlash(t *testing.T) {
	var receivedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := New(server.URL+"/", "events")
	_ = sink.Send(context.Background(), history.Event{Workflow: "test", Step: "x", Outcome: "ok"})
	if receivedPath != "/events/_doc" {
		t.Fatalf("path = %s", receivedPath)
	}
}
