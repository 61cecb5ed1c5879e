package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// fakeBackend records requests and serves canned LangGraph-style responses.
type fakeBackend struct {
	t             *testing.T
	createBody    map[string]any
	runBody       map[string]any
	threadID      string
	runMessages   []map[string]string
	runStatusCode int
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&f.createBody); err != nil {
			f.t.Errorf("decode create body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"thread_id": f.threadID})
	})
	mux.HandleFunc("POST /threads/{id}/runs/wait", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != f.threadID {
			f.t.Errorf("run on thread %q, want %q", r.PathValue("id"), f.threadID)
		}
		if err := json.NewDecoder(r.Body).Decode(&f.runBody); err != nil {
			f.t.Errorf("decode run body: %v", err)
		}
		if f.runStatusCode != 0 {
			http.Error(w, `{"detail":"run failed"}`, f.runStatusCode)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": f.runMessages})
	})
	return mux
}

func TestConverseNewThread(t *testing.T) {
	backend := &fakeBackend{
		t:        t,
		threadID: "thread-abc",
		runMessages: []map[string]string{
			{"type": "human", "content": "hi"},
			{"type": "ai", "content": "hello there"},
		},
	}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	c := NewClient(ClientConfig{
		BaseURL:     server.URL,
		AssistantID: "search_agent",
		Logger:      testLogger(),
	})

	result, err := c.Converse(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if result.ThreadID != "thread-abc" {
		t.Errorf("thread id = %q, want thread-abc", result.ThreadID)
	}
	if result.Reply != "hello there" {
		t.Errorf("reply = %q, want %q", result.Reply, "hello there")
	}

	// Thread create must be idempotent so redeliveries and known threads
	// do not fail the turn.
	if got := backend.createBody["if_exists"]; got != "do_nothing" {
		t.Errorf("if_exists = %v, want do_nothing", got)
	}
	if _, present := backend.createBody["thread_id"]; present {
		t.Error("empty thread_id should be omitted from the create request")
	}
	if got := backend.runBody["assistant_id"]; got != "search_agent" {
		t.Errorf("assistant_id = %v", got)
	}
}

func TestConverseExistingThread(t *testing.T) {
	backend := &fakeBackend{
		t:        t,
		threadID: "thread-known",
		runMessages: []map[string]string{
			{"type": "ai", "content": "welcome back"},
		},
	}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, Logger: testLogger()})

	result, err := c.Converse(context.Background(), "again", "thread-known")
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if result.ThreadID != "thread-known" {
		t.Errorf("thread id = %q", result.ThreadID)
	}
	if got := backend.createBody["thread_id"]; got != "thread-known" {
		t.Errorf("create thread_id = %v, want thread-known", got)
	}
}

func TestConversePicksLastAssistantMessage(t *testing.T) {
	backend := &fakeBackend{
		t:        t,
		threadID: "t1",
		runMessages: []map[string]string{
			{"type": "human", "content": "q1"},
			{"type": "ai", "content": "first answer"},
			{"type": "tool", "content": "lookup result"},
			{"type": "ai", "content": "final answer"},
		},
	}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, Logger: testLogger()})
	result, err := c.Converse(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if result.Reply != "final answer" {
		t.Errorf("reply = %q, want the last ai message", result.Reply)
	}
}

func TestConverseNoAssistantReply(t *testing.T) {
	backend := &fakeBackend{
		t:        t,
		threadID: "t1",
		runMessages: []map[string]string{
			{"type": "human", "content": "q"},
			{"type": "tool", "content": "partial"},
		},
	}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, Logger: testLogger()})
	_, err := c.Converse(context.Background(), "q", "")
	if !errors.Is(err, ErrNoReply) {
		t.Errorf("err = %v, want ErrNoReply", err)
	}
	if !errors.Is(err, ErrAgent) {
		t.Errorf("ErrNoReply should wrap ErrAgent, got %v", err)
	}
}

func TestConverseRunFailure(t *testing.T) {
	backend := &fakeBackend{t: t, threadID: "t1", runStatusCode: http.StatusInternalServerError}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, Logger: testLogger()})
	_, err := c.Converse(context.Background(), "q", "")
	if !errors.Is(err, ErrAgent) {
		t.Errorf("err = %v, want ErrAgent", err)
	}
}

func TestConverseBackendUnreachable(t *testing.T) {
	c := NewClient(ClientConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: 2 * time.Second,
		Logger:  testLogger(),
	})
	_, err := c.Converse(context.Background(), "q", "")
	if !errors.Is(err, ErrAgent) {
		t.Errorf("err = %v, want ErrAgent", err)
	}
}

func TestConverseTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	c := NewClient(ClientConfig{
		BaseURL: slow.URL,
		Timeout: 100 * time.Millisecond,
		Logger:  testLogger(),
	})
	_, err := c.Converse(context.Background(), "q", "")
	if !errors.Is(err, ErrAgent) {
		t.Errorf("err = %v, want ErrAgent", err)
	}
}

func TestConverseWebhookForwarded(t *testing.T) {
	backend := &fakeBackend{
		t:           t,
		threadID:    "t1",
		runMessages: []map[string]string{{"type": "ai", "content": "ok"}},
	}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	c := NewClient(ClientConfig{
		BaseURL:    server.URL,
		WebhookURL: "https://relay.example/agent-done",
		Logger:     testLogger(),
	})
	if _, err := c.Converse(context.Background(), "q", ""); err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if got := backend.runBody["webhook"]; got != "https://relay.example/agent-done" {
		t.Errorf("webhook = %v", got)
	}
}
