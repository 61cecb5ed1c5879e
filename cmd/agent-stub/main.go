// agent-stub is a minimal stand-in for a LangGraph agent backend, for local
// development and end-to-end testing of the relay without a real agent.
// Usage: agent-stub [-addr :2024] [-reply "..."]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

func main() {
	addr := flag.String("addr", ":2024", "listen address")
	reply := flag.String("reply", "", "canned reply text (default: echo the user message)")
	delay := flag.Duration("delay", 0, "artificial delay per run, e.g. 2s")
	flag.Parse()

	if err := run(*addr, *reply, *delay); err != nil {
		log.Fatal(err)
	}
}

type stub struct {
	mu      sync.Mutex
	threads map[string][]string // thread id -> user messages seen
	reply   string
	delay   time.Duration
}

func run(addr, reply string, delay time.Duration) error {
	s := &stub{
		threads: make(map[string][]string),
		reply:   reply,
		delay:   delay,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ok", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true}`)
	})
	mux.HandleFunc("POST /threads", s.handleCreateThread)
	mux.HandleFunc("POST /threads/{id}/runs/wait", s.handleRunWait)

	server := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		server.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "agent-stub listening on %s\n", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *stub) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID string `json:"thread_id"`
		IfExists string `json:"if_exists"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.ThreadID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.threads[id]; exists && req.IfExists != "do_nothing" {
		http.Error(w, `{"detail":"thread already exists"}`, http.StatusConflict)
		return
	}
	if _, exists := s.threads[id]; !exists {
		s.threads[id] = nil
	}

	json.NewEncoder(w).Encode(map[string]string{"thread_id": id})
}

func (s *stub) handleRunWait(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	var req struct {
		AssistantID string `json:"assistant_id"`
		Input       struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, exists := s.threads[threadID]; !exists {
		s.mu.Unlock()
		http.Error(w, `{"detail":"thread not found"}`, http.StatusNotFound)
		return
	}
	var userText string
	for _, m := range req.Input.Messages {
		if m.Role == "user" {
			userText = m.Content
		}
	}
	s.threads[threadID] = append(s.threads[threadID], userText)
	turn := len(s.threads[threadID])
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	reply := s.reply
	if reply == "" {
		reply = fmt.Sprintf("(turn %d) you said: %s", turn, strings.TrimSpace(userText))
	}

	type message struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	json.NewEncoder(w).Encode(map[string][]message{
		"messages": {
			{Type: "human", Content: userText},
			{Type: "ai", Content: reply},
		},
	})
}
