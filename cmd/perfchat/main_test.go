package main

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/alex/internal/assistant"
	"github.com/ent0n29/alex/internal/completion"
	"github.com/ent0n29/alex/internal/config"
	"github.com/ent0n29/alex/internal/httpapi"
	"github.com/ent0n29/alex/internal/observability"
	"github.com/ent0n29/alex/internal/session"
	"github.com/ent0n29/alex/internal/settings"
)

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"-base-url", "http://localhost:9000/", "-turns", "3", "-texts", " a | |b "})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.baseURL != "http://localhost:9000" {
		t.Fatalf("baseURL = %q", cfg.baseURL)
	}
	if len(cfg.texts) != 2 || cfg.texts[0] != "a" || cfg.texts[1] != "b" {
		t.Fatalf("texts = %q, want [a b]", cfg.texts)
	}
	if cfg.turnTimeout != 45*time.Second {
		t.Fatalf("turnTimeout = %s, want 45s", cfg.turnTimeout)
	}

	if _, err := parseFlags([]string{"-turns", "0"}); err == nil {
		t.Fatalf("parseFlags(turns=0) expected error")
	}
	if _, err := parseFlags([]string{"-texts", " | "}); err == nil {
		t.Fatalf("parseFlags(blank texts) expected error")
	}
}

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://alex.example/base/", "abc")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	if want := "wss://alex.example/base/v1/chat/session/ws?session_id=abc"; got != want {
		t.Fatalf("wsURLForSession() = %q, want %q", got, want)
	}
	if _, err := wsURLForSession("ftp://alex.example", "abc"); err == nil {
		t.Fatalf("wsURLForSession(ftp) expected error")
	}
}

func TestSummarize(t *testing.T) {
	var in []time.Duration
	for i := 10; i >= 1; i-- {
		in = append(in, time.Duration(i)*time.Millisecond)
	}
	s := summarize(in)
	if s.Turns != 10 || s.P50 != 5*time.Millisecond || s.P95 != 10*time.Millisecond || s.Max != 10*time.Millisecond {
		t.Fatalf("summarize() = %+v", s)
	}
	if got := summarize(nil); got != (summary{}) {
		t.Fatalf("summarize(nil) = %+v", got)
	}
}

func TestRunAgainstMockServer(t *testing.T) {
	sessions := session.NewManager(time.Minute)
	defer sessions.CloseAll()
	store := settings.NewInMemoryStore()
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test_perfchat")
	build := func(id string) session.Runtime {
		return session.Runtime{Assistant: assistant.New(context.Background(), assistant.Deps{
			Gateway:  completion.NewMockGateway(),
			Settings: store,
			Metrics:  metrics,
		}, assistant.Options{SessionID: id})}
	}
	srv := httpapi.New(config.Config{CompletionMode: config.CompletionMock, SpeechEngine: config.SpeechNone}, sessions, build, store, metrics, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cfg := options{
		baseURL:     ts.URL,
		turns:       3,
		turnTimeout: 2 * time.Second,
		texts:       []string{"one", "two"},
	}
	s, err := run(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if s.Turns != 3 {
		t.Fatalf("turns = %d, want 3", s.Turns)
	}
	if s.Max <= 0 || s.P50 > s.Max {
		t.Fatalf("unexpected latencies %+v", s)
	}
}
