package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{" Both_Filled ", ""}, discard())

	if err := n.Notify(context.Background(), "both_filled", "Filled", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(context.Background(), "settlement", "Merged", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.NotifyAll(context.Background(), "HALTED", "m"); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if s.count() != 2 || s.titles[0] != "Filled" || s.titles[1] != "HALTED" {
		t.Fatalf("titles = %v", s.titles)
	}
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discard())
	_ = n.Notify(context.Background(), "anything", "t", "m")
	if s.count() != 1 {
		t.Fatalf("sends = %d, want 1", s.count())
	}
	if !n.Enabled() {
		t.Fatal("Enabled = false with a sender")
	}
	if NewNotifier(nil, nil, discard()).Enabled() {
		t.Fatal("Enabled = true without senders")
	}
}

func TestDispatchContinuesPastFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v, want sender name", err)
	}
	if good.count() != 1 {
		t.Fatal("second sender skipped after first failed")
	}
}

func TestTelegramSend(t *testing.T) {
	var path string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("123:abc", "-100")
	s.apiURL = srv.URL
	if err := s.Send(context.Background(), "UNWIND FAILED", "token 111_222 size 5"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %q", path)
	}
	if payload["chat_id"] != "-100" || payload["text"] != "UNWIND FAILED\ntoken 111_222 size 5" {
		t.Fatalf("payload = %v", payload)
	}
	if _, ok := payload["parse_mode"]; ok {
		t.Fatal("parse_mode set; token ids would be mangled")
	}
}

func TestTelegramErrorHidesToken(t *testing.T) {
	s := NewTelegramSender("secret-token", "1")
	s.apiURL = "http://127.0.0.1:1"
	err := s.Send(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("error leaks token: %v", err)
	}
}

func TestDiscordSendTruncates(t *testing.T) {
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body discordMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		content = body.Content
		if body.AllowedMentions.Parse == nil || len(body.AllowedMentions.Parse) != 0 {
			t.Errorf("allowed_mentions = %+v", body.AllowedMentions)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), "Title", strings.Repeat("x", 3000)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := len([]rune(content)); n != discordContentLimit {
		t.Fatalf("content length = %d, want %d", n, discordContentLimit)
	}
	if !strings.HasPrefix(content, "**Title**\n") {
		t.Fatalf("content = %q", content[:20])
	}
}

func TestDiscordStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests || se.Body != "rate limited" {
		t.Fatalf("err = %v, want status 429", err)
	}
}

func TestTelegramReplyNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("123:abc", "-100")
	s.apiURL = srv.URL
	err := s.Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err = %v", err)
	}
}
