package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func okBody(text string) []byte {
	b, _ := json.Marshal(map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": text}},
		},
	})
	return b
}

func TestOpenAI_Generate(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write(okBody("verdict: CONTINUE"))
	})

	p, err := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "test-model"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	resp, err := p.Generate(context.Background(), Request{System: "You judge steps.", Prompt: "judge this"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "verdict: CONTINUE" {
		t.Errorf("wrong text: %q", resp.Text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("missing auth header: %q", gotAuth)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("messages wrong: %+v", gotReq.Messages)
	}
}

func TestOpenAI_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(okBody("ok"))
	})

	p, _ := NewOpenAI(Config{BaseURL: srv.URL, Model: "m", MaxRetries: 3, RetryDelay: time.Millisecond})
	resp, err := p.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("expected recovery after retries: %v", err)
	}
	if resp.Text != "ok" || calls.Load() != 3 {
		t.Errorf("text=%q calls=%d", resp.Text, calls.Load())
	}
}

func TestOpenAI_ExhaustedRetriesAreUnavailable(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	p, _ := NewOpenAI(Config{BaseURL: srv.URL, Model: "m", MaxRetries: 1, RetryDelay: time.Millisecond})
	_, err := p.Generate(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestOpenAI_ClientErrorFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	p, _ := NewOpenAI(Config{BaseURL: srv.URL, Model: "m", MaxRetries: 5, RetryDelay: time.Millisecond})
	if _, err := p.Generate(context.Background(), Request{Prompt: "p"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("401 must not be retried, got %d calls", calls.Load())
	}
}

func TestOpenAI_ContextCancellation(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write(okBody("late"))
	})

	p, _ := NewOpenAI(Config{BaseURL: srv.URL, Model: "m"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Generate(ctx, Request{Prompt: "p"}); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestNewOpenAI_RequiresModel(t *testing.T) {
	if _, err := NewOpenAI(Config{}); err == nil {
		t.Error("empty model should be rejected")
	}
}
