package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Chat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer key")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  {\"ok\":true} "}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", "", "", time.Second)
	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, true)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"ok":true}` {
		t.Fatalf("unexpected content %q", out)
	}
	if got.Model != DefaultModel || got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestClient_EmbedAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/embeddings":
			_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.25]}]}`))
		default:
			http.Error(w, "nope", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", "", time.Second)
	vec, err := c.Embed(context.Background(), "roofing")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Fatalf("unexpected vector %v", vec)
	}
	if _, err := c.Chat(context.Background(), nil, false); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestExtractFirstJSONObject(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{`prefix {"a": {"b": 1}} suffix {"c": 2}`, `{"a": {"b": 1}}`, true},
		{`{"s": "brace } inside \" quote"}`, `{"s": "brace } inside \" quote"}`, true},
		{`no json here`, "", false},
		{`{"unterminated": true`, "", false},
	}
	for _, tt := range tests {
		got, ok := extractFirstJSONObject(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("extractFirstJSONObject(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
