package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStream_PostsStreamingRequest(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	rc, err := c.Stream(context.Background(), ChatRequest{
		Model:       "test-model",
		Messages:    []Message{Text("user", "hi")},
		Temperature: 0.2,
		MaxTokens:   64,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer rc.Close()

	if !got.Stream {
		t.Error("stream flag not forced on")
	}
	if got.Model != "test-model" || got.MaxTokens != 64 {
		t.Errorf("request = %+v", got)
	}

	line, err := bufio.NewReader(rc).ReadString('\n')
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.HasPrefix(line, "data: [DONE]") {
		t.Errorf("line = %q", line)
	}
}

func TestStream_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not loaded"}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	_, err := c.Stream(context.Background(), ChatRequest{Model: "m"})
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestStream_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // guaranteed-dead endpoint

	c := NewClient(srv.URL)
	if _, err := c.Stream(context.Background(), ChatRequest{Model: "m"}); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestDecodeDelta(t *testing.T) {
	cases := []struct {
		name   string
		data   string
		want   string
		wantOK bool
	}{
		{"increment", `{"choices":[{"delta":{"content":"Hi"}}]}`, "Hi", true},
		{"empty content", `{"choices":[{"delta":{}}]}`, "", true},
		{"no choices", `{"choices":[]}`, "", true},
		{"not json", `plain token`, "", false},
		{"wrong shape", `{"foo":1}`, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DecodeDelta(tc.data)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("DecodeDelta(%q) = (%q, %v), want (%q, %v)", tc.data, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}
