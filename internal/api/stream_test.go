package api

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/medrahq/medra/internal/storage"
)

func TestStreamRelaysFragmentsAsSSE(t *testing.T) {
	h, _ := newTestHandler(t, &scriptedStreamer{fragments: []string{"Hello", " world"}})

	rec := doJSON(t, h, http.MethodPost, "/stream", "dr-1", map[string]string{
		"chat_id": "chat-1",
		"prompt":  "hi",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("stream = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "data: Hello\n\n") || !strings.Contains(body, "data:  world\n\n") {
		t.Errorf("body missing data lines:\n%s", body)
	}
	if !strings.HasSuffix(body, "event: end\ndata: [DONE]\n\n") {
		t.Errorf("body must terminate with the end event:\n%s", body)
	}
}

func TestStreamValidation(t *testing.T) {
	h, _ := newTestHandler(t, &scriptedStreamer{})

	rec := doJSON(t, h, http.MethodPost, "/stream", "dr-1", map[string]string{"prompt": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing chat_id = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/stream", "dr-1", map[string]string{"chat_id": "c"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing prompt = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/stream", "", map[string]string{"chat_id": "c", "prompt": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing doctor header = %d, want 400", rec.Code)
	}
}

func TestStreamUnknownChatIsNotFound(t *testing.T) {
	streamer := &scriptedStreamer{err: storage.ErrNotFound}
	h, _ := newTestHandler(t, streamer)

	rec := doJSON(t, h, http.MethodPost, "/stream", "dr-1", map[string]string{
		"chat_id": "nope",
		"prompt":  "hi",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stream unknown chat = %d, want 404", rec.Code)
	}
}

func TestStreamPreStreamFailure(t *testing.T) {
	streamer := &scriptedStreamer{err: errors.New("disk full")}
	h, _ := newTestHandler(t, streamer)

	rec := doJSON(t, h, http.MethodPost, "/stream", "dr-1", map[string]string{
		"chat_id": "c",
		"prompt":  "hi",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("stream pre-stream failure = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "disk full") {
		t.Errorf("body missing cause: %s", rec.Body)
	}
}
