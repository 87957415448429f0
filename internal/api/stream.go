package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/medrahq/medra/internal/generate"
	"github.com/medrahq/medra/internal/storage"
)

type streamRequest struct {
	ChatID        string   `json:"chat_id"`
	Prompt        string   `json:"prompt"`
	AttachmentURL string   `json:"attachment_url"`
	System        string   `json:"system"`
	Temperature   *float64 `json:"temperature"`
	MaxTokens     int      `json:"max_tokens"`
}

// sseSink writes generation fragments as server-sent events. Headers
// go out with the first write, so validation failures before any
// token can still produce a JSON error response.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *sseSink) Token(text string) error {
	s.start()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) End() {
	s.start()
	fmt.Fprint(s.w, "event: end\ndata: [DONE]\n\n")
	s.flusher.Flush()
}

// handleStream runs one generation and relays the token stream as SSE.
// The stream always terminates with an end event once it has started;
// upstream failures surface as an in-band data line, never as an HTTP
// error.
func handleStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, ok := doctorID(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req streamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ChatID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "chat_id is required")
			return
		}
		if req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		sink := &sseSink{w: w, flusher: flusher}
		err := deps.Generator.Generate(r.Context(), generate.Request{
			ChatID:        req.ChatID,
			DoctorID:      docID,
			Prompt:        req.Prompt,
			AttachmentURL: req.AttachmentURL,
			System:        req.System,
			Temperature:   req.Temperature,
			MaxTokens:     req.MaxTokens,
		}, sink)
		if err != nil && !sink.started {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "chat not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "generation failed: %v", err)
		}
	}
}
