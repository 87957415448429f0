package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medrahq/medra/internal/contextstore"
	"github.com/medrahq/medra/internal/generate"
	"github.com/medrahq/medra/internal/ingest"
	"github.com/medrahq/medra/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxIngestBodySize = 10 << 20 // 10MB

// doctorHeader carries the caller identity; every record and every
// retrieval is scoped to it.
const doctorHeader = "X-Doctor-ID"

// Streamer runs one generation request against a token sink.
// *generate.Generator satisfies it.
type Streamer interface {
	Generate(ctx context.Context, req generate.Request, sink generate.Sink) error
}

// Deps holds the handler's collaborators.
type Deps struct {
	Store     *storage.Store
	Turns     contextstore.Store
	Generator Streamer
	// HTTPClient fetches note documents by URL; nil uses the default
	// client.
	HTTPClient *http.Client
	// Token enables bearer auth when non-empty.
	Token string
}

// NewHandler returns the REST API handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	r.Get("/health", handleHealth)

	r.Post("/patients", handleCreatePatient(deps))
	r.Get("/patients", handleListPatients(deps))
	r.Get("/patients/{id}", handleGetPatient(deps))
	r.Post("/patients/{id}/notes", handleUpdateNotes(deps))

	r.Post("/chats", handleCreateChat(deps))
	r.Get("/chats", handleListChats(deps))
	r.Get("/messages", handleListMessages(deps))

	r.Get("/recall", handleRecall(deps))
	r.Post("/stream", handleStream(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// doctorID extracts the caller identity or writes a 400.
func doctorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(doctorHeader)
	if id == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", doctorHeader)
		return "", false
	}
	return id, true
}

type createPatientRequest struct {
	Name  string `json:"name"`
	MRN   string `json:"mrn"`
	Notes string `json:"notes"`
}

func handleCreatePatient(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, ok := doctorID(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createPatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		p := storage.Patient{
			ID:        uuid.New().String(),
			DoctorID:  docID,
			Name:      req.Name,
			MRN:       req.MRN,
			Notes:     req.Notes,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreatePatient(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save patient: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func handleListPatients(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, ok := doctorID(w, r)
		if !ok {
			return
		}
		patients, err := deps.Store.ListPatients(docID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list patients: %v", err)
			return
		}
		if patients == nil {
			patients = []storage.Patient{}
		}
		writeJSON(w, http.StatusOK, patients)
	}
}

func handleGetPatient(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, ok := doctorID(w, r)
		if !ok {
			return
		}
		p, err := deps.Store.GetPatient(chi.URLParam(r, "id"), docID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "patient not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get patient: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type updateNotesRequest struct {
	Text      string `json:"text"`
	URL       string `json:"url"`
	PDFBase64 string `json:"pdf_base64"`
}

// handleUpdateNotes replaces a patient's notes from plain text, a web
// page, or an uploaded PDF.
func handleUpdateNotes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, ok := doctorID(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		var req updateNotesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var notes string
		switch {
		case req.Text != "":
			notes = req.Text
		case req.URL != "":
			if _, err := url.ParseRequestURI(req.URL); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid url: %v", err)
				return
			}
			text, err := ingest.FromURL(r.Context(), deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to fetch url: %v", err)
				return
			}
			notes = text
		case req.PDFBase64 != "":
			data, err := base64.StdEncoding.DecodeString(req.PDFBase64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			text, err := ingest.FromPDF(data)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to parse pdf: %v", err)
				return
			}
			notes = text
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of text, url or pdf_base64 is required")
			return
		}

		err := deps.Store.UpdatePatientNotes(chi.URLParam(r, "id"), docID, notes)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "patient not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update notes: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

type createChatRequest struct {
	PatientID string `json:"patient_id"`
	Title     string `json:"title"`
}

func handleCreateChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, ok := doctorID(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		c := storage.Chat{
			ID:        uuid.New().String(),
			DoctorID:  docID,
			Title:     req.Title,
			IsGeneral: req.PatientID == "",
			CreatedAt: time.Now().UTC(),
		}
		if req.PatientID != "" {
			p, err := deps.Store.GetPatient(req.PatientID, docID)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "patient not found")
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to get patient: %v", err)
				return
			}
			c.PatientID = p.ID
			c.PatientName = p.Name
		}
		if err := deps.Store.CreateChat(c); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save chat: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func handleListChats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, ok := doctorID(w, r)
		if !ok {
			return
		}
		chats, err := deps.Store.ListChats(docID, r.URL.Query().Get("patient_id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list chats: %v", err)
			return
		}
		if chats == nil {
			chats = []storage.Chat{}
		}
		writeJSON(w, http.StatusOK, chats)
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, ok := doctorID(w, r)
		if !ok {
			return
		}
		chatID := r.URL.Query().Get("chat_id")
		if chatID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "chat_id is required")
			return
		}
		if _, err := deps.Store.GetChat(chatID, docID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "chat not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get chat: %v", err)
			return
		}
		msgs, err := deps.Store.ListMessages(chatID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}
		if msgs == nil {
			msgs = []storage.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

// handleRecall exposes keyword-overlap retrieval directly: the top
// citations for a query, optionally scoped to one patient.
func handleRecall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, ok := doctorID(w, r)
		if !ok {
			return
		}
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		citations, err := deps.Turns.Query(r.Context(), query, docID, r.URL.Query().Get("patient_id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recall failed: %v", err)
			return
		}
		if citations == nil {
			citations = []contextstore.Citation{}
		}
		writeJSON(w, http.StatusOK, citations)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
