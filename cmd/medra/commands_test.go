package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	Doctor string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			Doctor: r.Header.Get("X-Doctor-ID"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		doctorID:   "dr-1",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestRecallRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /recall": `[{"text":"patient reported chest pain","source":"patient Jane Roe","role":"user","score":0.5,"timestamp":"2026-08-28T10:00:00Z"}]`,
	})

	resp, err := ts.client().get(ctx, "/recall?q=chest+pain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var citations []struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	}
	if err := decodeJSON(resp, &citations); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(citations) != 1 || citations[0].Score != 0.5 {
		t.Errorf("citations = %+v", citations)
	}

	r := ts.requests[0]
	if r.Doctor != "dr-1" {
		t.Errorf("doctor header = %q, want dr-1", r.Doctor)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestPatientAddRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /patients": `{"ID":"p-1","Name":"Jane Roe"}`,
	})

	resp, err := ts.client().post(ctx, "/patients", map[string]string{
		"name": "Jane Roe",
		"mrn":  "MRN-7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var created struct{ ID string }
	if err := decodeJSON(resp, &created); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if created.ID != "p-1" {
		t.Errorf("id = %q, want p-1", created.ID)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatal(err)
	}
	if body["name"] != "Jane Roe" || body["mrn"] != "MRN-7" {
		t.Errorf("body = %v", body)
	}
}

func TestDecodeJSONServerError(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q should carry the status", err)
	}
}

func TestNotesCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"notes", "p-1"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing flags")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want mention of required flags", err)
	}
}

func TestClientRequiresDoctorID(t *testing.T) {
	t.Setenv("MEDRA_DOCTOR_ID", "")
	if _, err := newAPIClient(""); err == nil {
		t.Fatal("expected error without a doctor id")
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "ok"); strings.Contains(got, "\033") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", got)
	}

	noColor = false
	if got := colorize(colorGreen, "ok"); !strings.Contains(got, "\033") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", got)
	}
}
