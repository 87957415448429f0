package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/medrahq/medra/internal/contextstore"
	"github.com/medrahq/medra/internal/keywords"
	"github.com/medrahq/medra/internal/storage"
	"github.com/medrahq/medra/internal/upstream"
)

type testSink struct {
	tokens   []string
	ends     int
	failAt   int // fail Token calls from this index (0 = never)
	tokenErr error
}

func (s *testSink) Token(text string) error {
	if s.failAt > 0 && len(s.tokens)+1 >= s.failAt {
		if s.tokenErr == nil {
			s.tokenErr = errors.New("client gone")
		}
		return s.tokenErr
	}
	s.tokens = append(s.tokens, text)
	return nil
}

func (s *testSink) End() { s.ends++ }

// sseServer scripts an upstream that writes the given data lines and
// then the done sentinel.
func sseServer(t *testing.T, deltas ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			fmt.Fprintf(w, "data: %s\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func delta(content string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, content)
}

func newTestGenerator(t *testing.T, endpoint string) (*Generator, *storage.Store, storage.Chat) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	chat := storage.Chat{
		ID:        "chat-1",
		DoctorID:  "dr-1",
		Title:     "Consultation",
		IsGeneral: true,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateChat(chat); err != nil {
		t.Fatalf("creating chat: %v", err)
	}

	turns := contextstore.NewSQLiteStore(store.DB(), keywords.NewExtractor(keywords.DefaultTable()), 0)
	gen := NewGenerator(store, turns, stubFetcher{uri: "data:image/png;base64,AAAA"}, upstream.NewClient(endpoint), Options{
		Model:        "test-model",
		SystemPrompt: "You are a helpful medical assistant.",
		Temperature:  0.2,
		MaxTokens:    256,
	})
	return gen, store, chat
}

func TestGenerateRelaysAndPersists(t *testing.T) {
	srv := sseServer(t, delta("Hello"), delta(" world"))
	defer srv.Close()

	gen, store, chat := newTestGenerator(t, srv.URL)
	sink := &testSink{}

	err := gen.Generate(context.Background(), Request{
		ChatID:   chat.ID,
		DoctorID: chat.DoctorID,
		Prompt:   "the patient has a fever",
	}, sink)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if want := []string{"Hello", " world"}; len(sink.tokens) != 2 || sink.tokens[0] != want[0] || sink.tokens[1] != want[1] {
		t.Errorf("relayed tokens = %q, want %q", sink.tokens, want)
	}
	if sink.ends != 1 {
		t.Errorf("End called %d times, want 1", sink.ends)
	}

	msgs, err := store.ListMessages(chat.ID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("chat has %d messages, want user + assistant", len(msgs))
	}
	if msgs[0].Role != contextstore.RoleUser || msgs[0].Text != "the patient has a fever" {
		t.Errorf("user turn = %+v", msgs[0])
	}
	if msgs[1].Role != contextstore.RoleAssistant || msgs[1].Text != "Hello world" {
		t.Errorf("assistant turn = %q, want accumulated stream", msgs[1].Text)
	}
}

func TestGenerateUpstreamDownEmitsErrorFragment(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close() // connection refused from here on

	gen, store, chat := newTestGenerator(t, endpoint)
	sink := &testSink{}

	err := gen.Generate(context.Background(), Request{
		ChatID:   chat.ID,
		DoctorID: chat.DoctorID,
		Prompt:   "hello",
	}, sink)
	if err != nil {
		t.Fatalf("upstream failure must not fail the request: %v", err)
	}

	if len(sink.tokens) != 1 {
		t.Fatalf("relayed %d fragments, want exactly one error fragment: %q", len(sink.tokens), sink.tokens)
	}
	if !strings.Contains(sink.tokens[0], "Model endpoint error") {
		t.Errorf("fragment %q missing error indicator", sink.tokens[0])
	}
	if sink.ends != 1 {
		t.Errorf("End called %d times, want 1", sink.ends)
	}

	msgs, err := store.ListMessages(chat.ID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("chat has %d messages, want user + assistant error turn", len(msgs))
	}
	if !strings.Contains(msgs[1].Text, "Model endpoint error") {
		t.Errorf("assistant turn %q missing error indicator", msgs[1].Text)
	}
}

func TestGenerateHTTPErrorEmitsErrorFragment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gen, _, chat := newTestGenerator(t, srv.URL)
	sink := &testSink{}

	if err := gen.Generate(context.Background(), Request{
		ChatID:   chat.ID,
		DoctorID: chat.DoctorID,
		Prompt:   "hello",
	}, sink); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(sink.tokens) != 1 || !strings.Contains(sink.tokens[0], "Model endpoint error") {
		t.Errorf("tokens = %q, want single error fragment", sink.tokens)
	}
}

func TestGenerateSkipsChunksWithoutContent(t *testing.T) {
	srv := sseServer(t, `{"choices":[]}`, delta("Hello"), `{"usage":{"total_tokens":7}}`)
	defer srv.Close()

	gen, store, chat := newTestGenerator(t, srv.URL)
	sink := &testSink{}

	err := gen.Generate(context.Background(), Request{
		ChatID:   chat.ID,
		DoctorID: chat.DoctorID,
		Prompt:   "hello",
	}, sink)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(sink.tokens) != 1 || sink.tokens[0] != "Hello" {
		t.Errorf("relayed tokens = %q, want only the content increment", sink.tokens)
	}

	msgs, err := store.ListMessages(chat.ID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Text != "Hello" {
		t.Errorf("assistant turn = %q, want %q", msgs[len(msgs)-1].Text, "Hello")
	}
}

func TestGenerateMalformedPayloadFallsBackToRaw(t *testing.T) {
	srv := sseServer(t, delta("ok: "), "plain words, not json")
	defer srv.Close()

	gen, _, chat := newTestGenerator(t, srv.URL)
	sink := &testSink{}

	if err := gen.Generate(context.Background(), Request{
		ChatID:   chat.ID,
		DoctorID: chat.DoctorID,
		Prompt:   "hello",
	}, sink); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(sink.tokens) != 2 || sink.tokens[1] != "plain words, not json" {
		t.Errorf("tokens = %q, want raw fallback of the malformed line", sink.tokens)
	}
}

func TestGenerateWhitespaceOutputNotPersisted(t *testing.T) {
	srv := sseServer(t, delta("  "), delta("\n"))
	defer srv.Close()

	gen, store, chat := newTestGenerator(t, srv.URL)
	sink := &testSink{}

	if err := gen.Generate(context.Background(), Request{
		ChatID:   chat.ID,
		DoctorID: chat.DoctorID,
		Prompt:   "hello",
	}, sink); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	msgs, err := store.ListMessages(chat.ID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("chat has %d messages, want only the user turn", len(msgs))
	}
	if sink.ends != 1 {
		t.Errorf("End called %d times, want 1", sink.ends)
	}
}

func TestGenerateUnknownChat(t *testing.T) {
	srv := sseServer(t, delta("never reached"))
	defer srv.Close()

	gen, _, chat := newTestGenerator(t, srv.URL)
	sink := &testSink{}

	err := gen.Generate(context.Background(), Request{
		ChatID:   "nope",
		DoctorID: chat.DoctorID,
		Prompt:   "hello",
	}, sink)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Generate with unknown chat = %v, want ErrNotFound", err)
	}
	if len(sink.tokens) != 0 || sink.ends != 0 {
		t.Errorf("sink touched before validation: tokens=%q ends=%d", sink.tokens, sink.ends)
	}
}

func TestGenerateSinkFailureStillPersistsPartial(t *testing.T) {
	srv := sseServer(t, delta("Hello"), delta(" there"), delta(" doctor"))
	defer srv.Close()

	gen, store, chat := newTestGenerator(t, srv.URL)
	sink := &testSink{failAt: 2} // accept one token, then the caller is gone

	if err := gen.Generate(context.Background(), Request{
		ChatID:   chat.ID,
		DoctorID: chat.DoctorID,
		Prompt:   "hello",
	}, sink); err != nil {
		t.Fatalf("sink failure must not fail the request: %v", err)
	}
	if sink.ends != 1 {
		t.Errorf("End called %d times, want 1", sink.ends)
	}

	msgs, err := store.ListMessages(chat.ID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("chat has %d messages, want user + partial assistant turn", len(msgs))
	}
	if !strings.HasPrefix(msgs[1].Text, "Hello") {
		t.Errorf("partial assistant turn = %q", msgs[1].Text)
	}
}

func TestGenerateImageFetchFailureDegradesToText(t *testing.T) {
	srv := sseServer(t, delta("Looks benign."))
	defer srv.Close()

	gen, store, chat := newTestGenerator(t, srv.URL)
	gen.fetcher = stubFetcher{err: errors.New("no route to host")}
	sink := &testSink{}

	if err := gen.Generate(context.Background(), Request{
		ChatID:        chat.ID,
		DoctorID:      chat.DoctorID,
		Prompt:        "what is this rash?",
		AttachmentURL: "http://unreachable.invalid/rash.png",
	}, sink); err != nil {
		t.Fatalf("image fetch failure must not fail the request: %v", err)
	}

	if len(sink.tokens) != 1 || sink.tokens[0] != "Looks benign." {
		t.Errorf("tokens = %q", sink.tokens)
	}
	msgs, err := store.ListMessages(chat.ID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if msgs[0].MediaURL != "http://unreachable.invalid/rash.png" || msgs[0].MediaType != "image" {
		t.Errorf("user turn media = %q/%q", msgs[0].MediaURL, msgs[0].MediaType)
	}
}
