package generate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/medrahq/medra/internal/contextstore"
	"github.com/medrahq/medra/internal/media"
	"github.com/medrahq/medra/internal/storage"
	"github.com/medrahq/medra/internal/upstream"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"

	// fragmentBuffer bounds the queue between the upstream reader and
	// the caller-facing writer, propagating backpressure from a slow
	// caller to the upstream read.
	fragmentBuffer = 32
)

// generation states, in pipeline order.
type generationState int

const (
	stateIdle generationState = iota
	stateSending
	stateStreaming
	stateCompleted
	stateFailed
	statePersisting
	stateDone
)

func (s generationState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSending:
		return "sending"
	case stateStreaming:
		return "streaming"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	case statePersisting:
		return "persisting"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// ChatRepo is the chat/message repository the generator persists
// turns to and reads history from. *storage.Store satisfies it.
type ChatRepo interface {
	GetChat(id, doctorID string) (storage.Chat, error)
	GetPatient(id, doctorID string) (storage.Patient, error)
	RecentMessages(chatID string, limit int) ([]storage.Message, error)
	SaveMessage(m storage.Message) error
}

// ImageFetcher retrieves image attachments as inline data URIs.
type ImageFetcher interface {
	FetchDataURI(ctx context.Context, url string) (string, error)
}

// Upstream issues a single streaming chat-completion request.
type Upstream interface {
	Stream(ctx context.Context, req upstream.ChatRequest) (io.ReadCloser, error)
}

// Sink receives the live token stream. Token returning an error means
// the caller is gone; End signals end-of-stream and is always called
// exactly once, whatever path the generation took.
type Sink interface {
	Token(text string) error
	End()
}

// Request is one generation invocation.
type Request struct {
	ChatID        string
	DoctorID      string
	Prompt        string
	AttachmentURL string
	System        string   // overrides the configured base instruction when set
	Temperature   *float64 // nil selects the configured default
	MaxTokens     int      // 0 selects the configured default
}

// Options carry the model defaults applied to every request.
type Options struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Generator composes multimodal prompts, relays the upstream token
// stream to the caller while accumulating it, and persists exactly
// one user turn and (when any text accumulated) one assistant turn.
type Generator struct {
	repo    ChatRepo
	turns   contextstore.Store
	fetcher ImageFetcher
	up      Upstream
	opts    Options
	logger  *slog.Logger
}

// NewGenerator wires a Generator to its collaborators.
func NewGenerator(repo ChatRepo, turns contextstore.Store, fetcher ImageFetcher, up Upstream, opts Options) *Generator {
	return &Generator{
		repo:    repo,
		turns:   turns,
		fetcher: fetcher,
		up:      up,
		opts:    opts,
		logger:  slog.Default(),
	}
}

// Generate runs one full generation pipeline. An error is returned
// only for failures before the stream opens (unknown chat, user-turn
// persistence); every upstream failure after that point is surfaced
// in-band as a single synthetic fragment and the stream is terminated
// normally. Retrieval and context-store failures never abort the
// request — they degrade to an unenriched prompt.
func (g *Generator) Generate(ctx context.Context, req Request, sink Sink) error {
	chat, err := g.repo.GetChat(req.ChatID, req.DoctorID)
	if err != nil {
		return fmt.Errorf("loading chat %s: %w", req.ChatID, err)
	}

	mediaType := media.DetectType(req.AttachmentURL)
	if err := g.repo.SaveMessage(storage.Message{
		ID:          uuid.New().String(),
		ChatID:      chat.ID,
		DoctorID:    req.DoctorID,
		PatientID:   chat.PatientID,
		PatientName: chat.PatientName,
		Role:        contextstore.RoleUser,
		Text:        req.Prompt,
		MediaURL:    req.AttachmentURL,
		MediaType:   mediaType,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("persisting user message: %w", err)
	}
	g.appendTurn(ctx, chat, contextstore.RoleUser, req.Prompt)

	citations, err := g.turns.Query(ctx, req.Prompt, req.DoctorID, chat.PatientID)
	if err != nil {
		g.logger.Warn("context retrieval failed", "chat_id", chat.ID, "error", err)
		citations = nil
	}

	var patientNotes string
	if chat.PatientID != "" {
		if p, err := g.repo.GetPatient(chat.PatientID, req.DoctorID); err == nil {
			patientNotes = p.Notes
		} else {
			g.logger.Warn("patient lookup failed", "patient_id", chat.PatientID, "error", err)
		}
	}

	history, err := g.repo.RecentMessages(chat.ID, historyWindow)
	if err != nil {
		g.logger.Warn("history fetch failed", "chat_id", chat.ID, "error", err)
		history = nil
	}
	if n := len(history); n > 0 {
		// The newest entry is the user turn persisted above.
		history = history[:n-1]
	}

	base := g.opts.SystemPrompt
	if req.System != "" {
		base = req.System
	}
	messages := make([]upstream.Message, 0, len(history)+2)
	messages = append(messages, upstream.Text(contextstore.RoleSystem, composeSystem(base, chat, patientNotes, citations)))
	messages = append(messages, composeHistory(history)...)
	messages = append(messages, composeUser(ctx, g.fetcher, req.Prompt, req.AttachmentURL, mediaType))

	temperature := g.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := g.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	text := g.relay(ctx, upstream.ChatRequest{
		Model:       g.opts.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      true,
	}, sink)

	g.logState(statePersisting, chat.ID)
	if strings.TrimSpace(text) != "" {
		// Persistence must survive a caller disconnect: the exchange
		// is over and the partial result is worth keeping.
		persistCtx := context.WithoutCancel(ctx)
		if err := g.repo.SaveMessage(storage.Message{
			ID:          uuid.New().String(),
			ChatID:      chat.ID,
			DoctorID:    req.DoctorID,
			PatientID:   chat.PatientID,
			PatientName: chat.PatientName,
			Role:        contextstore.RoleAssistant,
			Text:        text,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			g.logger.Warn("persisting assistant message failed", "chat_id", chat.ID, "error", err)
		}
		g.appendTurn(persistCtx, chat, contextstore.RoleAssistant, text)
	}

	g.logState(stateDone, chat.ID)
	sink.End()
	return nil
}

// relay runs the two cooperating stream tasks: an upstream reader
// that parses data lines into fragments, and a writer that relays
// each fragment to the sink in arrival order while accumulating it.
// The bounded channel between them couples the upstream read rate to
// the caller's consumption rate. The accumulated text is returned
// once the channel has closed; persistence never interleaves with
// relay.
func (g *Generator) relay(ctx context.Context, req upstream.ChatRequest, sink Sink) string {
	frags := make(chan string, fragmentBuffer)
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		defer close(frags)

		g.logState(stateSending, "")
		rc, err := g.up.Stream(gctx, req)
		if err != nil {
			g.logState(stateFailed, "")
			return emit(gctx, frags, errorFragment(err))
		}
		defer rc.Close()
		g.logState(stateStreaming, "")

		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, dataPrefix) {
				continue
			}
			data := strings.TrimSpace(line[len(dataPrefix):])
			if data == doneSentinel {
				g.logState(stateCompleted, "")
				return nil
			}

			token, ok := upstream.DecodeDelta(data)
			if !ok {
				// Malformed payloads degrade to raw text rather than
				// being dropped: forward progress over conformance.
				token = data
			}
			if token == "" {
				continue
			}
			if err := emit(gctx, frags, token); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			g.logState(stateFailed, "")
			return emit(gctx, frags, errorFragment(err))
		}
		g.logState(stateCompleted, "")
		return nil
	})

	var buf strings.Builder
	grp.Go(func() error {
		for frag := range frags {
			buf.WriteString(frag)
			if err := sink.Token(frag); err != nil {
				// Caller disconnected: cancel the group context so the
				// reader releases the upstream connection promptly.
				return fmt.Errorf("relaying fragment: %w", err)
			}
		}
		return nil
	})

	if err := grp.Wait(); err != nil {
		g.logger.Warn("stream interrupted", "error", err)
	}
	return buf.String()
}

func emit(ctx context.Context, ch chan<- string, frag string) error {
	select {
	case ch <- frag:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errorFragment(err error) string {
	return fmt.Sprintf("Model endpoint error: %v", err)
}

func (g *Generator) appendTurn(ctx context.Context, chat storage.Chat, role, text string) {
	err := g.turns.Append(ctx, contextstore.Turn{
		DoctorID:    chat.DoctorID,
		PatientID:   chat.PatientID,
		PatientName: chat.PatientName,
		ChatID:      chat.ID,
		Role:        role,
		Text:        text,
	})
	if err != nil {
		g.logger.Warn("context store append failed", "chat_id", chat.ID, "role", role, "error", err)
	}
}

func (g *Generator) logState(s generationState, chatID string) {
	if chatID != "" {
		g.logger.Debug("generation state", "state", s.String(), "chat_id", chatID)
		return
	}
	g.logger.Debug("generation state", "state", s.String())
}
