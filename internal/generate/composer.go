package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medrahq/medra/internal/contextstore"
	"github.com/medrahq/medra/internal/media"
	"github.com/medrahq/medra/internal/storage"
	"github.com/medrahq/medra/internal/upstream"
)

const (
	// historyWindow bounds how many prior turns the prompt carries.
	historyWindow = 10

	// maxHistoryChars truncates each history turn to bound prompt size.
	maxHistoryChars = 1000
)

// composeSystem builds the system message: the base instruction,
// extended with patient context (or a generic-consultation note), and
// with retrieved citations as a bulleted list when retrieval returned
// anything.
func composeSystem(base string, chat storage.Chat, patientNotes string, citations []contextstore.Citation) string {
	var sb strings.Builder
	sb.WriteString(base)

	if chat.PatientName != "" {
		fmt.Fprintf(&sb, "\n\nYou are currently consulting with patient: %s", chat.PatientName)
		if patientNotes != "" {
			fmt.Fprintf(&sb, "\nPatient notes: %s", patientNotes)
		}
	} else {
		sb.WriteString("\n\nThis is a general medical consultation.")
	}

	if len(citations) > 0 {
		sb.WriteString("\n\nRelevant context from previous conversations:")
		for _, c := range citations {
			fmt.Fprintf(&sb, "\n- %s", c.Text)
		}
	}

	return sb.String()
}

// composeHistory maps prior chat turns to plain role/content pairs.
// The window already excludes the just-persisted current user turn.
// Turns with empty text are skipped; content is truncated to bound
// the prompt.
func composeHistory(history []storage.Message) []upstream.Message {
	var out []upstream.Message
	for _, m := range history {
		if m.Text == "" {
			continue
		}
		text := m.Text
		if runes := []rune(text); len(runes) > maxHistoryChars {
			text = string(runes[:maxHistoryChars])
		}
		out = append(out, upstream.Text(m.Role, text))
	}
	return out
}

// composeUser builds the current user turn. Image attachments are
// fetched and inlined as a data URI; a fetch failure degrades the
// turn to text-only. Audio attachments are never fetched — the text
// is annotated so the model asks for a transcription instead.
func composeUser(ctx context.Context, fetcher ImageFetcher, prompt, attachmentURL, mediaType string) upstream.Message {
	switch mediaType {
	case media.TypeAudio:
		annotated := fmt.Sprintf("%s\n\n[Note: the user attached an audio file (%s). "+
			"It cannot be processed directly; ask the user to transcribe it or "+
			"describe what was said.]", prompt, attachmentURL)
		return upstream.Text(contextstore.RoleUser, annotated)

	case media.TypeImage:
		dataURI, err := fetcher.FetchDataURI(ctx, attachmentURL)
		if err != nil {
			slog.Warn("image fetch failed, sending text-only turn", "url", attachmentURL, "error", err)
			return upstream.Text(contextstore.RoleUser, prompt)
		}
		return upstream.MultiPart(contextstore.RoleUser, prompt, dataURI)

	default:
		return upstream.Text(contextstore.RoleUser, prompt)
	}
}
