package upstream

import "encoding/json"

// Message is one entry of the chat-completion messages array. Content
// is either a plain string or a multi-part array (text plus inline
// image data URI) for multimodal user turns.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// TextPart is a text element of a multi-part message content.
type TextPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ImagePart carries an inline image as a data URI.
type ImagePart struct {
	Type     string   `json:"type"`
	ImageURL ImageURL `json:"image_url"`
}

// ImageURL wraps the image location inside an ImagePart.
type ImageURL struct {
	URL string `json:"url"`
}

// Text builds a plain text message.
func Text(role, content string) Message {
	return Message{Role: role, Content: content}
}

// MultiPart builds a user message with a text part and an inline
// image part.
func MultiPart(role, text, imageDataURI string) Message {
	return Message{
		Role: role,
		Content: []any{
			TextPart{Type: "text", Text: text},
			ImagePart{Type: "image_url", ImageURL: ImageURL{URL: imageDataURI}},
		},
	}
}

// ChatRequest is the body posted to the chat-completion endpoint.
// Stream is always true on the generation path.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

// chunk mirrors one streamed completion increment:
// {"choices":[{"delta":{"content":"..."}}]}.
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// DecodeDelta attempts a structured decode of a data-line payload and
// returns the incremental content fragment. ok is false only when the
// payload is not valid JSON; callers fall back to treating such
// payloads as raw text rather than dropping them. Well-formed chunks
// without a content increment (usage frames, keep-alives with an
// empty choices array) decode to an empty fragment and are skipped.
func DecodeDelta(data string) (content string, ok bool) {
	var c chunk
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return "", false
	}
	if len(c.Choices) == 0 {
		return "", true
	}
	return c.Choices[0].Delta.Content, true
}
