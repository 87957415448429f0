package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Attachment types as stored on messages.
const (
	TypeImage = "image"
	TypeAudio = "audio"
	TypeFile  = "file"
)

const (
	defaultFetchTimeout = 10 * time.Second
	maxImageBytes       = 10 << 20 // 10MB
)

var imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
var audioExts = []string{".webm", ".wav", ".mp3", ".m4a"}

// DetectType classifies an attachment URL by extension. An empty URL
// yields an empty type.
func DetectType(url string) string {
	if url == "" {
		return ""
	}
	lowered := strings.ToLower(url)
	for _, ext := range imageExts {
		if strings.Contains(lowered, ext) {
			return TypeImage
		}
	}
	for _, ext := range audioExts {
		if strings.Contains(lowered, ext) {
			return TypeAudio
		}
	}
	return TypeFile
}

// Fetcher retrieves image attachments for prompt embedding. Fetches
// are best-effort: the caller degrades to a text-only turn on error.
type Fetcher struct {
	httpClient *http.Client
}

// NewFetcher creates a Fetcher with the given per-fetch timeout.
// timeout <= 0 selects the 10s default.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{httpClient: &http.Client{Timeout: timeout}}
}

// FetchDataURI downloads the image at url and returns it as an inline
// base64 data URI suitable for a multimodal message part.
func (f *Fetcher) FetchDataURI(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating image request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("reading image body: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
