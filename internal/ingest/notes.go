// Package ingest turns external documents — PDFs and web pages — into
// plain text suitable for patient notes.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

const maxFetchSize = 5 << 20 // 5MB

// FromPDF extracts the plain text of a PDF document.
func FromPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parsing pdf: %w", err)
	}
	text, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, text); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return collapseWhitespace(sb.String()), nil
}

// FromURL fetches a web page and extracts its visible text.
func FromURL(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "application/pdf") {
		return FromPDF(body)
	}
	return HTMLToText(string(body)), nil
}

// HTMLToText strips markup from an HTML document, skipping script and
// style content, and collapses the remaining whitespace.
func HTMLToText(src string) string {
	tz := html.NewTokenizer(strings.NewReader(src))
	var sb strings.Builder
	skipDepth := 0
	for {
		switch tz.Next() {
		case html.ErrorToken:
			return collapseWhitespace(sb.String())
		case html.StartTagToken:
			name, _ := tz.TagName()
			if skipTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tz.TagName()
			if skipTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(tz.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func skipTag(name string) bool {
	switch name {
	case "script", "style", "noscript", "head":
		return true
	}
	return false
}

// collapseWhitespace squeezes runs of whitespace to single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
