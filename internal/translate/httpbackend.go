package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPBackend calls a self-hosted translation model server. The server takes
// {"text","source","target"} and answers {"translation"}.
type HTTPBackend struct {
	url    string
	client *http.Client
}

func NewHTTPBackend(url string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBackend{url: url, client: client}
}

type httpTranslateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type httpTranslateResponse struct {
	Translation string `json:"translation"`
	Error       string `json:"error"`
}

func (b *HTTPBackend) Translate(ctx context.Context, text, source, target string) (string, error) {
	body, err := json.Marshal(httpTranslateRequest{Text: text, Source: source, Target: target})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model server: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var out httpTranslateResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(payload))
		}
		return "", fmt.Errorf("model server status %d: %s", resp.StatusCode, msg)
	}
	return out.Translation, nil
}
