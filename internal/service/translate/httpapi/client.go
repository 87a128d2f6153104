package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/polyglot-chat/backend/internal/service/translate"
)

// DefaultBaseURL is the public translateplus endpoint.
const DefaultBaseURL = "https://api.translateplus.io"

// Client talks to a translateplus-compatible JSON API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ translate.Translator = (*Client)(nil)

// New creates a client. A zero timeout falls back to 10 seconds.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type translateResponse struct {
	Translations struct {
		Translation string `json:"translation"`
	} `json:"translations"`
}

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	LanguageDetection struct {
		Language string `json:"language"`
	} `json:"language_detection"`
}

// Translate calls POST /v1/translate.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	source := sourceLang
	if source == "" {
		source = "auto"
	}

	var resp translateResponse
	if err := c.post(ctx, "/v1/translate", translateRequest{Text: text, Source: source, Target: targetLang}, &resp); err != nil {
		return "", err
	}
	if resp.Translations.Translation == "" {
		return "", translate.ErrEmptyResult
	}
	return resp.Translations.Translation, nil
}

// DetectLanguage calls POST /v1/language_detect.
func (c *Client) DetectLanguage(ctx context.Context, text string) (string, error) {
	var resp detectResponse
	if err := c.post(ctx, "/v1/language_detect", detectRequest{Text: text}, &resp); err != nil {
		return "", err
	}
	lang := strings.TrimSpace(resp.LanguageDetection.Language)
	if lang == "" {
		return "", fmt.Errorf("language detection returned no language")
	}
	return lang, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("call %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
