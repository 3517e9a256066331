package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"chatdesk/internal/domain"
	"chatdesk/internal/ports"
)

const defaultMaxMediaBytes = 64 << 20

// Config controls the backend client.
type Config struct {
	BaseURL string
	// Timeout bounds each request. Zero means no limit.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	// MaxMediaBytes caps TTS and image payloads; larger bodies fail the call.
	MaxMediaBytes int64
}

// Client implements ports.Backend over the chat server's REST API.
type Client struct {
	base       *url.URL
	http       *http.Client
	logger     *slog.Logger
	mediaLimit int64

	mu     sync.RWMutex
	tokens ports.TokenSource
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = "http://127.0.0.1:8000"
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mediaLimit := cfg.MaxMediaBytes
	if mediaLimit <= 0 {
		mediaLimit = defaultMaxMediaBytes
	}
	return &Client{base: base, http: httpClient, logger: logger, mediaLimit: mediaLimit}, nil
}

// SetTokenSource attaches the session that authenticated calls read from.
func (c *Client) SetTokenSource(tokens ports.TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tokens
}

// BaseURL is the server the client talks to.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

func (c *Client) Register(ctx context.Context, creds ports.Credentials) error {
	return c.doJSON(ctx, http.MethodPost, "/register", false, creds, nil)
}

func (c *Client) Login(ctx context.Context, creds ports.Credentials) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/login", false, creds, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("login response carried no access token")
	}
	return out.AccessToken, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var out []domain.ConversationSummary
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", true, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context) (domain.ConversationSummary, error) {
	var out domain.ConversationSummary
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", true, nil, &out); err != nil {
		return domain.ConversationSummary{}, err
	}
	if out.ID == "" {
		return domain.ConversationSummary{}, fmt.Errorf("create conversation response carried no id")
	}
	return out, nil
}

func (c *Client) GetConversation(ctx context.Context, id domain.ConversationID) (ports.ConversationDetail, error) {
	var out ports.ConversationDetail
	if err := c.doJSON(ctx, http.MethodGet, conversationPath(id, ""), true, nil, &out); err != nil {
		return ports.ConversationDetail{}, err
	}
	return out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id domain.ConversationID) error {
	return c.doJSON(ctx, http.MethodDelete, conversationPath(id, ""), true, nil, nil)
}

func (c *Client) SendMessage(ctx context.Context, id domain.ConversationID, content string) ([]domain.Message, error) {
	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	body := struct {
		Content string `json:"content"`
	}{Content: content}
	if err := c.doJSON(ctx, http.MethodPost, conversationPath(id, "messages"), true, body, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Transcribe uploads recorded audio as multipart field "file".
func (c *Client) Transcribe(ctx context.Context, id domain.ConversationID, audio domain.Media) ([]domain.Message, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, audio.Filename))
	header.Set("Content-Type", audio.MIMEType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio.Data); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, conversationPath(id, "stt"), true, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) Synthesize(ctx context.Context, id domain.ConversationID) (domain.Media, error) {
	return c.fetchMedia(ctx, conversationPath(id, "tts"), "audio/mpeg", "response")
}

func (c *Client) GenerateImage(ctx context.Context, id domain.ConversationID) (domain.Media, error) {
	return c.fetchMedia(ctx, conversationPath(id, "image"), "image/png", "image")
}

func (c *Client) fetchMedia(ctx context.Context, path string, fallbackType string, stem string) (domain.Media, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, true, nil)
	if err != nil {
		return domain.Media{}, err
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logRequest(req, 0, started, err)
		return domain.Media{}, fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()
	c.logRequest(req, resp.StatusCode, started, nil)

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.mediaLimit+1))
	if err != nil {
		return domain.Media{}, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Media{}, parseAPIError(resp.StatusCode, data)
	}
	if int64(len(data)) > c.mediaLimit {
		return domain.Media{}, fmt.Errorf("%s: %w (limit %d bytes)", path, ErrMediaTooLarge, c.mediaLimit)
	}

	mimeType := fallbackType
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mediaType != "application/octet-stream" {
		mimeType = mediaType
	}
	return domain.Media{MIMEType: mimeType, Filename: stem + extensionFor(mimeType), Data: data}, nil
}

func (c *Client) doJSON(ctx context.Context, method string, path string, auth bool, in any, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := c.newRequest(ctx, method, path, auth, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method string, path string, auth bool, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if auth {
		token := c.token()
		if token == "" {
			return nil, ErrNotLoggedIn
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logRequest(req, 0, started, err)
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	c.logRequest(req, resp.StatusCode, started, nil)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) logRequest(req *http.Request, status int, started time.Time, err error) {
	attrs := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"status", status,
		"duration", time.Since(started),
	}
	switch {
	case err != nil:
		c.logger.Warn("backend request failed", append(attrs, "error", err)...)
	case status >= 400:
		c.logger.Warn("backend request rejected", attrs...)
	default:
		c.logger.Debug("backend request", attrs...)
	}
}

func conversationPath(id domain.ConversationID, action string) string {
	path := "/conversations/" + url.PathEscape(string(id))
	if action != "" {
		path += "/" + action
	}
	return path
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

var _ ports.Backend = (*Client)(nil)
