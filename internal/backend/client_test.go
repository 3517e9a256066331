package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatdesk/internal/domain"
	"chatdesk/internal/ports"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, handler http.Handler, token string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL: server.URL + "/",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if token != "" {
		client.SetTokenSource(staticToken(token))
	}
	return client
}

func TestNewClientRejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{BaseURL: "not a url"}); err == nil {
		t.Fatalf("expected invalid URL error")
	}
	client, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("default URL rejected: %v", err)
	}
	if client.BaseURL() != "http://127.0.0.1:8000" {
		t.Fatalf("unexpected default URL %q", client.BaseURL())
	}
}

func TestLoginReturnsAccessToken(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("login must not carry a bearer token")
		}
		var creds ports.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Username != "alice" || creds.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Invalid username or password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"jwt-abc","token_type":"bearer"}`))
	})
	client := newTestClient(t, mux, "")

	token, err := client.Login(context.Background(), ports.Credentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if token != "jwt-abc" {
		t.Fatalf("unexpected token %q", token)
	}

	_, err = client.Login(context.Background(), ports.Credentials{Username: "alice", Password: "wrong"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.Unauthorized() || apiErr.Detail() != "Invalid username or password" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	var detailed ports.DetailError
	if !errors.As(err, &detailed) {
		t.Fatalf("APIError must satisfy DetailError")
	}
}

func TestRegisterValidationErrorJoinsMessages(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":[{"loc":["body","username"],"msg":"field required"},{"loc":["body","password"],"msg":"too short"}]}`))
	}), "")

	err := client.Register(context.Background(), ports.Credentials{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Detail() != "field required; too short" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthenticatedCallsNeedToken(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("request must not be sent without a token")
	}), "")

	if _, err := client.ListConversations(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestConversationEndpoints(t *testing.T) {
	t.Parallel()

	var deleted string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/conversations":
			_, _ = w.Write([]byte(`[{"id":2,"title":"Trip"},{"id":1,"title":"New conversation"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/conversations":
			_, _ = w.Write([]byte(`{"id":3,"title":"New conversation"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/conversations/2":
			_, _ = w.Write([]byte(`{"conversation":{"id":2,"title":"Trip"},"messages":[{"id":1,"role":"user","content":"hi"},{"id":2,"role":"assistant","content":"hello"}]}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/conversations/2":
			deleted = "2"
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("null"))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Conversation not found"}`))
		}
	})
	client := newTestClient(t, mux, "tok")
	ctx := context.Background()

	list, err := client.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "2" || list[0].Title != "Trip" {
		t.Fatalf("unexpected list: %+v", list)
	}

	created, err := client.CreateConversation(ctx)
	if err != nil || created.ID != "3" {
		t.Fatalf("unexpected create result: %+v %v", created, err)
	}

	detail, err := client.GetConversation(ctx, "2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if detail.Conversation.ID != "2" || len(detail.Messages) != 2 || detail.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	if err := client.DeleteConversation(ctx, "2"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != "2" {
		t.Fatalf("delete not received")
	}

	_, err = client.GetConversation(ctx, "99")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Detail() != "Conversation not found" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendMessageReturnsHistory(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/5/messages" || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Content-Type"))
		}
		var body struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"conversation":{"id":5,"title":"hello"},"messages":[{"role":"user","content":"` + body.Content + `"},{"role":"assistant","content":"hi back"}]}`))
	}), "tok")

	messages, err := client.SendMessage(context.Background(), "5", "hello")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "hello" || messages[1].Content != "hi back" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestTranscribeUploadsMultipartFile(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/5/stt" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "audio.wav" || header.Header.Get("Content-Type") != "audio/wav" || string(data) != "RIFFdata" {
			t.Errorf("unexpected upload %s %s %q", header.Filename, header.Header.Get("Content-Type"), data)
		}
		_, _ = w.Write([]byte(`{"messages":[{"role":"user","content":"spoken"},{"role":"assistant","content":"answer"}]}`))
	}), "tok")

	messages, err := client.Transcribe(context.Background(), "5", domain.Media{MIMEType: "audio/wav", Filename: "audio.wav", Data: []byte("RIFFdata")})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if len(messages) != 2 || messages[1].Content != "answer" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestMediaEndpoints(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations/5/tts":
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("ID3"))
		case "/conversations/5/image":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("\x89PNG"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail":"Image generation failed"}`))
		}
	}), "tok")
	ctx := context.Background()

	audio, err := client.Synthesize(ctx, "5")
	if err != nil {
		t.Fatalf("tts failed: %v", err)
	}
	if audio.MIMEType != "audio/mpeg" || audio.Filename != "response.mp3" || string(audio.Data) != "ID3" {
		t.Fatalf("unexpected audio: %+v", audio)
	}

	image, err := client.GenerateImage(ctx, "5")
	if err != nil {
		t.Fatalf("image failed: %v", err)
	}
	if image.MIMEType != "image/png" || image.Filename != "image.png" {
		t.Fatalf("unexpected image: %+v", image)
	}

	if _, err := client.GenerateImage(ctx, "6"); err == nil || !strings.Contains(err.Error(), "Image generation failed") {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestOversizedMediaFailsInsteadOfTruncating(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		if r.URL.Path == "/conversations/5/image" {
			_, _ = w.Write([]byte("123456789"))
			return
		}
		_, _ = w.Write([]byte("12345678"))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:       server.URL,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxMediaBytes: 8,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetTokenSource(staticToken("tok"))
	ctx := context.Background()

	media, err := client.GenerateImage(ctx, "5")
	if !errors.Is(err, ErrMediaTooLarge) {
		t.Fatalf("expected ErrMediaTooLarge, got %v (%d bytes)", err, len(media.Data))
	}
	if media.Data != nil {
		t.Fatalf("no partial payload may be returned")
	}

	media, err = client.GenerateImage(ctx, "6")
	if err != nil || string(media.Data) != "12345678" {
		t.Fatalf("payload at the limit must pass, got %q %v", media.Data, err)
	}

	if def, _ := NewClient(Config{}); def.mediaLimit != defaultMaxMediaBytes {
		t.Fatalf("unexpected default limit %d", def.mediaLimit)
	}
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Login(context.Background(), ports.Credentials{}); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestParseAPIErrorFallbacks(t *testing.T) {
	t.Parallel()

	if got := parseAPIError(502, []byte("Bad Gateway")); got.Detail() != "Bad Gateway" {
		t.Fatalf("unexpected plain detail %q", got.Detail())
	}
	if got := parseAPIError(502, []byte("<html>oops</html>")); got.Detail() != "" {
		t.Fatalf("html body must not be shown")
	}
	if got := parseAPIError(500, nil); got.Error() != "backend returned 500 Internal Server Error" {
		t.Fatalf("unexpected message %q", got.Error())
	}
}

func TestConversationPathEscapes(t *testing.T) {
	t.Parallel()

	if got := conversationPath("a/b", "tts"); got != "/conversations/a%2Fb/tts" {
		t.Fatalf("unexpected path %q", got)
	}
}
