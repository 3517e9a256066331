package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"chatdesk/internal/domain"
	"chatdesk/internal/ports"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"CHATDESK_CONFIG", "CHATDESK_BACKEND_URL", "CHATDESK_DB_PATH", "CHATDESK_RULES_FILE",
		"CHATDESK_CAPTIONS", "DEEPGRAM_API_KEY", "CHATDESK_LOG_DIR", "CHATDESK_DEV",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestBuildSuccess(t *testing.T) {
	home := isolate(t)
	t.Setenv("DEEPGRAM_API_KEY", "test-key")

	services, err := Build(Options{}, noopViewSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Controller == nil || services.Backend == nil || services.Store == nil {
		t.Fatalf("expected a fully wired graph")
	}
	if !services.Captions {
		t.Fatalf("expected captions with an api key")
	}
	if _, err := os.Stat(filepath.Join(home, ".local", "share", "chatdesk", "state.db")); err != nil {
		t.Fatalf("expected state database: %v", err)
	}
}

func TestBuildWithoutDeepgramKeyDisablesCaptions(t *testing.T) {
	isolate(t)

	services, err := Build(Options{}, noopViewSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Captions {
		t.Fatalf("captions must stay off without a key")
	}
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	home := isolate(t)
	rules := filepath.Join(home, "bad.rules")
	if err := os.WriteFile(rules, []byte("s/unterminated\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("CHATDESK_RULES_FILE", rules)

	if _, err := Build(Options{}, noopViewSink{}); err == nil {
		t.Fatalf("expected build error due to invalid rules")
	}
}

func TestBuildFailsOnMissingExplicitConfig(t *testing.T) {
	home := isolate(t)

	if _, err := Build(Options{ConfigPath: filepath.Join(home, "nope.yaml")}, noopViewSink{}); err == nil {
		t.Fatalf("expected error for a missing config file")
	}
}

func TestBuildAuthenticatesThroughController(t *testing.T) {
	isolate(t)

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer"}`))
		case "/conversations":
			gotAuth = r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	t.Setenv("CHATDESK_BACKEND_URL", server.URL)

	services, err := Build(Options{}, noopViewSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	ctx := context.Background()
	if err := services.Controller.Login(ctx, ports.Credentials{Username: "alice", Password: "pw"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("expected controller token on requests, got %q", gotAuth)
	}
	token, err := services.Store.LoadToken(ctx)
	if err != nil || token != "tok-1" {
		t.Fatalf("expected persisted token, got %q %v", token, err)
	}
}

type noopViewSink struct{}

func (noopViewSink) SessionChanged(domain.Status)                                        {}
func (noopViewSink) ConversationsChanged([]domain.ConversationSummary)                   {}
func (noopViewSink) MessagesReset(domain.ConversationID, []domain.Message)               {}
func (noopViewSink) MessageAppended(domain.ConversationID, domain.Message)               {}
func (noopViewSink) BusyChanged(bool, domain.Affordances)                                {}
func (noopViewSink) RecordingStateChanged(domain.RecordingState, domain.RecordingReason) {}
func (noopViewSink) LiveCaption(string)                                                  {}
func (noopViewSink) Notice(domain.ErrorCode, string)                                     {}
