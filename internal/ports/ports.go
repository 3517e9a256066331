package ports

import (
	"context"
	"io"

	"chatdesk/internal/domain"
)

// Credentials are the username/password pair sent to the auth endpoints.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ConversationDetail is a conversation together with its full history.
type ConversationDetail struct {
	Conversation domain.ConversationSummary `json:"conversation"`
	Messages     []domain.Message           `json:"messages"`
}

// Backend is the remote chat API. Authenticated calls use the current session token.
type Backend interface {
	Register(ctx context.Context, creds Credentials) error
	Login(ctx context.Context, creds Credentials) (string, error)

	ListConversations(ctx context.Context) ([]domain.ConversationSummary, error)
	CreateConversation(ctx context.Context) (domain.ConversationSummary, error)
	GetConversation(ctx context.Context, id domain.ConversationID) (ConversationDetail, error)
	DeleteConversation(ctx context.Context, id domain.ConversationID) error

	SendMessage(ctx context.Context, id domain.ConversationID, content string) ([]domain.Message, error)
	Transcribe(ctx context.Context, id domain.ConversationID, audio domain.Media) ([]domain.Message, error)
	Synthesize(ctx context.Context, id domain.ConversationID) (domain.Media, error)
	GenerateImage(ctx context.Context, id domain.ConversationID) (domain.Media, error)
}

// TokenSource yields the bearer token for authenticated calls.
type TokenSource interface {
	Token() string
}

// TokenStore persists the auth token across restarts.
type TokenStore interface {
	LoadToken(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session producing raw PCM.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture opens the capture device.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// CaptionConfig describes the PCM stream sent to a caption provider.
type CaptionConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// CaptionStream is an open live-caption session.
type CaptionStream interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.CaptionEvent
	Wait() error
	Close() error
}

// CaptionProvider opens live-caption sessions.
type CaptionProvider interface {
	StartStreaming(ctx context.Context, cfg CaptionConfig) (CaptionStream, error)
}

// Rewriter transforms outgoing message text.
type Rewriter interface {
	Apply(text string) (string, error)
}

// ViewSink receives every presentation change. Implementations must not block.
type ViewSink interface {
	SessionChanged(status domain.Status)
	ConversationsChanged(items []domain.ConversationSummary)
	MessagesReset(id domain.ConversationID, messages []domain.Message)
	MessageAppended(id domain.ConversationID, message domain.Message)
	BusyChanged(busy bool, affordances domain.Affordances)
	RecordingStateChanged(state domain.RecordingState, reason domain.RecordingReason)
	LiveCaption(text string)
	Notice(code domain.ErrorCode, detail string)
}

// DetailError is implemented by backend errors carrying a user-facing message.
type DetailError interface {
	error
	Detail() string
}
