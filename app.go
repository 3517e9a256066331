package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"chatdesk/internal/bootstrap"
	"chatdesk/internal/config"
	"chatdesk/internal/domain"
	"chatdesk/internal/logging"
	"chatdesk/internal/ports"
	"chatdesk/internal/usecase"
)

const (
	eventSession       = "chatdesk:session"
	eventConversations = "chatdesk:conversations"
	eventMessages      = "chatdesk:messages"
	eventMessage       = "chatdesk:message"
	eventBusy          = "chatdesk:busy"
	eventRecording     = "chatdesk:recording"
	eventCaption       = "chatdesk:caption"
	eventNotice        = "chatdesk:notice"
)

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit func(ctx context.Context, event string, data ...interface{})

	services   *bootstrap.Services
	controller *usecase.ClientController
	cfg        config.Config
	logger     *slog.Logger
	bootErr    error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit, logger: slog.Default()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(bootstrap.Options{LogPrefix: "chatdesk"}, a)
	if err != nil {
		a.bootErr = err
		a.Notice(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.logger = services.Logger
	a.controller = services.Controller
	if err := a.controller.Restore(ctx); err != nil {
		a.logger.Warn("session restore incomplete", "error", err)
	}
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		_ = a.controller.AbortRecording()
	}
	if a.services != nil {
		if err := a.services.Close(); err != nil {
			a.logger.Warn("shutdown cleanup failed", "error", err)
		}
	}
}

// Register creates an account and logs in with it.
func (a *App) Register(username string, password string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Register(a.ctx, ports.Credentials{Username: username, Password: password})
}

// Login authenticates and loads the conversation list.
func (a *App) Login(username string, password string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Login(a.ctx, ports.Credentials{Username: username, Password: password})
}

// Logout forgets the session.
func (a *App) Logout() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Logout(a.ctx)
}

// GetStatus returns the current client status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		status := domain.Status{
			Recording:   domain.RecordingStateIdle,
			Affordances: domain.AffordancesFor(false, domain.RecordingStateIdle),
		}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.controller.Status()
}

// RefreshConversations reloads the sidebar list.
func (a *App) RefreshConversations() ([]domain.ConversationSummary, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	if err := a.controller.RefreshConversations(a.ctx); err != nil {
		return a.controller.Conversations(), err
	}
	return a.controller.Conversations(), nil
}

// NewChat clears the active conversation; the next message creates one.
func (a *App) NewChat() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.NewChat()
	return nil
}

// OpenConversation loads a conversation's history into the view.
func (a *App) OpenConversation(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.OpenConversation(a.ctx, domain.ConversationID(id))
}

// DeleteConversation removes a conversation on the server.
func (a *App) DeleteConversation(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.DeleteConversation(a.ctx, domain.ConversationID(id))
}

// SendText posts a message to the active conversation.
func (a *App) SendText(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return ignoreRejected(a.controller.SendText(a.ctx, text))
}

// ToggleRecording starts or stops speech-to-text capture.
func (a *App) ToggleRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return ignoreRejected(a.controller.ToggleRecording(a.ctx))
}

// RequestSpeech voices the latest assistant reply.
func (a *App) RequestSpeech() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return ignoreRejected(a.controller.RequestSpeech(a.ctx))
}

// RequestImage asks for an image for the active conversation.
func (a *App) RequestImage() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return ignoreRejected(a.controller.RequestImage(a.ctx))
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	captions := "off"
	if a.services != nil && a.services.Captions {
		captions = "Deepgram " + a.cfg.Deepgram.Model
	}
	return map[string]string{
		"backend":          a.cfg.Backend.URL,
		"captions":         captions,
		"rulesFile":        a.cfg.Rules.Path,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"configFile":       a.cfg.Source,
	}
}

// LogFromFrontend writes a webview log entry into the client log.
func (a *App) LogFromFrontend(entry logging.FrontendEntry) {
	logging.LogFromFrontend(a.logger, entry)
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// ignoreRejected turns actions refused before any request into silent no-ops:
// an overlapping action while the gate is held, or a conversation action with
// no conversation open.
func ignoreRejected(err error) error {
	if errors.Is(err, usecase.ErrBusy) || errors.Is(err, usecase.ErrNoConversation) {
		return nil
	}
	return err
}

func (a *App) send(event string, payload any) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, event, payload)
}

// SessionChanged emits login and active conversation changes.
func (a *App) SessionChanged(status domain.Status) {
	a.send(eventSession, status)
}

// ConversationsChanged emits the refreshed sidebar list.
func (a *App) ConversationsChanged(items []domain.ConversationSummary) {
	if items == nil {
		items = []domain.ConversationSummary{}
	}
	a.send(eventConversations, items)
}

// MessagesReset emits a whole conversation history.
func (a *App) MessagesReset(id domain.ConversationID, messages []domain.Message) {
	views := make([]messageView, 0, len(messages))
	for _, message := range messages {
		views = append(views, toMessageView(message))
	}
	a.send(eventMessages, map[string]any{
		"conversationId": string(id),
		"messages":       views,
	})
}

// MessageAppended emits one new message.
func (a *App) MessageAppended(id domain.ConversationID, message domain.Message) {
	a.send(eventMessage, map[string]any{
		"conversationId": string(id),
		"message":        toMessageView(message),
	})
}

// BusyChanged emits the gate state and the derived control flags.
func (a *App) BusyChanged(busy bool, affordances domain.Affordances) {
	a.send(eventBusy, map[string]any{
		"busy":        busy,
		"affordances": affordances,
	})
}

// RecordingStateChanged emits recorder transitions.
func (a *App) RecordingStateChanged(state domain.RecordingState, reason domain.RecordingReason) {
	a.send(eventRecording, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": recordingReasonMessage(reason),
	})
}

// LiveCaption emits the caption preview text.
func (a *App) LiveCaption(text string) {
	a.send(eventCaption, map[string]string{"text": text})
}

// Notice emits a non-chat user notice.
func (a *App) Notice(code domain.ErrorCode, detail string) {
	a.send(eventNotice, map[string]string{
		"code":    string(code),
		"message": noticeMessage(code, detail),
		"detail":  detail,
	})
}

// messageView is a message as the webview renders it.
type messageView struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	MIMEType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data,omitempty"`
}

func toMessageView(message domain.Message) messageView {
	view := messageView{Role: string(message.Role), Content: message.Content}
	if message.Media != nil {
		view.MIMEType = message.Media.MIMEType
		view.Filename = message.Media.Filename
		view.Data = base64.StdEncoding.EncodeToString(message.Media.Data)
	}
	return view
}

func recordingReasonMessage(reason domain.RecordingReason) string {
	switch reason {
	case domain.RecordingReasonStarted:
		return "Recording..."
	case domain.RecordingReasonTranscribing:
		return "Recording stopped. Transcribing..."
	case domain.RecordingReasonTranscribed:
		return "Transcribed"
	case domain.RecordingReasonFailed:
		return "Transcription failed"
	case domain.RecordingReasonDiscarded:
		return "Recording discarded"
	case domain.RecordingReasonBusyDiscarded:
		return "Recording discarded; another request is in progress"
	case domain.RecordingReasonDeviceFailed:
		return "Microphone unavailable"
	case domain.RecordingReasonEmptyCapture:
		return "No audio captured"
	case domain.RecordingReasonCaptionsDegraded:
		return "Recording without live captions"
	default:
		return ""
	}
}

func noticeMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeAuth:
		if detail != "" {
			return detail
		}
		return "Authentication failed"
	case domain.ErrorCodeDevice:
		return "Microphone unavailable"
	case domain.ErrorCodeNoChat:
		return detail
	case domain.ErrorCodeConversation:
		return "Conversation request failed"
	case domain.ErrorCodeCaptions:
		return "Live captions unavailable"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
