package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chatdesk/internal/domain"
	"chatdesk/internal/ports"
)

const (
	noConversationNotice      = "Send your first text message to start a chat before using speech to text."
	registeredNotLoggedNotice = "Account successfully created, but authentication failed."
)

// Config controls controller behavior.
type Config struct {
	Recorder RecorderConfig
}

// ClientController owns the session, the busy gate, the recorder and the
// conversation view. Every UI action enters through one of its methods.
type ClientController struct {
	backend  ports.Backend
	tokens   ports.TokenStore
	rewriter ports.Rewriter
	sink     ports.ViewSink
	logger   *slog.Logger

	session  *sessionState
	gate     *busyGate
	view     *conversationView
	recorder *recorder
}

func NewClientController(
	backend ports.Backend,
	tokens ports.TokenStore,
	audio ports.AudioCapture,
	captions ports.CaptionProvider,
	rewriter ports.Rewriter,
	sink ports.ViewSink,
	logger *slog.Logger,
	cfg Config,
) *ClientController {
	if logger == nil {
		logger = slog.Default()
	}
	c := &ClientController{
		backend:  backend,
		tokens:   tokens,
		rewriter: rewriter,
		sink:     sink,
		logger:   logger,
		session:  &sessionState{},
		view:     newConversationView(sink),
	}
	c.gate = newBusyGate(c.busyChanged)
	c.recorder = newRecorder(audio, captions, sink, logger.With("component", "recorder"), cfg.Recorder, c.recordingChanged)
	return c
}

// Token implements ports.TokenSource for the backend client.
func (c *ClientController) Token() string {
	return c.session.Token()
}

// Status returns the current client status.
func (c *ClientController) Status() domain.Status {
	busy := c.gate.Held()
	recording := c.recorder.State()
	return domain.Status{
		LoggedIn:             c.session.loggedIn(),
		ActiveConversationID: c.session.activeConversation(),
		Busy:                 busy,
		Recording:            recording,
		Affordances:          domain.AffordancesFor(busy, recording),
	}
}

// Conversations returns the last fetched conversation list.
func (c *ClientController) Conversations() []domain.ConversationSummary {
	return c.session.conversationList()
}

// Messages returns the rendered messages and the conversation they belong to.
func (c *ClientController) Messages() (domain.ConversationID, []domain.Message) {
	return c.view.Snapshot()
}

// Restore resumes a persisted session, if any.
func (c *ClientController) Restore(ctx context.Context) error {
	token, err := c.tokens.LoadToken(ctx)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if token == "" {
		c.emitStatus()
		return nil
	}
	c.session.logIn(token, c.view.Reset)
	c.logger.Info("session restored")
	c.emitStatus()
	return c.RefreshConversations(ctx)
}

// Register creates an account and logs straight in with it.
func (c *ClientController) Register(ctx context.Context, creds ports.Credentials) error {
	if err := c.backend.Register(ctx, creds); err != nil {
		c.authFailed("register", err)
		return err
	}
	c.logger.Info("account registered", "username", creds.Username)

	token, err := c.backend.Login(ctx, creds)
	if err != nil {
		c.logger.Warn("login after register failed", "error", err)
		c.sink.Notice(domain.ErrorCodeAuth, registeredNotLoggedNotice)
		return fmt.Errorf("%w: %w", ErrLoginAfterRegister, err)
	}
	return c.startSession(ctx, token)
}

// Login authenticates and loads the conversation list.
func (c *ClientController) Login(ctx context.Context, creds ports.Credentials) error {
	token, err := c.backend.Login(ctx, creds)
	if err != nil {
		c.authFailed("login", err)
		return err
	}
	return c.startSession(ctx, token)
}

func (c *ClientController) startSession(ctx context.Context, token string) error {
	if err := c.tokens.SaveToken(ctx, token); err != nil {
		c.logger.Warn("token not persisted", "error", err)
	}
	_ = c.recorder.Abort()
	c.session.logIn(token, c.view.Reset)
	c.logger.Info("logged in")
	c.emitStatus()
	if err := c.RefreshConversations(ctx); err != nil {
		c.logger.Warn("conversation list unavailable after login", "error", err)
	}
	return nil
}

// Logout forgets the token, the active conversation and the rendered view.
func (c *ClientController) Logout(ctx context.Context) error {
	if err := c.recorder.Abort(); err == nil {
		c.logger.Info("recording discarded on logout")
	}
	var clearErr error
	if err := c.tokens.ClearToken(ctx); err != nil {
		clearErr = fmt.Errorf("clear token: %w", err)
		c.logger.Warn("token not removed", "error", err)
	}
	c.session.logOut(c.view.Reset)
	c.sink.ConversationsChanged(nil)
	c.logger.Info("logged out")
	c.emitStatus()
	return clearErr
}

// RefreshConversations reloads the conversation list. On failure the previous
// list stays.
func (c *ClientController) RefreshConversations(ctx context.Context) error {
	items, err := c.backend.ListConversations(ctx)
	if err != nil {
		c.logger.Warn("conversation list refresh failed", "error", err)
		return fmt.Errorf("list conversations: %w", err)
	}
	c.session.setConversations(items)
	c.sink.ConversationsChanged(c.session.conversationList())
	return nil
}

// NewChat clears the active conversation; the next message creates one.
func (c *ClientController) NewChat() {
	c.session.clearActive(c.view.Reset)
	c.emitStatus()
}

// OpenConversation switches to id and replaces the rendered list wholesale.
// A later switch supersedes one still in flight.
func (c *ClientController) OpenConversation(ctx context.Context, id domain.ConversationID) error {
	ticket := c.session.beginOpen()
	detail, err := c.backend.GetConversation(ctx, id)
	if err != nil {
		c.logger.Warn("conversation not opened", "conversation_id", id, "error", err)
		c.sink.Notice(domain.ErrorCodeConversation, "Could not open the conversation.")
		return fmt.Errorf("open conversation %s: %w", id, err)
	}

	adopted := detail.Conversation.ID
	if adopted == "" {
		adopted = id
	}
	loaded := c.session.finishOpen(ticket, adopted, func() {
		c.view.Load(adopted, detail.Messages)
	})
	if !loaded {
		c.logger.Debug("conversation switch superseded", "conversation_id", adopted)
		return nil
	}
	c.emitStatus()
	return nil
}

// DeleteConversation removes id on the backend and from the list. The view is
// cleared when id was the open conversation.
func (c *ClientController) DeleteConversation(ctx context.Context, id domain.ConversationID) error {
	if err := c.backend.DeleteConversation(ctx, id); err != nil {
		c.logger.Warn("conversation not deleted", "conversation_id", id, "error", err)
		c.sink.Notice(domain.ErrorCodeConversation, "Could not delete the conversation.")
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}

	remaining := make([]domain.ConversationSummary, 0)
	for _, item := range c.session.conversationList() {
		if item.ID != id {
			remaining = append(remaining, item)
		}
	}
	c.session.setConversations(remaining)
	c.sink.ConversationsChanged(c.session.conversationList())

	if c.session.clearActiveIf(id, c.view.Reset) {
		c.emitStatus()
	}
	_ = c.RefreshConversations(ctx)
	return nil
}

// SendText posts text to the active conversation, creating one first when
// none is active, and renders the assistant's reply.
func (c *ClientController) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.rewriter != nil {
		rewritten, err := c.rewriter.Apply(text)
		if err != nil {
			c.logger.Warn("compose rules failed, sending text as typed", "error", err)
		} else if strings.TrimSpace(rewritten) != "" {
			text = strings.TrimSpace(rewritten)
		}
	}

	lease, err := c.acquire(domain.OperationSendText)
	if err != nil {
		return err
	}
	return c.dispatch(ctx, lease, domain.OperationSendText, func(ctx context.Context, log *slog.Logger) error {
		target := c.session.activeConversation()
		c.view.Append(target, domain.Message{Role: domain.RoleUser, Content: text})

		created := false
		if target == "" {
			conv, err := c.backend.CreateConversation(ctx)
			if err != nil {
				c.renderFailure(target, domain.OperationSendText)
				return fmt.Errorf("create conversation: %w", err)
			}
			c.session.adopt("", conv.ID, func() { c.view.Adopt("", conv.ID) })
			target = conv.ID
			created = true
			log.Info("conversation created", "conversation_id", target)
			c.emitStatus()
			_ = c.RefreshConversations(ctx)
		}

		messages, err := c.backend.SendMessage(ctx, target, text)
		if err == nil && len(messages) == 0 {
			err = ErrEmptyResponse
		}
		if err != nil {
			c.renderFailure(target, domain.OperationSendText)
			return fmt.Errorf("send message: %w", err)
		}
		for _, message := range tail(messages, 1) {
			c.view.Append(target, message)
		}
		if created {
			_ = c.RefreshConversations(ctx)
		}
		return nil
	})
}

// RequestSpeech asks the backend to voice the conversation's latest reply.
func (c *ClientController) RequestSpeech(ctx context.Context) error {
	return c.requestMedia(ctx, domain.OperationTTS, c.backend.Synthesize)
}

// RequestImage asks the backend for an image for the conversation.
func (c *ClientController) RequestImage(ctx context.Context) error {
	return c.requestMedia(ctx, domain.OperationImage, c.backend.GenerateImage)
}

func (c *ClientController) requestMedia(
	ctx context.Context,
	op domain.Operation,
	call func(context.Context, domain.ConversationID) (domain.Media, error),
) error {
	target := c.session.activeConversation()
	if target == "" {
		return ErrNoConversation
	}

	lease, err := c.acquire(op)
	if err != nil {
		return err
	}
	return c.dispatch(ctx, lease, op, func(ctx context.Context, log *slog.Logger) error {
		media, err := call(ctx, target)
		if err == nil && len(media.Data) == 0 {
			err = errors.New("empty media payload")
		}
		if err != nil {
			c.renderFailure(target, op)
			return err
		}
		log.Info("media received", "mime_type", media.MIMEType, "bytes", len(media.Data))
		c.view.Append(target, domain.Message{Role: domain.RoleAssistant, Media: &media})
		return nil
	})
}

// ToggleRecording starts a capture when idle and stops and submits it when
// recording. Start needs an active conversation and a free gate; stop is
// always accepted.
func (c *ClientController) ToggleRecording(ctx context.Context) error {
	switch c.recorder.State() {
	case domain.RecordingStateRecording:
		return c.stopRecording(ctx)
	case domain.RecordingStateFinalizing:
		return ErrBusy
	}

	target := c.session.activeConversation()
	if target == "" {
		c.sink.Notice(domain.ErrorCodeNoChat, noConversationNotice)
		return ErrNoConversation
	}
	if c.gate.Held() {
		return ErrBusy
	}
	return c.recorder.Start(ctx, target)
}

// AbortRecording discards a capture without submitting it.
func (c *ClientController) AbortRecording() error {
	return c.recorder.Abort()
}

func (c *ClientController) stopRecording(ctx context.Context) error {
	// Only the caller that claims the capture may take the gate.
	active, err := c.recorder.claim()
	if err != nil {
		return err
	}
	lease, acquired := c.gate.TryAcquire()
	capture := c.recorder.drain(active)
	if !acquired {
		c.logger.Warn("recording discarded, another operation holds the gate", "bytes", len(capture.pcm))
		c.recorder.Settle(domain.RecordingReasonBusyDiscarded)
		return ErrBusy
	}

	return c.dispatch(ctx, lease, domain.OperationSTT, func(ctx context.Context, log *slog.Logger) error {
		reason := domain.RecordingReasonFailed
		defer func() { c.recorder.Settle(reason) }()

		target := capture.conversation
		if len(capture.pcm) == 0 {
			reason = domain.RecordingReasonEmptyCapture
			c.renderFailure(target, domain.OperationSTT)
			return ErrEmptyCapture
		}

		messages, err := c.backend.Transcribe(ctx, target, capture.media())
		if err == nil && len(messages) == 0 {
			err = ErrEmptyResponse
		}
		if err != nil {
			c.renderFailure(target, domain.OperationSTT)
			return fmt.Errorf("transcribe: %w", err)
		}
		for _, message := range tail(messages, 2) {
			c.view.Append(target, message)
		}
		reason = domain.RecordingReasonTranscribed
		return nil
	})
}

func (c *ClientController) authFailed(action string, err error) {
	detail := err.Error()
	var detailed ports.DetailError
	if errors.As(err, &detailed) && detailed.Detail() != "" {
		detail = detailed.Detail()
	}
	c.logger.Warn(action+" failed", "error", err)
	c.sink.Notice(domain.ErrorCodeAuth, detail)
}

func (c *ClientController) busyChanged(busy bool) {
	c.sink.BusyChanged(busy, domain.AffordancesFor(busy, c.recorder.State()))
}

func (c *ClientController) recordingChanged(state domain.RecordingState, reason domain.RecordingReason) {
	c.sink.RecordingStateChanged(state, reason)
	busy := c.gate.Held()
	c.sink.BusyChanged(busy, domain.AffordancesFor(busy, state))
}

func (c *ClientController) emitStatus() {
	c.sink.SessionChanged(c.Status())
}
