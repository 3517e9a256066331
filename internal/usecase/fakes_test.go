package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"chatdesk/internal/domain"
	"chatdesk/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	mu sync.Mutex

	token       string
	loginErr    error
	registerErr error

	conversations []domain.ConversationSummary
	listErr       error
	created       []domain.ConversationID
	createErr     error
	nextID        int
	details       map[domain.ConversationID]ports.ConversationDetail
	getErr        error
	getGate       map[domain.ConversationID]chan struct{}
	deleted       []domain.ConversationID
	deleteErr     error

	sendErr   error
	sendReply []domain.Message
	sendGate  chan struct{}
	sendCalls []sentMessage

	sttErr   error
	sttReply []domain.Message
	sttCalls []domain.Media

	ttsErr     error
	ttsCalls   int
	imageErr   error
	imageCalls int

	calls []string
}

type sentMessage struct {
	id      domain.ConversationID
	content string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		token:   "tok-123",
		nextID:  1,
		details: map[domain.ConversationID]ports.ConversationDetail{},
		getGate: map[domain.ConversationID]chan struct{}{},
	}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) snapshotCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Register(_ context.Context, _ ports.Credentials) error {
	f.record("register")
	return f.registerErr
}

func (f *fakeBackend) Login(_ context.Context, creds ports.Credentials) (string, error) {
	f.record("login:" + creds.Username)
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return f.token, nil
}

func (f *fakeBackend) ListConversations(_ context.Context) ([]domain.ConversationSummary, error) {
	f.record("list")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.ConversationSummary(nil), f.conversations...), nil
}

func (f *fakeBackend) CreateConversation(_ context.Context) (domain.ConversationSummary, error) {
	f.record("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.ConversationSummary{}, f.createErr
	}
	id := domain.ConversationID(strconv.Itoa(f.nextID))
	f.nextID++
	item := domain.ConversationSummary{ID: id, Title: "New conversation"}
	f.created = append(f.created, id)
	f.conversations = append([]domain.ConversationSummary{item}, f.conversations...)
	return item, nil
}

func (f *fakeBackend) GetConversation(_ context.Context, id domain.ConversationID) (ports.ConversationDetail, error) {
	f.record("get:" + string(id))
	f.mu.Lock()
	gate := f.getGate[id]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return ports.ConversationDetail{}, f.getErr
	}
	detail, ok := f.details[id]
	if !ok {
		return ports.ConversationDetail{}, errors.New("not found")
	}
	return detail, nil
}

func (f *fakeBackend) DeleteConversation(_ context.Context, id domain.ConversationID) error {
	f.record("delete:" + string(id))
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	kept := f.conversations[:0]
	for _, item := range f.conversations {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	f.conversations = kept
	return nil
}

func (f *fakeBackend) SendMessage(_ context.Context, id domain.ConversationID, content string) ([]domain.Message, error) {
	f.record("send:" + string(id))
	if f.sendGate != nil {
		<-f.sendGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls = append(f.sendCalls, sentMessage{id: id, content: content})
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.sendReply != nil {
		return f.sendReply, nil
	}
	return []domain.Message{
		{Role: domain.RoleUser, Content: content},
		{Role: domain.RoleAssistant, Content: "reply to " + content},
	}, nil
}

func (f *fakeBackend) Transcribe(_ context.Context, id domain.ConversationID, audio domain.Media) ([]domain.Message, error) {
	f.record("stt:" + string(id))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sttCalls = append(f.sttCalls, audio)
	if f.sttErr != nil {
		return nil, f.sttErr
	}
	if f.sttReply != nil {
		return f.sttReply, nil
	}
	return []domain.Message{
		{Role: domain.RoleUser, Content: "earlier"},
		{Role: domain.RoleAssistant, Content: "earlier reply"},
		{Role: domain.RoleUser, Content: "transcribed words"},
		{Role: domain.RoleAssistant, Content: "spoken reply"},
	}, nil
}

func (f *fakeBackend) Synthesize(_ context.Context, id domain.ConversationID) (domain.Media, error) {
	f.record("tts:" + string(id))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttsCalls++
	if f.ttsErr != nil {
		return domain.Media{}, f.ttsErr
	}
	return domain.Media{MIMEType: "audio/mpeg", Filename: "response.mp3", Data: []byte("mp3")}, nil
}

func (f *fakeBackend) GenerateImage(_ context.Context, id domain.ConversationID) (domain.Media, error) {
	f.record("image:" + string(id))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls++
	if f.imageErr != nil {
		return domain.Media{}, f.imageErr
	}
	return domain.Media{MIMEType: "image/png", Filename: "image.png", Data: []byte("png")}, nil
}

type detailError struct{ detail string }

func (e detailError) Error() string  { return "backend: " + e.detail }
func (e detailError) Detail() string { return e.detail }

type fakeTokenStore struct {
	mu      sync.Mutex
	token   string
	loadErr error
	saveErr error
	saves   int
	clears  int
}

func (f *fakeTokenStore) LoadToken(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.loadErr
}

func (f *fakeTokenStore) SaveToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.token = token
	return nil
}

func (f *fakeTokenStore) ClearToken(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.token = ""
	return nil
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.sessions) == 0 {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[0]
	f.sessions = f.sessions[1:]
	return session, nil
}

func (f *fakeAudioCapture) startCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAudioSession yields its chunks, then blocks until stopped.
type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopCalls int
	stopErr   error
	stopped   chan struct{}
	once      sync.Once
}

func newFakeAudioSession(chunks ...[]byte) *fakeAudioSession {
	return &fakeAudioSession{chunks: chunks, stopped: make(chan struct{})}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.index < len(f.chunks) {
		n := copy(p, f.chunks[f.index])
		f.index++
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()
	<-f.stopped
	return 0, io.EOF
}

func (f *fakeAudioSession) Close() error { return f.Stop() }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.once.Do(func() { close(f.stopped) })
	return f.stopErr
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeCaptionProvider struct {
	streams []*fakeCaptionStream
	err     error
}

func (f *fakeCaptionProvider) StartStreaming(_ context.Context, _ ports.CaptionConfig) (ports.CaptionStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.streams) == 0 {
		return nil, errors.New("no caption stream configured")
	}
	stream := f.streams[0]
	f.streams = f.streams[1:]
	return stream, nil
}

type fakeCaptionStream struct {
	mu         sync.Mutex
	events     chan domain.CaptionEvent
	sent       int
	sendErr    error
	closeCalls int
	closed     bool
}

func newFakeCaptionStream() *fakeCaptionStream {
	return &fakeCaptionStream{events: make(chan domain.CaptionEvent, 16)}
}

func (f *fakeCaptionStream) SendAudio(_ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return f.sendErr
}

func (f *fakeCaptionStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

func (f *fakeCaptionStream) Events() <-chan domain.CaptionEvent { return f.events }

func (f *fakeCaptionStream) Wait() error {
	time.Sleep(time.Millisecond)
	return nil
}

func (f *fakeCaptionStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

type fakeRewriter struct {
	transform string
	err       error
}

func (f *fakeRewriter) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeViewSink struct {
	mu sync.Mutex

	statuses      []domain.Status
	conversations [][]domain.ConversationSummary
	resets        []resetEvent
	appended      []appendEvent
	busy          []bool
	recording     []recordingEvent
	captions      []string
	notices       []noticeEvent
}

type resetEvent struct {
	id       domain.ConversationID
	messages []domain.Message
}

type appendEvent struct {
	id      domain.ConversationID
	message domain.Message
}

type recordingEvent struct {
	state  domain.RecordingState
	reason domain.RecordingReason
}

type noticeEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeViewSink) SessionChanged(status domain.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakeViewSink) ConversationsChanged(items []domain.ConversationSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append(f.conversations, items)
}

func (f *fakeViewSink) MessagesReset(id domain.ConversationID, messages []domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, resetEvent{id: id, messages: messages})
}

func (f *fakeViewSink) MessageAppended(id domain.ConversationID, message domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, appendEvent{id: id, message: message})
}

func (f *fakeViewSink) BusyChanged(busy bool, _ domain.Affordances) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = append(f.busy, busy)
}

func (f *fakeViewSink) RecordingStateChanged(state domain.RecordingState, reason domain.RecordingReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = append(f.recording, recordingEvent{state: state, reason: reason})
}

func (f *fakeViewSink) LiveCaption(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captions = append(f.captions, text)
}

func (f *fakeViewSink) Notice(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, noticeEvent{code: code, detail: detail})
}

func (f *fakeViewSink) snapshotAppended() []appendEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appendEvent(nil), f.appended...)
}

func (f *fakeViewSink) snapshotRecording() []recordingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordingEvent(nil), f.recording...)
}

func (f *fakeViewSink) snapshotNotices() []noticeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]noticeEvent(nil), f.notices...)
}

func (f *fakeViewSink) snapshotBusy() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.busy...)
}

func (f *fakeViewSink) lastConversations() []domain.ConversationSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conversations) == 0 {
		return nil
	}
	return f.conversations[len(f.conversations)-1]
}

func (f *fakeViewSink) lastStatus() domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return domain.Status{}
	}
	return f.statuses[len(f.statuses)-1]
}
