package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatdesk/internal/domain"
	"chatdesk/internal/ports"
)

// RecorderConfig controls audio capture for speech-to-text.
type RecorderConfig struct {
	Audio        ports.AudioConfig
	Captions     ports.CaptionConfig
	ChunkSize    int
	CaptionGrace time.Duration
}

// finishedCapture is what a stopped recording hands to the STT dispatch.
type finishedCapture struct {
	conversation domain.ConversationID
	pcm          []byte
	sampleRate   int
	channels     int
}

func (f finishedCapture) media() domain.Media {
	return recordingMedia(f.pcm, f.sampleRate, f.channels)
}

type activeCapture struct {
	cancel       func()
	conversation domain.ConversationID
	audio        ports.AudioSession
	captions     ports.CaptionStream
	buffer       *fragmentBuffer
	pumpDone     chan struct{}
	captionsDone chan struct{}
}

// recorder owns the capture device and the fragment buffer.
// Idle -> Recording -> Finalizing -> Idle; only one capture exists at a time.
type recorder struct {
	audio    ports.AudioCapture
	captions ports.CaptionProvider
	sink     ports.ViewSink
	logger   *slog.Logger
	cfg      RecorderConfig
	onState  func(domain.RecordingState, domain.RecordingReason)

	mu       sync.Mutex
	state    domain.RecordingState
	starting bool
	current  *activeCapture
}

func newRecorder(
	audio ports.AudioCapture,
	captions ports.CaptionProvider,
	sink ports.ViewSink,
	logger *slog.Logger,
	cfg RecorderConfig,
	onState func(domain.RecordingState, domain.RecordingReason),
) *recorder {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.CaptionGrace <= 0 {
		cfg.CaptionGrace = 2 * time.Second
	}
	if onState == nil {
		onState = func(domain.RecordingState, domain.RecordingReason) {}
	}
	return &recorder{
		audio:    audio,
		captions: captions,
		sink:     sink,
		logger:   logger,
		cfg:      cfg,
		onState:  onState,
		state:    domain.RecordingStateIdle,
	}
}

func (r *recorder) State() domain.RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the capture device for conversation. A device failure leaves
// the recorder idle.
func (r *recorder) Start(ctx context.Context, conversation domain.ConversationID) error {
	r.mu.Lock()
	if r.state != domain.RecordingStateIdle || r.starting {
		r.mu.Unlock()
		return ErrRecordingActive
	}
	r.starting = true
	r.mu.Unlock()

	captureCtx, cancel := context.WithCancel(ctx)
	session, err := r.audio.Start(captureCtx, r.cfg.Audio)
	if err != nil {
		cancel()
		r.mu.Lock()
		r.starting = false
		r.mu.Unlock()
		r.logger.Warn("capture device unavailable", "error", err)
		r.sink.RecordingStateChanged(domain.RecordingStateIdle, domain.RecordingReasonDeviceFailed)
		r.sink.Notice(domain.ErrorCodeDevice, err.Error())
		return fmt.Errorf("start capture: %w", err)
	}

	active := &activeCapture{
		cancel:       cancel,
		conversation: conversation,
		audio:        session,
		buffer:       &fragmentBuffer{},
		pumpDone:     make(chan struct{}),
	}

	var tap *captionTap
	degraded := false
	if r.captions != nil {
		stream, err := r.captions.StartStreaming(captureCtx, r.cfg.Captions)
		if err != nil {
			r.logger.Warn("live captions unavailable", "error", err)
			r.sink.Notice(domain.ErrorCodeCaptions, err.Error())
			degraded = true
		} else {
			active.captions = stream
			active.captionsDone = make(chan struct{})
			tap = &captionTap{stream: stream, onError: r.captionFailed}
			go consumeCaptionEvents(stream, &captionBoard{}, r.sink.LiveCaption, active.captionsDone)
		}
	}

	go pumpAudioChunks(session, active.buffer, tap, r.cfg.ChunkSize, r.readFailed, active.pumpDone)

	r.mu.Lock()
	r.current = active
	r.state = domain.RecordingStateRecording
	r.starting = false
	r.mu.Unlock()

	r.logger.Info("recording started", "conversation_id", conversation)
	r.onState(domain.RecordingStateRecording, domain.RecordingReasonStarted)
	if degraded {
		r.sink.RecordingStateChanged(domain.RecordingStateRecording, domain.RecordingReasonCaptionsDegraded)
	}
	return nil
}

// Finish moves Recording -> Finalizing, stops the device and drains the buffer.
func (r *recorder) Finish() (finishedCapture, error) {
	active, err := r.claim()
	if err != nil {
		return finishedCapture{}, err
	}
	return r.drain(active), nil
}

// claim moves Recording -> Finalizing and hands the capture to exactly one
// caller. The device keeps running until drain.
func (r *recorder) claim() (*activeCapture, error) {
	r.mu.Lock()
	if r.state != domain.RecordingStateRecording || r.current == nil {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	active := r.current
	r.current = nil
	r.state = domain.RecordingStateFinalizing
	r.mu.Unlock()

	r.onState(domain.RecordingStateFinalizing, domain.RecordingReasonTranscribing)
	return active, nil
}

// drain stops a claimed capture and returns its buffered audio.
func (r *recorder) drain(active *activeCapture) finishedCapture {
	r.stopCapture(active)
	pcm := active.buffer.Drain()
	r.logger.Info("recording finalized", "conversation_id", active.conversation, "bytes", len(pcm))

	return finishedCapture{
		conversation: active.conversation,
		pcm:          pcm,
		sampleRate:   r.cfg.Audio.SampleRate,
		channels:     r.cfg.Audio.Channels,
	}
}

// Settle moves Finalizing -> Idle.
func (r *recorder) Settle(reason domain.RecordingReason) {
	r.mu.Lock()
	if r.state != domain.RecordingStateFinalizing {
		r.mu.Unlock()
		return
	}
	r.state = domain.RecordingStateIdle
	r.mu.Unlock()

	r.onState(domain.RecordingStateIdle, reason)
}

// Abort discards an in-progress capture without submitting it.
func (r *recorder) Abort() error {
	r.mu.Lock()
	if r.state != domain.RecordingStateRecording || r.current == nil {
		r.mu.Unlock()
		return ErrNotRecording
	}
	active := r.current
	r.current = nil
	r.mu.Unlock()

	r.stopCapture(active)
	active.buffer.Drain()

	r.mu.Lock()
	r.state = domain.RecordingStateIdle
	r.mu.Unlock()
	r.onState(domain.RecordingStateIdle, domain.RecordingReasonDiscarded)
	return nil
}

func (r *recorder) stopCapture(active *activeCapture) {
	if err := active.audio.Stop(); err != nil {
		r.logger.Warn("capture device did not stop cleanly", "error", err)
	}
	<-active.pumpDone

	if active.captions != nil {
		_ = active.captions.CloseSend()
		if err := waitForStream(active.captions, r.cfg.CaptionGrace); err != nil {
			r.logger.Debug("caption stream closed with error", "error", err)
		}
		<-active.captionsDone
	}
	active.cancel()
}

func (r *recorder) readFailed(err error) {
	r.logger.Warn("capture read failed", "error", err)
	r.sink.Notice(domain.ErrorCodeDevice, err.Error())
}

func (r *recorder) captionFailed(err error) {
	r.logger.Warn("live captions stopped", "error", err)
	r.sink.Notice(domain.ErrorCodeCaptions, err.Error())
	if r.State() == domain.RecordingStateRecording {
		r.sink.RecordingStateChanged(domain.RecordingStateRecording, domain.RecordingReasonCaptionsDegraded)
	}
}
