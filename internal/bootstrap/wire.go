package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"chatdesk/internal/audio"
	"chatdesk/internal/backend"
	"chatdesk/internal/config"
	"chatdesk/internal/logging"
	"chatdesk/internal/ports"
	"chatdesk/internal/providers/deepgram"
	"chatdesk/internal/rules"
	"chatdesk/internal/storage"
	"chatdesk/internal/usecase"
)

// Options selects per-surface wiring.
type Options struct {
	// ConfigPath overrides CHATDESK_CONFIG and the default config file.
	ConfigPath string
	// LogPrefix names the daily log file.
	LogPrefix string
	// Console receives a copy of every log record. When nil, dev mode mirrors to stdout.
	Console io.Writer
}

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.ClientController
	Backend    *backend.Client
	Store      *storage.StateStore
	Microphone *audio.Microphone
	Config     config.Config
	Logger     *slog.Logger
	// Captions reports whether the live caption preview is wired.
	Captions bool

	closers []io.Closer
}

// Close releases the state database and the log file.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Build wires all client dependencies for the current runtime.
func Build(opts Options, sink ports.ViewSink) (*Services, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	console := opts.Console
	if console == nil && cfg.Logging.Dev {
		console = os.Stdout
	}
	logger, logCloser, err := logging.New(logging.Config{
		Dir:     cfg.Logging.Dir,
		Prefix:  opts.LogPrefix,
		Level:   logging.ParseLevel(cfg.Logging.Level),
		JSON:    cfg.Logging.JSON,
		Console: console,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	services := &Services{Config: cfg, Logger: logger, closers: []io.Closer{logCloser}}

	fail := func(err error) (*Services, error) {
		logger.Error("startup failed", "error", err)
		_ = services.Close()
		return nil, err
	}

	rewriter, err := rules.NewComposer(rules.Options{
		Path:           cfg.Rules.Path,
		Inline:         cfg.Rules.Inline,
		IterationLimit: cfg.Rules.IterationLimit,
	})
	if err != nil {
		return fail(err)
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fail(err)
	}
	services.Store = store
	services.closers = append(services.closers, store)

	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
		Logger:  logger.With("component", "backend"),
	})
	if err != nil {
		return fail(err)
	}
	services.Backend = client

	// A nil provider interface turns the preview off entirely.
	var captions ports.CaptionProvider
	if cfg.CaptionsEnabled() {
		captions = deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
		})
		services.Captions = true
	}

	mic := audio.NewMicrophone(cfg.Audio.RecorderCommand)
	services.Microphone = mic
	if !mic.Available() {
		logger.Warn("audio recorder not found; speech to text will fail", "command", mic.Command())
	}

	controller := usecase.NewClientController(
		client,
		store,
		mic,
		captions,
		rewriter,
		sink,
		logger.With("component", "controller"),
		usecase.Config{
			Recorder: usecase.RecorderConfig{
				Audio: ports.AudioConfig{
					SampleRate:  cfg.Audio.SampleRate,
					Channels:    cfg.Audio.Channels,
					InputFormat: cfg.Audio.InputFormat,
					InputDevice: cfg.Audio.InputDevice,
				},
				Captions: ports.CaptionConfig{
					SampleRate:     cfg.Audio.SampleRate,
					Channels:       cfg.Audio.Channels,
					Encoding:       "linear16",
					InterimResults: true,
				},
				ChunkSize:    cfg.Session.ChunkSize,
				CaptionGrace: cfg.Session.CaptionGrace,
			},
		},
	)
	client.SetTokenSource(controller)
	services.Controller = controller

	logger.Info("client ready",
		"backend", client.BaseURL(),
		"config", cfg.Source,
		"captions", services.Captions,
		"compose_rules", rewriter.Len(),
	)
	return services, nil
}
