package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatdesk/internal/backend"
	"chatdesk/internal/bootstrap"
	"chatdesk/internal/ports"
)

// Env carries the process boundary so commands can be exercised in tests.
type Env struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
	// Build assembles the client graph; bootstrap.Build when nil.
	Build func(opts bootstrap.Options, sink ports.ViewSink) (*bootstrap.Services, error)
}

type globalFlags struct {
	configPath string
	outDir     string
	verbose    bool
}

// Execute runs chatctl with the process's stdio and returns the exit code.
func Execute(version string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(Env{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}, version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// NewRootCommand builds the chatctl command tree.
func NewRootCommand(env Env, version string) *cobra.Command {
	if env.Build == nil {
		env.Build = bootstrap.Build
	}
	if env.In == nil {
		env.In = os.Stdin
	}
	if env.Out == nil {
		env.Out = io.Discard
	}
	if env.Err == nil {
		env.Err = io.Discard
	}
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Terminal client for the chatdesk backend",
		Long:          "chatctl talks to the same chat backend as the desktop app and shares its login.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(env.In)
	root.SetOut(env.Out)
	root.SetErr(env.Err)

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path (default ~/.config/chatdesk/config.yaml)")
	root.PersistentFlags().StringVarP(&flags.outDir, "out", "o", ".", "directory for synthesized audio and generated images")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "mirror logs to stderr")

	root.AddCommand(
		newRegisterCmd(env, flags),
		newLoginCmd(env, flags),
		newLogoutCmd(env, flags),
		newListCmd(env, flags),
		newShowCmd(env, flags),
		newSendCmd(env, flags),
		newSpeakCmd(env, flags),
		newImageCmd(env, flags),
		newRecordCmd(env, flags),
		newDeleteCmd(env, flags),
	)
	return root
}

// session is one command's view of the client graph.
type session struct {
	services *bootstrap.Services
	sink     *terminalSink
}

func (s *session) close() {
	_ = s.services.Close()
}

// open builds the graph and restores the stored login.
func open(ctx context.Context, env Env, flags *globalFlags, requireLogin bool) (*session, error) {
	sink := newTerminalSink(env.Out, env.Err, flags.outDir)
	opts := bootstrap.Options{ConfigPath: flags.configPath, LogPrefix: "chatctl"}
	if flags.verbose {
		opts.Console = env.Err
	}
	services, err := env.Build(opts, sink)
	if err != nil {
		return nil, err
	}
	s := &session{services: services, sink: sink}

	if err := services.Controller.Restore(ctx); err != nil {
		services.Logger.Warn("session restore incomplete", "error", err)
	}
	if requireLogin && !services.Controller.Status().LoggedIn {
		s.close()
		return nil, fmt.Errorf("%w: run chatctl login first", backend.ErrNotLoggedIn)
	}
	return s, nil
}

// unauthorized rewrites a 401 from a restored session into a login hint.
func unauthorized(err error) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Unauthorized() {
		return fmt.Errorf("%w: stored login was rejected, run chatctl login again", err)
	}
	return err
}
