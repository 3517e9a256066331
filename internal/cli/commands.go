package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chatdesk/internal/domain"
	"chatdesk/internal/ports"
	"chatdesk/internal/usecase"
)

type credentialFlags struct {
	username string
	password string
}

func (f *credentialFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "password (default $CHATDESK_PASSWORD or prompt)")
	_ = cmd.MarkFlagRequired("username")
}

func (f *credentialFlags) resolve(env Env) (ports.Credentials, error) {
	password := f.password
	if password == "" {
		password = os.Getenv("CHATDESK_PASSWORD")
	}
	if password == "" {
		read, err := promptPassword(env)
		if err != nil {
			return ports.Credentials{}, err
		}
		password = read
	}
	if strings.TrimSpace(f.username) == "" || password == "" {
		return ports.Credentials{}, errors.New("username and password are required")
	}
	return ports.Credentials{Username: strings.TrimSpace(f.username), Password: password}, nil
}

// promptPassword reads without echo from a terminal, or one line from a pipe.
func promptPassword(env Env) (string, error) {
	if file, ok := env.In.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		fmt.Fprint(env.Err, "Password: ")
		raw, err := term.ReadPassword(int(file.Fd()))
		fmt.Fprintln(env.Err)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(env.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newRegisterCmd(env Env, flags *globalFlags) *cobra.Command {
	creds := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in with it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := creds.resolve(env)
			if err != nil {
				return err
			}
			s, err := open(cmd.Context(), env, flags, false)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.services.Controller.Register(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "registered and logged in as %s\n", c.Username)
			return nil
		},
	}
	creds.bind(cmd)
	return cmd
}

func newLoginCmd(env Env, flags *globalFlags) *cobra.Command {
	creds := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := creds.resolve(env)
			if err != nil {
				return err
			}
			s, err := open(cmd.Context(), env, flags, false)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.services.Controller.Login(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "logged in as %s\n", c.Username)
			return nil
		},
	}
	creds.bind(cmd)
	return cmd
}

func newLogoutCmd(env Env, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd.Context(), env, flags, false)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.services.Controller.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, "logged out")
			return nil
		},
	}
}

func newListCmd(env Env, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd.Context(), env, flags, true)
			if err != nil {
				return err
			}
			defer s.close()

			s.sink.showConversations(true)
			return unauthorized(s.services.Controller.RefreshConversations(cmd.Context()))
		},
	}
}

func newShowCmd(env Env, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), env, flags, true)
			if err != nil {
				return err
			}
			defer s.close()

			s.sink.showHistory(true)
			return unauthorized(s.services.Controller.OpenConversation(cmd.Context(), domain.ConversationID(args[0])))
		},
	}
}

func newSendCmd(env Env, flags *globalFlags) *cobra.Command {
	var conversation string
	cmd := &cobra.Command{
		Use:   "send <text>...",
		Short: "Send a message; starts a new conversation without --conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), env, flags, true)
			if err != nil {
				return err
			}
			defer s.close()

			ctrl := s.services.Controller
			if conversation != "" {
				if err := ctrl.OpenConversation(cmd.Context(), domain.ConversationID(conversation)); err != nil {
					return unauthorized(err)
				}
			}
			if err := ctrl.SendText(cmd.Context(), strings.Join(args, " ")); err != nil {
				return unauthorized(err)
			}
			if id := ctrl.Status().ActiveConversationID; id != "" && conversation == "" {
				fmt.Fprintf(env.Err, "conversation %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation id to post to")
	return cmd
}

func newSpeakCmd(env Env, flags *globalFlags) *cobra.Command {
	return newMediaCmd(env, flags, "speak", "Synthesize the latest reply as audio", (*usecase.ClientController).RequestSpeech)
}

func newImageCmd(env Env, flags *globalFlags) *cobra.Command {
	return newMediaCmd(env, flags, "image", "Generate an image for the conversation", (*usecase.ClientController).RequestImage)
}

func newMediaCmd(
	env Env,
	flags *globalFlags,
	use string,
	short string,
	request func(*usecase.ClientController, context.Context) error,
) *cobra.Command {
	var conversation string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd.Context(), env, flags, true)
			if err != nil {
				return err
			}
			defer s.close()

			ctrl := s.services.Controller
			if err := ctrl.OpenConversation(cmd.Context(), domain.ConversationID(conversation)); err != nil {
				return unauthorized(err)
			}
			return unauthorized(request(ctrl, cmd.Context()))
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation id")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

func newRecordCmd(env Env, flags *globalFlags) *cobra.Command {
	var conversation string
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record speech and send it as a message",
		Long:  "record captures the microphone until --duration elapses or Ctrl-C, then transcribes and sends it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd.Context(), env, flags, true)
			if err != nil {
				return err
			}
			defer s.close()

			ctrl := s.services.Controller
			if err := ctrl.OpenConversation(cmd.Context(), domain.ConversationID(conversation)); err != nil {
				return unauthorized(err)
			}

			// The capture must outlive Ctrl-C so the recording can still be submitted.
			captureCtx := context.WithoutCancel(cmd.Context())
			if err := ctrl.ToggleRecording(captureCtx); err != nil {
				return err
			}
			waitForStop(cmd.Context(), env, duration)
			return unauthorized(ctrl.ToggleRecording(captureCtx))
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation id")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (default: until Ctrl-C)")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

func waitForStop(ctx context.Context, env Env, duration time.Duration) {
	if duration <= 0 {
		fmt.Fprintln(env.Err, "recording, press Ctrl-C to stop")
		<-ctx.Done()
		return
	}
	fmt.Fprintf(env.Err, "recording for %s\n", duration)
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func newDeleteCmd(env Env, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), env, flags, true)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.services.Controller.DeleteConversation(cmd.Context(), domain.ConversationID(args[0])); err != nil {
				return unauthorized(err)
			}
			fmt.Fprintf(env.Out, "deleted %s\n", args[0])
			return nil
		},
	}
}
