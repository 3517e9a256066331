package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chatdesk/internal/domain"
)

// terminalSink renders controller output as plain lines. Messages go to out,
// everything else to errOut.
type terminalSink struct {
	outDir string
	now    func() time.Time

	mu      sync.Mutex
	out     io.Writer
	errOut  io.Writer
	history bool
	listing bool
	saved   []string
}

func newTerminalSink(out io.Writer, errOut io.Writer, outDir string) *terminalSink {
	if outDir == "" {
		outDir = "."
	}
	return &terminalSink{out: out, errOut: errOut, outDir: outDir, now: time.Now}
}

// showHistory toggles printing of whole conversations when one is opened.
func (s *terminalSink) showHistory(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = on
}

// showConversations toggles printing of the conversation list.
func (s *terminalSink) showConversations(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listing = on
}

// savedFiles returns the media files written so far.
func (s *terminalSink) savedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saved...)
}

func (s *terminalSink) SessionChanged(domain.Status) {}

func (s *terminalSink) ConversationsChanged(items []domain.ConversationSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listing {
		return
	}
	if len(items) == 0 {
		fmt.Fprintln(s.out, "no conversations")
		return
	}
	for _, item := range items {
		title := item.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(s.out, "%s\t%s\n", item.ID, title)
	}
}

func (s *terminalSink) MessagesReset(_ domain.ConversationID, messages []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.history {
		return
	}
	for _, message := range messages {
		s.printLocked(message)
	}
}

func (s *terminalSink) MessageAppended(_ domain.ConversationID, message domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printLocked(message)
}

func (s *terminalSink) BusyChanged(bool, domain.Affordances) {}

func (s *terminalSink) RecordingStateChanged(state domain.RecordingState, reason domain.RecordingReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.errOut, "[%s] %s\n", state, reason)
}

func (s *terminalSink) LiveCaption(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.errOut, "~ %s\n", text)
}

func (s *terminalSink) Notice(code domain.ErrorCode, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.errOut, "notice (%s): %s\n", code, detail)
}

func (s *terminalSink) printLocked(message domain.Message) {
	if !message.IsMedia() {
		fmt.Fprintf(s.out, "%s: %s\n", message.Role, message.Content)
		return
	}
	path, err := s.saveLocked(*message.Media)
	if err != nil {
		fmt.Fprintf(s.errOut, "could not save %s: %v\n", message.Media.MIMEType, err)
		fmt.Fprintf(s.out, "%s: [%s, %d bytes, not saved]\n", message.Role, message.Media.MIMEType, len(message.Media.Data))
		return
	}
	s.saved = append(s.saved, path)
	fmt.Fprintf(s.out, "%s: [%s saved to %s]\n", message.Role, message.Media.MIMEType, path)
}

func (s *terminalSink) saveLocked(media domain.Media) (string, error) {
	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		return "", err
	}
	name := filepath.Base(strings.TrimSpace(media.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "media.bin"
	}
	path := filepath.Join(s.outDir, s.now().Format("20060102-150405")+"-"+name)
	for i := 2; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(s.outDir, fmt.Sprintf("%s-%d-%s", s.now().Format("20060102-150405"), i, name))
	}
	if err := os.WriteFile(path, media.Data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
