package usecase

import (
	"testing"
	"time"

	"chatdesk/internal/domain"
)

func TestFinishOpenLoadCompletesBeforeConcurrentClear(t *testing.T) {
	t.Parallel()

	s := &sessionState{}
	s.logIn("tok", nil)
	ticket := s.beginOpen()

	var order []string
	cleared := make(chan struct{})
	ok := s.finishOpen(ticket, "A", func() {
		go func() {
			s.clearActive(func() { order = append(order, "reset") })
			close(cleared)
		}()
		time.Sleep(10 * time.Millisecond)
		order = append(order, "load")
	})
	if !ok {
		t.Fatalf("expected open to land")
	}
	<-cleared

	if len(order) != 2 || order[0] != "load" || order[1] != "reset" {
		t.Fatalf("view updates interleaved: %v", order)
	}
	if active := s.activeConversation(); active != "" {
		t.Fatalf("expected cleared conversation, got %q", active)
	}
}

func TestSupersededOpenSkipsLoad(t *testing.T) {
	t.Parallel()

	s := &sessionState{}
	s.logIn("tok", nil)
	ticket := s.beginOpen()

	resets := 0
	s.clearActive(func() { resets++ })
	if s.finishOpen(ticket, "A", func() { t.Fatalf("superseded open must not load") }) {
		t.Fatalf("expected open to be superseded")
	}
	if resets != 1 || s.activeConversation() != "" {
		t.Fatalf("unexpected state: resets=%d active=%q", resets, s.activeConversation())
	}
}

func TestAdoptAndClearIfRunCallbacksOnlyOnChange(t *testing.T) {
	t.Parallel()

	s := &sessionState{}
	s.logIn("tok", nil)

	calls := 0
	if s.adopt("other", "7", func() { calls++ }) {
		t.Fatalf("adopt must require the expected current id")
	}
	if !s.adopt("", "7", func() { calls++ }) || s.activeConversation() != domain.ConversationID("7") {
		t.Fatalf("expected adoption of 7")
	}
	if s.clearActiveIf("8", func() { calls++ }) {
		t.Fatalf("clear must require the active id")
	}
	if !s.clearActiveIf("7", func() { calls++ }) || s.activeConversation() != "" {
		t.Fatalf("expected 7 cleared")
	}
	if calls != 2 {
		t.Fatalf("expected two callbacks, got %d", calls)
	}
}
