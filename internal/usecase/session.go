package usecase

import (
	"sync"

	"chatdesk/internal/domain"
)

// sessionState holds the authenticated session. The active conversation is
// only meaningful while a token is present.
type sessionState struct {
	mu            sync.RWMutex
	token         string
	active        domain.ConversationID
	conversations []domain.ConversationSummary
	openSeq       uint64
}

// Token implements ports.TokenSource.
func (s *sessionState) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *sessionState) loggedIn() bool {
	return s.Token() != ""
}

// The view callbacks passed to the methods below run under s.mu, so the
// rendered list always belongs to the active conversation. Lock order is
// session, then view.

func (s *sessionState) logIn(token string, reset func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.active = ""
	s.conversations = nil
	s.openSeq++
	run(reset)
}

func (s *sessionState) logOut(reset func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.active = ""
	s.conversations = nil
	s.openSeq++
	run(reset)
}

func (s *sessionState) activeConversation() domain.ConversationID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// adopt switches the active conversation from one id to another if nothing
// else changed it in the meantime. A pending open still wins when it lands.
func (s *sessionState) adopt(from, to domain.ConversationID, follow func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || s.active != from {
		return false
	}
	s.active = to
	run(follow)
	return true
}

// clearActive forgets the active conversation and supersedes any pending open.
func (s *sessionState) clearActive(reset func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
	s.openSeq++
	run(reset)
}

// clearActiveIf clears the active conversation only when it is still id.
func (s *sessionState) clearActiveIf(id domain.ConversationID, reset func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != id || id == "" {
		return false
	}
	s.active = ""
	s.openSeq++
	run(reset)
	return true
}

// beginOpen starts a conversation switch and returns its ticket.
func (s *sessionState) beginOpen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openSeq++
	return s.openSeq
}

// finishOpen adopts id and runs load if no later switch started after ticket.
func (s *sessionState) finishOpen(ticket uint64, id domain.ConversationID, load func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket != s.openSeq || s.token == "" {
		return false
	}
	s.active = id
	run(load)
	return true
}

func (s *sessionState) setConversations(items []domain.ConversationSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append([]domain.ConversationSummary(nil), items...)
}

func (s *sessionState) conversationList() []domain.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ConversationSummary(nil), s.conversations...)
}

func run(fn func()) {
	if fn != nil {
		fn()
	}
}
