package usecase

import (
	"sync"

	"chatdesk/internal/domain"
	"chatdesk/internal/ports"
)

// conversationView is the ordered list of rendered messages for the
// conversation on screen. Messages are only ever removed by reset or load.
type conversationView struct {
	mu       sync.Mutex
	id       domain.ConversationID
	messages []domain.Message
	sink     ports.ViewSink
}

func newConversationView(sink ports.ViewSink) *conversationView {
	return &conversationView{sink: sink}
}

func (v *conversationView) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.id = ""
	v.messages = nil
	v.sink.MessagesReset("", nil)
}

// Load replaces the rendered list wholesale, keeping backend order.
func (v *conversationView) Load(id domain.ConversationID, messages []domain.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.id = id
	v.messages = append([]domain.Message(nil), messages...)
	v.sink.MessagesReset(id, append([]domain.Message(nil), v.messages...))
}

// Adopt relabels the rendered list from one conversation to another without
// clearing it. Used when the first message creates the conversation.
func (v *conversationView) Adopt(from, to domain.ConversationID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.id != from {
		return false
	}
	v.id = to
	return true
}

// Append adds message to the end when id is the conversation on screen.
func (v *conversationView) Append(id domain.ConversationID, message domain.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id != v.id {
		return false
	}
	v.messages = append(v.messages, message)
	v.sink.MessageAppended(id, message)
	return true
}

func (v *conversationView) Snapshot() (domain.ConversationID, []domain.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.id, append([]domain.Message(nil), v.messages...)
}
