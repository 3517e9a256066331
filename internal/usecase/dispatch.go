package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chatdesk/internal/domain"
)

// failureCapability names each gated operation in its user-visible error.
var failureCapability = map[domain.Operation]string{
	domain.OperationSendText: "sending your message",
	domain.OperationSTT:      "speech-to-text",
	domain.OperationTTS:      "text-to-speech",
	domain.OperationImage:    "image generation",
}

// FailureMessage is the synthetic assistant reply rendered when op fails.
func FailureMessage(op domain.Operation) domain.Message {
	capability, ok := failureCapability[op]
	if !ok {
		capability = string(op)
	}
	return domain.Message{
		Role:    domain.RoleAssistant,
		Content: fmt.Sprintf("Sorry, there was a problem with %s.", capability),
	}
}

// dispatch runs fn while holding lease and releases it on every exit path,
// including a panic in fn.
func (c *ClientController) dispatch(
	ctx context.Context,
	lease *gateLease,
	op domain.Operation,
	fn func(ctx context.Context, log *slog.Logger) error,
) error {
	defer lease.Release()

	log := c.logger.With("op", string(op), "op_id", uuid.NewString())
	started := time.Now()
	log.Info("operation started")

	err := fn(ctx, log)
	if err != nil {
		log.Warn("operation failed", "error", err, "duration", time.Since(started))
		return err
	}
	log.Info("operation finished", "duration", time.Since(started))
	return nil
}

// acquire takes the gate for op or reports ErrBusy without side effects.
func (c *ClientController) acquire(op domain.Operation) (*gateLease, error) {
	lease, ok := c.gate.TryAcquire()
	if !ok {
		c.logger.Debug("operation dropped, gate held", "op", string(op))
		return nil, ErrBusy
	}
	return lease, nil
}

// renderFailure appends the synthetic error reply for op to conversation.
func (c *ClientController) renderFailure(conversation domain.ConversationID, op domain.Operation) {
	c.view.Append(conversation, FailureMessage(op))
}

// tail returns the last n messages in arrival order.
func tail(messages []domain.Message, n int) []domain.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
