package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/transport"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

// OperatorMessenger sends operator-authored replies to the customer.
type OperatorMessenger struct {
	threads *ThreadService
	ledger  *MessageLedger
	sender  transport.Sender
	from    string
	logger  *logger.Logger
}

// NewOperatorMessenger creates a messenger that sends from the business number.
func NewOperatorMessenger(threads *ThreadService, ledger *MessageLedger, sender transport.Sender, from string, log *logger.Logger) *OperatorMessenger {
	return &OperatorMessenger{
		threads: threads,
		ledger:  ledger,
		sender:  sender,
		from:    from,
		logger:  log,
	}
}

// Send records the reply with provider portal and delivers it. The ledger
// entry stands when delivery fails.
func (m *OperatorMessenger) Send(ctx context.Context, threadID, operatorID, body string) (*model.Message, bool, error) {
	thread, err := m.threads.Get(ctx, threadID)
	if err != nil {
		return nil, false, err
	}
	if thread.Status == model.StatusClosed {
		return nil, false, ErrThreadClosed
	}

	msg, err := m.ledger.RecordOutbound(ctx, OutboundMessage{
		ThreadID: threadID,
		Body:     body,
		FromID:   m.from,
		ToID:     thread.ExternalKey,
		Provider: model.ProviderPortal,
	})
	if err != nil {
		return nil, false, err
	}

	if m.sender == nil {
		return msg, false, nil
	}
	if _, err := m.sender.Send(ctx, thread.ExternalKey, body); err != nil {
		m.logger.Error("failed to deliver operator message",
			zap.String("thread_id", threadID),
			zap.String("operator_id", operatorID),
			zap.Error(err),
		)
		return msg, false, nil
	}

	m.logger.Info("operator message sent",
		zap.String("thread_id", threadID),
		zap.String("operator_id", operatorID),
		zap.String("message_id", msg.ID),
	)
	return msg, true, nil
}
