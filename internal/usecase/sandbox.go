package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ChatOutput is the sandbox reply.
type ChatOutput struct {
	Response       string    `json:"response"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// SandboxService runs turns without a lead, so tools only simulate their
// effects and failures are reported verbatim.
type SandboxService struct {
	turns   TurnRunner
	profile Profile
	now     func() time.Time
}

func NewSandboxService(turns TurnRunner, profile Profile) (*SandboxService, error) {
	if turns == nil {
		return nil, errors.New("usecase: turn runner must not be nil")
	}
	return &SandboxService{turns: turns, profile: profile, now: time.Now}, nil
}

func (s *SandboxService) Chat(ctx context.Context, message, conversationID string) (ChatOutput, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "missing_message", nil)
	}
	res, err := s.turns.RunTurn(ctx, TurnInput{
		Message:        message,
		ConversationID: strings.TrimSpace(conversationID),
		Profile:        s.profile,
	})
	if err != nil {
		return ChatOutput{}, err
	}
	return ChatOutput{
		Response:       res.Text,
		ConversationID: res.ConversationID,
		Timestamp:      s.now().UTC(),
	}, nil
}
