package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lead-assistant/internal/conversation"
	"lead-assistant/internal/domain"
	"lead-assistant/internal/integrations/openai"
	"lead-assistant/internal/metrics"
)

const (
	defaultMaxOutputTokens = 2048

	// MessageTransferred is returned after a failed turn once the lead has
	// been handed to a human advisor.
	MessageTransferred = "Lo siento, estoy teniendo problemas para procesar la solicitud. Te estoy transfiriendo a un asesor humano que te atenderá a la brevedad."
	// MessageTechnicalIssue is returned when the handoff itself failed.
	MessageTechnicalIssue = "Lo siento, estoy teniendo problemas técnicos. Por favor, intenta nuevamente más tarde o contacta directamente a un asesor."

	sandboxErrorFormat = "[MODO PRUEBA] Error: %s. Por favor verifica la configuración."
)

// TurnState is a step of the orchestration state machine.
type TurnState string

const (
	StateStarted             TurnState = "STARTED"
	StateStreaming           TurnState = "STREAMING"
	StateAwaitingToolOutputs TurnState = "AWAITING_TOOL_OUTPUTS"
	StateCompleted           TurnState = "COMPLETED"
	StateFailed              TurnState = "FAILED"
)

// AIClient is the assistant backend used by the orchestrator.
type AIClient interface {
	Stream(ctx context.Context, req openai.ResponseRequest) (*openai.Response, error)
	Create(ctx context.Context, req openai.ResponseRequest) (*openai.Response, error)
}

// ToolRunner executes model tool calls against a lead.
type ToolRunner interface {
	Dispatch(ctx context.Context, leadID int64, call domain.ToolCall) domain.ToolResult
	TransferToHuman(ctx context.Context, leadID int64) domain.ToolResult
}

// Profile selects the stored prompt a turn runs against.
type Profile struct {
	Name          string
	PromptID      string
	PromptVersion string
}

// TurnInput is one inbound message. A zero LeadID runs the turn in sandbox
// mode without CRM side effects.
type TurnInput struct {
	Message        string
	ConversationID string
	LeadID         int64
	Profile        Profile
}

// Orchestrator runs conversation turns: one streamed request, at most one
// round of tool calls and a single follow-up request.
type Orchestrator struct {
	ai              AIClient
	tools           ToolRunner
	store           conversation.Store
	locks           *conversation.KeyedMutex
	maxOutputTokens int
	log             zerolog.Logger
}

func NewOrchestrator(ai AIClient, tools ToolRunner, store conversation.Store, maxOutputTokens int, log zerolog.Logger) (*Orchestrator, error) {
	if ai == nil {
		return nil, errors.New("usecase: ai client must not be nil")
	}
	if tools == nil {
		return nil, errors.New("usecase: tool runner must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}
	return &Orchestrator{
		ai:              ai,
		tools:           tools,
		store:           store,
		locks:           conversation.NewKeyedMutex(),
		maxOutputTokens: maxOutputTokens,
		log:             log.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// turn tracks the state of one RunTurn call for logging.
type turn struct {
	state TurnState
	log   zerolog.Logger
}

func (t *turn) to(state TurnState) {
	t.log.Debug().Str("from", string(t.state)).Str("to", string(state)).Msg("turn state")
	t.state = state
}

// RunTurn answers in.Message. Backend and tool failures never surface as
// errors: with a lead the turn falls back to a human handoff, in sandbox mode
// the diagnostic is returned as text. Errors are returned only for invalid
// input or missing configuration.
func (o *Orchestrator) RunTurn(ctx context.Context, in TurnInput) (domain.TurnResult, error) {
	if strings.TrimSpace(in.Profile.PromptID) == "" {
		return domain.TurnResult{}, newError(ErrorConfiguration, "missing_prompt_id", fmt.Errorf("profile %q has no prompt id", in.Profile.Name))
	}
	if strings.TrimSpace(in.Message) == "" {
		return domain.TurnResult{}, newError(ErrorInvalidInput, "empty_message", nil)
	}

	start := time.Now()
	id := o.resolveConversation(strings.TrimSpace(in.ConversationID))

	unlock := o.locks.Lock(id)
	defer unlock()

	conv, ok := o.store.Get(id)
	if !ok {
		conv = o.store.Restore(id)
	}

	t := &turn{
		state: StateStarted,
		log: o.log.With().
			Str("conversation_id", id).
			Int64("lead_id", in.LeadID).
			Str("profile", in.Profile.Name).
			Logger(),
	}

	text, responseID, err := o.converse(ctx, t, in, conv)
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return o.fail(ctx, t, in, id, err), nil
	}

	o.store.Update(id, conversation.Patch{
		LastResponseID: responseID,
		Append: []domain.Message{
			{Role: domain.RoleUser, Content: in.Message},
			{Role: domain.RoleAssistant, Content: text},
		},
	})
	t.to(StateCompleted)
	metrics.TurnsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return domain.TurnResult{Text: text, ConversationID: id, ResponseID: responseID}, nil
}

func (o *Orchestrator) resolveConversation(id string) string {
	if id == "" {
		return o.store.Create()
	}
	return id
}

func (o *Orchestrator) converse(ctx context.Context, t *turn, in TurnInput, conv domain.Conversation) (string, string, error) {
	req := openai.ResponseRequest{
		Prompt:          openai.PromptRef{ID: in.Profile.PromptID, Version: in.Profile.PromptVersion},
		Input:           []openai.InputItem{openai.UserMessage(in.Message)},
		Text:            openai.PlainText(),
		MaxOutputTokens: o.maxOutputTokens,
		Store:           true,
	}
	if len(conv.Messages) > 0 && conv.LastResponseID != "" {
		req.PreviousResponseID = conv.LastResponseID
	}

	t.to(StateStreaming)
	resp, err := o.ai.Stream(ctx, req)
	if err != nil {
		return "", "", err
	}

	calls := resp.FunctionCalls()
	if len(calls) == 0 {
		text, err := ExtractAnswer(resp)
		return text, resp.ID, err
	}

	t.to(StateAwaitingToolOutputs)
	outputs, err := o.resolveTools(ctx, t, in.LeadID, calls)
	if err != nil {
		return "", "", err
	}

	t.to(StateStreaming)
	follow, err := o.ai.Create(ctx, openai.ResponseRequest{
		Prompt:             openai.PromptRef{ID: in.Profile.PromptID},
		Input:              outputs,
		PreviousResponseID: resp.ID,
		Store:              true,
	})
	if err != nil {
		return "", "", err
	}
	if extra := follow.FunctionCalls(); len(extra) > 0 {
		t.log.Warn().Int("tool_calls", len(extra)).Msg("follow-up requested more tools; not serviced")
	}
	text, err := ExtractAnswer(follow)
	return text, follow.ID, err
}

// resolveTools parses every call before dispatching any of them, so a
// malformed argument list fails the turn without partial side effects. Each
// call id is dispatched at most once.
func (o *Orchestrator) resolveTools(ctx context.Context, t *turn, leadID int64, items []openai.OutputItem) ([]openai.InputItem, error) {
	calls := make([]domain.ToolCall, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.CallID == "" {
			return nil, fmt.Errorf("tool call %q without call id", item.Name)
		}
		if _, dup := seen[item.CallID]; dup {
			t.log.Warn().Str("call_id", item.CallID).Msg("duplicate tool call ignored")
			continue
		}
		seen[item.CallID] = struct{}{}

		args, err := parseArguments(item.Arguments)
		if err != nil {
			return nil, fmt.Errorf("tool call %q (%s): %w", item.Name, item.CallID, err)
		}
		calls = append(calls, domain.ToolCall{Name: item.Name, Arguments: args, CallID: item.CallID})
	}

	outputs := make([]openai.InputItem, 0, len(calls))
	for _, call := range calls {
		result := o.tools.Dispatch(ctx, leadID, call)
		outputs = append(outputs, openai.FunctionCallOutput(call.CallID, result.Output()))
	}
	return outputs, nil
}

func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("malformed arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func (o *Orchestrator) fail(ctx context.Context, t *turn, in TurnInput, id string, cause error) domain.TurnResult {
	t.to(StateFailed)
	t.log.Error().Err(cause).Msg("turn failed")

	if in.LeadID == 0 {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return domain.TurnResult{Text: fmt.Sprintf(sandboxErrorFormat, cause.Error()), ConversationID: id}
	}

	metrics.TurnsTotal.WithLabelValues(metrics.OutcomeFallback).Inc()
	res := o.tools.TransferToHuman(context.WithoutCancel(ctx), in.LeadID)
	if !res.Success {
		t.log.Error().Str("message", res.Message).Msg("fallback transfer to human failed")
		return domain.TurnResult{Text: MessageTechnicalIssue, ConversationID: id}
	}
	return domain.TurnResult{Text: MessageTransferred, ConversationID: id}
}
