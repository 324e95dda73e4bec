package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"lead-assistant/internal/domain"
	"lead-assistant/internal/integrations/kommo"
	"lead-assistant/internal/metrics"
)

// Tool names as declared in the deployed prompts.
const (
	ToolTransferToHuman = "enviar_a_asistente_humano"
	ToolSendAdvisor     = "send_asesor"
	ToolSchedule        = "agendar_cita"
	ToolUnknownMessage  = "unknow_message"
	ToolSaveForm        = "save_form"
	ToolSubmitForm      = "enviar_formulario"

	// ActionAdvisor is the action value that hands a lead to a human.
	ActionAdvisor = "ASESOR"

	unknownToolLabel = "unknown"
)

// CRM is the subset of the Kommo client used by tool handlers.
type CRM interface {
	UpdateLead(ctx context.Context, update kommo.LeadUpdate) error
}

// Authenticator makes sure a usable CRM token exists before signed calls.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Notifier forwards a customer message to the external script endpoint.
type Notifier interface {
	Send(ctx context.Context, message string) (json.RawMessage, error)
}

// Fields holds the CRM ids written by tool handlers.
type Fields struct {
	Action            int64
	StatusInAttention int64
	SaveForm          map[string]int64
	SubmitForm        map[string]int64
}

type handlerFunc func(ctx context.Context, leadID int64, args map[string]any) domain.ToolResult

// Dispatcher resolves tool calls by name and runs them against a lead.
// Handlers never return errors; failures become unsuccessful results.
type Dispatcher struct {
	crm      CRM
	auth     Authenticator
	notifier Notifier
	fields   Fields
	log      zerolog.Logger

	handlers map[string]handlerFunc
	sandbox  map[string]string
}

// NewDispatcher wires the registered tools. notifier may be nil, in which case
// unknow_message reports a failure after updating the lead.
func NewDispatcher(crm CRM, auth Authenticator, notifier Notifier, fields Fields, log zerolog.Logger) (*Dispatcher, error) {
	if crm == nil {
		return nil, errors.New("tools: crm must not be nil")
	}
	if auth == nil {
		return nil, errors.New("tools: authenticator must not be nil")
	}
	if fields.Action <= 0 {
		return nil, errors.New("tools: action field id must be set")
	}
	d := &Dispatcher{
		crm:      crm,
		auth:     auth,
		notifier: notifier,
		fields:   fields,
		log:      log.With().Str("component", "tools").Logger(),
	}
	d.handlers = map[string]handlerFunc{
		ToolTransferToHuman: d.transferToHuman,
		ToolSendAdvisor:     d.sendAdvisor,
		ToolSchedule:        d.schedule,
		ToolUnknownMessage:  d.unknownMessage,
		ToolSaveForm:        d.saveForm,
		ToolSubmitForm:      d.submitForm,
	}
	d.sandbox = map[string]string{
		ToolTransferToHuman: "[MODO PRUEBA] Transferencia a asesor simulada",
		ToolSendAdvisor:     "[MODO PRUEBA] Acción de asesor simulada",
		ToolSchedule:        "[MODO PRUEBA] Cita agendada simuladamente",
		ToolUnknownMessage:  "[MODO PRUEBA] Mensaje procesado",
		ToolSaveForm:        "[MODO PRUEBA] Formulario guardado simuladamente",
		ToolSubmitForm:      "[MODO PRUEBA] Formulario enviado simuladamente",
	}
	return d, nil
}

// Names lists the registered tool names in sorted order.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs call for leadID. A zero leadID selects sandbox mode, where
// known tools report a simulated success without side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, leadID int64, call domain.ToolCall) domain.ToolResult {
	log := d.log.With().Str("tool", call.Name).Str("call_id", call.CallID).Int64("lead_id", leadID).Logger()

	handler, ok := d.handlers[call.Name]
	if !ok {
		log.Warn().Msg("unknown tool requested")
		metrics.ToolCallsTotal.WithLabelValues(unknownToolLabel, metrics.OutcomeFailure).Inc()
		return failure("unknown tool " + call.Name)
	}

	var result domain.ToolResult
	if leadID == 0 {
		result = domain.ToolResult{Success: true, Message: d.sandbox[call.Name]}
	} else {
		result = handler(ctx, leadID, call.Arguments)
	}

	metrics.ToolCallsTotal.WithLabelValues(call.Name, metrics.Outcome(result.Success)).Inc()
	log.Info().Bool("success", result.Success).Msg("tool call handled")
	return result
}

// TransferToHuman moves the lead to the attention status with the advisor
// action. It is also the orchestrator's fallback after a failed turn.
func (d *Dispatcher) TransferToHuman(ctx context.Context, leadID int64) domain.ToolResult {
	return d.setAction(ctx, leadID, ActionAdvisor, true)
}

func failure(message string) domain.ToolResult {
	return domain.ToolResult{Success: false, Message: message}
}

func success(message string) domain.ToolResult {
	return domain.ToolResult{Success: true, Message: message}
}
