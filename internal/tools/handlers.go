package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"lead-assistant/internal/domain"
	"lead-assistant/internal/integrations/kommo"
)

const (
	msgLeadUpdated     = "Se actualizó el lead"
	msgLeadFailed      = "Error al actualizar el lead"
	msgAuthFailed      = "Error de autenticación con el CRM"
	msgMissingAction   = "Falta el parámetro action_id"
	msgLeadTransferred = "Error al actualizar el lead. Te transferimos a un asesor."
	msgNotifyFailed    = "Error al consultar el servicio externo. Te transferimos a un asesor."
	msgFormSaved       = "Formulario guardado en Kommo correctamente."
	msgFormSaveFailed  = "Error al guardar el formulario en Kommo."
	msgFormSent        = "Formulario enviado y lead actualizado"
	msgFormSendFailed  = "Error al enviar el formulario"
	msgFormEmpty       = "El formulario no contiene datos"
)

func (d *Dispatcher) transferToHuman(ctx context.Context, leadID int64, args map[string]any) domain.ToolResult {
	if reason := argString(args, "mandar_a_asistente_humano"); reason != "" {
		d.log.Info().Int64("lead_id", leadID).Str("reason", reason).Msg("human handoff requested")
	}
	return d.setAction(ctx, leadID, ActionAdvisor, true)
}

func (d *Dispatcher) sendAdvisor(ctx context.Context, leadID int64, args map[string]any) domain.ToolResult {
	action := argString(args, "action_id")
	if action == "" {
		return failure(msgMissingAction)
	}
	return d.setAction(ctx, leadID, action, true)
}

func (d *Dispatcher) schedule(ctx context.Context, leadID int64, args map[string]any) domain.ToolResult {
	action := argString(args, "action_id")
	if action == "" {
		return failure(msgMissingAction)
	}
	return d.setAction(ctx, leadID, action, false)
}

// unknownMessage records the action on the lead and forwards the customer
// message to the notification endpoint, whose JSON reply is returned to the
// model as is.
func (d *Dispatcher) unknownMessage(ctx context.Context, leadID int64, args map[string]any) domain.ToolResult {
	action := argString(args, "action_id")
	if action == "" {
		return failure(msgMissingAction)
	}
	message := argString(args, "customer_message")

	if res := d.setAction(ctx, leadID, action, false); !res.Success {
		d.handoff(ctx, leadID)
		return failure(msgLeadTransferred)
	}

	if d.notifier == nil {
		d.log.Error().Int64("lead_id", leadID).Msg("notification endpoint not configured")
		if action != ActionAdvisor {
			d.handoff(ctx, leadID)
		}
		return failure(msgNotifyFailed)
	}
	reply, err := d.notifier.Send(ctx, message)
	if err != nil {
		d.log.Error().Err(err).Int64("lead_id", leadID).Msg("notify customer message")
		if action != ActionAdvisor {
			d.handoff(ctx, leadID)
		}
		return failure(msgNotifyFailed)
	}
	return domain.ToolResult{Success: true, Data: reply}
}

func (d *Dispatcher) saveForm(ctx context.Context, leadID int64, args map[string]any) domain.ToolResult {
	updates := formFields(d.fields.SaveForm, args, func(v any) any { return v })
	if len(updates) == 0 {
		return failure(msgFormEmpty)
	}
	if !d.authenticate(ctx, leadID) {
		return failure(msgAuthFailed)
	}
	if err := d.crm.UpdateLead(ctx, kommo.LeadUpdate{ID: leadID, CustomFields: updates}); err != nil {
		d.log.Error().Err(err).Int64("lead_id", leadID).Msg("save form")
		return failure(msgFormSaveFailed)
	}
	return success(msgFormSaved)
}

func (d *Dispatcher) submitForm(ctx context.Context, leadID int64, args map[string]any) domain.ToolResult {
	updates := formFields(d.fields.SubmitForm, args, func(v any) any { return stringify(v) })
	if len(updates) == 0 {
		return failure(msgFormEmpty)
	}
	if !d.authenticate(ctx, leadID) {
		return failure(msgAuthFailed)
	}
	if err := d.crm.UpdateLead(ctx, kommo.LeadUpdate{ID: leadID, CustomFields: updates}); err != nil {
		d.log.Error().Err(err).Int64("lead_id", leadID).Msg("submit form")
		return domain.ToolResult{Success: false, Message: msgFormSendFailed + ": " + err.Error()}
	}
	return success(msgFormSent)
}

// setAction writes action into the action field, optionally moving the lead
// to the attention status, in a single PATCH.
func (d *Dispatcher) setAction(ctx context.Context, leadID int64, action string, changeStatus bool) domain.ToolResult {
	if !d.authenticate(ctx, leadID) {
		return failure(msgAuthFailed)
	}
	update := kommo.LeadUpdate{
		ID:           leadID,
		CustomFields: []kommo.FieldUpdate{kommo.SetField(d.fields.Action, action)},
	}
	if changeStatus {
		update.StatusID = d.fields.StatusInAttention
	}
	if err := d.crm.UpdateLead(ctx, update); err != nil {
		d.log.Error().Err(err).Int64("lead_id", leadID).Str("action", action).Msg("update lead action")
		return failure(msgLeadFailed)
	}
	return success(msgLeadUpdated)
}

func (d *Dispatcher) handoff(ctx context.Context, leadID int64) {
	if res := d.TransferToHuman(ctx, leadID); !res.Success {
		d.log.Error().Int64("lead_id", leadID).Str("message", res.Message).Msg("transfer to human failed")
	}
}

func (d *Dispatcher) authenticate(ctx context.Context, leadID int64) bool {
	if err := d.auth.Authenticate(ctx); err != nil {
		d.log.Error().Err(err).Int64("lead_id", leadID).Msg("authenticate before tool call")
		return false
	}
	return true
}

// formFields maps known argument names to CRM fields, in argument name order.
// Arguments absent from the call are skipped.
func formFields(mapping map[string]int64, args map[string]any, convert func(any) any) []kommo.FieldUpdate {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	var updates []kommo.FieldUpdate
	for _, name := range names {
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		updates = append(updates, kommo.SetField(mapping[name], convert(v)))
	}
	return updates
}

func argString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}

// stringify renders a tool argument as text. Lists are joined with ", ".
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}
