package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"lead-assistant/internal/auth"
	"lead-assistant/internal/domain"
	"lead-assistant/internal/integrations/kommo"
)

// LeadCRM is the subset of the Kommo client used by the webhook flow.
type LeadCRM interface {
	GetLead(ctx context.Context, id int64, withContacts bool) (*kommo.Lead, error)
	UpdateLead(ctx context.Context, update kommo.LeadUpdate) error
	RunSalesbot(ctx context.Context, botID, leadID int64) error
}

type TurnRunner interface {
	RunTurn(ctx context.Context, in TurnInput) (domain.TurnResult, error)
}

// Handoff moves a lead to a human advisor.
type Handoff interface {
	TransferToHuman(ctx context.Context, leadID int64) domain.ToolResult
}

// Spawner runs detached work that must outlive the request.
type Spawner interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context) error)
}

// LeadFields are the CRM custom field ids shared by every lead profile.
type LeadFields struct {
	ClientMessage  int64
	ConversationID int64
	SalesbotID     int64
}

// Origin labels the client message by the contact's phone prefix. An empty
// LocalPrefix disables tagging.
type Origin struct {
	LocalPrefix  string
	LocalLabel   string
	ForeignLabel string
}

// Tag prefixes message with the origin label for phone.
func (o Origin) Tag(message, phone string) string {
	if o.LocalPrefix == "" {
		return message
	}
	label := o.ForeignLabel
	if phone != "" && strings.HasPrefix(strings.TrimPrefix(phone, "+"), strings.TrimPrefix(o.LocalPrefix, "+")) {
		label = o.LocalLabel
	}
	return fmt.Sprintf("[%s] %s", label, message)
}

// LeadProfile configures one webhook route.
type LeadProfile struct {
	Profile
	AnswerField    int64
	DefaultMessage string
	TagOrigin      bool
	LaunchSalesbot bool
}

// IngestOutput is returned to the webhook caller.
type IngestOutput struct {
	ClientMessage  string `json:"msj_client"`
	LeadID         int64  `json:"lead_id"`
	ConversationID string `json:"conversation_id"`
}

// LeadService answers the client message stored on a CRM lead and writes the
// answer back to the lead.
type LeadService struct {
	crm     LeadCRM
	auth    tokenAuthenticator
	turns   TurnRunner
	handoff Handoff
	spawner Spawner
	fields  LeadFields
	origin  Origin
	log     zerolog.Logger
}

type tokenAuthenticator interface {
	Authenticate(ctx context.Context) error
}

func NewLeadService(crm LeadCRM, authn tokenAuthenticator, turns TurnRunner, handoff Handoff, spawner Spawner, fields LeadFields, origin Origin, log zerolog.Logger) (*LeadService, error) {
	if crm == nil {
		return nil, errors.New("usecase: crm must not be nil")
	}
	if authn == nil {
		return nil, errors.New("usecase: authenticator must not be nil")
	}
	if turns == nil {
		return nil, errors.New("usecase: turn runner must not be nil")
	}
	if handoff == nil {
		return nil, errors.New("usecase: handoff must not be nil")
	}
	if spawner == nil {
		return nil, errors.New("usecase: spawner must not be nil")
	}
	if fields.ClientMessage <= 0 || fields.ConversationID <= 0 {
		return nil, errors.New("usecase: client message and conversation id fields must be set")
	}
	return &LeadService{
		crm:     crm,
		auth:    authn,
		turns:   turns,
		handoff: handoff,
		spawner: spawner,
		fields:  fields,
		origin:  origin,
		log:     log.With().Str("component", "lead_service").Logger(),
	}, nil
}

// Ingest runs one webhook cycle for leadID under profile p.
func (s *LeadService) Ingest(ctx context.Context, leadID int64, p LeadProfile) (IngestOutput, error) {
	if leadID <= 0 {
		return IngestOutput{}, newError(ErrorInvalidInput, "missing_lead_id", nil)
	}
	if p.AnswerField <= 0 {
		return IngestOutput{}, newError(ErrorConfiguration, "missing_answer_field", fmt.Errorf("profile %q", p.Name))
	}
	log := s.log.With().Int64("lead_id", leadID).Str("profile", p.Name).Logger()

	lead, err := s.crm.GetLead(ctx, leadID, true)
	if err != nil {
		return IngestOutput{}, classifyCRMError("get_lead", err)
	}

	message, ok := lead.FieldValue(s.fields.ClientMessage)
	if !ok || strings.TrimSpace(message) == "" {
		if p.DefaultMessage == "" {
			return IngestOutput{}, newError(ErrorInvalidInput, "missing_client_message", nil)
		}
		message = p.DefaultMessage
	}
	if p.TagOrigin {
		phone, _ := lead.ContactPhone()
		message = s.origin.Tag(message, phone)
	}

	convID, _ := lead.FieldValue(s.fields.ConversationID)
	res, err := s.turns.RunTurn(ctx, TurnInput{
		Message:        message,
		ConversationID: strings.TrimSpace(convID),
		LeadID:         leadID,
		Profile:        p.Profile,
	})
	if err != nil {
		return IngestOutput{}, err
	}

	if err := s.writeBack(ctx, leadID, p.AnswerField, res); err != nil {
		log.Error().Err(err).Msg("answer write-back failed; transferring to human")
		if hand := s.handoff.TransferToHuman(context.WithoutCancel(ctx), leadID); !hand.Success {
			log.Error().Str("message", hand.Message).Msg("transfer after write-back failure failed")
		}
		return IngestOutput{}, classifyCRMError("write_back", err)
	}

	if p.LaunchSalesbot && s.fields.SalesbotID > 0 {
		botID := s.fields.SalesbotID
		s.spawner.Go(ctx, "salesbot", func(ctx context.Context) error {
			return s.crm.RunSalesbot(ctx, botID, leadID)
		})
	}

	log.Info().Str("conversation_id", res.ConversationID).Msg("lead answered")
	return IngestOutput{ClientMessage: message, LeadID: leadID, ConversationID: res.ConversationID}, nil
}

func (s *LeadService) writeBack(ctx context.Context, leadID, answerField int64, res domain.TurnResult) error {
	if err := s.auth.Authenticate(ctx); err != nil {
		return newError(ErrorAuth, "authenticate", err)
	}
	return s.crm.UpdateLead(ctx, kommo.LeadUpdate{
		ID: leadID,
		CustomFields: []kommo.FieldUpdate{
			kommo.SetField(answerField, res.Text),
			kommo.SetField(s.fields.ConversationID, res.ConversationID),
		},
	})
}

func classifyCRMError(reason string, err error) *Error {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr
	}
	if errors.Is(err, auth.ErrReauthenticate) || errors.Is(err, auth.ErrNoAccessToken) {
		return newError(ErrorAuth, reason, err)
	}
	return newError(ErrorUpstream, reason, err)
}
