package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lead-assistant/internal/auth"
	"lead-assistant/internal/domain"
	"lead-assistant/internal/integrations/kommo"
)

const (
	fieldMessage = 955672
	fieldConv    = 955664
	fieldAnswer  = 955668
	botID        = 71430
)

type fakeLeadCRM struct {
	mu        sync.Mutex
	lead      *kommo.Lead
	getErr    error
	updateErr error
	updates   []kommo.LeadUpdate
	salesbots [][2]int64
}

func (f *fakeLeadCRM) GetLead(_ context.Context, id int64, withContacts bool) (*kommo.Lead, error) {
	if !withContacts {
		return nil, errors.New("contacts not requested")
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	lead := *f.lead
	lead.ID = id
	return &lead, nil
}

func (f *fakeLeadCRM) UpdateLead(_ context.Context, update kommo.LeadUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return f.updateErr
}

func (f *fakeLeadCRM) RunSalesbot(_ context.Context, bot, leadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.salesbots = append(f.salesbots, [2]int64{bot, leadID})
	return nil
}

type fakeAuthn struct {
	err   error
	calls int
}

func (f *fakeAuthn) Authenticate(context.Context) error {
	f.calls++
	return f.err
}

type fakeTurns struct {
	inputs []TurnInput
	result domain.TurnResult
	err    error
}

func (f *fakeTurns) RunTurn(_ context.Context, in TurnInput) (domain.TurnResult, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return domain.TurnResult{}, f.err
	}
	res := f.result
	if res.ConversationID == "" {
		res.ConversationID = in.ConversationID
	}
	return res, nil
}

// syncSpawner runs tasks inline so tests can assert on their effects.
type syncSpawner struct {
	names []string
}

func (s *syncSpawner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.names = append(s.names, name)
	_ = fn(ctx)
}

func newLead(message, conversationID, phone string) *kommo.Lead {
	lead := &kommo.Lead{}
	if message != "" {
		lead.CustomFields = append(lead.CustomFields, kommo.CustomField{FieldID: fieldMessage, Values: []kommo.Value{{Value: message}}})
	}
	if conversationID != "" {
		lead.CustomFields = append(lead.CustomFields, kommo.CustomField{FieldID: fieldConv, Values: []kommo.Value{{Value: conversationID}}})
	}
	if phone != "" {
		lead.Embedded.Contacts = []kommo.Contact{{
			ID:           1,
			CustomFields: []kommo.CustomField{{FieldCode: kommo.PhoneFieldCode, Values: []kommo.Value{{Value: phone}}}},
		}}
	}
	return lead
}

var (
	chatLeadProfile = LeadProfile{Profile: chatProfile, AnswerField: fieldAnswer, TagOrigin: true, LaunchSalesbot: true}
	formLeadProfile = LeadProfile{Profile: Profile{Name: "form", PromptID: "pmpt_form"}, AnswerField: 1994931, DefaultMessage: "Hola"}
	panama          = Origin{LocalPrefix: "507", LocalLabel: "Usuario de Panamá", ForeignLabel: "Usuario internacional"}
)

type leadDeps struct {
	crm     *fakeLeadCRM
	authn   *fakeAuthn
	turns   *fakeTurns
	handoff *fakeTools
	spawner *syncSpawner
}

func newTestLeadService(t *testing.T, lead *kommo.Lead) (*LeadService, *leadDeps) {
	t.Helper()
	d := &leadDeps{
		crm:     &fakeLeadCRM{lead: lead},
		authn:   &fakeAuthn{},
		turns:   &fakeTurns{result: domain.TurnResult{Text: "¡Hola!", ConversationID: "conv_1_abcdef123", ResponseID: "resp_1"}},
		handoff: &fakeTools{transferRes: domain.ToolResult{Success: true}},
		spawner: &syncSpawner{},
	}
	svc, err := NewLeadService(d.crm, d.authn, d.turns, d.handoff, d.spawner,
		LeadFields{ClientMessage: fieldMessage, ConversationID: fieldConv, SalesbotID: botID}, panama, zerolog.Nop())
	require.NoError(t, err)
	return svc, d
}

func TestIngest_AnswersAndWritesBack(t *testing.T) {
	svc, d := newTestLeadService(t, newLead("¿Tienen tours?", "conv_1_abcdef123", "+507 6000 0000"))

	out, err := svc.Ingest(context.Background(), 42, chatLeadProfile)
	require.NoError(t, err)
	require.Equal(t, IngestOutput{
		ClientMessage:  "[Usuario de Panamá] ¿Tienen tours?",
		LeadID:         42,
		ConversationID: "conv_1_abcdef123",
	}, out)

	require.Len(t, d.turns.inputs, 1)
	require.Equal(t, TurnInput{
		Message:        "[Usuario de Panamá] ¿Tienen tours?",
		ConversationID: "conv_1_abcdef123",
		LeadID:         42,
		Profile:        chatProfile,
	}, d.turns.inputs[0])

	require.Equal(t, 1, d.authn.calls)
	require.Equal(t, []kommo.LeadUpdate{{
		ID: 42,
		CustomFields: []kommo.FieldUpdate{
			kommo.SetField(fieldAnswer, "¡Hola!"),
			kommo.SetField(fieldConv, "conv_1_abcdef123"),
		},
	}}, d.crm.updates)
	require.Equal(t, []string{"salesbot"}, d.spawner.names)
	require.Equal(t, [][2]int64{{botID, 42}}, d.crm.salesbots)
}

func TestIngest_NewConversationIDIsWrittenBack(t *testing.T) {
	svc, d := newTestLeadService(t, newLead("hola", "", ""))
	d.turns.result = domain.TurnResult{Text: "ok", ConversationID: "conv_2_fffffffff"}

	out, err := svc.Ingest(context.Background(), 7, chatLeadProfile)
	require.NoError(t, err)
	require.Equal(t, "conv_2_fffffffff", out.ConversationID)
	require.Empty(t, d.turns.inputs[0].ConversationID)
	require.Equal(t, kommo.SetField(fieldConv, "conv_2_fffffffff"), d.crm.updates[0].CustomFields[1])
	require.Equal(t, "[Usuario internacional] hola", out.ClientMessage)
}

func TestIngest_FormProfile(t *testing.T) {
	svc, d := newTestLeadService(t, newLead("", "", "+1 555 0100"))

	out, err := svc.Ingest(context.Background(), 9, formLeadProfile)
	require.NoError(t, err)
	require.Equal(t, "Hola", out.ClientMessage)
	require.Equal(t, "pmpt_form", d.turns.inputs[0].Profile.PromptID)
	require.Equal(t, int64(1994931), d.crm.updates[0].CustomFields[0].FieldID)
	require.Empty(t, d.spawner.names)
}

func TestIngest_MissingMessage(t *testing.T) {
	svc, d := newTestLeadService(t, newLead("   ", "", ""))

	_, err := svc.Ingest(context.Background(), 9, chatLeadProfile)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, ErrorInvalidInput, uerr.Code)
	require.Empty(t, d.turns.inputs)
	require.Empty(t, d.crm.updates)
}

func TestIngest_InvalidArguments(t *testing.T) {
	svc, _ := newTestLeadService(t, newLead("hola", "", ""))

	_, err := svc.Ingest(context.Background(), 0, chatLeadProfile)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, ErrorInvalidInput, uerr.Code)

	p := chatLeadProfile
	p.AnswerField = 0
	_, err = svc.Ingest(context.Background(), 1, p)
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, ErrorConfiguration, uerr.Code)
}

func TestIngest_GetLeadErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "reauth", err: fmt.Errorf("%w: boom", auth.ErrReauthenticate), want: ErrorAuth},
		{name: "no token", err: auth.ErrNoAccessToken, want: ErrorAuth},
		{name: "upstream", err: &kommo.HTTPStatusError{StatusCode: 500}, want: ErrorUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, d := newTestLeadService(t, nil)
			d.crm.getErr = tt.err

			_, err := svc.Ingest(context.Background(), 5, chatLeadProfile)
			var uerr *Error
			require.ErrorAs(t, err, &uerr)
			require.Equal(t, tt.want, uerr.Code)
			require.ErrorIs(t, err, tt.err)
			require.Empty(t, d.handoff.transfers)
		})
	}
}

func TestIngest_WriteBackFailureTransfers(t *testing.T) {
	svc, d := newTestLeadService(t, newLead("hola", "", ""))
	d.crm.updateErr = &kommo.HTTPStatusError{StatusCode: 400}

	_, err := svc.Ingest(context.Background(), 11, chatLeadProfile)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, ErrorUpstream, uerr.Code)
	require.Equal(t, []int64{11}, d.handoff.transfers)
	require.Empty(t, d.spawner.names)
}

func TestIngest_WriteBackAuthFailure(t *testing.T) {
	svc, d := newTestLeadService(t, newLead("hola", "", ""))
	d.authn.err = errors.New("refresh rejected")

	_, err := svc.Ingest(context.Background(), 11, chatLeadProfile)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, ErrorAuth, uerr.Code)
	require.Empty(t, d.crm.updates)
	require.Equal(t, []int64{11}, d.handoff.transfers)
}

func TestIngest_TurnErrorPropagates(t *testing.T) {
	svc, d := newTestLeadService(t, newLead("hola", "", ""))
	d.turns.err = newError(ErrorConfiguration, "missing_prompt_id", nil)

	_, err := svc.Ingest(context.Background(), 3, chatLeadProfile)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, ErrorConfiguration, uerr.Code)
	require.Empty(t, d.crm.updates)
}

func TestOrigin_Tag(t *testing.T) {
	tests := []struct {
		name   string
		origin Origin
		phone  string
		want   string
	}{
		{name: "local with plus", origin: panama, phone: "+50760000000", want: "[Usuario de Panamá] hola"},
		{name: "local without plus", origin: panama, phone: "50760000000", want: "[Usuario de Panamá] hola"},
		{name: "foreign", origin: panama, phone: "+15550100", want: "[Usuario internacional] hola"},
		{name: "no phone", origin: panama, phone: "", want: "[Usuario internacional] hola"},
		{name: "disabled", origin: Origin{}, phone: "+50760000000", want: "hola"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.origin.Tag("hola", tt.phone))
		})
	}
}
