package kommo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

// plainDoer sends requests without any auth handling.
type plainDoer struct {
	client *resty.Client
}

func (d plainDoer) Do(ctx context.Context, method, url string, build func(*resty.Request)) (*resty.Response, error) {
	r := d.client.R().SetContext(ctx)
	if build != nil {
		build(r)
	}
	return r.Execute(method, url)
}

type recorded struct {
	method string
	path   string
	query  string
	body   []byte
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func newTestClient(t *testing.T, status int, reply string) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.calls = append(rec.calls, recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: body})
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(plainDoer{client: resty.New().SetBaseURL(srv.URL)})
	require.NoError(t, err)
	return c, rec
}

const leadJSON = `{
  "id": 4242,
  "name": "Lead",
  "status_id": 100,
  "custom_fields_values": [
    {"field_id": 955672, "values": [{"value": "hola, quiero un tour"}]},
    {"field_id": 955664, "values": [{"value": "conv_1_abcdefghi"}]},
    {"field_id": 956366, "values": [{"value": 4}]}
  ],
  "_embedded": {
    "contacts": [
      {"id": 7, "is_main": true, "custom_fields_values": [
        {"field_id": 1, "field_code": "PHONE", "values": [{"value": "+507 6123 4567"}]}
      ]}
    ]
  }
}`

func TestNewClient_NilDoer(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
}

func TestGetLead(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, leadJSON)

	lead, err := c.GetLead(context.Background(), 4242, true)
	require.NoError(t, err)
	calls := rec.all()
	require.Len(t, calls, 1)
	require.Equal(t, http.MethodGet, calls[0].method)
	require.Equal(t, "/api/v4/leads/4242", calls[0].path)
	require.Equal(t, "with=contacts", calls[0].query)

	msg, ok := lead.FieldValue(955672)
	require.True(t, ok)
	require.Equal(t, "hola, quiero un tour", msg)

	people, ok := lead.FieldValue(956366)
	require.True(t, ok)
	require.Equal(t, "4", people)

	_, ok = lead.FieldValue(1)
	require.False(t, ok)

	phone, ok := lead.ContactPhone()
	require.True(t, ok)
	require.Equal(t, "+50761234567", phone)
}

func TestGetLead_WithoutContactsAndNullFields(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"id": 5, "custom_fields_values": null}`)

	lead, err := c.GetLead(context.Background(), 5, false)
	require.NoError(t, err)
	require.Empty(t, rec.all()[0].query)

	_, ok := lead.FieldValue(955672)
	require.False(t, ok)
	_, ok = lead.ContactPhone()
	require.False(t, ok)
}

func TestGetLead_StatusError(t *testing.T) {
	c, _ := newTestClient(t, http.StatusNotFound, `{"title":"Not found"}`)

	_, err := c.GetLead(context.Background(), 1, true)
	var se *HTTPStatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusNotFound, se.HTTPStatusCode())
	require.Contains(t, se.Body, "Not found")
}

func TestGetLead_InvalidID(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{}`)
	_, err := c.GetLead(context.Background(), 0, true)
	require.Error(t, err)
	require.Empty(t, rec.all())
}

func TestUpdateLeads_Body(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"_embedded":{"leads":[{"id":4242}]}}`)

	err := c.UpdateLead(context.Background(), LeadUpdate{
		ID:       4242,
		StatusID: 97856616,
		CustomFields: []FieldUpdate{
			SetField(955670, "ASESOR"),
		},
	})
	require.NoError(t, err)
	calls := rec.all()
	require.Len(t, calls, 1)
	require.Equal(t, http.MethodPatch, calls[0].method)
	require.Equal(t, "/api/v4/leads", calls[0].path)
	require.JSONEq(t, `[{"id":4242,"status_id":97856616,"custom_fields_values":[{"field_id":955670,"values":[{"value":"ASESOR"}]}]}]`, string(calls[0].body))
}

func TestUpdateLeads_OmitsStatusWhenUnset(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{}`)

	require.NoError(t, c.UpdateLeads(context.Background(), []LeadUpdate{{
		ID:           1,
		CustomFields: []FieldUpdate{SetField(955668, "respuesta"), SetField(955664, "conv_1_x")},
	}}))

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.all()[0].body, &body))
	require.NotContains(t, body[0], "status_id")
}

func TestUpdateLeads_Validation(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{}`)
	require.Error(t, c.UpdateLeads(context.Background(), nil))
	require.Error(t, c.UpdateLeads(context.Background(), []LeadUpdate{{}}))
	require.Empty(t, rec.all())
}

func TestUpdateLeads_StatusError(t *testing.T) {
	c, _ := newTestClient(t, http.StatusBadRequest, `{"validation-errors":[]}`)
	err := c.UpdateLead(context.Background(), LeadUpdate{ID: 1})
	var se *HTTPStatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestRunSalesbot(t *testing.T) {
	c, rec := newTestClient(t, http.StatusAccepted, `{"success":true}`)

	require.NoError(t, c.RunSalesbot(context.Background(), 71430, 4242))
	calls := rec.all()
	require.Equal(t, "/api/v2/salesbot/run", calls[0].path)
	require.JSONEq(t, `[{"bot_id":71430,"entity_type":2,"entity_id":4242}]`, string(calls[0].body))

	require.Error(t, c.RunSalesbot(context.Background(), 0, 4242))
}

func TestValueString(t *testing.T) {
	require.Equal(t, "", Value{}.String())
	require.Equal(t, "abc", Value{Value: "abc"}.String())
	require.Equal(t, "12", Value{Value: float64(12)}.String())
	require.Equal(t, "1.5", Value{Value: 1.5}.String())
	require.Equal(t, "true", Value{Value: true}.String())
}
