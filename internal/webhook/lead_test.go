package webhook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeadID(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		want        int64
	}{
		{"form add", "application/x-www-form-urlencoded", "leads%5Badd%5D%5B0%5D%5Bid%5D=123&leads%5Badd%5D%5B0%5D%5Bstatus_id%5D=5&account%5Bsubdomain%5D=acme", 123},
		{"form unescaped keys", "application/x-www-form-urlencoded", "leads[update][0][id]=456", 456},
		{"form status", "application/x-www-form-urlencoded; charset=UTF-8", "leads[status][0][id]=789&leads[status][0][old_status_id]=1", 789},
		{"json add string id", "application/json", `{"leads":{"add":[{"id":"321"}]}}`, 321},
		{"json update numeric id", "application/json", `{"leads":{"update":[{"id":654}]}}`, 654},
		{"json data lead_id", "application/json", `{"data":{"lead_id":"99","msj_client":"hola"}}`, 99},
		{"json without content type", "", `{"leads":{"add":[{"id":1}]}}`, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LeadID(tc.contentType, []byte(tc.body))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestLeadID_Errors(t *testing.T) {
	_, err := LeadID("application/json", nil)
	require.ErrorIs(t, err, ErrNoLeadID)

	_, err = LeadID("application/json", []byte(`{"leads":{}}`))
	require.ErrorIs(t, err, ErrNoLeadID)

	_, err = LeadID("application/x-www-form-urlencoded", []byte("account[id]=1"))
	require.ErrorIs(t, err, ErrNoLeadID)

	_, err = LeadID("application/x-www-form-urlencoded", []byte("leads[add][0][id]=abc"))
	require.ErrorContains(t, err, "invalid lead id")

	_, err = LeadID("application/json", []byte(`{"leads":`))
	require.ErrorContains(t, err, "decode json")

	_, err = LeadID("application/json", []byte(`{"leads":{"add":[{"id":"x1"}]}}`))
	require.Error(t, err)
}
