package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strconv"
	"strings"
)

// ErrNoLeadID is returned when a payload does not reference a lead.
var ErrNoLeadID = errors.New("webhook: payload does not contain a lead id")

// leadEvents are the Kommo webhook sections checked, in order.
var leadEvents = []string{"add", "update", "status"}

type leadRef struct {
	ID flexibleID `json:"id"`
}

type jsonPayload struct {
	Leads map[string][]leadRef `json:"leads"`
	Data  *struct {
		LeadID flexibleID `json:"lead_id"`
	} `json:"data"`
}

// flexibleID accepts ids encoded as JSON numbers or strings.
type flexibleID int64

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("webhook: invalid id %q", s)
	}
	*f = flexibleID(n)
	return nil
}

// LeadID extracts the lead id from a Kommo webhook body. Form encoded bodies
// use keys like leads[add][0][id]; JSON bodies use the nested equivalent or
// {"data":{"lead_id":...}}.
func LeadID(contentType string, body []byte) (int64, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return 0, ErrNoLeadID
	}
	if mediaType == "application/json" || (mediaType == "" && trimmed[0] == '{') {
		return fromJSON(trimmed)
	}
	return fromForm(string(trimmed))
}

func fromJSON(body []byte) (int64, error) {
	var p jsonPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return 0, fmt.Errorf("webhook: decode json payload: %w", err)
	}
	for _, event := range leadEvents {
		if refs := p.Leads[event]; len(refs) > 0 && refs[0].ID > 0 {
			return int64(refs[0].ID), nil
		}
	}
	if p.Data != nil && p.Data.LeadID > 0 {
		return int64(p.Data.LeadID), nil
	}
	return 0, ErrNoLeadID
}

func fromForm(body string) (int64, error) {
	values, err := url.ParseQuery(body)
	if err != nil {
		return 0, fmt.Errorf("webhook: decode form payload: %w", err)
	}
	for _, event := range leadEvents {
		raw := strings.TrimSpace(values.Get("leads[" + event + "][0][id]"))
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("webhook: invalid lead id %q", raw)
		}
		return id, nil
	}
	return 0, ErrNoLeadID
}
