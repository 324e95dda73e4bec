package kommo

import (
	"fmt"
	"strconv"
	"strings"
)

// PhoneFieldCode is the field code Kommo assigns to contact phone numbers.
const PhoneFieldCode = "PHONE"

// Value is a single custom field value. Kommo returns strings, numbers and
// booleans depending on the field type.
type Value struct {
	Value any `json:"value"`
}

// String renders the value as text; numbers keep their integer form.
func (v Value) String() string {
	switch t := v.Value.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// CustomField is one entry of custom_fields_values.
type CustomField struct {
	FieldID   int64   `json:"field_id"`
	FieldName string  `json:"field_name,omitempty"`
	FieldCode string  `json:"field_code,omitempty"`
	Values    []Value `json:"values"`
}

type Contact struct {
	ID           int64         `json:"id"`
	IsMain       bool          `json:"is_main,omitempty"`
	CustomFields []CustomField `json:"custom_fields_values"`
}

type embedded struct {
	Contacts []Contact `json:"contacts"`
}

// Lead is the subset of a Kommo lead this service reads.
type Lead struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	StatusID     int64         `json:"status_id"`
	PipelineID   int64         `json:"pipeline_id"`
	CustomFields []CustomField `json:"custom_fields_values"`
	Embedded     embedded      `json:"_embedded"`
}

// FieldValue returns the first value of the custom field with the given id,
// and whether a non-empty value was present.
func (l Lead) FieldValue(fieldID int64) (string, bool) {
	for _, f := range l.CustomFields {
		if f.FieldID != fieldID || len(f.Values) == 0 {
			continue
		}
		s := f.Values[0].String()
		return s, s != ""
	}
	return "", false
}

// ContactPhone returns the first phone number of the first embedded contact
// with whitespace removed.
func (l Lead) ContactPhone() (string, bool) {
	if len(l.Embedded.Contacts) == 0 {
		return "", false
	}
	for _, f := range l.Embedded.Contacts[0].CustomFields {
		if f.FieldCode != PhoneFieldCode || len(f.Values) == 0 {
			continue
		}
		phone := strings.Join(strings.Fields(f.Values[0].String()), "")
		return phone, phone != ""
	}
	return "", false
}

// FieldUpdate sets one custom field in a PATCH payload.
type FieldUpdate struct {
	FieldID int64   `json:"field_id"`
	Values  []Value `json:"values"`
}

// SetField builds a single-valued FieldUpdate.
func SetField(fieldID int64, value any) FieldUpdate {
	return FieldUpdate{FieldID: fieldID, Values: []Value{{Value: value}}}
}

// LeadUpdate is one element of the PATCH /api/v4/leads batch body.
type LeadUpdate struct {
	ID           int64         `json:"id"`
	StatusID     int64         `json:"status_id,omitempty"`
	CustomFields []FieldUpdate `json:"custom_fields_values,omitempty"`
}

type salesbotRun struct {
	BotID      int64 `json:"bot_id"`
	EntityType int   `json:"entity_type"`
	EntityID   int64 `json:"entity_id"`
}
