package domain

import "encoding/json"

// ToolCall is a function invocation requested by the model within one turn.
type ToolCall struct {
	Name      string
	Arguments map[string]any
	CallID    string
}

// ToolResult is what a tool handler reports back to the model.
type ToolResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Output renders the result as the string submitted to the model. Raw
// payloads returned by an external script are passed through untouched.
func (r ToolResult) Output() string {
	if len(r.Data) > 0 && r.Message == "" {
		return string(r.Data)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"message":"unserializable tool result"}`
	}
	return string(b)
}
