package openai

import "fmt"

// Item and event type names used by the Responses API.
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
	ContentOutputText      = "output_text"

	eventCompleted  = "response.completed"
	eventIncomplete = "response.incomplete"
	eventFailed     = "response.failed"
	eventError      = "error"
)

// PromptRef points at a stored prompt. Version is omitted on follow-ups.
type PromptRef struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

// InputItem is either a role message or a function call output.
type InputItem struct {
	Type    string `json:"type,omitempty"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	CallID  string `json:"call_id,omitempty"`
	Output  string `json:"output,omitempty"`
}

// UserMessage builds a user role input item.
func UserMessage(text string) InputItem {
	return InputItem{Role: "user", Content: text}
}

// FunctionCallOutput builds the output item answering callID.
func FunctionCallOutput(callID, output string) InputItem {
	return InputItem{Type: ItemFunctionCallOutput, CallID: callID, Output: output}
}

type TextFormat struct {
	Type string `json:"type"`
}

type TextConfig struct {
	Format TextFormat `json:"format"`
}

// PlainText requests unstructured text output.
func PlainText() *TextConfig {
	return &TextConfig{Format: TextFormat{Type: "text"}}
}

// ResponseRequest is the body of POST /responses.
type ResponseRequest struct {
	Prompt             PromptRef   `json:"prompt"`
	Input              []InputItem `json:"input"`
	Text               *TextConfig `json:"text,omitempty"`
	MaxOutputTokens    int         `json:"max_output_tokens,omitempty"`
	Store              bool        `json:"store"`
	PreviousResponseID string      `json:"previous_response_id,omitempty"`
	Stream             bool        `json:"stream,omitempty"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// OutputItem is one element of a response's output list. Message items
// carry Content; function call items carry Name, Arguments and CallID.
type OutputItem struct {
	Type      string        `json:"type"`
	ID        string        `json:"id,omitempty"`
	Status    string        `json:"status,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
}

// APIError is the error object embedded in failed responses and error events.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return "openai: " + e.Message
	}
	return fmt.Sprintf("openai: %s: %s", e.Code, e.Message)
}

type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// Response is the subset of a Responses API object this service reads.
type Response struct {
	ID                string             `json:"id"`
	Status            string             `json:"status,omitempty"`
	Output            []OutputItem       `json:"output"`
	OutputText        string             `json:"output_text,omitempty"`
	Error             *APIError          `json:"error,omitempty"`
	IncompleteDetails *IncompleteDetails `json:"incomplete_details,omitempty"`
}

// FunctionCalls returns the function call items in output order.
func (r *Response) FunctionCalls() []OutputItem {
	var calls []OutputItem
	for _, item := range r.Output {
		if item.Type == ItemFunctionCall {
			calls = append(calls, item)
		}
	}
	return calls
}

type streamEvent struct {
	Type     string    `json:"type"`
	Response *Response `json:"response,omitempty"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
}
