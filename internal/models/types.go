package models

import "strings"

// Roles a stored conversation turn can carry.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Part is one piece of a turn's content.
type Part struct {
	Text string `json:"text"`
}

// Turn represents one role-tagged entry in a conversation history.
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// NewTurn builds a single-part text turn.
func NewTurn(role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Text: text}}}
}

// Text joins the text of all parts of the turn.
func (t Turn) Text() string {
	if len(t.Parts) == 1 {
		return t.Parts[0].Text
	}
	var b strings.Builder
	for _, p := range t.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// TokenUsage is the usage metadata attached to a model response.
// Streaming responses may omit it entirely.
type TokenUsage struct {
	PromptTokens   int
	ResponseTokens int
	TotalTokens    int
}

// UsageTotals holds the per-user token counters for display.
type UsageTotals struct {
	Daily   int64
	Monthly int64
}
