package schema

import (
	"strconv"
	"time"
)

// Message is one entry of the append-only conversation history.
type Message struct {
	Role      Role      `json:"role" yaml:"role"`
	Text      string    `json:"text" yaml:"text"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Stage     Stage     `json:"stage" yaml:"stage"`
}

// Question is a planner pick: one candidate question from a category's list.
type Question struct {
	Category string `json:"category"`
	Index    int    `json:"index"`
	Text     string `json:"text"`
}

// Key identifies the question in a session's asked ledger.
func (q Question) Key() string {
	return LedgerKey(q.Category, q.Index)
}

// LedgerKey builds the asked-ledger key for a category question index.
func LedgerKey(category string, index int) string {
	return category + "#" + strconv.Itoa(index)
}

// SessionView is an immutable snapshot of a conversation session for readers.
type SessionView struct {
	ID              string             `json:"id"`
	Stage           Stage              `json:"stage"`
	Requirements    Requirements       `json:"requirements"`
	History         []Message          `json:"history"`
	CompletionScore int                `json:"completionScore"`
	Confidence      map[string]float64 `json:"confidence,omitempty"`
	ActiveRunID     string             `json:"activeRunId,omitempty"`
	LastError       string             `json:"lastError,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	LastActivity    time.Time          `json:"lastActivity"`
}
