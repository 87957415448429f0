package contextstore

import "time"

// Roles of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one stored conversation message, immutable once appended.
// Keywords are derived from Text at append time and frozen.
type Turn struct {
	ID          string
	DoctorID    string
	PatientID   string
	PatientName string
	ChatID      string
	Role        string
	Text        string
	Keywords    []string
	CreatedAt   time.Time
}

// Citation is a retrieved context fragment ready for prompt injection.
// Text is capped at 300 characters; Score is the fraction of query
// keywords present in the source turn, in (0, 1].
type Citation struct {
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Role      string    `json:"role"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}
