package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Patient is a clinical subject owned by a doctor. Notes hold
// free-form clinical context injected into consultations.
type Patient struct {
	ID        string
	DoctorID  string
	Name      string
	MRN       string
	Notes     string
	CreatedAt time.Time
}

// Chat is one consultation thread. General chats carry no patient;
// patient chats denormalize the patient name for display and prompts.
type Chat struct {
	ID          string
	DoctorID    string
	PatientID   string
	PatientName string
	Title       string
	IsGeneral   bool
	CreatedAt   time.Time
}

// Message is a single turn within a chat. MediaURL/MediaType describe
// an optional attachment ("image", "audio", or "file").
type Message struct {
	ID          string
	ChatID      string
	DoctorID    string
	PatientID   string
	PatientName string
	Role        string
	Text        string
	MediaURL    string
	MediaType   string
	CreatedAt   time.Time
}
