package models

import (
	"time"

	"github.com/google/uuid"
)

// Kind names a concrete opportunity variant. Each kind is persisted in its own table.
type Kind string

const (
	KindGrant       Kind = "grant"
	KindScholarship Kind = "scholarship"
	KindInternship  Kind = "internship"
)

// Valid reports whether k is one of the known variants.
func (k Kind) Valid() bool {
	switch k {
	case KindGrant, KindScholarship, KindInternship:
		return true
	}
	return false
}

// Opportunity holds the fields shared by every variant.
// Deadline and PublishedAt are calendar dates at midnight UTC.
type Opportunity struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	SourceURL   string     `json:"source_url"`
	Deadline    *time.Time `json:"deadline"`
	PublishedAt *time.Time `json:"published_at"`
	Country     string     `json:"country,omitempty"`
	Region      string     `json:"region,omitempty"`
	Language    string     `json:"language,omitempty"`
	Provider    string     `json:"provider"`
	ImageURL    string     `json:"image_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Grant struct {
	Opportunity
}

type Scholarship struct {
	Opportunity
	Level        string `json:"level,omitempty"` // e.g. "phd, master"
	DeadlineText string `json:"deadline_text,omitempty"`
}

type Internship struct {
	Opportunity
	Duration string `json:"duration,omitempty"`
	Paid     *bool  `json:"paid,omitempty"`
}
