// Package domain defines the core types shared across the service:
// conversations, turns, lead profiles, and generated case studies.
package domain

import "time"

// ConversationStatus tracks where a lead is in the sales pipeline.
type ConversationStatus string

const (
	StatusNew        ConversationStatus = "new"
	StatusInProgress ConversationStatus = "in_progress"
	StatusClosed     ConversationStatus = "closed"
)

// Valid reports whether s is a known pipeline status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// Profile captures the lead's business context collected by the intake
// form. It drives both case generation and the assistant persona.
type Profile struct {
	Category      string `json:"category"` // job category value, e.g. "accounting"
	CategoryOther string `json:"categoryOther,omitempty"`
	Industry      string `json:"industry"` // industry value, e.g. "it-web"
	IndustryOther string `json:"industryOther,omitempty"`
	FreeText      string `json:"freeText,omitempty"` // free-form consultation detail
	CompanyName   string `json:"companyName,omitempty"`
	CompanyURL    string `json:"companyUrl,omitempty"`
}

// CategoryLabel returns the display label for the profile's job category,
// preferring the free-text "other" value when the category is unmapped.
func (p Profile) CategoryLabel() string {
	if l, ok := categoryLabels[p.Category]; ok {
		return l
	}
	if p.CategoryOther != "" {
		return p.CategoryOther
	}
	return categoryFallbackLabel
}

// IndustryLabel returns the display label for the profile's industry.
func (p Profile) IndustryLabel() string {
	if l, ok := industryLabels[p.Industry]; ok {
		return l
	}
	if p.IndustryOther != "" {
		return p.IndustryOther
	}
	return industryFallbackLabel
}

// Contact holds the lead's identity fields used for access verification.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Conversation is one lead record: the profile, its transcript, and the
// cached generation results. Turns are ordered by creation time.
type Conversation struct {
	ID           string             `json:"id"`
	Contact      Contact            `json:"contact"`
	Profile      Profile            `json:"profile"`
	Status       ConversationStatus `json:"status"`
	Notes        string             `json:"notes,omitempty"`
	IntroComment string             `json:"introComment,omitempty"` // resolved once, then immutable
	Cases        []CaseStudy        `json:"cases,omitempty"`        // denormalized, grown by pagination
	Turns        []Turn             `json:"turns,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
}
