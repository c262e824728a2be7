package models

// Language is the detected language of a question.
type Language string

const (
	LanguagePortuguese Language = "pt"
	LanguageEnglish    Language = "en"
)

// Severity grades how strongly an input looks like a prompt-injection attempt.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ChatMessage is a single prior conversation turn.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "model"
	Content string `json:"content"`
}

// SanitizedQuery is the immutable result of sanitizing and classifying a raw
// question. Produced once per request; never mutated afterwards.
type SanitizedQuery struct {
	Text              string   // whitespace-collapsed, trimmed
	Language          Language
	InjectionSeverity Severity
	InjectionReason   string // empty when severity is none
	InDomain          bool
}

// Rejected reports whether the query failed the injection check.
func (q *SanitizedQuery) Rejected() bool {
	return q.InjectionSeverity != SeverityNone
}

// Confidence is the coarse tier summarizing how well an answer's citations
// are supported.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Answer is the vetted response value served to the client and stored in the
// response cache.
type Answer struct {
	Text       string     `json:"answer"`
	Sources    []Source   `json:"sources"`
	Citations  []Citation `json:"citations,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
}
