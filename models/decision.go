package models

import (
	"time"

	"github.com/google/uuid"
)

// GateOutcome is the terminal decision for a generated answer.
type GateOutcome string

const (
	OutcomeServe           GateOutcome = "serve"
	OutcomeServeWithCaveat GateOutcome = "serve_with_caveat"
	OutcomeRefuse          GateOutcome = "refuse"
	OutcomeBlock           GateOutcome = "block"
)

// GateDecision records why the response gate served, refused, or blocked an
// answer. Not persisted for served answers; Block and Refuse decisions are
// logged and archived for audit.
type GateDecision struct {
	Outcome    GateOutcome `json:"outcome"`
	Rationale  string      `json:"rationale"`
	Confidence Confidence  `json:"confidence"`
}

// AuditRecord is the archived form of a Block or Refuse decision. The question
// excerpt is PII-masked before the record is built; the raw question never
// appears here.
type AuditRecord struct {
	ID              uuid.UUID   `json:"id"`
	Timestamp       time.Time   `json:"timestamp"`
	Outcome         GateOutcome `json:"outcome"`
	Rationale       string      `json:"rationale"`
	MaskedExcerpt   string      `json:"masked_excerpt"`
	RawCitationText []string    `json:"raw_citation_text,omitempty"`
	Language        Language    `json:"language"`
}
