package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/PedroNhamirre/jusmoz/models"
	"github.com/PedroNhamirre/jusmoz/storage"

	"github.com/google/uuid"
)

// AuditSink archives Block and Refuse gate decisions. Archival failures are
// logged, never propagated: auditing must not fail a request.
type AuditSink struct {
	store storage.Storage
}

// NewAuditSink creates a sink over the given storage backend. A nil backend
// degrades to log-only auditing.
func NewAuditSink(store storage.Storage) *AuditSink {
	return &AuditSink{store: store}
}

// Record logs a gate decision and archives it. The question excerpt is
// PII-masked before it leaves this function; the raw question is never
// written anywhere.
func (a *AuditSink) Record(ctx context.Context, decision models.GateDecision, question string, lang models.Language, rawCitations []string) {
	record := models.AuditRecord{
		ID:              uuid.New(),
		Timestamp:       time.Now(),
		Outcome:         decision.Outcome,
		Rationale:       decision.Rationale,
		MaskedExcerpt:   MaskedExcerpt(question, 120),
		RawCitationText: rawCitations,
		Language:        lang,
	}

	log.Printf("Gate decision %s: %s (excerpt: %q)", record.Outcome, record.Rationale, record.MaskedExcerpt)

	if a == nil || a.store == nil {
		return
	}

	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("Warning: failed to marshal audit record: %v", err)
		return
	}

	if err := a.store.Put(ctx, storage.AuditKey(record.ID, record.Timestamp), data); err != nil {
		log.Printf("Warning: failed to archive audit record %s: %v", record.ID, err)
	}
}
