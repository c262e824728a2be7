package service

import (
	"context"
	"fmt"
	"log"

	"github.com/PedroNhamirre/jusmoz/models"
)

// Cache status values reported to the HTTP layer.
const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

// InputRejectedError is returned when the sanitizer rejects a question. The
// HTTP layer maps it to a 400 with the localized message.
type InputRejectedError struct {
	Reason   string
	Language models.Language
}

func (e *InputRejectedError) Error() string {
	return fmt.Sprintf("input rejected: %s", e.Reason)
}

// Message returns the user-facing rejection text in the detected language.
func (e *InputRejectedError) Message() string {
	if e.Language == models.LanguageEnglish {
		return "Your question could not be processed. Please rephrase it as a plain question about labor legislation."
	}
	return "A sua questão não pôde ser processada. Por favor reformule-a como uma pergunta simples sobre legislação laboral."
}

// PassageRetriever is the retrieval stage seen by the gate.
type PassageRetriever interface {
	Retrieve(ctx context.Context, query *models.SanitizedQuery, limit int) ([]models.ContextPassage, error)
}

// ChatService drives a question through sanitization, classification, cache
// lookup, retrieval, generation and citation validation, and decides whether
// the result is served, refused or blocked. One instance is shared by all
// concurrent requests; the only shared mutable state is the cache.
type ChatService struct {
	sanitizer *Sanitizer
	cache     *ResponseCache
	retriever PassageRetriever
	generator Generator
	validator *CitationValidator
	audit     *AuditSink

	cacheSalt     string
	cacheRefusals bool
	defaultLimit  int
}

// ChatServiceOption is a functional option for ChatService.
type ChatServiceOption func(*ChatService)

// ChatWithSanitizer sets the sanitizer.
func ChatWithSanitizer(s *Sanitizer) ChatServiceOption {
	return func(c *ChatService) {
		c.sanitizer = s
	}
}

// ChatWithCache sets the response cache.
func ChatWithCache(cache *ResponseCache) ChatServiceOption {
	return func(c *ChatService) {
		c.cache = cache
	}
}

// ChatWithRetriever sets the passage retriever.
func ChatWithRetriever(r PassageRetriever) ChatServiceOption {
	return func(c *ChatService) {
		c.retriever = r
	}
}

// ChatWithGenerator sets the text generation service.
func ChatWithGenerator(g Generator) ChatServiceOption {
	return func(c *ChatService) {
		c.generator = g
	}
}

// ChatWithValidator sets the citation validator.
func ChatWithValidator(v *CitationValidator) ChatServiceOption {
	return func(c *ChatService) {
		c.validator = v
	}
}

// ChatWithAuditSink sets the audit sink for Block/Refuse decisions.
func ChatWithAuditSink(a *AuditSink) ChatServiceOption {
	return func(c *ChatService) {
		c.audit = a
	}
}

// ChatWithCacheSalt sets the salt folded into cache keys.
func ChatWithCacheSalt(salt string) ChatServiceOption {
	return func(c *ChatService) {
		c.cacheSalt = salt
	}
}

// ChatWithRefusalCaching enables caching of refusal and no-information
// responses as stable negative results.
func ChatWithRefusalCaching(enabled bool) ChatServiceOption {
	return func(c *ChatService) {
		c.cacheRefusals = enabled
	}
}

// NewChatService creates a chat service.
func NewChatService(opts ...ChatServiceOption) *ChatService {
	c := &ChatService{
		defaultLimit: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AskRequest represents a question entering the pipeline.
type AskRequest struct {
	Question string
	Limit    int
	History  []models.ChatMessage
}

// AskResult represents the vetted response leaving the pipeline.
type AskResult struct {
	Answer      models.Answer
	CacheStatus string
	Decision    models.GateDecision
}

// Ask runs the full pipeline for one question.
func (c *ChatService) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	query, err := c.sanitizer.Sanitize(req.Question)
	if err != nil {
		return nil, err
	}

	if query.Rejected() {
		decision := models.GateDecision{
			Outcome:    models.OutcomeBlock,
			Rationale:  fmt.Sprintf("injection detected (%s): %s", query.InjectionSeverity, query.InjectionReason),
			Confidence: models.ConfidenceNone,
		}
		c.audit.Record(ctx, decision, query.Text, query.Language, nil)
		return nil, &InputRejectedError{Reason: query.InjectionReason, Language: query.Language}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = c.defaultLimit
	}
	key := CacheKey(c.cacheSalt, query.Text, limit)

	if !query.InDomain {
		decision := models.GateDecision{
			Outcome:    models.OutcomeRefuse,
			Rationale:  "out of domain",
			Confidence: models.ConfidenceNone,
		}

		// Policy knob: a refusal may be cached as a stable negative result.
		if c.cacheRefusals {
			if cached, ok := c.cache.Get(key); ok {
				return &AskResult{Answer: cached, CacheStatus: CacheHit, Decision: decision}, nil
			}
		}
		c.audit.Record(ctx, decision, query.Text, query.Language, nil)

		answer := models.Answer{
			Text:       outOfDomainMessage(query.Language),
			Sources:    []models.Source{},
			Confidence: models.ConfidenceNone,
		}
		if c.cacheRefusals {
			c.cache.Set(key, answer)
		}
		return &AskResult{Answer: answer, CacheStatus: CacheMiss, Decision: decision}, nil
	}

	if cached, ok := c.cache.Get(key); ok {
		return &AskResult{
			Answer:      cached,
			CacheStatus: CacheHit,
			Decision: models.GateDecision{
				Outcome:    models.OutcomeServe,
				Rationale:  "cache hit",
				Confidence: cached.Confidence,
			},
		}, nil
	}

	passages, err := c.retriever.Retrieve(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	if len(passages) == 0 {
		decision := models.GateDecision{
			Outcome:    models.OutcomeRefuse,
			Rationale:  "no context found",
			Confidence: models.ConfidenceNone,
		}
		answer := models.Answer{
			Text:       noInformationMessage(query.Language),
			Sources:    []models.Source{},
			Confidence: models.ConfidenceNone,
		}
		if c.cacheRefusals {
			c.cache.Set(key, answer)
		}
		return &AskResult{Answer: answer, CacheStatus: CacheMiss, Decision: decision}, nil
	}

	systemPrompt := BuildSystemPrompt(passages, query.Language)
	raw, err := c.generator.Invoke(ctx, systemPrompt, WrapUserQuestion(query.Text), req.History)
	if err != nil {
		return nil, err
	}

	verdict := c.validator.Validate(raw)

	if verdict.ShouldBlock {
		decision := models.GateDecision{
			Outcome:    models.OutcomeBlock,
			Rationale:  verdict.Reason,
			Confidence: models.ConfidenceNone,
		}
		var rawCitations []string
		for _, cit := range verdict.Citations {
			if !cit.IsValid {
				rawCitations = append(rawCitations, cit.Raw)
			}
		}
		c.audit.Record(ctx, decision, query.Text, query.Language, rawCitations)

		// The raw model output is never surfaced; a safe refusal replaces it.
		answer := models.Answer{
			Text:       blockedMessage(query.Language),
			Sources:    []models.Source{},
			Confidence: models.ConfidenceNone,
		}
		return &AskResult{Answer: answer, CacheStatus: CacheMiss, Decision: decision}, nil
	}

	if verdict.IsRefusal {
		decision := models.GateDecision{
			Outcome:    models.OutcomeRefuse,
			Rationale:  "model declined to answer",
			Confidence: models.ConfidenceNone,
		}
		answer := models.Answer{
			Text:       raw,
			Sources:    []models.Source{},
			Confidence: models.ConfidenceNone,
		}
		if c.cacheRefusals {
			c.cache.Set(key, answer)
		}
		return &AskResult{Answer: answer, CacheStatus: CacheMiss, Decision: decision}, nil
	}

	answer := models.Answer{
		Text:       raw,
		Sources:    collectSources(passages),
		Citations:  verdict.Citations,
		Confidence: verdict.Confidence,
	}

	outcome := models.OutcomeServe
	if verdict.Confidence == models.ConfidenceLow || verdict.Confidence == models.ConfidenceNone {
		outcome = models.OutcomeServeWithCaveat
	}
	decision := models.GateDecision{
		Outcome:    outcome,
		Rationale:  "citations validated",
		Confidence: verdict.Confidence,
	}

	c.cache.Set(key, answer)
	log.Printf("Served answer (%s confidence, %d citations, %d sources)",
		verdict.Confidence, len(verdict.Citations), len(answer.Sources))

	return &AskResult{Answer: answer, CacheStatus: CacheMiss, Decision: decision}, nil
}

// collectSources deduplicates passage attribution for the response payload.
func collectSources(passages []models.ContextPassage) []models.Source {
	seen := make(map[string]bool)
	sources := make([]models.Source, 0, len(passages))
	for _, p := range passages {
		key := p.SourceDocument + "|" + p.Law
		if seen[key] {
			continue
		}
		seen[key] = true
		sources = append(sources, models.Source{
			Document: p.SourceDocument,
			Law:      p.Law,
			Chapter:  p.Chapter,
			Section:  p.Section,
		})
	}
	return sources
}

func outOfDomainMessage(lang models.Language) string {
	if lang == models.LanguageEnglish {
		return "Sorry, I can only answer questions about Mozambican labor legislation."
	}
	return "Desculpe, apenas posso responder a questões sobre a legislação laboral moçambicana."
}

func noInformationMessage(lang models.Language) string {
	if lang == models.LanguageEnglish {
		return "I could not find information in the available legislation to answer that question."
	}
	return "Não encontrei informação na legislação disponível para responder a essa questão."
}

func blockedMessage(lang models.Language) string {
	if lang == models.LanguageEnglish {
		return "The generated answer could not be verified against the legislation, so it was not served. Please rephrase your question."
	}
	return "A resposta gerada não pôde ser verificada contra a legislação, pelo que não foi apresentada. Por favor reformule a questão."
}
