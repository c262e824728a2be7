package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PedroNhamirre/jusmoz/models"
)

// substantiveLengthThreshold is the answer length above which a legal answer
// is expected to ground itself in at least one citation.
const substantiveLengthThreshold = 200

// maxPlausibleArticle is the sanity ceiling for article numbers in laws not
// covered by the registry.
const maxPlausibleArticle = 2000

// citationPattern pairs an extraction regex with the submatch indexes for
// (article, paragraph, law). A zero index means the group is absent.
type citationPattern struct {
	re        *regexp.Regexp
	article   int
	paragraph int
	law       int
}

var citationPatterns = []citationPattern{
	// "Artigo 127, nº 2 da Lei 23/2007" and reduced forms
	{regexp.MustCompile(`(?i)\bartigos?\s+(\d+)(?:\s*,?\s*n[ºo°.]{1,2}\s*(\d+))?(?:\s+d[ae]\s+lei\s+(?:n[ºo°.]{1,2}\s*)?(\d+/\d{4}))?`), 1, 2, 3},
	// "Art. 54"
	{regexp.MustCompile(`(?i)\bart\.?\s*(\d+)(?:\s*,?\s*n[ºo°.]{1,2}\s*(\d+))?`), 1, 2, 0},
	// "Article 127, paragraph 2 of Law 23/2007"
	{regexp.MustCompile(`(?i)\barticle\s+(\d+)(?:\s*,?\s*(?:paragraph|§)\s*(\d+))?(?:\s+of\s+law\s+(?:no\.?\s*)?(\d+/\d{4}))?`), 1, 2, 3},
	// Law-only references: "Lei 23/2007", "Law 23/2007"
	{regexp.MustCompile(`(?i)\b(?:lei|law)\s+(?:n[ºo°.]{1,2}\s*)?(\d+/\d{4})`), 0, 0, 1},
}

var lawFormatPattern = regexp.MustCompile(`^\d{1,3}/(19|20)\d{2}$`)

// refusalPatterns mark a response as a legitimate "I don't know" in either
// language. Such responses bypass citation requirements.
var refusalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)não\s+(tenho|disponho\s+de|encontrei)\s+informa[cç][ãa]o`),
	regexp.MustCompile(`(?i)não\s+(posso|consigo)\s+responder`),
	regexp.MustCompile(`(?i)(lamento|desculpe),?\s+(mas\s+)?não`),
	regexp.MustCompile(`(?i)a\s+legisla[cç][ãa]o\s+(fornecida|dispon[íi]vel)\s+não`),
	regexp.MustCompile(`(?i)i\s+(do\s+not|don't)\s+have\s+(that\s+)?information`),
	regexp.MustCompile(`(?i)i\s+(cannot|can't)\s+answer`),
	regexp.MustCompile(`(?i)(i'm|i\s+am)\s+sorry,?\s+(but\s+)?i`),
	regexp.MustCompile(`(?i)no\s+information\s+(is\s+)?available`),
}

// ValidationResult is the citation validator's verdict on a generated answer.
type ValidationResult struct {
	Citations   []models.Citation
	Confidence  models.Confidence
	ShouldBlock bool
	Reason      string
	IsRefusal   bool
}

// CitationValidator extracts legal citations from generated text and scores
// them against the article registry.
type CitationValidator struct {
	// registry maps a law identifier to its highest article number. Laws
	// absent from the registry get a format-only check.
	registry map[string]int
}

// NewCitationValidator creates a validator with the given article registry.
// A nil registry degrades every check to format-only.
func NewCitationValidator(registry map[string]int) *CitationValidator {
	return &CitationValidator{registry: registry}
}

// Extract returns the deduplicated citations found in text. Extraction is
// deterministic: re-parsing identical text yields identical results.
func (v *CitationValidator) Extract(text string) []models.Citation {
	seen := make(map[string]bool)
	var citations []models.Citation

	for _, cp := range citationPatterns {
		for _, m := range cp.re.FindAllStringSubmatch(text, -1) {
			c := models.Citation{Raw: strings.TrimSpace(m[0])}
			if cp.article > 0 && m[cp.article] != "" {
				c.Article, _ = strconv.Atoi(m[cp.article])
			}
			if cp.paragraph > 0 && m[cp.paragraph] != "" {
				c.Paragraph, _ = strconv.Atoi(m[cp.paragraph])
			}
			if cp.law > 0 && m[cp.law] != "" {
				c.Law = m[cp.law]
			}
			if c.Article == 0 && c.Law == "" {
				continue
			}
			key := c.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			c.IsValid = v.isValid(c)
			citations = append(citations, c)
		}
	}

	return dropRedundantLawMentions(citations)
}

// dropRedundantLawMentions removes law-only entries whose law already appears
// in a full article citation, so "Artigo 127 da Lei 23/2007" counts once.
func dropRedundantLawMentions(citations []models.Citation) []models.Citation {
	cited := make(map[string]bool)
	for _, c := range citations {
		if c.Article > 0 && c.Law != "" {
			cited[c.Law] = true
		}
	}
	kept := citations[:0]
	for _, c := range citations {
		if c.Article == 0 && cited[c.Law] {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// isValid applies the registry check where the law is known and a format-only
// sanity check otherwise.
func (v *CitationValidator) isValid(c models.Citation) bool {
	if c.Law != "" {
		if !lawFormatPattern.MatchString(c.Law) {
			return false
		}
		if maxArticle, known := v.registry[c.Law]; known {
			if c.Article == 0 {
				return true // law-only reference to a known law
			}
			return c.Article >= 1 && c.Article <= maxArticle
		}
	}
	if c.Article == 0 {
		return c.Law != "" // law-only, plausible format
	}
	return c.Article >= 1 && c.Article <= maxPlausibleArticle
}

// IsRefusal reports whether text reads as a legitimate "I don't know".
func IsRefusal(text string) bool {
	for _, p := range refusalPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Validate computes the gate verdict for a generated answer.
func (v *CitationValidator) Validate(text string) ValidationResult {
	if IsRefusal(text) {
		return ValidationResult{
			Confidence: models.ConfidenceNone,
			IsRefusal:  true,
		}
	}

	citations := v.Extract(text)

	valid, invalid := 0, 0
	var invalidRaw []string
	for _, c := range citations {
		if c.IsValid {
			valid++
		} else {
			invalid++
			invalidRaw = append(invalidRaw, c.Raw)
		}
	}

	res := ValidationResult{Citations: citations}

	switch {
	case invalid > 0 && valid == 0:
		res.ShouldBlock = true
		res.Confidence = models.ConfidenceNone
		res.Reason = fmt.Sprintf("hallucinated citations: %s", strings.Join(invalidRaw, "; "))
	case len(citations) == 0 && len(text) > substantiveLengthThreshold:
		res.ShouldBlock = true
		res.Confidence = models.ConfidenceNone
		res.Reason = "substantive answer with no citations"
	case valid >= 2:
		res.Confidence = models.ConfidenceHigh
	case valid == 1 && invalid == 0:
		res.Confidence = models.ConfidenceMedium
	case valid == 1:
		res.Confidence = models.ConfidenceLow
	default:
		// Short answer, no citations: served but unconfident.
		res.Confidence = models.ConfidenceNone
	}

	return res
}
