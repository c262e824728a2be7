package service

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PedroNhamirre/jusmoz/models"
)

var (
	ErrQuestionTooLong = errors.New("question exceeds maximum length")
	ErrEmptyQuestion   = errors.New("question is empty")
)

// injectionRule pairs a detection pattern with the severity it carries.
// The table is matched against the homoglyph-normalized, lowercased text.
type injectionRule struct {
	pattern  *regexp.Regexp
	severity models.Severity
	reason   string
}

var injectionRules = []injectionRule{
	// Instruction-override phrasings, English
	{regexp.MustCompile(`ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`), models.SeverityHigh, "instruction override"},
	{regexp.MustCompile(`disregard\s+(all\s+)?(previous|prior|your)\s+(instructions?|rules?)`), models.SeverityHigh, "instruction override"},
	{regexp.MustCompile(`forget\s+(everything|all|your\s+instructions)`), models.SeverityHigh, "instruction override"},
	{regexp.MustCompile(`you\s+are\s+now\s+`), models.SeverityMedium, "persona override"},
	{regexp.MustCompile(`act\s+as\s+(a|an|if)\b`), models.SeverityMedium, "persona override"},
	{regexp.MustCompile(`pretend\s+(to\s+be|you\s+are)`), models.SeverityMedium, "persona override"},
	{regexp.MustCompile(`(reveal|show|print|repeat)\s+(your\s+)?(system\s+prompt|instructions)`), models.SeverityHigh, "prompt disclosure"},
	{regexp.MustCompile(`system\s*prompt`), models.SeverityMedium, "prompt disclosure"},
	{regexp.MustCompile(`developer\s*mode`), models.SeverityHigh, "jailbreak keyword"},
	{regexp.MustCompile(`\bjailbreak\b`), models.SeverityHigh, "jailbreak keyword"},
	{regexp.MustCompile(`\bdan\s+mode\b`), models.SeverityHigh, "jailbreak keyword"},
	{regexp.MustCompile(`do\s+anything\s+now`), models.SeverityHigh, "jailbreak keyword"},

	// Instruction-override phrasings, Portuguese
	{regexp.MustCompile(`ignor[ae]\s+(todas\s+as\s+)?(instru[cç][oõ]es|regras)\s+(anteriores|acima)`), models.SeverityHigh, "instruction override"},
	{regexp.MustCompile(`esquec[ae]\s+(tudo|as\s+instru[cç][oõ]es)`), models.SeverityHigh, "instruction override"},
	{regexp.MustCompile(`(aja|age|atua)\s+como\s+`), models.SeverityMedium, "persona override"},
	{regexp.MustCompile(`finge?\s+que\s+([eé]s|[eé]|voc[eê]\s+[eé])`), models.SeverityMedium, "persona override"},
	{regexp.MustCompile(`(revela|mostra|imprime)\s+(o\s+)?(prompt|as\s+instru[cç][oõ]es)`), models.SeverityHigh, "prompt disclosure"},
	{regexp.MustCompile(`modo\s+desenvolvedor`), models.SeverityHigh, "jailbreak keyword"},
	{regexp.MustCompile(`sem\s+restri[cç][oõ]es`), models.SeverityLow, "jailbreak keyword"},
}

// rawTagPattern catches attempts to inject structured role content.
var rawTagPattern = regexp.MustCompile(`(?i)</?\s*(system|prompt|instruction|assistant|user|developer)\b[^>]*>`)

// base64Pattern matches base64-shaped tokens long enough to smuggle a phrase.
var base64Pattern = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)

// zeroWidthRunes are invisible characters used to break up detection patterns.
var zeroWidthRunes = map[rune]bool{
	'\u200b': true, // zero width space
	'\u200c': true, // zero width non-joiner
	'\u200d': true, // zero width joiner
	'\u2060': true, // word joiner
	'\ufeff': true, // BOM
	'\u00ad': true, // soft hyphen
	'\u200e': true, // left-to-right mark
	'\u200f': true, // right-to-left mark
}

// homoglyphs maps visually-confusable characters to their ASCII equivalents
// so look-alike substitution cannot evade the pattern table.
var homoglyphs = map[rune]rune{
	// Cyrillic
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y',
	'і': 'i', 'ѕ': 's', 'ј': 'j', 'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K',
	'М': 'M', 'Н': 'H', 'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X',
	// Greek
	'ο': 'o', 'α': 'a', 'ν': 'v', 'ι': 'i', 'Α': 'A', 'Β': 'B', 'Ε': 'E',
	'Ο': 'O', 'Ρ': 'P', 'Τ': 'T',
}

// Domain vocabulary, labor-law terms in both supported languages.
var domainKeywords = []string{
	// Portuguese
	"trabalhador", "trabalho", "empregador", "contrato", "despedimento",
	"demissão", "demissao", "salário", "salario", "férias", "ferias",
	"licença", "licenca", "indemnização", "indemnizacao", "aviso prévio",
	"aviso previo", "lei", "artigo", "direito", "direitos", "rescisão",
	"rescisao", "subsídio", "subsidio", "remuneração", "remuneracao",
	"maternidade", "sindicato", "greve", "jornada", "horário", "horario",
	"inss", "segurança social", "seguranca social",
	// English
	"worker", "labor", "labour", "employer", "employment", "contract",
	"dismissal", "termination", "salary", "wage", "vacation", "leave",
	"severance", "notice period", "law", "article", "rights", "union",
	"strike", "overtime", "maternity",
}

// legalPhrasingPatterns match common shapes of legal questions.
var legalPhrasingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)o\s+que\s+(diz|estabelece|determina)\s+a\s+lei`),
	regexp.MustCompile(`(?i)segundo\s+(o\s+artigo|a\s+lei)`),
	regexp.MustCompile(`(?i)de\s+acordo\s+com\s+(o\s+artigo|a\s+lei)`),
	regexp.MustCompile(`(?i)quais\s+(são\s+)?os\s+direitos`),
	regexp.MustCompile(`(?i)é\s+legal\b`),
	regexp.MustCompile(`(?i)what\s+does\s+the\s+law\s+say`),
	regexp.MustCompile(`(?i)according\s+to\s+(article|the\s+law)`),
	regexp.MustCompile(`(?i)is\s+it\s+legal\b`),
	regexp.MustCompile(`(?i)what\s+are\s+(my|the)\s+rights`),
}

// explicitCitationPattern matches a law/article reference inside the question.
var explicitCitationPattern = regexp.MustCompile(`(?i)(artigo|art\.?|article)\s*\d+|(lei|law)\s*(n[ºo°.]*\s*)?\d+/\d{4}`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Portuguese function words and accents used by the language heuristic.
var (
	ptMarkers     = []string{" que ", " não ", " nao ", " como ", " para ", " uma ", " dos ", " das ", " pelo ", " pela ", " é ", " são ", " qual ", " quais ", " posso ", " tenho "}
	enMarkers     = []string{" the ", " what ", " is ", " are ", " can ", " how ", " my ", " does ", " of ", " to ", " in "}
	ptAccentRunes = "ãõáéíóúâêôçà"
)

// Sanitizer normalizes raw questions, detects prompt-injection attempts and
// decides whether a question is in the labor-law domain. Fails closed: any
// non-none severity rejects.
type Sanitizer struct {
	maxLength int
}

// NewSanitizer creates a sanitizer with the given question length ceiling.
func NewSanitizer(maxLength int) *Sanitizer {
	if maxLength <= 0 {
		maxLength = 1000
	}
	return &Sanitizer{maxLength: maxLength}
}

// Sanitize normalizes and classifies a raw question. The length gate runs
// before any other processing. Injection verdicts are carried in the returned
// SanitizedQuery rather than an error: a rejected query is still a valid,
// fully-formed result the gate turns into a 400.
func (s *Sanitizer) Sanitize(raw string) (*models.SanitizedQuery, error) {
	if len(raw) > s.maxLength {
		return nil, ErrQuestionTooLong
	}

	text := strings.TrimSpace(whitespaceRun.ReplaceAllString(raw, " "))
	if text == "" {
		return nil, ErrEmptyQuestion
	}

	q := &models.SanitizedQuery{
		Text:              text,
		Language:          detectLanguage(text),
		InjectionSeverity: models.SeverityNone,
	}

	severity, reason := detectInjection(text)
	q.InjectionSeverity = severity
	q.InjectionReason = reason
	if q.Rejected() {
		return q, nil
	}

	q.InDomain = classifyDomain(text)
	return q, nil
}

// normalizeHomoglyphs maps confusable characters to ASCII and strips
// zero-width runes.
func normalizeHomoglyphs(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if zeroWidthRunes[r] {
			continue
		}
		if ascii, ok := homoglyphs[r]; ok {
			r = ascii
		}
		// Fullwidth forms (ＡＢＣ, ａｂｃ) fold onto ASCII.
		if r >= 0xFF01 && r <= 0xFF5E {
			r = r - 0xFF01 + '!'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// detectInjection runs the layered checks; the first non-none verdict wins.
func detectInjection(text string) (models.Severity, string) {
	for _, r := range text {
		if zeroWidthRunes[r] {
			return models.SeverityMedium, "invisible control characters"
		}
	}

	normalized := strings.ToLower(normalizeHomoglyphs(text))

	for _, rule := range injectionRules {
		if rule.pattern.MatchString(normalized) {
			return rule.severity, rule.reason
		}
	}

	if rawTagPattern.MatchString(normalized) {
		return models.SeverityHigh, "role markup injection"
	}

	// Base64-shaped tokens are decoded and re-scanned so an encoded payload
	// cannot carry an instruction past the phrase table.
	for _, token := range base64Pattern.FindAllString(text, -1) {
		decoded, err := base64.StdEncoding.DecodeString(token)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(token)
		}
		if err != nil || !isMostlyPrintable(decoded) {
			continue
		}
		inner := strings.ToLower(normalizeHomoglyphs(string(decoded)))
		for _, rule := range injectionRules {
			if rule.pattern.MatchString(inner) {
				return models.SeverityHigh, "base64-encoded " + rule.reason
			}
		}
		if rawTagPattern.MatchString(inner) {
			return models.SeverityHigh, "base64-encoded role markup"
		}
	}

	if density := specialCharDensity(text); density > 0.30 {
		return models.SeverityLow, "suspicious character density"
	}

	return models.SeverityNone, ""
}

func isMostlyPrintable(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	printable := 0
	for _, b := range data {
		if b >= 0x20 && b < 0x7f {
			printable++
		}
	}
	return float64(printable)/float64(len(data)) > 0.8
}

// specialCharDensity measures the share of characters that are neither
// letters, digits, spaces nor common punctuation.
func specialCharDensity(text string) float64 {
	if text == "" {
		return 0
	}
	special := 0
	total := 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '.', ',', ';', ':', '?', '!', '\'', '"', '(', ')', '-', '/', 'º', '°', 'ª', '§':
			continue
		}
		special++
	}
	return float64(special) / float64(total)
}

// detectLanguage scores marker words per language. Accented runes only occur
// in Portuguese here, so each one counts as Portuguese evidence. Below the
// minimum length or on a tie the primary supported language (pt) wins.
func detectLanguage(text string) models.Language {
	const minLength = 20

	if len(text) < minLength {
		return models.LanguagePortuguese
	}

	lower := " " + strings.ToLower(text) + " "
	ptScore, enScore := 0, 0
	for _, m := range ptMarkers {
		ptScore += strings.Count(lower, m)
	}
	for _, m := range enMarkers {
		enScore += strings.Count(lower, m)
	}
	for _, r := range lower {
		if strings.ContainsRune(ptAccentRunes, r) {
			ptScore++
		}
	}

	if enScore > ptScore {
		return models.LanguageEnglish
	}
	return models.LanguagePortuguese
}

// classifyDomain decides whether a question is in the labor-law domain.
func classifyDomain(text string) bool {
	lower := strings.ToLower(text)

	hits := 0
	for _, kw := range domainKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	if hits >= 2 {
		return true
	}

	for _, p := range legalPhrasingPatterns {
		if p.MatchString(text) {
			return true
		}
	}

	if explicitCitationPattern.MatchString(text) {
		return true
	}

	// Lenient fallback: one domain term in a plausibly-sized question.
	if hits >= 1 && len(text) >= 15 && len(text) <= 500 {
		return true
	}

	return false
}

// PII masking applied before any question text reaches a log line or audit
// record.
var (
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern    = regexp.MustCompile(`\+?\d[\d\s\-]{6,}\d`)
	longDigitRun    = regexp.MustCompile(`\d{7,}`)
	nameIntroEN     = regexp.MustCompile(`(?i)(my name is)\s+\S+(\s+\S+)?`)
	nameIntroPT     = regexp.MustCompile(`(?i)(chamo-me|o meu nome é|meu nome é|meu nome e)\s+\S+(\s+\S+)?`)
)

// MaskPII replaces emails, phone-like digit runs and self-introductions with
// placeholders.
func MaskPII(text string) string {
	text = emailPattern.ReplaceAllString(text, "[email]")
	text = phonePattern.ReplaceAllString(text, "[phone]")
	text = longDigitRun.ReplaceAllString(text, "[number]")
	text = nameIntroEN.ReplaceAllString(text, "$1 [name]")
	text = nameIntroPT.ReplaceAllString(text, "$1 [name]")
	return text
}

// MaskedExcerpt returns a PII-masked excerpt bounded to n bytes for audit
// logging. The cut backs up to a rune boundary so the excerpt stays valid
// UTF-8.
func MaskedExcerpt(text string, n int) string {
	masked := MaskPII(text)
	if len(masked) <= n {
		return masked
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(masked[cut]) {
		cut--
	}
	return masked[:cut] + "..."
}
