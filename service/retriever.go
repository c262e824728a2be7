package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PedroNhamirre/jusmoz/models"
)

// ErrRetrievalTimeout distinguishes a slow index from a broken one so the
// caller can degrade to 503 instead of 500.
var ErrRetrievalTimeout = errors.New("context retrieval timed out")

// Embedder turns query text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// SimilaritySearcher is the black-box similarity search consumed by the
// retriever. May return fewer than k passages; order is best effort by
// similarity.
type SimilaritySearcher interface {
	Search(ctx context.Context, embedding []float64, k int) ([]models.ContextPassage, error)
}

// Stopwords excluded when scoring term density.
var stopwords = map[string]bool{
	// Portuguese
	"a": true, "o": true, "as": true, "os": true, "um": true, "uma": true,
	"de": true, "do": true, "da": true, "dos": true, "das": true, "em": true,
	"no": true, "na": true, "nos": true, "nas": true, "por": true, "para": true,
	"com": true, "que": true, "e": true, "ou": true, "se": true, "ao": true,
	"é": true, "são": true, "sao": true, "qual": true, "quais": true,
	"como": true, "quando": true, "onde": true, "meu": true, "minha": true,
	// English
	"the": true, "an": true, "of": true, "in": true, "on": true, "to": true,
	"for": true, "with": true, "and": true, "or": true, "is": true, "are": true,
	"what": true, "which": true, "how": true, "when": true, "where": true,
	"my": true, "can": true, "does": true, "it": true,
}

var queryArticlePattern = regexp.MustCompile(`(?i)(?:artigo|art\.?|article)\s*(\d+)`)

// Markers that make a passage look like an article/paragraph/sub-item opening.
var structuralMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^\s*artigo\s+\d+`),
	regexp.MustCompile(`(?im)^\s*article\s+\d+`),
	regexp.MustCompile(`(?m)^\s*\d+\s*[\.\)]`),
	regexp.MustCompile(`(?m)^\s*[a-z]\)\s`),
	regexp.MustCompile(`§\s*\d+|n[ºo°]\s*\d+`),
}

// ContextRetriever fetches candidate passages from the similarity search,
// oversamples, and re-ranks them lexically against the query.
type ContextRetriever struct {
	embedder     Embedder
	searcher     SimilaritySearcher
	timeout      time.Duration
	oversampling int
}

// ContextRetrieverOption is a functional option for ContextRetriever.
type ContextRetrieverOption func(*ContextRetriever)

// RetrieverWithTimeout sets the retrieval timeout ceiling.
func RetrieverWithTimeout(d time.Duration) ContextRetrieverOption {
	return func(r *ContextRetriever) {
		r.timeout = d
	}
}

// RetrieverWithOversampling sets the candidate multiplier handed to the
// similarity search.
func RetrieverWithOversampling(factor int) ContextRetrieverOption {
	return func(r *ContextRetriever) {
		r.oversampling = factor
	}
}

// NewContextRetriever creates a retriever over the given collaborators.
func NewContextRetriever(embedder Embedder, searcher SimilaritySearcher, opts ...ContextRetrieverOption) *ContextRetriever {
	r := &ContextRetriever{
		embedder:     embedder,
		searcher:     searcher,
		timeout:      10 * time.Second,
		oversampling: 2,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to limit passages, relevance-descending. An empty slice
// is a valid outcome meaning the corpus has nothing on the topic.
func (r *ContextRetriever) Retrieve(ctx context.Context, query *models.SanitizedQuery, limit int) ([]models.ContextPassage, error) {
	if limit <= 0 {
		limit = 5
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		passages []models.ContextPassage
		err      error
	}
	done := make(chan result, 1)

	go func() {
		embedding, err := r.embedder.Embed(ctx, query.Text)
		if err != nil {
			done <- result{nil, fmt.Errorf("failed to embed query: %w", err)}
			return
		}
		passages, err := r.searcher.Search(ctx, embedding, limit*r.oversampling)
		if err != nil {
			done <- result{nil, fmt.Errorf("similarity search failed: %w", err)}
			return
		}
		done <- result{passages, nil}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, ErrRetrievalTimeout
			}
			return nil, res.err
		}
		return r.rerank(query, res.passages, limit), nil
	case <-ctx.Done():
		// The in-flight call is abandoned; its result is discarded.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrRetrievalTimeout
		}
		return nil, ctx.Err()
	}
}

// rerank scores candidates lexically and returns the top limit passages,
// relevance-descending, ties broken by original similarity order.
func (r *ContextRetriever) rerank(query *models.SanitizedQuery, passages []models.ContextPassage, limit int) []models.ContextPassage {
	if len(passages) == 0 {
		return nil
	}

	terms := significantTerms(query.Text)
	articles := articleNumbers(query.Text)

	for i := range passages {
		passages[i].Relevance = scorePassage(&passages[i], terms, articles)
	}

	// Stable keeps the index's similarity order for equal scores.
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Relevance > passages[j].Relevance
	})

	kept := passages
	if len(kept) > limit {
		kept = kept[:limit]
	}
	log.Printf("Retriever re-ranked %d candidates to %d passages", len(passages), len(kept))
	return kept
}

// significantTerms returns the stopword-filtered lowercase words of a query.
func significantTerms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:?!()\"'")
		if len(f) < 3 || stopwords[f] {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// articleNumbers extracts article numbers explicitly mentioned in the query.
func articleNumbers(text string) []int {
	var nums []int
	for _, m := range queryArticlePattern.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			nums = append(nums, n)
		}
	}
	return nums
}

// scorePassage combines the additive re-ranking signals.
func scorePassage(p *models.ContextPassage, terms []string, articles []int) float64 {
	text := strings.ToLower(p.Text)
	score := 0.0

	// Term density: repeated occurrences weigh more than a single hit.
	for _, term := range terms {
		count := strings.Count(text, term)
		switch {
		case count >= 3:
			score += 3.0
		case count == 2:
			score += 2.0
		case count == 1:
			score += 0.5
		}
	}

	// A question about "artigo 88" must surface article 88 regardless of
	// weaker semantic similarity.
	for _, article := range articles {
		needle := strconv.Itoa(article)
		if p.ContainsArticle(article) {
			score += 50.0
		} else if strings.Contains(text, "artigo "+needle) || strings.Contains(text, "article "+needle) {
			score += 50.0
		}
	}

	for _, marker := range structuralMarkers {
		if marker.MatchString(p.Text) {
			score += 1.0
		}
	}

	// Keyword-digest overlap with the query's significant terms.
	if len(p.Keywords) > 0 {
		kw := make(map[string]bool, len(p.Keywords))
		for _, k := range p.Keywords {
			kw[strings.ToLower(k)] = true
		}
		for _, term := range terms {
			if kw[term] {
				score += 1.5
			}
		}
	}

	return score
}
