package models

import (
	"github.com/google/uuid"
)

// ContextPassage represents a chunk of legislation text retrieved from the
// vector index, enriched with a relevance score by the retriever.
type ContextPassage struct {
	ID             uuid.UUID `json:"id"`
	Text           string    `json:"text"`
	SourceDocument string    `json:"source_document"` // e.g. "Lei do Trabalho"
	Law            string    `json:"law"`             // e.g. "23/2007"
	Chapter        string    `json:"chapter,omitempty"`
	Section        string    `json:"section,omitempty"`
	ArticleStart   int       `json:"article_start,omitempty"`
	ArticleEnd     int       `json:"article_end,omitempty"`
	Keywords       []string  `json:"keywords,omitempty"`
	Distance       float64   `json:"distance,omitempty"`  // vector similarity distance
	Relevance      float64   `json:"relevance,omitempty"` // lexical re-rank score
}

// ContainsArticle reports whether the passage covers the given article number,
// either through its article range metadata or not at all when no range is set.
func (p *ContextPassage) ContainsArticle(article int) bool {
	if p.ArticleStart == 0 {
		return false
	}
	end := p.ArticleEnd
	if end == 0 {
		end = p.ArticleStart
	}
	return article >= p.ArticleStart && article <= end
}

// Source is the attribution record returned to the client for a passage that
// grounded an answer.
type Source struct {
	Document string `json:"document"`
	Law      string `json:"law,omitempty"`
	Chapter  string `json:"chapter,omitempty"`
	Section  string `json:"section,omitempty"`
}
