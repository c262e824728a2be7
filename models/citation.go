package models

import "fmt"

// Citation is a legal reference extracted from generated text.
// Uniqueness key is (Law, Article, Paragraph).
type Citation struct {
	Law       string `json:"law,omitempty"` // e.g. "23/2007"; empty for bare article references
	Article   int    `json:"article"`
	Paragraph int    `json:"paragraph,omitempty"`
	Raw       string `json:"raw"` // matched substring as generated
	IsValid   bool   `json:"is_valid"`
}

// Key returns the normalized dedup key for the citation.
func (c Citation) Key() string {
	return fmt.Sprintf("%s#%d#%d", c.Law, c.Article, c.Paragraph)
}
