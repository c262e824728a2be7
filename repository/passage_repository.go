package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/PedroNhamirre/jusmoz/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PassageRepository runs similarity searches over the indexed legislation
// corpus stored in Postgres with pgvector.
type PassageRepository struct {
	db *pgxpool.Pool
}

// NewPassageRepository creates a new passage repository.
func NewPassageRepository(db *pgxpool.Pool) *PassageRepository {
	return &PassageRepository{db: db}
}

// formatVector formats an embedding vector as a string for pgx.
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, 0, len(embedding))
	for _, v := range embedding {
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Search returns up to k passages ordered by vector similarity to the query
// embedding. Fewer than k rows is a normal outcome.
func (r *PassageRepository) Search(
	ctx context.Context,
	embedding []float64,
	k int,
) ([]models.ContextPassage, error) {
	if len(embedding) != 768 {
		return nil, fmt.Errorf("embedding must be 768 dimensions, got %d", len(embedding))
	}

	vectorStr := formatVector(embedding)

	query := `
		SELECT
			id,
			passage_text,
			source_document,
			law_identifier,
			COALESCE(chapter, ''),
			COALESCE(section, ''),
			article_start,
			article_end,
			keywords,
			embedding <=> $1::vector AS distance
		FROM legislation_passages
		ORDER BY
			embedding <=> $1::vector
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, vectorStr, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query legislation passages: %w", err)
	}
	defer rows.Close()

	var passages []models.ContextPassage
	for rows.Next() {
		var p models.ContextPassage
		err := rows.Scan(
			&p.ID,
			&p.Text,
			&p.SourceDocument,
			&p.Law,
			&p.Chapter,
			&p.Section,
			&p.ArticleStart,
			&p.ArticleEnd,
			&p.Keywords,
			&p.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		passages = append(passages, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passages: %w", err)
	}

	return passages, nil
}
