package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/relaydesk/relaydesk/internal/scenario"
	"github.com/relaydesk/relaydesk/pkg/provider/embeddings"
)

// keywordBoost is added to a candidate's confidence per matched trigger
// keyword, capped at maxKeywordBoost. Vector similarity carries the
// ranking; keywords nudge near-threshold candidates that name the exact
// problem ("breaker", "pilot light") over generic neighbours.
const (
	keywordBoost    = 0.05
	maxKeywordBoost = 0.15
)

// ScenarioStore ranks tenant scenarios against caller utterances with a
// pgvector HNSW index, then applies trigger-keyword boosts.
//
// Obtain one via [Store.Scenarios]. All methods are safe for concurrent use.
type ScenarioStore struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// IndexedScenario is the admin-surface write model for one scenario.
type IndexedScenario struct {
	ID           string
	CompanyID    string
	Name         string
	Type         string
	TriggerText  string
	Keywords     []string
	QuickReplies []string
	FullReplies  []string
	Enabled      bool
}

// Index upserts a scenario, embedding its trigger text.
func (s *ScenarioStore) Index(ctx context.Context, sc IndexedScenario) error {
	vec, err := s.embedder.Embed(ctx, sc.TriggerText)
	if err != nil {
		return fmt.Errorf("scenario store: embed trigger: %w", err)
	}

	const q = `
		INSERT INTO scenarios
		    (id, company_id, name, type, trigger_text, keywords, quick_replies, full_replies, embedding, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
		    company_id    = EXCLUDED.company_id,
		    name          = EXCLUDED.name,
		    type          = EXCLUDED.type,
		    trigger_text  = EXCLUDED.trigger_text,
		    keywords      = EXCLUDED.keywords,
		    quick_replies = EXCLUDED.quick_replies,
		    full_replies  = EXCLUDED.full_replies,
		    embedding     = EXCLUDED.embedding,
		    enabled       = EXCLUDED.enabled,
		    updated_at    = now()`

	_, err = s.pool.Exec(ctx, q,
		sc.ID, sc.CompanyID, sc.Name, sc.Type, sc.TriggerText,
		sc.Keywords, sc.QuickReplies, sc.FullReplies,
		pgvector.NewVector(vec), sc.Enabled)
	if err != nil {
		return fmt.Errorf("scenario store: index: %w", err)
	}
	return nil
}

// Retrieve implements [scenario.Retriever]. It embeds the utterance, pulls
// the nearest candidates by cosine distance, boosts keyword hits, and
// returns the topK re-ranked by final confidence.
func (s *ScenarioStore) Retrieve(ctx context.Context, companyID, text string, topK int) ([]scenario.Candidate, error) {
	if topK <= 0 {
		topK = 5
	}
	queryVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("scenario store: embed query: %w", err)
	}

	// Over-fetch so a keyword boost can promote a candidate from just
	// outside the cut.
	const q = `
		SELECT id, name, type, keywords, quick_replies, full_replies,
		       embedding <=> $1 AS distance
		FROM   scenarios
		WHERE  company_id = $2 AND enabled
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(queryVec), companyID, topK*2)
	if err != nil {
		return nil, fmt.Errorf("scenario store: retrieve: %w", err)
	}

	lower := strings.ToLower(text)
	candidates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (scenario.Candidate, error) {
		var (
			c        scenario.Candidate
			keywords []string
			distance float64
		)
		if err := row.Scan(&c.ID, &c.Name, &c.Type, &keywords,
			&c.QuickReplies, &c.FullReplies, &distance); err != nil {
			return scenario.Candidate{}, err
		}
		c.Confidence = clamp01(1-distance) + keywordScore(lower, keywords)
		if c.Confidence > 1 {
			c.Confidence = 1
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scenario store: scan: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func keywordScore(lowerText string, keywords []string) float64 {
	score := 0.0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(lowerText, kw) {
			score += keywordBoost
			if score >= maxKeywordBoost {
				return maxKeywordBoost
			}
		}
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
