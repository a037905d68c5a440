// Package similarity maintains the historical-session index used to
// calibrate analytics. Records live in a redis hash; similarity is in-process
// cosine over embedded session summaries.
package similarity

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/carverlabs/dealpilot/internal/analytics"
)

const indexKey = "negotiation:similarity"

type record struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Rounds    int       `json:"rounds"`
	Summary   string    `json:"summary"`
	Vector    []float64 `json:"vector"`
}

// Index is a redis-backed vector index over session summaries. Satisfies
// analytics.SimilarityIndex.
type Index struct {
	rdb   *redis.Client
	embed Embedder
}

func NewIndex(rdb *redis.Client, embed Embedder) *Index {
	return &Index{rdb: rdb, embed: embed}
}

// Upsert embeds the summary and stores the session's outcome record. Called
// on terminal transitions so finished sessions become retrievable history.
func (i *Index) Upsert(ctx context.Context, sessionID, summary, status string, rounds int) error {
	vec, err := i.embed.Embed(ctx, summary)
	if err != nil {
		return fmt.Errorf("embed summary: %w", err)
	}
	payload, err := json.Marshal(record{
		SessionID: sessionID,
		Status:    status,
		Rounds:    rounds,
		Summary:   summary,
		Vector:    vec,
	})
	if err != nil {
		return err
	}
	return i.rdb.HSet(ctx, indexKey, sessionID, payload).Err()
}

// FindSimilar embeds the query and returns the top-K records by cosine
// similarity, excluding the querying session itself.
func (i *Index) FindSimilar(ctx context.Context, query, excludeSessionID string, limit int) ([]analytics.SimilarSession, error) {
	if limit <= 0 {
		limit = 10
	}
	qv, err := i.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	entries, err := i.rdb.HGetAll(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}

	results := make([]analytics.SimilarSession, 0, len(entries))
	for id, payload := range entries {
		if id == excludeSessionID {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			continue // skip corrupt entries
		}
		sim := Cosine(qv, rec.Vector)
		if sim <= 0 {
			continue
		}
		results = append(results, analytics.SimilarSession{
			SessionID:  rec.SessionID,
			Status:     rec.Status,
			Rounds:     rec.Rounds,
			Similarity: sim,
		})
	}

	sort.Slice(results, func(a, b int) bool {
		return results[a].Similarity > results[b].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when shapes or
// magnitudes make it undefined.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
