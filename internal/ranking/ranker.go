package ranking

import (
	"context"
	"log"
	"math"
	"sort"

	"github.com/gigdesk/realtime-server/internal/geo"
	"github.com/gigdesk/realtime-server/internal/model"
)

// Scoring weights and normalization caps for candidate ranking.
const (
	weightRating     = 0.4
	weightCompleted  = 0.3
	weightProximity  = 0.3
	maxRating        = 5
	maxCompletedNorm = 100

	DefaultRadiusKm = 20
	DefaultLimit    = 10
)

// ProfileSource supplies online contractor profiles from storage.
type ProfileSource interface {
	FindEligibleContractors(ctx context.Context) ([]model.ContractorProfile, error)
}

// Ranker filters and scores contractors for a task.
type Ranker struct {
	profiles ProfileSource
}

// NewRanker creates a Ranker over the given profile source.
func NewRanker(profiles ProfileSource) *Ranker {
	return &Ranker{profiles: profiles}
}

// Rank returns the top candidates for the task, descending by score.
// Ties are ordered by ascending contractor ID so results are
// reproducible. radiusKm and limit fall back to the defaults when
// non-positive.
func (r *Ranker) Rank(ctx context.Context, task *model.Task, radiusKm float64, limit int) ([]model.ContractorCandidate, error) {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	profiles, err := r.profiles.FindEligibleContractors(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]model.ContractorCandidate, 0, len(profiles))
	for i := range profiles {
		p := &profiles[i]
		if !p.IsOnline || !p.HasLocation() {
			continue
		}
		if !hasCategory(p.Categories, task.Category) {
			continue
		}

		distance := geo.DistanceKm(task.LocationLat, task.LocationLng,
			*p.LastLocationLat, *p.LastLocationLng)
		if distance > radiusKm {
			continue
		}

		candidates = append(candidates, model.ContractorCandidate{
			ContractorID: p.UserID,
			Score:        Score(p.RatingAvg, p.CompletedTasksCount, distance, radiusKm),
			DistanceKm:   round(distance, 2),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ContractorID < candidates[j].ContractorID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	log.Printf("[ranking] task=%s radius=%.0fkm candidates=%d", task.ID, radiusKm, len(candidates))
	return candidates, nil
}

// Score combines rating, completion count and proximity into [0,1].
// Ratings above 5 are clamped rather than rejected, guarding against
// data-correction jobs rewriting averages.
func Score(rating float64, completedTasks int, distance, radiusKm float64) float64 {
	ratingComponent := math.Min(rating, maxRating) / maxRating
	completionComponent := math.Min(float64(completedTasks), maxCompletedNorm) / maxCompletedNorm
	proximityComponent := clamp01(1 - distance/radiusKm)

	score := weightRating*ratingComponent +
		weightCompleted*completionComponent +
		weightProximity*proximityComponent
	return round(score, 4)
}

func hasCategory(categories []string, category string) bool {
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
