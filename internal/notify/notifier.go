package notify

import (
	"context"
	"log"

	"github.com/gigdesk/realtime-server/internal/model"
)

// CandidateRanker selects and scores contractors for a task.
type CandidateRanker interface {
	Rank(ctx context.Context, task *model.Task, radiusKm float64, limit int) ([]model.ContractorCandidate, error)
}

// Sender pushes an event to one user's live connection.
type Sender interface {
	SendToUser(userID string, event model.Event, data interface{}) bool
}

// Notifier fans a new task out to its ranked candidates, one private
// push per contractor. Offline candidates are skipped silently.
type Notifier struct {
	ranker   CandidateRanker
	sender   Sender
	radiusKm float64
	limit    int
}

// NewNotifier creates a Notifier. radiusKm and limit are the defaults
// applied per notification round.
func NewNotifier(ranker CandidateRanker, sender Sender, radiusKm float64, limit int) *Notifier {
	return &Notifier{
		ranker:   ranker,
		sender:   sender,
		radiusKm: radiusKm,
		limit:    limit,
	}
}

// NotifyAvailableContractors ranks candidates for the task and pushes
// task:new_available to each, returning how many were actually reached.
func (n *Notifier) NotifyAvailableContractors(ctx context.Context, task *model.Task) (int, error) {
	candidates, err := n.ranker.Rank(ctx, task, n.radiusKm, n.limit)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		log.Printf("[notify] no available contractors for task %s", task.ID)
		return 0, nil
	}

	summary := model.TaskSummary{
		ID:           task.ID,
		Category:     task.Category,
		Title:        task.Title,
		BudgetAmount: task.BudgetAmount,
		Address:      task.Address,
		LocationLat:  task.LocationLat,
		LocationLng:  task.LocationLng,
		CreatedAt:    task.CreatedAt,
	}

	sent := 0
	for _, cand := range candidates {
		delivered := n.sender.SendToUser(cand.ContractorID, model.EventTaskNewAvailable, model.TaskAvailablePayload{
			Task:     summary,
			Score:    cand.Score,
			Distance: cand.DistanceKm,
		})
		if delivered {
			sent++
			log.Printf("[notify] contractor %s notified (score=%.4f distance=%.2fkm)",
				cand.ContractorID, cand.Score, cand.DistanceKm)
		}
	}

	log.Printf("[notify] task %s: %d/%d candidates reached", task.ID, sent, len(candidates))
	return sent, nil
}
