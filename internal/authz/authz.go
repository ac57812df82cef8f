package authz

import (
	"context"

	"github.com/gigdesk/realtime-server/internal/model"
)

// TaskPartiesSource resolves a task to its two parties.
// A nil result with nil error means the task does not exist.
type TaskPartiesSource interface {
	GetTaskParties(ctx context.Context, taskID string) (*model.TaskParties, error)
}

// Checker is the single choke point deciding whether an identity may act
// on a task: room joins, message sends and read receipts all pass here.
type Checker struct {
	tasks TaskPartiesSource
}

// NewChecker creates a Checker over the given task source.
func NewChecker(tasks TaskPartiesSource) *Checker {
	return &Checker{tasks: tasks}
}

// IsAuthorizedForTask reports whether userID is the task's client or
// contractor. A missing task yields false, not an error.
func (c *Checker) IsAuthorizedForTask(ctx context.Context, userID, taskID string) (bool, error) {
	parties, err := c.tasks.GetTaskParties(ctx, taskID)
	if err != nil {
		return false, err
	}
	if parties == nil {
		return false, nil
	}
	return parties.ClientID == userID || parties.ContractorID == userID, nil
}
