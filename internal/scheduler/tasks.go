package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	TaskFetchOpportunities    = "opportunities.fetch"
	TaskPromoteLeads          = "leads.promote"
	TaskInitiateConversations = "conversations.initiate"
	TaskAnalyzeConversations  = "conversations.analyze"
	TaskDetectNoShows         = "appointments.no_show"
)

// TaskNames lists every periodic task.
var TaskNames = []string{
	TaskFetchOpportunities,
	TaskPromoteLeads,
	TaskInitiateConversations,
	TaskAnalyzeConversations,
	TaskDetectNoShows,
}

// JobPayload records why a run was enqueued.
type JobPayload struct {
	Trigger string `json:"trigger"`
}

// newJobTask builds the task for name. Periodic and startup runs share a
// payload so the uniqueness lock treats them as the same job.
func newJobTask(name string) (*asynq.Task, error) {
	data, err := json.Marshal(JobPayload{Trigger: "schedule"})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(name, data), nil
}

func parseJobPayload(task *asynq.Task) (JobPayload, error) {
	var payload JobPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return JobPayload{}, err
	}
	return payload, nil
}
