package notification

import (
	"encoding/json"
	"time"

	"incentive-controlplane/pkg/task"
	"incentive-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
)

type DeliverPayload struct {
	NotificationID string `json:"notification_id"`
	TraceID        string `json:"trace_id,omitempty"`
}

func NewDeliverTask(p DeliverPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.NotificationDeliver, payload,
		asynq.TaskID(taskname.NotificationDeliver+":"+p.NotificationID),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.Queue(task.QueueDefault),
	), nil
}
