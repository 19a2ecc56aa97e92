package taskname

const (
	// Notification tasks
	NotificationDeliver = "notification:deliver"
)
