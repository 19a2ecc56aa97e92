package rediskey

import "fmt"

const (
	ReconciliationLockPrefix = "lock:reconciliation"
	SequencePrefix           = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildReconciliationLockKey returns "lock:reconciliation:{campaignID}"
func BuildReconciliationLockKey(campaignID string) string {
	return NamespaceKey(ReconciliationLockPrefix, campaignID)
}

// BuildDailySequenceKey returns "seq:{prefix}:{scope}:{yymmdd}"
func BuildDailySequenceKey(prefix, scope, day string) string {
	return fmt.Sprintf("%s:%s:%s:%s", SequencePrefix, prefix, scope, day)
}
